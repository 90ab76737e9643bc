package output

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deedles.dev/wlcomp/region"
)

type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) record(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) OutputAdded(o *Output)              { l.record("added") }
func (l *recordingListener) OutputRemoved(o *Output)            { l.record("removed") }
func (l *recordingListener) AvailableGeometryChanged(o *Output) { l.record("available") }

func TestLayout(t *testing.T) {
	scene := &fakeScene{rect: image.Rect(0, 0, 10, 10)}
	l := NewLayout(scene, func(o *Output) Painter { return &fakePainter{} })
	lis := new(recordingListener)
	l.SetListener(lis)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	b1, b2 := newFakeBackend(), newFakeBackend()
	o1, o2 := New(b1), New(b2)
	defer o1.Close()
	defer o2.Close()
	o2.SetPosition(image.Pt(640, 0))

	l.Add(o1)
	l.Add(o2)
	l.Add(o1)
	assert.Equal(t, []*Output{o1, o2}, l.Outputs())
	assert.Equal(t, image.Rect(0, 0, 1280, 480), l.Bounds())
	assert.Equal(t, o2, l.At(image.Pt(700, 10)))
	assert.Nil(t, l.At(image.Pt(700, 500)))
	assert.Equal(t, []*Output{o1, o2}, l.Overlapping(image.Rect(600, 0, 700, 10)))

	require.Eventually(t, func() bool {
		return (o1.State() == Initialized) && (o2.State() == Initialized)
	}, 5*time.Second, time.Millisecond)

	l.AddDamage(region.New(image.Rect(630, 0, 650, 10)))
	assert.True(t, o1.Damage().Overlaps(image.Rect(630, 0, 640, 10)))
	assert.True(t, o2.Damage().Overlaps(image.Rect(640, 0, 650, 10)))

	z := o1.AddZone(EdgeTop, 20)
	z.Remove()

	require.NoError(t, l.Remove(o1))
	assert.Equal(t, []*Output{o2}, l.Outputs())
	assert.Equal(t, Uninitialized, o1.State())
	assert.False(t, o1.events.Push(event{kind: eventGPUReady}), "queues left running")

	l.Suspend()
	assert.Equal(t, Suspended, o2.State())
	l.Resume()
	assert.Equal(t, Initialized, o2.State())

	b2.handler().OnLost(nil)
	require.Eventually(t, func() bool { return len(l.Outputs()) == 0 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !o2.events.Push(event{kind: eventGPUReady}) }, 5*time.Second, time.Millisecond)

	assert.Equal(t, []string{"added", "added", "available", "available", "removed", "removed"}, lis.get())
}
