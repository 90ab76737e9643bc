package surface

import (
	"image"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deedles.dev/wlcomp/output"
)

func TestTimeline(t *testing.T) {
	tl := NewTimeline()
	p := tl.Point(2)
	assert.False(t, p.Signaled())

	var fired int
	p.Wait(func() { fired++ })
	tl.Signal(1)
	assert.Zero(t, fired)
	tl.Signal(3)
	assert.Equal(t, 1, fired)
	assert.True(t, p.Signaled())

	tl.Signal(2)
	assert.EqualValues(t, 3, tl.Value())

	tl.Point(1).Wait(func() { fired++ })
	assert.Equal(t, 2, fired)
}

func TestFenceOrdering(t *testing.T) {
	tm := newTestManager(t)
	s := tm.Create(fakeClient{})
	tl := NewTimeline()

	b1, b2 := newBuffer(10, 10), newBuffer(20, 20)
	s.Attach(b1, image.Point{})
	s.SetAcquireFence(tl.Point(1))
	require.NoError(t, s.Commit())

	s.Attach(b2, image.Point{})
	require.NoError(t, s.Commit())

	assert.Nil(t, s.Current().Buffer)
	assert.Equal(t, 2, s.Queued())

	tl.Signal(1)
	assert.Equal(t, 2, s.Queued(), "applied outside of dispatch")

	tm.drain()
	assert.Zero(t, s.Queued())
	assert.Equal(t, Buffer(b2), s.Current().Buffer)
	assert.Equal(t, 0, b1.locks)
	assert.EqualValues(t, 2, s.CommitID())
}

func TestFenceAlreadySignaled(t *testing.T) {
	tm := newTestManager(t)
	s := tm.Create(fakeClient{})
	tl := NewTimeline()
	tl.Signal(5)

	b := newBuffer(10, 10)
	s.Attach(b, image.Point{})
	s.SetAcquireFence(tl.Point(4))
	require.NoError(t, s.Commit())
	assert.Equal(t, Buffer(b), s.Current().Buffer)
	assert.Empty(t, tm.posted)
}

func TestFenceWithSyncedSubsurface(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)
	child, _ := newSubsurface(t, tm, parent)
	tl := NewTimeline()

	b1, b2 := newBuffer(10, 10), newBuffer(20, 20)
	child.Attach(b1, image.Point{})
	child.SetAcquireFence(tl.Point(1))
	require.NoError(t, child.Commit())
	child.Attach(b2, image.Point{})
	require.NoError(t, child.Commit())

	// The parent releases the first commit, but its fence holds it
	// and everything after it.
	require.NoError(t, parent.Commit())
	assert.Nil(t, child.Current().Buffer)
	assert.Equal(t, 2, child.Queued())

	tl.Signal(1)
	tm.drain()
	assert.Equal(t, Buffer(b1), child.Current().Buffer)
	assert.Equal(t, 1, child.Queued(), "second commit still waits for the parent")

	require.NoError(t, parent.Commit())
	assert.Equal(t, Buffer(b2), child.Current().Buffer)
	assert.Zero(t, child.Queued())
}

func TestQueueFull(t *testing.T) {
	tm := newTestManager(t)
	s := tm.Create(fakeClient{})
	tl := NewTimeline()

	s.Attach(newBuffer(10, 10), image.Point{})
	s.SetAcquireFence(tl.Point(1))
	require.NoError(t, s.Commit())
	for i := 1; i < maxQueued; i++ {
		require.NoError(t, s.Commit())
	}

	fb := &fakeFeedback{}
	cb := &fakeCallback{}
	dropped := newBuffer(20, 20)
	s.AddFeedback(fb)
	s.Frame(cb)
	s.Attach(dropped, image.Point{})
	err := s.Commit()
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, fb.discarded)
	assert.Equal(t, maxQueued, s.Queued())
	assert.Zero(t, dropped.locks)
	assert.Equal(t, 1, dropped.released)
	assert.Contains(t, s.callbacks, output.FrameCallback(cb))

	tl.Signal(1)
	tm.drain()
	assert.Zero(t, s.Queued())
	assert.NotNil(t, s.Current().Buffer)
	assert.Contains(t, s.callbacks, output.FrameCallback(cb))
}

func TestFenceDefersWindowGeometry(t *testing.T) {
	tm := newTestManager(t)
	s, top, _ := tm.mapToplevel(t, 100, 100)
	tl := NewTimeline()

	s.Attach(newBuffer(100, 100), image.Point{})
	s.SetAcquireFence(tl.Point(1))
	require.NoError(t, s.Commit())

	require.NoError(t, top.SetWindowGeometry(image.Rect(10, 10, 50, 50)))
	s.SetAcquireFence(tl.Point(2))
	require.NoError(t, s.Commit())

	tl.Signal(1)
	tm.drain()
	assert.Equal(t, 1, s.Queued())
	assert.Equal(t, image.Rect(0, 0, 100, 100), top.WindowGeometry())

	tl.Signal(2)
	tm.drain()
	assert.Zero(t, s.Queued())
	assert.Equal(t, image.Rect(10, 10, 50, 50), top.WindowGeometry())
}

func TestFenceDefersSubsurfacePosition(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)
	_, sub := newSubsurface(t, tm, parent)
	tl := NewTimeline()

	parent.SetAcquireFence(tl.Point(1))
	require.NoError(t, parent.Commit())

	sub.SetPosition(image.Pt(5, 7))
	parent.SetAcquireFence(tl.Point(2))
	require.NoError(t, parent.Commit())

	tl.Signal(1)
	tm.drain()
	assert.Equal(t, 1, parent.Queued())
	assert.Equal(t, image.Point{}, sub.Position())

	tl.Signal(2)
	tm.drain()
	assert.Zero(t, parent.Queued())
	assert.Equal(t, image.Pt(5, 7), sub.Position())
}

func TestDestroyWhileFenced(t *testing.T) {
	tm := newTestManager(t)
	s := tm.Create(fakeClient{})
	tl := NewTimeline()

	b := newBuffer(10, 10)
	fb := &fakeFeedback{}
	s.Attach(b, image.Point{})
	s.AddFeedback(fb)
	s.SetAcquireFence(tl.Point(1))
	require.NoError(t, s.Commit())
	assert.Equal(t, 1, b.locks)

	s.Destroy()
	assert.Equal(t, 0, b.locks)
	assert.Equal(t, 1, fb.discarded)

	tl.Signal(1)
	tm.drain()
	assert.Nil(t, s.Current().Buffer)
}

func TestFileFence(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	f := NewFileFence(r)
	defer f.Close()
	assert.False(t, f.Signaled())

	done := make(chan struct{})
	f.Wait(func() { close(done) })

	_, err = w.Write([]byte{1})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fence never signaled")
	}
	assert.True(t, f.Signaled())
}
