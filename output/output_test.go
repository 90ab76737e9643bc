package output

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thejerf/suture/v4"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/region"
)

func newTestOutput(t *testing.T) (*Output, *fakeBackend) {
	b := newFakeBackend()
	o := New(b)
	t.Cleanup(o.Close)
	return o, b
}

func TestOutputGeometry(t *testing.T) {
	o, _ := newTestOutput(t)
	assert.Equal(t, image.Pt(640, 480), o.BufferSize())
	assert.Equal(t, image.Rect(0, 0, 640, 480), o.Rect())

	require.NoError(t, o.SetTransform(geom.Rotate90))
	assert.Equal(t, image.Pt(480, 640), o.BufferSize())

	require.NoError(t, o.SetScale(2))
	o.SetPosition(image.Pt(100, 50))
	assert.Equal(t, image.Pt(240, 320), o.Size())
	assert.Equal(t, image.Rect(100, 50, 340, 370), o.Rect())

	assert.Error(t, o.SetScale(0))
	assert.Error(t, o.SetScale(-1))
}

func TestOutputOversample(t *testing.T) {
	o, _ := newTestOutput(t)
	require.NoError(t, o.SetScale(1.5))
	require.NoError(t, o.SetTransform(geom.Rotate90))
	assert.False(t, o.Oversampling())

	o.SetOversample(true)
	assert.True(t, o.Oversampling())
	v := o.RenderView()
	assert.Equal(t, 2.0, v.Scale)
	assert.Equal(t, geom.Normal, v.Transform)

	require.NoError(t, o.SetScale(2))
	assert.False(t, o.Oversampling())
}

func TestOutputSetMode(t *testing.T) {
	o, _ := newTestOutput(t)

	err := o.SetMode(Mode{Width: 1234, Height: 5678, Refresh: 60000})
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.Equal(t, 640, o.Mode().Width)

	require.NoError(t, o.SetMode(Mode{Width: 320, Height: 240, Refresh: 60000}))
	assert.Equal(t, image.Pt(320, 240), o.BufferSize())
	assert.Equal(t, image.Rect(0, 0, 320, 240), o.AvailableGeometry())
	assert.True(t, o.Damage().Equal(region.New(image.Rect(0, 0, 320, 240))))
}

func TestOutputSetModeRunning(t *testing.T) {
	h := newHarness(t)

	h.o.ScheduleRepaint()
	h.waitRequest()
	require.NoError(t, h.o.SetMode(Mode{Width: 320, Height: 240, Refresh: 60000}))
	s := h.paint(0)
	h.present(s.id)

	require.Eventually(t, func() bool {
		return h.b.CurrentMode().Width == 320
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, image.Pt(320, 240), h.o.BufferSize())

	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	assert.Zero(t, h.b.modeInPaint)
}

func TestOutputGamma(t *testing.T) {
	o, b := newTestOutput(t)

	bad := NewGammaTable(128)
	err := o.SetGamma(bad)
	assert.ErrorIs(t, err, ErrGammaSize)
	assert.Zero(t, b.gammaSet)

	uneven := NewGammaTable(256)
	uneven.Blue = uneven.Blue[:255]
	assert.ErrorIs(t, o.SetGamma(uneven), ErrGammaSize)
	assert.Zero(t, b.gammaSet)

	good := NewGammaTable(256)
	good.Red[0] = 42
	require.NoError(t, o.SetGamma(good))
	assert.Equal(t, 1, b.gammaSet)
	assert.Equal(t, uint16(42), o.Gamma().Red[0])

	require.NoError(t, o.SetGamma(nil))
	assert.Equal(t, uint16(0), o.Gamma().Red[0])
}

func TestExclusiveZoneIdempotence(t *testing.T) {
	o, _ := newTestOutput(t)
	o.SetPosition(image.Pt(-20, 7))
	before := o.AvailableGeometry()

	z := o.AddZone(EdgeTop, 30)
	assert.Equal(t, image.Rect(-20, 37, 620, 487), o.AvailableGeometry())
	assert.Equal(t, image.Rect(-20, 7, 620, 37), z.Rect())

	z.Remove()
	assert.Equal(t, before, o.AvailableGeometry())
	z.Remove()
	assert.Equal(t, before, o.AvailableGeometry())
}

func TestExclusiveZoneStacking(t *testing.T) {
	o, _ := newTestOutput(t)

	top := o.AddZone(EdgeTop, 30)
	left := o.AddZone(EdgeLeft, 50)
	assert.Equal(t, image.Rect(50, 30, 640, 480), o.AvailableGeometry())
	assert.Equal(t, image.Rect(0, 30, 50, 480), left.Rect())

	left.Raise()
	assert.Equal(t, image.Rect(0, 0, 50, 480), left.Rect())
	assert.Equal(t, image.Rect(50, 0, 640, 30), top.Rect())
	assert.Equal(t, image.Rect(50, 30, 640, 480), o.AvailableGeometry())

	top.SetSize(500)
	assert.Equal(t, image.Rect(50, 480, 640, 480), o.AvailableGeometry())

	top.SetSize(10)
	top.SetEdge(EdgeBottom)
	assert.Equal(t, image.Rect(50, 0, 640, 470), o.AvailableGeometry())
}

func TestHistoryRepaint(t *testing.T) {
	full := region.New(image.Rect(0, 0, 100, 100))
	a := region.New(image.Rect(0, 0, 10, 10))
	b := region.New(image.Rect(50, 50, 60, 60))
	fresh := region.New(image.Rect(90, 90, 95, 95))

	var h history
	h.reset(3)
	h.push(b)
	h.push(a)

	assert.True(t, h.repaint(fresh, 0, full).Equal(full))
	assert.True(t, h.repaint(fresh, 1, full).Equal(fresh.Union(a)))
	assert.True(t, h.repaint(fresh, 2, full).Equal(fresh.Union(a).Union(b)))
	assert.True(t, h.repaint(fresh, 3, full).Equal(full))

	h.push(fresh)
	h.push(fresh)
	assert.Len(t, h.entries, 3)
}

func TestScheduleRepaintIdempotent(t *testing.T) {
	h := newHarness(t)

	a := region.New(image.Rect(0, 0, 10, 10))
	b := region.New(image.Rect(100, 100, 120, 130))
	h.o.AddDamage(a)
	for i := 0; i < 10; i++ {
		h.o.ScheduleRepaint()
	}
	h.o.AddDamage(b)

	h.waitRequest()
	require.Never(t, func() bool { return len(h.b.requests) > 0 }, 50*time.Millisecond, time.Millisecond)

	s := h.paint(0)
	assert.True(t, h.scene.lastFrame().Damage.Equal(a.Union(b)))

	h.b.handler().OnPaintRequested()
	require.Never(t, func() bool { return len(h.b.submits) > 0 }, 50*time.Millisecond, time.Millisecond)

	h.present(s.id)
	h.waitIdle()
}

func TestBufferAgeRepaint(t *testing.T) {
	h := newHarness(t)

	rectA := image.Rect(0, 0, 10, 10)
	rectB := image.Rect(200, 200, 250, 260)

	h.o.AddDamage(region.New(rectB))
	h.present(h.paint(1).id)
	h.o.AddDamage(region.New(rectA))
	h.present(h.paint(1).id)

	h.o.AddDamage(region.New(image.Rect(2, 2, 4, 4)))
	s := h.paint(2)
	assert.True(t, s.damage.Equal(region.New(rectA, rectB)), "damage: %v", s.damage)
	h.present(s.id)

	h.o.AddDamage(region.New(rectA))
	s = h.paint(0)
	assert.True(t, s.damage.Equal(region.New(image.Rect(0, 0, 640, 480))))
	h.present(s.id)
}

func TestFrameCallbackLiveness(t *testing.T) {
	h := newHarness(t)

	cb := new(fakeCallback)
	fb := new(fakeFeedback)
	h.scene.addCallback(cb)
	h.scene.addFeedback(fb)
	h.o.ScheduleRepaint()

	s := h.paint(1)
	h.discard(s.id)
	require.Eventually(t, func() bool { return fb.discarded.Load() == 1 }, 5*time.Second, time.Millisecond)
	assert.Zero(t, cb.done.Load())

	s = h.paint(1)
	h.present(s.id)
	require.Eventually(t, func() bool { return cb.done.Load() == 1 }, 5*time.Second, time.Millisecond)

	h.o.DamageAll()
	h.present(h.paint(1).id)
	h.waitIdle()
	assert.Equal(t, int32(1), cb.done.Load())
	assert.Zero(t, fb.presented.Load())
}

func TestPresentedUnknownFrame(t *testing.T) {
	h := newHarness(t)

	cb := new(fakeCallback)
	h.scene.addCallback(cb)
	h.o.ScheduleRepaint()
	s := h.paint(1)

	h.present(s.id)
	h.present(s.id)
	h.discard(s.id)
	h.waitIdle()
	require.Eventually(t, func() bool { return cb.done.Load() == 1 }, 5*time.Second, time.Millisecond)
	require.Never(t, func() bool { return cb.done.Load() > 1 }, 50*time.Millisecond, time.Millisecond)
}

func TestSubmitFailureRetries(t *testing.T) {
	h := newHarness(t)

	h.b.mu.Lock()
	h.b.failNext = assert.AnError
	h.b.mu.Unlock()

	rect := region.New(image.Rect(5, 5, 15, 15))
	h.o.AddDamage(rect)
	h.waitRequest()
	h.b.handler().OnPaintRequested()

	// The failed frame's damage is kept and a retry is scheduled after
	// a refresh interval.
	h.waitRequest()
	assert.True(t, h.o.Damage().Equal(rect))
	s := h.paint(1)
	assert.True(t, h.scene.lastFrame().Damage.Equal(rect))
	h.present(s.id)
}

func TestHardwareCursor(t *testing.T) {
	cursor := &DrawItem{
		Key:    2,
		Image:  image.NewRGBA(image.Rect(0, 0, 16, 16)),
		Rect:   image.Rect(300, 200, 316, 216),
		Cursor: true,
	}
	h := newHarness(t, func(h *harness) {
		h.b.cursor = true
		h.scene.cursor = cursor
	})
	assert.True(t, h.o.CursorPlane())

	h.b.mu.Lock()
	assert.True(t, h.b.cursorOn)
	assert.Equal(t, image.Pt(300, 200), h.b.cursorAt)
	h.b.mu.Unlock()
	for _, it := range h.painter.drawn() {
		assert.False(t, it.Cursor)
	}

	h.o.SetCursorPlane(false)
	h.present(h.paint(1).id)
	h.waitIdle()

	h.b.mu.Lock()
	assert.False(t, h.b.cursorOn)
	h.b.mu.Unlock()
	assert.Contains(t, h.painter.drawn(), cursor)
}

func TestSuspendKeepsDamage(t *testing.T) {
	h := newHarness(t)
	require.Eventually(t, func() bool { return h.o.State() == Initialized }, 5*time.Second, time.Millisecond)

	h.o.Suspend()
	assert.Equal(t, Suspended, h.o.State())

	rect := region.New(image.Rect(20, 20, 40, 40))
	h.o.AddDamage(rect)
	h.b.handler().OnPaintRequested()
	require.Never(t, func() bool { return len(h.b.submits) > 0 }, 50*time.Millisecond, time.Millisecond)
	assert.True(t, h.o.Damage().Equal(rect))

	h.o.Resume()
	h.waitRequest()
	s := h.paint(1)
	assert.True(t, h.scene.lastFrame().Damage.Equal(rect))
	h.present(s.id)
}

func TestOutputLost(t *testing.T) {
	h := newHarness(t)

	fb := new(fakeFeedback)
	h.scene.addFeedback(fb)
	h.o.ScheduleRepaint()
	h.paint(1)

	h.b.handler().OnLost(nil)
	assert.ErrorIs(t, h.wait(), suture.ErrDoNotRestart)
	assert.Equal(t, Uninitialized, h.o.State())
	assert.Equal(t, PhaseUninitialized, h.o.Phase())
	assert.Equal(t, int32(1), fb.discarded.Load())
	assert.False(t, h.o.events.Push(event{kind: eventGPUReady}), "queues left running")
}
