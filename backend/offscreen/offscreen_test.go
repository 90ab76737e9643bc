package offscreen_test

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deedles.dev/wlcomp/backend/offscreen"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/render"
)

type handler struct {
	ready     chan struct{}
	requested chan struct{}
	presented chan uint64
	discarded chan uint64
	resized   chan struct{}
	lost      chan error
}

func newHandler() *handler {
	return &handler{
		ready:     make(chan struct{}, 8),
		requested: make(chan struct{}, 8),
		presented: make(chan uint64, 8),
		discarded: make(chan uint64, 8),
		resized:   make(chan struct{}, 8),
		lost:      make(chan error, 8),
	}
}

func (h *handler) OnGPUReady()                                 { h.ready <- struct{}{} }
func (h *handler) OnPaintRequested()                           { h.requested <- struct{}{} }
func (h *handler) OnPresented(id uint64, t output.PresentTime) { h.presented <- id }
func (h *handler) OnDiscarded(id uint64)                       { h.discarded <- id }
func (h *handler) OnResized()                                  { h.resized <- struct{}{} }
func (h *handler) OnLost(err error)                            { h.lost <- err }

func recv[T any](t *testing.T, c <-chan T) T {
	t.Helper()
	select {
	case v := <-c:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		panic("unreachable")
	}
}

func TestBufferAge(t *testing.T) {
	b := offscreen.New("test", offscreen.Manual())
	h := newHandler()
	require.NoError(t, b.Initialize(h))
	recv(t, h.ready)
	require.Len(t, b.Images(), 2)

	frame := func(id uint64, wantIndex, wantAge int) {
		t.Helper()
		img, err := b.AcquireImage()
		require.NoError(t, err)
		assert.Equal(t, wantIndex, img.Index)
		assert.Equal(t, wantAge, img.Age)
		require.NoError(t, b.Submit(id, img, region.Region{}))
	}

	frame(1, 0, 0)
	_, err := b.Present()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), recv(t, h.presented))

	frame(2, 1, 0)
	b.Present()
	recv(t, h.presented)

	frame(3, 0, 2)
	_, err = b.Discard()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), recv(t, h.discarded))

	frame(4, 1, 1)
	b.Present()
	recv(t, h.presented)

	frame(5, 0, 0)
	assert.Equal(t, 1, b.Pending())

	_, err = b.Present()
	require.NoError(t, err)
	_, err = b.Present()
	assert.ErrorIs(t, err, offscreen.ErrNoPending)
}

func TestAutomaticPresentation(t *testing.T) {
	b := offscreen.New("test")
	require.NoError(t, b.SetVSync(false))
	h := newHandler()
	require.NoError(t, b.Initialize(h))
	defer b.Uninitialize()

	assert.True(t, b.RepaintRequest())
	recv(t, h.requested)

	img, err := b.AcquireImage()
	require.NoError(t, err)
	require.NoError(t, b.Submit(9, img, region.Region{}))
	assert.Equal(t, uint64(9), recv(t, h.presented))
}

func TestUnplug(t *testing.T) {
	b := offscreen.New("test", offscreen.Manual())
	h := newHandler()
	require.NoError(t, b.Initialize(h))

	b.Unplug()
	assert.ErrorIs(t, recv(t, h.lost), output.ErrLost)
	assert.False(t, b.RepaintRequest())
	_, err := b.AcquireImage()
	assert.ErrorIs(t, err, output.ErrLost)
	assert.ErrorIs(t, b.Initialize(h), output.ErrLost)
}

func TestFailNext(t *testing.T) {
	b := offscreen.New("test", offscreen.Manual())
	require.NoError(t, b.Initialize(newHandler()))

	b.FailNext(assert.AnError)
	img, err := b.AcquireImage()
	require.NoError(t, err)
	assert.ErrorIs(t, b.Submit(1, img, region.Region{}), assert.AnError)
	assert.NoError(t, b.Submit(1, img, region.Region{}))
}

func TestResize(t *testing.T) {
	b := offscreen.New("test", offscreen.Manual())
	h := newHandler()
	require.NoError(t, b.Initialize(h))

	b.Resize(300, 200)
	recv(t, h.resized)
	assert.Equal(t, image.Pt(300, 200), b.CurrentMode().Size())
	assert.Equal(t, image.Rect(0, 0, 300, 200), b.Images()[0].Bounds())
}

func TestModes(t *testing.T) {
	modes := []output.Mode{
		{Width: 800, Height: 600, Refresh: 60000},
		{Width: 1024, Height: 768, Refresh: 75000, Preferred: true},
	}
	b := offscreen.New("test", offscreen.WithModes(modes...))
	assert.Equal(t, modes[1], b.PreferredMode())
	assert.Equal(t, modes[1], b.CurrentMode())

	require.NoError(t, b.SetMode(modes[0]))
	assert.Equal(t, modes[0], b.CurrentMode())
	assert.ErrorIs(t, b.SetMode(output.Mode{Width: 1}), output.ErrUnknownMode)
}

func TestGammaAndLease(t *testing.T) {
	b := offscreen.New("test", offscreen.WithGammaSize(16))
	assert.Equal(t, 16, b.GammaSize())
	assert.ErrorIs(t, b.SetGamma(output.NewGammaTable(8)), output.ErrGammaSize)
	require.NoError(t, b.SetGamma(output.NewGammaTable(16)))

	_, err := b.CreateLease()
	assert.ErrorIs(t, err, output.ErrNotNonDesktop)

	nd := offscreen.New("hmd", offscreen.AsNonDesktop())
	l, err := nd.CreateLease()
	require.NoError(t, err)
	_, err = nd.CreateLease()
	assert.ErrorIs(t, err, offscreen.ErrNoLease)
	require.NoError(t, l.Revoke())
	_, err = nd.CreateLease()
	assert.NoError(t, err)
}

// solidScene shows a single solid rectangle.
type solidScene struct {
	lock sync.RWMutex
	rect image.Rectangle
	c    color.Color
}

func (s *solidScene) RLocker() sync.Locker { return s.lock.RLocker() }

func (s *solidScene) Collect(o *output.Output, f *output.Frame) {
	f.Items = append(f.Items, &output.DrawItem{
		Key:    1,
		Image:  image.NewUniform(s.c),
		Rect:   s.rect,
		Opaque: region.New(s.rect),
	})
}

func (s *solidScene) Requeue(f *output.Frame) {}

func TestRenderToOffscreen(t *testing.T) {
	b := offscreen.New("test", offscreen.WithModes(output.Mode{Width: 64, Height: 48, Refresh: 240000}))
	scene := &solidScene{rect: image.Rect(8, 8, 16, 16), c: color.RGBA{G: 0xFF, A: 0xFF}}

	l := output.NewLayout(scene, func(o *output.Output) output.Painter { return render.NewSoftware() })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Serve(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	o := output.New(b)
	defer o.Close()
	l.Add(o)

	var front *image.RGBA
	require.Eventually(t, func() bool {
		front = b.Front()
		return front != nil
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, color.RGBA{G: 0xFF, A: 0xFF}, front.RGBAAt(10, 10))
	assert.Equal(t, color.RGBA{A: 0xFF}, front.RGBAAt(0, 0))
}
