package output

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deedles.dev/wlcomp/region"
)

type submission struct {
	id     uint64
	img    Image
	damage region.Region
}

type fakeBackend struct {
	mu       sync.Mutex
	h        Handler
	modes    []Mode
	mode     Mode
	gamma    *GammaTable
	gammaSet int
	age      int
	images   []draw.Image
	failNext error
	cursor   bool
	cursorOn bool
	cursorAt image.Point

	// acquired is set between AcquireImage and Submit.
	acquired    bool
	modeInPaint int

	requests chan struct{}
	submits  chan submission
}

func newFakeBackend() *fakeBackend {
	b := fakeBackend{
		modes: []Mode{
			{Width: 640, Height: 480, Refresh: 60000, Preferred: true},
			{Width: 320, Height: 240, Refresh: 60000},
		},
		gamma:    NewGammaTable(256),
		requests: make(chan struct{}, 64),
		submits:  make(chan submission, 64),
	}
	b.mode = b.modes[0]
	for i := 0; i < 3; i++ {
		b.images = append(b.images, image.NewRGBA(image.Rect(0, 0, 640, 480)))
	}
	return &b
}

func (b *fakeBackend) handler() Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.h
}

func (b *fakeBackend) setAge(age int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.age = age
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Initialize(h Handler) error {
	b.mu.Lock()
	b.h = h
	b.mu.Unlock()

	h.OnGPUReady()
	return nil
}

func (b *fakeBackend) Uninitialize() {}

func (b *fakeBackend) RepaintRequest() bool {
	b.requests <- struct{}{}
	return true
}

func (b *fakeBackend) Images() []draw.Image { return b.images }

func (b *fakeBackend) AcquireImage() (Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acquired = true
	return Image{Index: 0, Age: b.age, Target: b.images[0]}, nil
}

func (b *fakeBackend) Submit(id uint64, img Image, damage region.Region) error {
	b.mu.Lock()
	err := b.failNext
	b.failNext = nil
	b.acquired = false
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.submits <- submission{id: id, img: img, damage: damage}
	return nil
}

func (b *fakeBackend) Modes() []Mode       { return b.modes }
func (b *fakeBackend) PreferredMode() Mode { return b.modes[0] }

func (b *fakeBackend) CurrentMode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

func (b *fakeBackend) SetMode(m Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acquired {
		b.modeInPaint++
	}
	b.mode = m
	return nil
}

func (b *fakeBackend) GammaSize() int     { return 256 }
func (b *fakeBackend) Gamma() *GammaTable { return b.gamma.Clone() }

func (b *fakeBackend) SetGamma(g *GammaTable) error {
	b.gamma = g
	b.gammaSet++
	return nil
}

func (b *fakeBackend) HasCursorPlane() bool { return b.cursor }

func (b *fakeBackend) SetCursor(img image.Image, hotspot image.Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursorOn = img != nil
	return nil
}

func (b *fakeBackend) SetCursorPosition(p image.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cursorAt = p
}

func (b *fakeBackend) SetVSync(enabled bool) error  { return nil }
func (b *fakeBackend) SetContentType(t ContentType) {}
func (b *fakeBackend) NonDesktop() bool             { return false }

func (b *fakeBackend) CreateLease() (Lease, error) {
	return nil, errors.New("not supported")
}

type fakeCallback struct {
	done atomic.Int32
}

func (cb *fakeCallback) Done(t time.Time) {
	cb.done.Add(1)
}

type fakeFeedback struct {
	presented atomic.Int32
	discarded atomic.Int32
}

func (fb *fakeFeedback) Presented(o *Output, t PresentTime) {
	fb.presented.Add(1)
}

func (fb *fakeFeedback) Discarded() {
	fb.discarded.Add(1)
}

// fakeScene contains one item covering a fixed rectangle.
type fakeScene struct {
	lock sync.RWMutex

	rect      image.Rectangle
	cursor    *DrawItem
	callbacks []FrameCallback
	feedback  []Feedback
	frames    []*Frame
}

func (s *fakeScene) RLocker() sync.Locker { return s.lock.RLocker() }

func (s *fakeScene) addCallback(cb FrameCallback) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *fakeScene) addFeedback(fb Feedback) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.feedback = append(s.feedback, fb)
}

func (s *fakeScene) lastFrame() *Frame {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.frames[len(s.frames)-1]
}

func (s *fakeScene) Collect(o *Output, f *Frame) {
	f.Items = append(f.Items, &DrawItem{
		Key:       1,
		Image:     image.NewUniform(image.White),
		Rect:      s.rect,
		Callbacks: s.callbacks,
		Feedback:  s.feedback,
	})
	if s.cursor != nil {
		f.Items = append(f.Items, s.cursor)
	}
	s.callbacks = nil
	s.feedback = nil
	s.frames = append(s.frames, f)
}

func (s *fakeScene) Requeue(f *Frame) {
	for _, it := range f.Items {
		s.callbacks = append(it.Callbacks, s.callbacks...)
	}
}

type fakePainter struct {
	mu    sync.Mutex
	draws []*DrawItem
}

func (p *fakePainter) drawn() []*DrawItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*DrawItem(nil), p.draws...)
}

func (p *fakePainter) Upload(it *DrawItem) {}

func (p *fakePainter) Begin(target draw.Image, v View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draws = p.draws[:0]
}

func (p *fakePainter) Clear(r region.Region) {}

func (p *fakePainter) Draw(it *DrawItem, clip region.Region) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draws = append(p.draws, it)
}

func (p *fakePainter) End() error       { return nil }
func (p *fakePainter) Evict(key uint64) {}

func (p *fakePainter) Resolve(dst draw.Image, dv View, src image.Image, sv View, damage region.Region) {
}

type harness struct {
	t       *testing.T
	b       *fakeBackend
	o       *Output
	scene   *fakeScene
	painter *fakePainter
	done    chan struct{}
	err     error
}

// newHarness starts an output and completes its initial full-damage
// frame.
func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	h := harness{
		t:       t,
		b:       newFakeBackend(),
		scene:   &fakeScene{rect: image.Rect(10, 10, 110, 60)},
		painter: &fakePainter{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&h)
	}
	h.o = New(h.b)
	h.o.scene = h.scene
	h.o.painter = h.painter

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer close(h.done)
		h.err = h.o.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
		h.o.Close()
	})

	h.waitRequest()
	s := h.paint(0)
	h.present(s.id)
	return &h
}

func (h *harness) waitRequest() {
	h.t.Helper()
	select {
	case <-h.b.requests:
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for repaint request")
	}
}

func (h *harness) paint(age int) submission {
	h.t.Helper()
	h.b.setAge(age)
	h.b.handler().OnPaintRequested()
	select {
	case s := <-h.b.submits:
		return s
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for submission")
		panic("unreachable")
	}
}

func (h *harness) present(id uint64) {
	h.b.handler().OnPresented(id, PresentTime{Time: time.Now()})
}

func (h *harness) discard(id uint64) {
	h.b.handler().OnDiscarded(id)
}

func (h *harness) waitIdle() {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.o.Phase() == PhaseIdle
	}, 5*time.Second, time.Millisecond)
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for output to stop")
		return nil
	}
}
