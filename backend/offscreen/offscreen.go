// Package offscreen implements an output backend that renders into
// memory. It is used for headless sessions and for testing.
package offscreen

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"deedles.dev/ximage/format"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
)

var (
	ErrNoLease   = errors.New("output is already leased")
	ErrNoCursor  = errors.New("no cursor plane")
	ErrNoPending = errors.New("no frame pending")
)

// Option configures a Backend.
type Option func(*Backend)

// WithModes sets the modes that the backend supports. The first mode
// marked as preferred, or the first mode if none is, is preferred.
func WithModes(modes ...output.Mode) Option {
	return func(b *Backend) {
		b.modes = append([]output.Mode(nil), modes...)
	}
}

// WithImages sets the number of drawable images.
func WithImages(n int) Option {
	return func(b *Backend) {
		b.count = max(n, 1)
	}
}

func WithGammaSize(n int) Option {
	return func(b *Backend) {
		b.gammaSize = n
	}
}

func WithCursorPlane() Option {
	return func(b *Backend) {
		b.cursorPlane = true
	}
}

// Manual stops the backend from presenting frames on its own. Frames
// are instead completed by calls to Present and Discard.
func Manual() Option {
	return func(b *Backend) {
		b.manual = true
	}
}

// AsNonDesktop marks the output as a non-desktop output, such as a VR
// headset, which can be leased.
func AsNonDesktop() Option {
	return func(b *Backend) {
		b.nonDesktop = true
	}
}

type pending struct {
	id    uint64
	index int
	timer *time.Timer
}

// Backend is an output.Backend that keeps its images in memory.
type Backend struct {
	name        string
	modes       []output.Mode
	count       int
	gammaSize   int
	cursorPlane bool
	manual      bool
	nonDesktop  bool

	mu          sync.Mutex
	h           output.Handler
	lost        bool
	mode        output.Mode
	images      []*format.Image
	stamps      []uint64
	frames      uint64
	next        int
	front       int
	pending     []pending
	failNext    error
	gamma       *output.GammaTable
	vsync       bool
	contentType output.ContentType
	cursor      image.Image
	hotspot     image.Point
	cursorPos   image.Point
	leased      bool
}

// New returns a new offscreen backend. By default it has a single
// 1280×720 mode at 60 Hz and double buffers.
func New(name string, opts ...Option) *Backend {
	b := Backend{
		name:      name,
		count:     2,
		gammaSize: 256,
		vsync:     true,
		front:     -1,
	}
	for _, opt := range opts {
		opt(&b)
	}
	if len(b.modes) == 0 {
		b.modes = []output.Mode{{Width: 1280, Height: 720, Refresh: 60000, Preferred: true}}
	}
	b.mode = b.PreferredMode()
	if b.gammaSize > 0 {
		b.gamma = output.NewGammaTable(b.gammaSize)
	}

	return &b
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Initialize(h output.Handler) error {
	b.mu.Lock()
	if b.lost {
		b.mu.Unlock()
		return output.ErrLost
	}
	b.h = h
	b.allocLocked()
	b.mu.Unlock()

	h.OnGPUReady()
	return nil
}

func (b *Backend) allocLocked() {
	b.images = make([]*format.Image, b.count)
	b.stamps = make([]uint64, b.count)
	for i := range b.images {
		b.images[i] = &format.Image{
			Format: format.ARGB8888,
			Rect:   image.Rect(0, 0, b.mode.Width, b.mode.Height),
			Pix:    make([]byte, b.mode.Width*b.mode.Height*4),
		}
	}
	b.next = 0
	b.front = -1
}

func (b *Backend) Uninitialize() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range b.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	b.pending = nil
	b.images = nil
	b.stamps = nil
	b.h = nil
}

func (b *Backend) RepaintRequest() bool {
	b.mu.Lock()
	h := b.h
	ok := (h != nil) && !b.lost
	b.mu.Unlock()

	if ok {
		h.OnPaintRequested()
	}
	return ok
}

func (b *Backend) Images() []draw.Image {
	b.mu.Lock()
	defer b.mu.Unlock()

	images := make([]draw.Image, 0, len(b.images))
	for _, img := range b.images {
		images = append(images, img)
	}
	return images
}

func (b *Backend) AcquireImage() (output.Image, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lost {
		return output.Image{}, output.ErrLost
	}
	if len(b.images) == 0 {
		return output.Image{}, output.ErrNotInitialized
	}

	i := b.next
	b.next = (b.next + 1) % len(b.images)

	var age int
	if b.stamps[i] != 0 {
		age = int(b.frames-b.stamps[i]) + 1
	}
	return output.Image{Index: i, Age: age, Target: b.images[i]}, nil
}

func (b *Backend) Submit(id uint64, img output.Image, damage region.Region) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lost {
		return output.ErrLost
	}
	if err := b.failNext; err != nil {
		b.failNext = nil
		return err
	}
	if (img.Index < 0) || (img.Index >= len(b.images)) {
		return fmt.Errorf("invalid image index %v", img.Index)
	}

	p := pending{id: id, index: img.Index}
	if !b.manual {
		var delay time.Duration
		if b.vsync {
			delay = b.mode.Interval()
		}
		p.timer = time.AfterFunc(delay, func() { b.complete(id, true) })
	}
	b.pending = append(b.pending, p)
	return nil
}

// complete finishes the pending frame id.
func (b *Backend) complete(id uint64, present bool) {
	b.mu.Lock()
	i := -1
	for j, p := range b.pending {
		if p.id == id {
			i = j
			break
		}
	}
	if (i < 0) || (b.h == nil) {
		b.mu.Unlock()
		return
	}
	p := b.pending[i]
	b.pending = append(b.pending[:i:i], b.pending[i+1:]...)
	h := b.h

	var t output.PresentTime
	if present {
		b.frames++
		b.stamps[p.index] = b.frames
		b.front = p.index
		t = output.PresentTime{
			Time:    time.Now(),
			Refresh: b.mode.Interval(),
			Seq:     b.frames,
		}
		if b.vsync {
			t.Flags |= output.PresentVSync
		}
	} else {
		b.stamps[p.index] = 0
	}
	b.mu.Unlock()

	if present {
		h.OnPresented(id, t)
		return
	}
	h.OnDiscarded(id)
}

func (b *Backend) oldest() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return 0, ErrNoPending
	}
	return b.pending[0].id, nil
}

// Present presents the oldest submitted frame. It is only useful with
// the Manual option.
func (b *Backend) Present() (uint64, error) {
	id, err := b.oldest()
	if err != nil {
		return 0, err
	}
	b.complete(id, true)
	return id, nil
}

// Discard discards the oldest submitted frame. It is only useful with
// the Manual option.
func (b *Backend) Discard() (uint64, error) {
	id, err := b.oldest()
	if err != nil {
		return 0, err
	}
	b.complete(id, false)
	return id, nil
}

// Pending returns the number of submitted frames that have not yet
// been completed.
func (b *Backend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// FailNext causes the next call to Submit to fail with err.
func (b *Backend) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failNext = err
}

// Unplug simulates the removal of the output's device.
func (b *Backend) Unplug() {
	b.mu.Lock()
	b.lost = true
	h := b.h
	b.mu.Unlock()

	if h != nil {
		h.OnLost(output.ErrLost)
	}
}

// Resize changes the current mode as though a host window had been
// resized. The new mode replaces the backend's mode list.
func (b *Backend) Resize(w, h int) {
	b.mu.Lock()
	b.mode = output.Mode{Width: w, Height: h, Refresh: b.mode.Refresh, Preferred: true}
	b.modes = []output.Mode{b.mode}
	handler := b.h
	if handler != nil {
		b.allocLocked()
	}
	b.mu.Unlock()

	if handler != nil {
		handler.OnResized()
	}
}

// Front returns a copy of the most recently presented image, or nil if
// nothing has been presented.
func (b *Backend) Front() *image.RGBA {
	b.mu.Lock()
	defer b.mu.Unlock()

	if (b.front < 0) || (b.front >= len(b.images)) {
		return nil
	}
	src := b.images[b.front]
	img := image.NewRGBA(src.Rect)
	draw.Draw(img, img.Rect, src, src.Rect.Min, draw.Src)
	return img
}

func (b *Backend) Modes() []output.Mode {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]output.Mode(nil), b.modes...)
}

func (b *Backend) CurrentMode() output.Mode {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.mode
}

func (b *Backend) PreferredMode() output.Mode {
	for _, m := range b.modes {
		if m.Preferred {
			return m
		}
	}
	return b.modes[0]
}

func (b *Backend) SetMode(m output.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, mode := range b.modes {
		if mode == m {
			b.mode = m
			if b.h != nil {
				b.allocLocked()
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %v", output.ErrUnknownMode, m)
}

func (b *Backend) GammaSize() int {
	return b.gammaSize
}

func (b *Backend) Gamma() *output.GammaTable {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gamma == nil {
		return nil
	}
	return b.gamma.Clone()
}

func (b *Backend) SetGamma(g *output.GammaTable) error {
	if b.gammaSize <= 0 {
		return output.ErrGammaSize
	}
	if g.Size() != b.gammaSize {
		return fmt.Errorf("%w: got %v, want %v", output.ErrGammaSize, g.Size(), b.gammaSize)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.gamma = g.Clone()
	return nil
}

func (b *Backend) HasCursorPlane() bool {
	return b.cursorPlane
}

func (b *Backend) SetCursor(img image.Image, hotspot image.Point) error {
	if !b.cursorPlane {
		return ErrNoCursor
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if img == nil {
		b.cursor = nil
		return nil
	}
	c := image.NewRGBA(image.Rectangle{Max: img.Bounds().Size()})
	draw.Draw(c, c.Rect, img, img.Bounds().Min, draw.Src)
	b.cursor = c
	b.hotspot = hotspot
	return nil
}

func (b *Backend) SetCursorPosition(p image.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cursorPos = p
}

// Cursor returns the image shown on the cursor plane and where it is
// shown. The image is nil if the plane is not in use.
func (b *Backend) Cursor() (img image.Image, hotspot, pos image.Point) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.cursor, b.hotspot, b.cursorPos
}

func (b *Backend) SetVSync(enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.vsync = enabled
	return nil
}

func (b *Backend) VSync() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.vsync
}

func (b *Backend) SetContentType(t output.ContentType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.contentType = t
}

func (b *Backend) ContentType() output.ContentType {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.contentType
}

func (b *Backend) NonDesktop() bool {
	return b.nonDesktop
}

func (b *Backend) CreateLease() (output.Lease, error) {
	if !b.nonDesktop {
		return nil, output.ErrNotNonDesktop
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.leased {
		return nil, ErrNoLease
	}
	b.leased = true
	return &lease{b: b}, nil
}

type lease struct {
	b    *Backend
	once sync.Once
}

func (l *lease) Revoke() error {
	l.once.Do(func() {
		l.b.mu.Lock()
		defer l.b.mu.Unlock()

		l.b.leased = false
	})
	return nil
}
