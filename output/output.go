// Package output implements compositor outputs: their geometry and
// mode state, repaint scheduling, and the per-output goroutine that
// paints frames and reconciles their presentation.
package output

import (
	"fmt"
	"image"
	"math"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/internal/cq"
	"deedles.dev/wlcomp/internal/logger"
	"deedles.dev/wlcomp/region"
)

// State is the lifecycle state of an output.
type State int32

const (
	Uninitialized State = iota
	Initialized
	Suspended
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Suspended:
		return "suspended"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Phase is the state of an output's rendering pipeline.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseIdle
	PhasePainting
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseIdle:
		return "idle"
	case PhasePainting:
		return "painting"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

var nextID atomic.Uint32

// Output is a single display output.
type Output struct {
	id      uint32
	backend Backend
	log     *log.Logger

	mu          sync.Mutex
	state       State
	layout      *Layout
	pos         image.Point
	scale       float64
	transform   geom.Transform
	oversample  bool
	cursorPlane bool
	mode        Mode
	zones       []*ExclusiveZone
	avail       image.Rectangle
	damage      region.Region
	scene       Scene
	painter     Painter

	repaint atomic.Bool
	wake    chan struct{}
	paintID atomic.Uint64
	phase   atomic.Int32

	events   *cq.Queue[event]
	deferred *cq.Queue[func()]

	// Only touched by the output's own goroutine.
	history   history
	inflight  map[uint64]*Frame
	scratch   *image.RGBA
	requested bool
	hwCursor  bool
	gone      bool
}

// New returns an uninitialized output driven by b. The output starts
// in b's preferred mode.
func New(b Backend) *Output {
	o := Output{
		id:          nextID.Add(1),
		backend:     b,
		scale:       1,
		cursorPlane: b.HasCursorPlane(),
		wake:        make(chan struct{}, 1),
		events:      cq.New[event](),
		deferred:    cq.New[func()](),
		inflight:    make(map[uint64]*Frame),
	}
	o.log = logger.With("output", b.Name())

	o.mode = b.PreferredMode()
	if o.mode == (Mode{}) {
		o.mode = b.CurrentMode()
	}
	o.avail = o.rectLocked()

	return &o
}

func (o *Output) ID() uint32 {
	return o.id
}

func (o *Output) Name() string {
	return o.backend.Name()
}

func (o *Output) Backend() Backend {
	return o.backend
}

func (o *Output) String() string {
	return fmt.Sprintf("output %v (%v)", o.id, o.Name())
}

func (o *Output) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state
}

func (o *Output) Phase() Phase {
	return Phase(o.phase.Load())
}

// SetPainter sets the painter used by the output. It must be called
// before the output is added to a Layout.
func (o *Output) SetPainter(p Painter) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.painter = p
}

func (o *Output) Position() image.Point {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.pos
}

func (o *Output) SetPosition(p image.Point) {
	o.reconfigure(func() error {
		o.pos = p
		return nil
	})
}

func (o *Output) Scale() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.scale
}

// SetScale sets the ratio of physical to logical pixels. Fractional
// values are allowed.
func (o *Output) SetScale(scale float64) error {
	if (scale <= 0) || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("invalid scale %v", scale)
	}
	return o.reconfigure(func() error {
		o.scale = scale
		return nil
	})
}

func (o *Output) Transform() geom.Transform {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.transform
}

func (o *Output) SetTransform(t geom.Transform) error {
	if !t.Valid() {
		return fmt.Errorf("invalid transform %v", t)
	}
	return o.reconfigure(func() error {
		o.transform = t
		return nil
	})
}

// SetOversample enables rendering at the next integer scale and
// downscaling once when the output's scale is fractional.
func (o *Output) SetOversample(enabled bool) {
	o.reconfigure(func() error {
		o.oversample = enabled
		return nil
	})
}

func (o *Output) Mode() Mode {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.mode
}

// SetMode switches the output to m, which must be one of the modes
// reported by the backend. The backend renegotiates its drawable
// images and all damage history is invalidated. If the output is
// running, the switch happens asynchronously on its own goroutine.
func (o *Output) SetMode(m Mode) error {
	var found bool
	for _, mode := range o.backend.Modes() {
		if (mode.Width == m.Width) && (mode.Height == m.Height) && (mode.Refresh == m.Refresh) {
			m, found = mode, true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %v", ErrUnknownMode, m)
	}

	o.mu.Lock()
	running := o.state != Uninitialized
	o.mu.Unlock()
	if running {
		o.events.Push(event{kind: eventSetMode, mode: m})
		return nil
	}

	return o.reconfigure(func() error {
		err := o.backend.SetMode(m)
		if err != nil {
			return fmt.Errorf("backend set mode: %w", err)
		}
		o.mode = m
		return nil
	})
}

// reconfigure applies a geometry change and then performs everything
// that depends on the output's geometry: available geometry
// recomputation, invalidation of the damage history and a full
// repaint.
func (o *Output) reconfigure(f func() error) error {
	o.mu.Lock()
	err := f()
	if err != nil {
		o.mu.Unlock()
		return err
	}
	o.computeAvailableGeometryLocked()
	o.damage = region.New(o.rectLocked())
	layout := o.layout
	o.mu.Unlock()

	o.events.Push(event{kind: eventResized})
	o.ScheduleRepaint()
	if layout != nil {
		layout.notifyAvailable(o)
	}
	return nil
}

// BufferSize returns the size of the output in physical pixels, in
// the orientation in which the compositor lays it out.
func (o *Output) BufferSize() image.Point {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.bufferSizeLocked()
}

func (o *Output) bufferSizeLocked() image.Point {
	w, h := o.transform.Size(o.mode.Width, o.mode.Height)
	return image.Pt(w, h)
}

// Size returns the logical size of the output.
func (o *Output) Size() image.Point {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.sizeLocked()
}

func (o *Output) sizeLocked() image.Point {
	b := o.bufferSizeLocked()
	return image.Pt(
		int(math.Round(float64(b.X)/o.scale)),
		int(math.Round(float64(b.Y)/o.scale)),
	)
}

// Rect returns the output's area in global logical coordinates.
func (o *Output) Rect() image.Rectangle {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.rectLocked()
}

func (o *Output) rectLocked() image.Rectangle {
	return image.Rectangle{Min: o.pos, Max: o.pos.Add(o.sizeLocked())}
}

// Oversampling reports whether frames are rendered at a higher
// integer scale and then downscaled.
func (o *Output) Oversampling() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.oversamplingLocked()
}

func (o *Output) oversamplingLocked() bool {
	return o.oversample && (o.scale != math.Trunc(o.scale))
}

// View returns the mapping from global logical coordinates onto the
// output's drawable images.
func (o *Output) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.viewLocked()
}

func (o *Output) viewLocked() View {
	return View{
		Origin:    o.pos,
		Size:      o.sizeLocked(),
		Scale:     o.scale,
		Transform: o.transform,
	}
}

// RenderView returns the view that frames are painted with. It differs
// from View only when oversampling.
func (o *Output) RenderView() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := o.viewLocked()
	if o.oversamplingLocked() {
		v.Scale = math.Ceil(o.scale)
		v.Transform = geom.Normal
	}
	return v
}

func (o *Output) GammaSize() int {
	return o.backend.GammaSize()
}

func (o *Output) Gamma() *GammaTable {
	return o.backend.Gamma()
}

// SetGamma sets the output's gamma table. Tables whose size differs
// from the backend's are rejected without any side effect. A nil
// table restores a linear ramp.
func (o *Output) SetGamma(g *GammaTable) error {
	size := o.backend.GammaSize()
	if size <= 0 {
		return fmt.Errorf("%w: output does not support gamma", ErrGammaSize)
	}
	if g == nil {
		g = NewGammaTable(size)
	}
	if g.Size() != size {
		return fmt.Errorf("%w: got %v, want %v", ErrGammaSize, g.Size(), size)
	}

	return o.backend.SetGamma(g.Clone())
}

// CursorPlane reports whether the hardware cursor plane is used.
func (o *Output) CursorPlane() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.cursorPlane
}

// SetCursorPlane enables or disables use of the hardware cursor plane.
// It can only be enabled if the backend has one.
func (o *Output) SetCursorPlane(enabled bool) {
	o.mu.Lock()
	o.cursorPlane = enabled && o.backend.HasCursorPlane()
	o.mu.Unlock()

	o.DamageAll()
}

func (o *Output) SetVSync(enabled bool) error {
	return o.backend.SetVSync(enabled)
}

func (o *Output) SetContentType(t ContentType) {
	o.backend.SetContentType(t)
}

// CreateLease leases the output to a client. Only non-desktop outputs
// can be leased.
func (o *Output) CreateLease() (Lease, error) {
	if !o.backend.NonDesktop() {
		return nil, ErrNotNonDesktop
	}
	return o.backend.CreateLease()
}

// Suspend stops the output from painting until Resume is called.
// Damage keeps accumulating while the output is suspended. A frame
// that is already in flight still completes.
func (o *Output) Suspend() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == Initialized {
		o.state = Suspended
	}
}

// Resume undoes Suspend and repaints everything damaged in the
// meantime.
func (o *Output) Resume() {
	o.mu.Lock()
	resumed := o.state == Suspended
	if resumed {
		o.state = Initialized
	}
	o.mu.Unlock()

	if resumed {
		o.repaint.Store(true)
		o.poke()
	}
}

// Close releases the output's internal queues. The output must not be
// served again afterwards.
func (o *Output) Close() {
	o.events.Stop()
	o.deferred.Stop()
}

// DestroyLater queues f to run on the output's goroutine the next time
// that it wakes. It is used to free resources that may only be freed
// by the goroutine that created them.
func (o *Output) DestroyLater(f func()) {
	o.deferred.Push(f)
}

// Evict asks the output's painter to drop resources for key.
func (o *Output) Evict(key uint64) {
	o.DestroyLater(func() {
		if p := o.getPainter(); p != nil {
			p.Evict(key)
		}
	})
}

func (o *Output) getPainter() Painter {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.painter
}
