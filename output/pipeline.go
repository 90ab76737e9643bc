package output

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"time"

	"github.com/thejerf/suture/v4"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/region"
)

type eventKind int

const (
	eventGPUReady eventKind = iota
	eventPaintRequested
	eventPresented
	eventDiscarded
	eventBackendResized
	eventSetMode
	eventResized
	eventLost
)

type event struct {
	kind eventKind
	id   uint64
	time PresentTime
	mode Mode
	err  error
}

func (o *Output) OnGPUReady() {
	o.events.Push(event{kind: eventGPUReady})
}

func (o *Output) OnPaintRequested() {
	o.events.Push(event{kind: eventPaintRequested})
}

func (o *Output) OnPresented(id uint64, t PresentTime) {
	o.events.Push(event{kind: eventPresented, id: id, time: t})
}

func (o *Output) OnDiscarded(id uint64) {
	o.events.Push(event{kind: eventDiscarded, id: id})
}

func (o *Output) OnResized() {
	o.events.Push(event{kind: eventBackendResized})
}

func (o *Output) OnLost(err error) {
	if err == nil {
		err = ErrLost
	}
	o.events.Push(event{kind: eventLost, err: err})
}

// Serve runs the output's rendering loop until ctx is canceled or the
// output's device is lost. Everything that touches the backend's
// images or the painter happens on the goroutine running Serve.
func (o *Output) Serve(ctx context.Context) error {
	err := o.initialize()
	if err != nil {
		if errors.Is(err, ErrLost) {
			o.lost(err)
			o.Close()
			return suture.ErrDoNotRestart
		}
		return fmt.Errorf("initialize %v: %w", o.Name(), err)
	}
	defer o.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evs := <-o.events.Get():
			for _, ev := range evs {
				err := o.handle(ev)
				if err != nil {
					o.lost(err)
					return suture.ErrDoNotRestart
				}
			}

		case fns := <-o.deferred.Get():
			for _, f := range fns {
				f()
			}

		case <-o.wake:
			err := o.request()
			if err != nil {
				o.lost(err)
				return suture.ErrDoNotRestart
			}
		}
	}
}

func (o *Output) initialize() error {
	o.phase.Store(int32(PhaseInitializing))
	o.log.Debug("initializing")

	err := o.backend.Initialize(o)
	if err != nil {
		o.phase.Store(int32(PhaseUninitialized))
		return err
	}

	o.mu.Lock()
	layout := o.layout
	o.mu.Unlock()
	state := Initialized
	if (layout != nil) && layout.isSuspended() {
		state = Suspended
	}

	o.mu.Lock()
	if o.state == Uninitialized {
		o.state = state
	}
	o.mu.Unlock()

	return nil
}

func (o *Output) teardown() {
	for id, f := range o.inflight {
		delete(o.inflight, id)
		o.discard(f)
	}
	for _, f := range o.deferred.TryGet() {
		f()
	}

	o.backend.Uninitialize()
	o.scratch = nil
	o.requested = false

	o.mu.Lock()
	o.state = Uninitialized
	o.mu.Unlock()
	o.phase.Store(int32(PhaseUninitialized))

	o.log.Debug("uninitialized")
	if o.gone {
		o.Close()
	}
}

func (o *Output) lost(err error) {
	o.log.Error("output lost", "err", err)
	o.gone = true

	o.mu.Lock()
	layout := o.layout
	o.mu.Unlock()

	if layout != nil {
		layout.lost(o)
	}
}

func (o *Output) handle(ev event) error {
	switch ev.kind {
	case eventGPUReady:
		o.history.reset(len(o.backend.Images()))
		o.phase.Store(int32(PhaseIdle))
		o.DamageAll()
		return nil

	case eventPaintRequested:
		o.requested = false
		return o.paint()

	case eventPresented:
		o.presented(ev.id, ev.time)
		return o.request()

	case eventDiscarded:
		o.discarded(ev.id)
		return o.request()

	case eventBackendResized:
		return o.reconfigure(func() error {
			o.mode = o.backend.CurrentMode()
			return nil
		})

	case eventSetMode:
		err := o.reconfigure(func() error {
			err := o.backend.SetMode(ev.mode)
			if err != nil {
				return err
			}
			o.mode = ev.mode
			return nil
		})
		if err != nil {
			o.log.Error("set mode", "mode", ev.mode, "err", err)
		}
		return nil

	case eventResized:
		o.history.reset(len(o.backend.Images()))
		o.scratch = nil
		return nil

	case eventLost:
		return ev.err
	}

	panic(fmt.Errorf("unknown event kind: %v", ev.kind))
}

func (o *Output) ready() bool {
	return (Phase(o.phase.Load()) == PhaseIdle) && (o.State() == Initialized)
}

// request asks the backend for a paint if one is wanted and possible.
func (o *Output) request() error {
	if o.requested || !o.repaint.Load() || !o.ready() {
		return nil
	}

	if !o.backend.RepaintRequest() {
		time.AfterFunc(o.Mode().Interval(), o.poke)
		return nil
	}
	o.requested = true
	return nil
}

// frameState is a snapshot of everything paint needs from the output
// itself.
type frameState struct {
	full        region.Region
	view        View
	renderView  View
	oversample  bool
	cursorPlane bool
	scene       Scene
	painter     Painter
}

func (o *Output) snapshot() frameState {
	o.mu.Lock()
	defer o.mu.Unlock()

	fs := frameState{
		full:        region.New(o.rectLocked()),
		view:        o.viewLocked(),
		oversample:  o.oversamplingLocked(),
		cursorPlane: o.cursorPlane,
		scene:       o.scene,
		painter:     o.painter,
	}
	fs.renderView = fs.view
	if fs.oversample {
		fs.renderView.Scale = math.Ceil(o.scale)
		fs.renderView.Transform = geom.Normal
	}
	return fs
}

func (o *Output) paint() error {
	if !o.ready() || !o.repaint.Swap(false) {
		return nil
	}

	fs := o.snapshot()
	if fs.painter == nil {
		o.log.Warn("no painter, skipping frame")
		return nil
	}
	damage := o.takeDamage()

	img, err := o.backend.AcquireImage()
	if err != nil {
		return o.failed(&Frame{Damage: damage}, fmt.Errorf("acquire image: %w", err))
	}

	f := Frame{
		ID:      o.paintID.Add(1),
		Damage:  damage,
		Repaint: o.history.repaint(damage, img.Age, fs.full),
		Image:   img,
	}

	items := o.collect(&f, fs)

	err = o.render(fs, &f, items)
	if err != nil {
		return o.failed(&f, fmt.Errorf("render: %w", err))
	}

	o.phase.Store(int32(PhasePainting))
	o.inflight[f.ID] = &f

	err = o.backend.Submit(f.ID, img, fs.view.Region(f.Repaint))
	if err != nil {
		delete(o.inflight, f.ID)
		o.phase.Store(int32(PhaseIdle))
		return o.failed(&f, fmt.Errorf("submit: %w", err))
	}

	return nil
}

// collect gathers the frame's paint list with the scene locked and
// returns the items that should be drawn in the main pass.
func (o *Output) collect(f *Frame, fs frameState) []*DrawItem {
	if fs.scene == nil {
		return nil
	}

	lock := fs.scene.RLocker()
	lock.Lock()
	defer lock.Unlock()

	fs.scene.Collect(o, f)
	items := o.placeCursor(f.Items, fs)
	for _, it := range items {
		fs.painter.Upload(it)
	}
	return items
}

// placeCursor puts the topmost cursor item onto the hardware cursor
// plane if it can be shown there unchanged, returning the remaining
// items.
func (o *Output) placeCursor(items []*DrawItem, fs frameState) []*DrawItem {
	i := -1
	for j := len(items) - 1; j >= 0; j-- {
		if items[j].Cursor {
			i = j
			break
		}
	}

	if (i < 0) || !fs.cursorPlane || !cursorCompatible(items[i], fs.view) {
		if o.hwCursor {
			o.backend.SetCursor(nil, image.Point{})
			o.hwCursor = false
		}
		return items
	}

	it := items[i]
	hotspot := image.Pt(
		int(math.Round(float64(it.Hotspot.X)*fs.view.Scale)),
		int(math.Round(float64(it.Hotspot.Y)*fs.view.Scale)),
	)
	err := o.backend.SetCursor(it.Image, hotspot)
	if err != nil {
		o.log.Debug("cursor plane rejected cursor", "err", err)
		o.hwCursor = false
		return items
	}
	o.hwCursor = true

	p := it.Rect.Min.Sub(fs.view.Origin)
	o.backend.SetCursorPosition(image.Pt(
		int(math.Round(float64(p.X)*fs.view.Scale)),
		int(math.Round(float64(p.Y)*fs.view.Scale)),
	))

	r := make([]*DrawItem, 0, len(items)-1)
	r = append(r, items[:i]...)
	return append(r, items[i+1:]...)
}

// cursorCompatible reports whether it can be put on a cursor plane
// without any transformation.
func cursorCompatible(it *DrawItem, v View) bool {
	if (it.Image == nil) || (v.Transform != geom.Normal) || (it.Transform != geom.Normal) || it.Source.IsSet() {
		return false
	}
	size := it.Image.Bounds().Size()
	want := image.Pt(
		int(math.Round(float64(it.Rect.Dx())*v.Scale)),
		int(math.Round(float64(it.Rect.Dy())*v.Scale)),
	)
	return size == want
}

func (o *Output) render(fs frameState, f *Frame, items []*DrawItem) error {
	var target draw.Image = f.Image.Target
	rv := fs.renderView
	clip := rv.Region(f.Repaint)

	if fs.oversample {
		size := rv.RenderSize()
		if (o.scratch == nil) || (o.scratch.Bounds().Size() != size) {
			o.scratch = image.NewRGBA(image.Rectangle{Max: size})
			clip = region.New(o.scratch.Bounds())
		}
		target = o.scratch
	}

	p := fs.painter
	p.Begin(target, rv)

	visible := make([]region.Region, len(items))
	var covered region.Region
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		visible[i] = clip.Intersect(rv.Region(region.New(it.Rect))).Subtract(covered)

		// Opaque culling is only exact at integer scales.
		if rv.Scale == math.Trunc(rv.Scale) {
			covered = covered.Union(rv.Region(it.Opaque))
		}
	}

	p.Clear(clip.Subtract(covered))
	for i, it := range items {
		if !visible[i].Empty() {
			p.Draw(it, visible[i])
		}
	}

	err := p.End()
	if err != nil {
		return err
	}

	if fs.oversample {
		p.Resolve(f.Image.Target, fs.view, o.scratch, rv, fs.view.Region(f.Repaint))
	}
	return nil
}

// failed handles a frame that could not be submitted. Its damage and
// frame callbacks are kept for the next attempt, which happens after
// a refresh interval. Device loss is returned to the caller.
func (o *Output) failed(f *Frame, err error) error {
	o.discard(f)
	if errors.Is(err, ErrLost) {
		return err
	}

	o.log.Error("paint failed", "err", err)
	time.AfterFunc(o.Mode().Interval(), o.ScheduleRepaint)
	return nil
}

func (o *Output) presented(id uint64, t PresentTime) {
	f, ok := o.inflight[id]
	if !ok {
		o.log.Debug("presentation of unknown frame", "id", id)
		return
	}
	delete(o.inflight, id)
	o.phase.Store(int32(PhaseIdle))

	if t.Time.IsZero() {
		t.Time = time.Now()
	}
	if t.Refresh == 0 {
		t.Refresh = o.Mode().Interval()
	}

	for _, it := range f.Items {
		for _, cb := range it.Callbacks {
			cb.Done(t.Time)
		}
		for _, fb := range it.Feedback {
			fb.Presented(o, t)
		}
	}
	o.history.push(f.Damage)
}

func (o *Output) discarded(id uint64) {
	f, ok := o.inflight[id]
	if !ok {
		o.log.Debug("discard of unknown frame", "id", id)
		return
	}
	delete(o.inflight, id)
	o.phase.Store(int32(PhaseIdle))

	o.discard(f)
	o.ScheduleRepaint()
}

// discard returns the frame's damage to the output and its frame
// callbacks to their surfaces, and tells its feedback that it was not
// shown.
func (o *Output) discard(f *Frame) {
	o.mergeDamage(f.Damage)

	o.mu.Lock()
	scene := o.scene
	o.mu.Unlock()
	if scene != nil {
		lock := scene.RLocker()
		lock.Lock()
		scene.Requeue(f)
		lock.Unlock()
	}

	for _, it := range f.Items {
		it.Callbacks = nil
		for _, fb := range it.Feedback {
			fb.Discarded()
		}
		it.Feedback = nil
	}
}
