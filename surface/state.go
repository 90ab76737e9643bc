package surface

import (
	"image"
	"strings"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
)

// Field is a set of double-buffered state fields.
type Field uint32

const (
	FieldBuffer Field = 1 << iota
	FieldOffset
	FieldScale
	FieldTransform
	FieldViewportSource
	FieldViewportDest
	FieldDamage
	FieldBufferDamage
	FieldOpaque
	FieldInput
	FieldInvisible
	FieldCallbacks
	FieldFeedback
	FieldAcquire
	FieldConstraint
	FieldBlur
	FieldVSync
	FieldContentType
	FieldWindowGeometry
)

// Change is a set of notifications about a surface's state.
type Change uint32

const (
	ChangeBuffer Change = 1 << iota
	ChangeBufferSize
	ChangeSize
	ChangeScale
	ChangeTransform
	ChangeDamage
	ChangeOpaque
	ChangeInput
	ChangeInvisible
	ChangeConstraint
	ChangeBlur
	ChangeVSync
	ChangeContentType
	ChangeMapped
	ChangePosition
	ChangeOrder
	ChangeWindowGeometry
)

var changeNames = [...]string{
	"buffer", "buffer-size", "size", "scale", "transform", "damage",
	"opaque", "input", "invisible", "constraint", "blur", "vsync",
	"content-type", "mapped", "position", "order", "window-geometry",
}

func (c Change) String() string {
	var names []string
	for i, name := range changeNames {
		if c&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// Viewport is the crop and scale state set through wp_viewport.
type Viewport struct {
	// Source is in surface coordinates, after buffer transform and
	// scale are applied. It is unset if it is zero.
	Source geom.FRect

	// Dest is the size that the surface is scaled to. It is unset if it
	// is zero.
	Dest image.Point
}

// ConstraintMode is the kind of pointer constraint requested for a
// surface.
type ConstraintMode int

const (
	ConstraintNone ConstraintMode = iota
	ConstraintLock
	ConstraintConfine
)

// Constraint describes a pointer lock or confinement requested by a
// client.
type Constraint struct {
	Mode ConstraintMode

	// Region restricts the constraint to part of the surface. An
	// infinite region means the whole surface.
	Region region.Region

	// Hint is where the pointer should appear when a lock ends.
	Hint image.Point
}

// Blur asks for the area behind part of a surface to be blurred.
type Blur struct {
	Region region.Region
	Radius int
}

// State is the double-buffered state of a surface.
type State struct {
	// Field holds the fields that have been set.
	Field Field

	Buffer    Buffer
	Offset    image.Point
	Scale     int32
	Transform geom.Transform
	Viewport  Viewport

	// Damage is in surface coordinates and BufferDamage is in buffer
	// coordinates.
	Damage       region.Region
	BufferDamage region.Region

	Opaque    region.Region
	Input     region.Region
	Invisible region.Region

	Callbacks []output.FrameCallback
	Feedback  []output.Feedback

	Acquire Fence

	Constraint  *Constraint
	Blur        *Blur
	VSync       bool
	ContentType output.ContentType

	// WindowGeometry is set through the surface's xdg_surface role.
	WindowGeometry image.Rectangle
}

func defaultState() State {
	return State{
		Scale: 1,
		Input: region.Infinite(),
		VSync: true,
	}
}

// merge copies every field set in next into s. Damage, callbacks and
// feedback accumulate instead of being replaced. It returns the
// changes that result.
func (s *State) merge(next *State) (c Change) {
	f := next.Field
	if f&FieldBuffer != 0 {
		s.Buffer = next.Buffer
		c |= ChangeBuffer
	}
	if f&FieldOffset != 0 {
		s.Offset = next.Offset
		if next.Offset != (image.Point{}) {
			c |= ChangePosition
		}
	}
	if (f&FieldScale != 0) && (s.Scale != next.Scale) {
		s.Scale = next.Scale
		c |= ChangeScale
	}
	if (f&FieldTransform != 0) && (s.Transform != next.Transform) {
		s.Transform = next.Transform
		c |= ChangeTransform
	}
	if f&FieldViewportSource != 0 {
		s.Viewport.Source = next.Viewport.Source
	}
	if f&FieldViewportDest != 0 {
		s.Viewport.Dest = next.Viewport.Dest
	}
	if f&FieldDamage != 0 {
		s.Damage = s.Damage.Union(next.Damage)
		c |= ChangeDamage
	}
	if f&FieldBufferDamage != 0 {
		s.BufferDamage = s.BufferDamage.Union(next.BufferDamage)
		c |= ChangeDamage
	}
	if f&FieldOpaque != 0 {
		s.Opaque = next.Opaque
		c |= ChangeOpaque
	}
	if f&FieldInput != 0 {
		s.Input = next.Input
		c |= ChangeInput
	}
	if f&FieldInvisible != 0 {
		s.Invisible = next.Invisible
		c |= ChangeInvisible
	}
	if f&FieldCallbacks != 0 {
		s.Callbacks = append(s.Callbacks, next.Callbacks...)
	}
	if f&FieldFeedback != 0 {
		s.Feedback = append(s.Feedback, next.Feedback...)
	}
	if f&FieldAcquire != 0 {
		s.Acquire = next.Acquire
	}
	if f&FieldConstraint != 0 {
		s.Constraint = next.Constraint
		c |= ChangeConstraint
	}
	if f&FieldBlur != 0 {
		s.Blur = next.Blur
		c |= ChangeBlur
	}
	if (f&FieldVSync != 0) && (s.VSync != next.VSync) {
		s.VSync = next.VSync
		c |= ChangeVSync
	}
	if (f&FieldContentType != 0) && (s.ContentType != next.ContentType) {
		s.ContentType = next.ContentType
		c |= ChangeContentType
	}
	if f&FieldWindowGeometry != 0 {
		s.WindowGeometry = next.WindowGeometry
		c |= ChangeWindowGeometry
	}

	s.Field |= f
	return c
}

// bufferSize returns the size of the attached buffer, or zero.
func (s *State) bufferSize() image.Point {
	if s.Buffer == nil {
		return image.Point{}
	}
	return s.Buffer.Size()
}

// size returns the size of the surface in surface coordinates.
func (s *State) size() image.Point {
	if s.Buffer == nil {
		return image.Point{}
	}
	if s.Viewport.Dest != (image.Point{}) {
		return s.Viewport.Dest
	}
	if s.Viewport.Source.IsSet() {
		return image.Pt(int(s.Viewport.Source.W), int(s.Viewport.Source.H))
	}

	b := s.bufferSize()
	w, h := s.Transform.Size(b.X, b.Y)
	return image.Pt(w/int(s.Scale), h/int(s.Scale))
}

// sourceRect returns the part of the buffer that is shown, in
// surface coordinates.
func (s *State) sourceRect() geom.FRect {
	if s.Viewport.Source.IsSet() {
		return s.Viewport.Source
	}
	b := s.bufferSize()
	w, h := s.Transform.Size(b.X, b.Y)
	return geom.FRect{W: float64(w) / float64(s.Scale), H: float64(h) / float64(s.Scale)}
}

// bufferToSurface converts a region in buffer coordinates into surface
// coordinates.
func (s *State) bufferToSurface(r region.Region) region.Region {
	if r.Empty() || (s.Buffer == nil) {
		return region.Region{}
	}
	b := s.bufferSize()
	r = r.IntersectRect(image.Rectangle{Max: b}).
		Transform(s.Transform.Invert(), b.X, b.Y).
		Scale(1 / float64(s.Scale))

	src := s.sourceRect()
	size := s.size()
	if (src.W == 0) || (src.H == 0) {
		return region.Region{}
	}
	fx, fy := float64(size.X)/src.W, float64(size.Y)/src.H
	if s.Viewport.Source.IsSet() || (fx != 1) || (fy != 1) {
		origin := image.Pt(int(src.X), int(src.Y))
		r = r.Translate(origin.Mul(-1)).ScaleXY(fx, fy)
	}
	return r
}
