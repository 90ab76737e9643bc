package surface

import (
	"fmt"
	"image"
	"sync"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
)

// Listener receives the events of a single surface, usually to send
// them to its client.
type Listener interface {
	Changed(c Change)
	Enter(o *output.Output)
	Leave(o *output.Output)
}

// Surface is a rectangular area that a client draws into.
type Surface struct {
	m        *Manager
	ref      Ref
	client   Client
	listener Listener

	role     Role
	roleKind RoleKind

	pending State
	current State
	changes Change

	commitID uint64
	applied  uint64
	queue    []*entry

	parent Ref
	below  []Ref
	above  []Ref
	popups []Ref

	// Child order requests from wl_subsurface, applied with this
	// surface's next commit.
	restack []restackOp

	mapped  bool
	pos     image.Point
	size    image.Point
	outputs map[*output.Output]struct{}
	version uint64

	cbMu      sync.Mutex
	callbacks []output.FrameCallback
	feedback  []output.Feedback

	destroyed bool
}

func (s *Surface) String() string {
	return fmt.Sprintf("surface %v", s.ref.idx)
}

func (s *Surface) Ref() Ref {
	return s.ref
}

func (s *Surface) Manager() *Manager {
	return s.m
}

func (s *Surface) Client() Client {
	return s.client
}

func (s *Surface) SetListener(lis Listener) {
	s.listener = lis
}

// Role returns the surface's active role object, or nil.
func (s *Surface) Role() Role {
	return s.role
}

// RoleKind returns the kind of role that has been assigned to the
// surface. It stays the same after the role object is destroyed.
func (s *Surface) RoleKind() RoleKind {
	return s.roleKind
}

// Current returns the applied state. It must not be modified.
func (s *Surface) Current() *State {
	return &s.current
}

// Pending returns the state that the next commit will apply. It must
// not be modified directly.
func (s *Surface) Pending() *State {
	return &s.pending
}

// CommitID returns the id of the most recent commit.
func (s *Surface) CommitID() uint64 {
	return s.commitID
}

// Mapped reports whether the surface is currently shown.
func (s *Surface) Mapped() bool {
	return s.mapped
}

// Pos returns the position of the surface in global logical
// coordinates.
func (s *Surface) Pos() image.Point {
	return s.pos
}

// Size returns the size of the surface in logical coordinates.
func (s *Surface) Size() image.Point {
	return s.size
}

func (s *Surface) Rect() image.Rectangle {
	return image.Rectangle{Min: s.pos, Max: s.pos.Add(s.size)}
}

// Outputs returns the outputs that the surface is on.
func (s *Surface) Outputs() []*output.Output {
	outputs := make([]*output.Output, 0, len(s.outputs))
	for o := range s.outputs {
		outputs = append(outputs, o)
	}
	return outputs
}

// Parent returns the surface's parent, or nil.
func (s *Surface) Parent() *Surface {
	return s.m.Lookup(s.parent)
}

// Children returns the surface's subsurfaces, back to front. The
// surface itself is included at its position in the order.
func (s *Surface) Children() []*Surface {
	var children []*Surface
	for _, r := range s.below {
		if c := s.m.Lookup(r); c != nil {
			children = append(children, c)
		}
	}
	children = append(children, s)
	for _, r := range s.above {
		if c := s.m.Lookup(r); c != nil {
			children = append(children, c)
		}
	}
	return children
}

// dependents returns the surfaces whose placement depends on s: its
// subsurfaces and popups.
func (s *Surface) dependents() []*Surface {
	var deps []*Surface
	for _, list := range [][]Ref{s.below, s.above, s.popups} {
		for _, r := range list {
			if c := s.m.Lookup(r); c != nil {
				deps = append(deps, c)
			}
		}
	}
	return deps
}

func (s *Surface) Destroyed() bool {
	return s.destroyed
}

// setRole assigns r to s. A surface may only ever have one kind of
// role, and only one role object at a time.
func (s *Surface) setRole(r Role) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if (s.roleKind != RoleNone) && (s.roleKind != r.Kind()) {
		return protocolErrorf(ErrRole, "%v already has role %v, cannot become %v", s, s.roleKind, r.Kind())
	}
	if s.role != nil {
		return protocolErrorf(ErrRole, "%v already has an active %v", s, s.roleKind)
	}

	s.role = r
	s.roleKind = r.Kind()
	return nil
}

// clearRole unmaps the surface and detaches its role object. The
// surface keeps its role kind.
func (s *Surface) clearRole(r Role) {
	if s.role != r {
		return
	}

	s.m.update(func(n *notes) {
		s.role = nil
		s.refreshLocked(n)
		s.removeFromParentLocked()
		s.m.restackLocked()
	})
	r.destroy()
}

// Attach sets the buffer to be shown. A nil buffer unmaps the surface
// on commit. The offset moves the surface relative to its current
// position.
func (s *Surface) Attach(b Buffer, offset image.Point) {
	s.pending.Buffer = b
	s.pending.Field |= FieldBuffer
	if offset != (image.Point{}) {
		s.SetOffset(offset)
	}
	s.changes |= ChangeBuffer
}

func (s *Surface) SetOffset(offset image.Point) {
	s.pending.Offset = offset
	s.pending.Field |= FieldOffset
}

// Damage marks part of the surface, in surface coordinates, as
// changed.
func (s *Surface) Damage(r image.Rectangle) {
	if r.Empty() {
		return
	}
	s.pending.Damage = s.pending.Damage.UnionRect(r)
	s.pending.Field |= FieldDamage
}

// DamageBuffer marks part of the surface, in buffer coordinates, as
// changed.
func (s *Surface) DamageBuffer(r image.Rectangle) {
	if r.Empty() {
		return
	}
	s.pending.BufferDamage = s.pending.BufferDamage.UnionRect(r)
	s.pending.Field |= FieldBufferDamage
}

// SetOpaqueRegion sets the region, in surface coordinates, that the
// client promises to fill with opaque content.
func (s *Surface) SetOpaqueRegion(r region.Region) {
	s.pending.Opaque = r
	s.pending.Field |= FieldOpaque
}

// SetInputRegion sets the region that accepts input. An infinite
// region accepts input everywhere on the surface.
func (s *Surface) SetInputRegion(r region.Region) {
	s.pending.Input = r
	s.pending.Field |= FieldInput
}

// SetInvisibleRegion sets the region that the compositor may skip
// drawing entirely.
func (s *Surface) SetInvisibleRegion(r region.Region) {
	s.pending.Invisible = r
	s.pending.Field |= FieldInvisible
}

func (s *Surface) SetBufferScale(scale int32) error {
	if scale < 1 {
		return protocolErrorf(ErrInvalidScale, "buffer scale %v is not positive", scale)
	}
	s.pending.Scale = scale
	s.pending.Field |= FieldScale
	return nil
}

func (s *Surface) SetBufferTransform(t geom.Transform) error {
	if !t.Valid() {
		return protocolErrorf(ErrInvalidTransform, "invalid buffer transform %v", int32(t))
	}
	s.pending.Transform = t
	s.pending.Field |= FieldTransform
	return nil
}

// SetViewportSource sets the crop rectangle. A rectangle with every
// value set to -1 unsets it.
func (s *Surface) SetViewportSource(r geom.FRect) error {
	if r == (geom.FRect{X: -1, Y: -1, W: -1, H: -1}) {
		r = geom.FRect{}
	} else if (r.X < 0) || (r.Y < 0) || (r.W <= 0) || (r.H <= 0) {
		return protocolErrorf(ErrBadValue, "invalid viewport source %+v", r)
	}
	s.pending.Viewport.Source = r
	s.pending.Field |= FieldViewportSource
	return nil
}

// SetViewportDestination sets the size that the surface is scaled to.
// A size of -1×-1 unsets it.
func (s *Surface) SetViewportDestination(w, h int) error {
	var dest image.Point
	switch {
	case (w == -1) && (h == -1):
	case (w <= 0) || (h <= 0):
		return protocolErrorf(ErrBadValue, "invalid viewport destination %vx%v", w, h)
	default:
		dest = image.Pt(w, h)
	}
	s.pending.Viewport.Dest = dest
	s.pending.Field |= FieldViewportDest
	return nil
}

// Frame requests a notification when now is a good time to draw a new
// frame.
func (s *Surface) Frame(cb output.FrameCallback) {
	s.pending.Callbacks = append(s.pending.Callbacks, cb)
	s.pending.Field |= FieldCallbacks
}

// AddFeedback requests presentation feedback for the next commit.
func (s *Surface) AddFeedback(fb output.Feedback) {
	s.pending.Feedback = append(s.pending.Feedback, fb)
	s.pending.Field |= FieldFeedback
}

// SetAcquireFence sets the fence that must signal before the next
// commit's buffer may be read.
func (s *Surface) SetAcquireFence(f Fence) {
	s.pending.Acquire = f
	s.pending.Field |= FieldAcquire
}

func (s *Surface) SetConstraint(c *Constraint) {
	s.pending.Constraint = c
	s.pending.Field |= FieldConstraint
	s.changes |= ChangeConstraint
}

func (s *Surface) SetBlur(b *Blur) {
	s.pending.Blur = b
	s.pending.Field |= FieldBlur
}

func (s *Surface) SetVSync(vsync bool) {
	s.pending.VSync = vsync
	s.pending.Field |= FieldVSync
}

func (s *Surface) SetContentType(t output.ContentType) {
	s.pending.ContentType = t
	s.pending.Field |= FieldContentType
}

// validate checks the parts of the pending state that can only be
// checked as a whole.
func (s *Surface) validate(next *State) error {
	st := s.projected(next)
	if st.Buffer == nil {
		return nil
	}

	b := st.Buffer.Size()
	if (b.X%int(st.Scale) != 0) || (b.Y%int(st.Scale) != 0) {
		return protocolErrorf(ErrInvalidSize, "buffer size %v is not a multiple of scale %v", b, st.Scale)
	}

	src := st.Viewport.Source
	if !src.IsSet() {
		return nil
	}
	w, h := st.Transform.Size(b.X, b.Y)
	if !src.Within(w/int(st.Scale), h/int(st.Scale)) {
		return protocolErrorf(ErrOutOfBuffer, "viewport source %+v is outside of the buffer", src)
	}
	if (st.Viewport.Dest == (image.Point{})) && !src.Integral() {
		return protocolErrorf(ErrBadSize, "viewport source size %vx%v is not integral", src.W, src.H)
	}
	return nil
}

// projected returns the state that the surface will have once every
// queued commit and then next have been applied.
func (s *Surface) projected(next *State) State {
	st := s.current
	st.Callbacks, st.Feedback = nil, nil
	for _, e := range s.queue {
		st.merge(&e.state)
	}
	st.merge(next)
	return st
}

// refreshLocked recomputes the surface's position, mapping and output
// membership, and then does the same for its descendants.
func (s *Surface) refreshLocked(n *notes) {
	old := s.Rect()
	wasMapped := s.mapped

	s.size = s.current.size()
	if s.role != nil {
		s.pos = s.role.Pos()
	}
	s.mapped = (s.role != nil) && (s.current.Buffer != nil) && s.role.Mappable() && !s.destroyed

	var c Change
	if s.mapped != wasMapped {
		c |= ChangeMapped
	}
	if s.mapped && wasMapped && (s.Rect() != old) {
		c |= ChangePosition
	}
	if (c != 0) && (s.m.layout != nil) {
		var damage region.Region
		if wasMapped {
			damage = damage.UnionRect(old)
		}
		if s.mapped {
			damage = damage.UnionRect(s.Rect())
		}
		s.m.layout.AddDamage(damage)
	}
	n.changed(s, c)

	s.updateOutputsLocked(n)

	for _, r := range s.below {
		if child := s.m.Lookup(r); child != nil {
			child.refreshLocked(n)
		}
	}
	for _, r := range s.above {
		if child := s.m.Lookup(r); child != nil {
			child.refreshLocked(n)
		}
	}
	for _, r := range s.popups {
		if child := s.m.Lookup(r); child != nil {
			child.refreshLocked(n)
		}
	}
}

// updateOutputsLocked sends enter and leave events for the outputs
// that the surface has started or stopped overlapping.
func (s *Surface) updateOutputsLocked(n *notes) {
	next := make(map[*output.Output]struct{})
	if s.mapped && (s.m.layout != nil) {
		for _, o := range s.m.layout.Overlapping(s.Rect()) {
			next[o] = struct{}{}
		}
	}

	for o := range s.outputs {
		if _, ok := next[o]; !ok {
			n.add(func() {
				if s.listener != nil {
					s.listener.Leave(o)
				}
			})
		}
	}
	for o := range next {
		if _, ok := s.outputs[o]; !ok {
			n.add(func() {
				if s.listener != nil {
					s.listener.Enter(o)
				}
			})
		}
	}
	s.outputs = next
}

// leaveOutputLocked removes o from the surface's outputs without
// sending a leave event, for when the output itself has gone away.
func (s *Surface) leaveOutputLocked(o *output.Output) {
	delete(s.outputs, o)
}

// scheduleFrame makes sure that the outputs the surface is on paint
// soon, so that its frame callbacks fire.
func (s *Surface) scheduleFrame() {
	for o := range s.outputs {
		o.ScheduleRepaint()
	}
}

// band returns the stacking band of the root of the surface's tree.
func (s *Surface) band() band {
	if s.role == nil {
		return bandNormal
	}
	return s.role.band()
}

// appendTree appends s and its descendants to order, back to front.
func (s *Surface) appendTree(order []Ref) []Ref {
	for _, r := range s.below {
		if c := s.m.Lookup(r); c != nil {
			order = c.appendTree(order)
		}
	}
	order = append(order, s.ref)
	for _, r := range s.above {
		if c := s.m.Lookup(r); c != nil {
			order = c.appendTree(order)
		}
	}
	for _, r := range s.popups {
		if c := s.m.Lookup(r); c != nil {
			order = c.appendTree(order)
		}
	}
	return order
}

// removeFromParentLocked unlinks s from whatever list it is stacked
// in.
func (s *Surface) removeFromParentLocked() {
	remove := func(list []Ref) []Ref {
		for i, r := range list {
			if r == s.ref {
				return append(list[:i:i], list[i+1:]...)
			}
		}
		return list
	}

	s.m.roots = remove(s.m.roots)
	if p := s.m.Lookup(s.parent); p != nil {
		p.below = remove(p.below)
		p.above = remove(p.above)
		p.popups = remove(p.popups)
	}
	s.parent = Ref{}
}

// isAncestorOf reports whether s is o or one of o's ancestors.
func (s *Surface) isAncestorOf(o *Surface) bool {
	for o != nil {
		if o == s {
			return true
		}
		o = o.Parent()
	}
	return false
}

// drawTransform returns the transform that maps the buffer's pixels
// into the surface's orientation.
func (s *Surface) drawTransform() geom.Transform {
	return s.current.Transform.Invert()
}

// drawSource returns the viewport source rectangle in the buffer's
// pixels, after the draw transform.
func (s *Surface) drawSource() geom.FRect {
	src := s.current.Viewport.Source
	if !src.IsSet() {
		return geom.FRect{}
	}
	scale := float64(s.current.Scale)
	return geom.FRect{X: src.X * scale, Y: src.Y * scale, W: src.W * scale, H: src.H * scale}
}

// opaqueRegion returns the opaque region in global coordinates.
func (s *Surface) opaqueRegion() region.Region {
	rect := image.Rectangle{Max: s.size}
	if (s.current.Buffer != nil) && s.current.Buffer.Opaque() {
		return region.New(rect).Translate(s.pos)
	}
	if (s.current.Scale != 1) || s.current.Viewport.Source.IsSet() || (s.current.Viewport.Dest != (image.Point{})) {
		// Scaling blurs edges, so only whole opaque pixels count.
		return s.current.Opaque.IntersectRect(shrink(rect, 1)).Translate(s.pos)
	}
	return s.current.Opaque.IntersectRect(rect).Translate(s.pos)
}

func shrink(r image.Rectangle, n int) image.Rectangle {
	return image.Rect(r.Min.X+n, r.Min.Y+n, r.Max.X-n, r.Max.Y-n)
}
