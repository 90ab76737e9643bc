package surface

import (
	"image"
)

// Anchor is a set of edges of a rectangle. The empty set is its
// center.
type Anchor uint32

const (
	AnchorTop Anchor = 1 << iota
	AnchorBottom
	AnchorLeft
	AnchorRight
)

// valid reports whether a does not contain opposite edges.
func (a Anchor) valid() bool {
	return (a&(AnchorTop|AnchorBottom) != AnchorTop|AnchorBottom) &&
		(a&(AnchorLeft|AnchorRight) != AnchorLeft|AnchorRight)
}

func (a Anchor) flipX() Anchor {
	switch a & (AnchorLeft | AnchorRight) {
	case AnchorLeft:
		return a&^AnchorLeft | AnchorRight
	case AnchorRight:
		return a&^AnchorRight | AnchorLeft
	}
	return a
}

func (a Anchor) flipY() Anchor {
	switch a & (AnchorTop | AnchorBottom) {
	case AnchorTop:
		return a&^AnchorTop | AnchorBottom
	case AnchorBottom:
		return a&^AnchorBottom | AnchorTop
	}
	return a
}

// Adjustment is a set of ways that a popup may be moved to keep it
// on screen.
type Adjustment uint32

const (
	AdjustSlideX Adjustment = 1 << iota
	AdjustSlideY
	AdjustFlipX
	AdjustFlipY
)

// Positioner describes where a popup should be placed relative to its
// parent's window geometry.
type Positioner struct {
	Size       image.Point
	AnchorRect image.Rectangle
	Anchor     Anchor
	Gravity    Anchor
	Adjustment Adjustment
	Offset     image.Point
}

// Validate checks that p is complete.
func (p Positioner) Validate() error {
	if (p.Size.X <= 0) || (p.Size.Y <= 0) {
		return protocolErrorf(ErrInvalidGeometry, "popup size %v has no area", p.Size)
	}
	if (p.AnchorRect.Dx() < 0) || (p.AnchorRect.Dy() < 0) {
		return protocolErrorf(ErrInvalidGeometry, "anchor rectangle %v has negative size", p.AnchorRect)
	}
	if !p.Anchor.valid() || !p.Gravity.valid() {
		return protocolErrorf(ErrInvalidAnchor, "anchor %v or gravity %v has opposite edges", p.Anchor, p.Gravity)
	}
	return nil
}

// place returns the popup's rectangle for an anchor and gravity.
func (p Positioner) place(anchor, gravity Anchor) image.Rectangle {
	ar := p.AnchorRect
	pt := image.Pt((ar.Min.X+ar.Max.X)/2, (ar.Min.Y+ar.Max.Y)/2)
	switch {
	case anchor&AnchorLeft != 0:
		pt.X = ar.Min.X
	case anchor&AnchorRight != 0:
		pt.X = ar.Max.X
	}
	switch {
	case anchor&AnchorTop != 0:
		pt.Y = ar.Min.Y
	case anchor&AnchorBottom != 0:
		pt.Y = ar.Max.Y
	}

	switch {
	case gravity&AnchorLeft != 0:
		pt.X -= p.Size.X
	case gravity&AnchorRight == 0:
		pt.X -= p.Size.X / 2
	}
	switch {
	case gravity&AnchorTop != 0:
		pt.Y -= p.Size.Y
	case gravity&AnchorBottom == 0:
		pt.Y -= p.Size.Y / 2
	}

	pt = pt.Add(p.Offset)
	return image.Rectangle{Min: pt, Max: pt.Add(p.Size)}
}

// Place returns the popup's rectangle, adjusted where allowed so that
// it stays within bounds. All coordinates are relative to the parent's
// window geometry.
func (p Positioner) Place(bounds image.Rectangle) image.Rectangle {
	r := p.place(p.Anchor, p.Gravity)
	if bounds.Empty() {
		return r
	}

	if (p.Adjustment&AdjustFlipX != 0) && !withinX(r, bounds) {
		flipped := p.place(p.Anchor.flipX(), p.Gravity.flipX())
		if withinX(flipped, bounds) {
			r.Min.X, r.Max.X = flipped.Min.X, flipped.Max.X
		}
	}
	if (p.Adjustment&AdjustFlipY != 0) && !withinY(r, bounds) {
		flipped := p.place(p.Anchor.flipY(), p.Gravity.flipY())
		if withinY(flipped, bounds) {
			r.Min.Y, r.Max.Y = flipped.Min.Y, flipped.Max.Y
		}
	}

	if p.Adjustment&AdjustSlideX != 0 {
		if r.Max.X > bounds.Max.X {
			r = r.Add(image.Pt(bounds.Max.X-r.Max.X, 0))
		}
		if r.Min.X < bounds.Min.X {
			r = r.Add(image.Pt(bounds.Min.X-r.Min.X, 0))
		}
	}
	if p.Adjustment&AdjustSlideY != 0 {
		if r.Max.Y > bounds.Max.Y {
			r = r.Add(image.Pt(0, bounds.Max.Y-r.Max.Y))
		}
		if r.Min.Y < bounds.Min.Y {
			r = r.Add(image.Pt(0, bounds.Min.Y-r.Min.Y))
		}
	}
	return r
}

func withinX(r, bounds image.Rectangle) bool {
	return (r.Min.X >= bounds.Min.X) && (r.Max.X <= bounds.Max.X)
}

func withinY(r, bounds image.Rectangle) bool {
	return (r.Min.Y >= bounds.Min.Y) && (r.Max.Y <= bounds.Max.Y)
}

// PopupHandler sends a popup's events to its client.
type PopupHandler interface {
	// Configure tells the client where the popup was placed, relative
	// to its parent's window geometry.
	Configure(serial uint32, rect image.Rectangle)

	// Done tells the client that the popup was dismissed.
	Done()
}

// Popup is the role of a short-lived surface, such as a menu, that is
// placed relative to a parent.
type Popup struct {
	configurable

	h          PopupHandler
	positioner Positioner
	rect       image.Rectangle
	dismissed  bool
}

// NewPopup makes s into a popup of parent, placed by p.
func NewPopup(s, parent *Surface, p Positioner, h PopupHandler) (*Popup, error) {
	err := p.Validate()
	if err != nil {
		return nil, err
	}
	if (parent == nil) || parent.destroyed || (parent.role == nil) || (s == parent) {
		return nil, protocolErrorf(ErrBadSurface, "%v is not a valid popup parent", parent)
	}
	if s.current.Buffer != nil {
		return nil, protocolErrorf(ErrUnconfiguredBuffer, "%v already has a buffer", s)
	}

	pop := Popup{
		configurable: configurable{roleBase: roleBase{s: s}},
		h:            h,
		positioner:   p,
	}
	err = s.setRole(&pop)
	if err != nil {
		return nil, err
	}

	s.m.update(func(n *notes) {
		s.parent = parent.ref
		parent.popups = append(parent.popups, s.ref)
		pop.rect = pop.placeLocked()
		s.m.restackLocked()
	})
	return &pop, nil
}

func (p *Popup) Kind() RoleKind { return RolePopup }
func (p *Popup) band() band     { return bandNormal }

// origin returns the global position of the parent's window geometry.
func (p *Popup) origin() image.Point {
	parent := p.s.Parent()
	if (parent == nil) || (parent.role == nil) {
		return image.Point{}
	}
	origin := parent.role.Pos()
	if w, ok := parent.role.(windowed); ok {
		origin = origin.Add(w.WindowGeometry().Min)
	}
	return origin
}

func (p *Popup) Pos() image.Point {
	return p.origin().Add(p.rect.Min).Sub(p.WindowGeometry().Min)
}

func (p *Popup) Mappable() bool {
	parent := p.s.Parent()
	return p.acked && !p.dismissed && (parent != nil) && parent.mapped
}

func (p *Popup) AcceptCommit(pending *State) error {
	return p.acceptBuffer(pending)
}

// Rect returns where the popup was placed, relative to its parent's
// window geometry.
func (p *Popup) Rect() image.Rectangle {
	return p.rect
}

// placeLocked places the popup within the bounds of the output that
// its parent is on, falling back to the whole layout.
func (p *Popup) placeLocked() image.Rectangle {
	var bounds image.Rectangle
	if layout := p.s.m.layout; layout != nil {
		bounds = layout.Bounds()
		if o := layout.At(p.origin()); o != nil {
			bounds = o.AvailableGeometry()
		}
	}
	return p.positioner.Place(bounds.Sub(p.origin()))
}

func (p *Popup) applied(c Change, n *notes) {
	p.applyGeometry(c)
	if !p.sent {
		n.add(p.configure)
		p.sent = true
	}
}

func (p *Popup) configure() {
	if p.s.destroyed || p.dismissed || (p.h == nil) {
		return
	}
	serial := p.nextSerial()
	p.h.Configure(serial, p.rect)
}

// ParentCommitted dismisses the popup if its parent is being
// unmapped.
func (p *Popup) ParentCommitted() {
	parent := p.s.Parent()
	if (parent == nil) || !p.s.mapped {
		return
	}
	if (parent.current.Buffer == nil) || (parent.role == nil) || !parent.role.Mappable() {
		p.s.m.post(p.Dismiss)
	}
}

// Reposition moves the popup according to a new positioner.
func (p *Popup) Reposition(pos Positioner) error {
	err := pos.Validate()
	if err != nil {
		return err
	}
	p.positioner = pos
	p.s.m.update(func(n *notes) {
		p.rect = p.placeLocked()
		p.s.refreshLocked(n)
	})
	if p.sent {
		p.configure()
	}
	return nil
}

// Dismiss hides the popup and any popups stacked on it and tells the
// client.
func (p *Popup) Dismiss() {
	if p.dismissed || p.s.destroyed {
		return
	}

	for _, r := range p.s.popups {
		if c := p.s.m.Lookup(r); c != nil {
			if child, ok := c.role.(*Popup); ok {
				child.Dismiss()
			}
		}
	}

	p.dismissed = true
	p.s.m.refresh(p.s)
	if p.h != nil {
		p.h.Done()
	}
}

func (p *Popup) Dismissed() bool {
	return p.dismissed
}

func (p *Popup) destroy() {
	for _, r := range p.s.popups {
		if c := p.s.m.Lookup(r); c != nil {
			if child, ok := c.role.(*Popup); ok {
				child.Dismiss()
			}
		}
	}
}

func (p *Popup) Destroy() {
	p.s.clearRole(p)
}
