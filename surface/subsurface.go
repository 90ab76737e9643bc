package surface

import "image"

// Subsurface is the role of a surface that is drawn as part of its
// parent, at an offset from it.
type Subsurface struct {
	roleBase

	sync bool

	pos        image.Point
	pendingPos image.Point
	posSet     bool
}

// NewSubsurface makes s into a subsurface of parent. It starts out
// synchronized and stacked directly above its parent and any existing
// siblings.
func NewSubsurface(s, parent *Surface) (*Subsurface, error) {
	if (parent == nil) || parent.destroyed {
		return nil, protocolErrorf(ErrBadSurface, "parent surface does not exist")
	}
	if s.isAncestorOf(parent) {
		return nil, protocolErrorf(ErrBadSurface, "%v cannot be a subsurface of its own descendant %v", s, parent)
	}

	sub := Subsurface{
		roleBase: roleBase{s: s},
		sync:     true,
	}
	err := s.setRole(&sub)
	if err != nil {
		return nil, err
	}

	s.m.update(func(n *notes) {
		s.parent = parent.ref
		parent.above = append(parent.above, s.ref)
		s.m.restackLocked()
		s.refreshLocked(n)
	})
	return &sub, nil
}

func (sub *Subsurface) Kind() RoleKind { return RoleSubsurface }

func (sub *Subsurface) band() band {
	if p := sub.s.Parent(); p != nil {
		return p.band()
	}
	return bandNormal
}

// Pos is the parent's position plus the subsurface's offset.
func (sub *Subsurface) Pos() image.Point {
	p := sub.s.Parent()
	if p == nil {
		return sub.pos
	}
	if p.role != nil {
		return p.role.Pos().Add(sub.pos)
	}
	return p.pos.Add(sub.pos)
}

// Mappable reports whether the parent is mapped.
func (sub *Subsurface) Mappable() bool {
	p := sub.s.Parent()
	return (p != nil) && p.mapped
}

// SetPosition sets the offset from the parent. It takes effect with
// the parent's next commit.
func (sub *Subsurface) SetPosition(p image.Point) {
	sub.pendingPos = p
	sub.posSet = true
}

func (sub *Subsurface) Position() image.Point {
	return sub.pos
}

// PlaceAbove moves the subsurface directly above sibling, which must
// be another subsurface of the same parent or the parent itself. It
// takes effect when the parent next commits.
func (sub *Subsurface) PlaceAbove(sibling *Surface) error {
	return sub.place(sibling, true)
}

// PlaceBelow is like PlaceAbove but moves the subsurface directly
// below sibling.
func (sub *Subsurface) PlaceBelow(sibling *Surface) error {
	return sub.place(sibling, false)
}

func (sub *Subsurface) place(sibling *Surface, above bool) error {
	err := sub.s.checkSibling(sibling)
	if err != nil {
		return err
	}
	p := sub.s.Parent()
	p.restack = append(p.restack, restackOp{
		child:   sub.s.ref,
		sibling: sibling.ref,
		above:   above,
	})
	return nil
}

// Sync reports whether the subsurface itself is in synchronized mode.
// It may still behave as synchronized if an ancestor is.
func (sub *Subsurface) Sync() bool {
	return sub.sync
}

// SetSync puts the subsurface into synchronized mode. Commits made
// from then on wait for the parent to commit.
func (sub *Subsurface) SetSync() {
	sub.sync = true
}

// SetDesync puts the subsurface into desynchronized mode. Commits that
// were waiting for the parent are applied immediately unless an
// ancestor is still synchronized.
func (sub *Subsurface) SetDesync() {
	sub.sync = false
	if sub.s.synced() {
		return
	}
	sub.s.m.update(func(n *notes) {
		sub.s.releaseAllLocked(n)
	})
}

func (sub *Subsurface) destroy() {
	if sub.s.destroyed {
		return
	}
	sub.s.m.update(func(n *notes) {
		sub.s.releaseAllLocked(n)
	})
}

// Destroy removes the subsurface role, unmapping the surface and
// unlinking it from its parent.
func (sub *Subsurface) Destroy() {
	sub.s.clearRole(sub)
}
