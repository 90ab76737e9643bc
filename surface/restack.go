package surface

import (
	"golang.org/x/exp/slices"

	"deedles.dev/wlcomp/region"
)

// restackOp is a request to move child directly above or below
// sibling, which may also be the parent itself.
type restackOp struct {
	child   Ref
	sibling Ref
	above   bool
}

// InsertAbove moves s directly above sibling. For a root surface,
// sibling must be another root. For a subsurface, sibling must be
// another child of the same parent or the parent itself. The move
// happens immediately and completely or, if it returns an error, not
// at all.
func (s *Surface) InsertAbove(sibling *Surface) error {
	return s.insert(sibling, true)
}

// InsertBelow is like InsertAbove but moves s directly below sibling.
func (s *Surface) InsertBelow(sibling *Surface) error {
	return s.insert(sibling, false)
}

func (s *Surface) insert(sibling *Surface, above bool) error {
	err := s.checkSibling(sibling)
	if err != nil {
		return err
	}

	s.m.update(func(n *notes) {
		if !s.insertLocked(sibling.ref, above) {
			return
		}
		s.m.restackLocked()
		s.damageTreeLocked()

		owner := s
		if p := s.Parent(); p != nil {
			owner = p
		}
		n.changed(owner, ChangeOrder)
	})
	return nil
}

// checkSibling checks that sibling can be used as a stacking
// reference for s.
func (s *Surface) checkSibling(sibling *Surface) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if (sibling == nil) || sibling.destroyed || (sibling == s) {
		return protocolErrorf(ErrBadSurface, "%v is not a valid sibling of %v", sibling, s)
	}

	p := s.Parent()
	if p == nil {
		if !slices.Contains(s.m.roots, sibling.ref) || !slices.Contains(s.m.roots, s.ref) {
			return protocolErrorf(ErrBadSurface, "%v and %v are not both top-level surfaces", s, sibling)
		}
		return nil
	}
	if sibling == p {
		return nil
	}
	if (sibling.Parent() != p) || !(slices.Contains(p.below, sibling.ref) || slices.Contains(p.above, sibling.ref)) {
		return protocolErrorf(ErrBadSurface, "%v is not a sibling of %v", sibling, s)
	}
	return nil
}

// insertLocked moves s in whichever list it is stacked in. It reports
// whether anything changed.
func (s *Surface) insertLocked(sibling Ref, above bool) bool {
	p := s.Parent()
	if p == nil {
		roots, ok := moveRef(s.m.roots, s.ref, sibling, above)
		if !ok {
			return false
		}
		s.m.roots = roots
		return true
	}

	// The parent's own position splits its children into the ones
	// below and above it.
	list := make([]Ref, 0, len(p.below)+len(p.above)+1)
	list = append(list, p.below...)
	list = append(list, p.ref)
	list = append(list, p.above...)

	list, ok := moveRef(list, s.ref, sibling, above)
	if !ok {
		return false
	}
	i := slices.Index(list, p.ref)
	p.below = append([]Ref(nil), list[:i]...)
	p.above = append([]Ref(nil), list[i+1:]...)
	return true
}

// applyRestackLocked performs the moves queued by PlaceAbove and
// PlaceBelow on s's children. Moves whose surfaces have gone away are
// skipped.
func (s *Surface) applyRestackLocked() bool {
	if len(s.restack) == 0 {
		return false
	}

	var changed bool
	for _, op := range s.restack {
		child := s.m.Lookup(op.child)
		if (child == nil) || (child.parent != s.ref) {
			continue
		}
		if (op.sibling != s.ref) && (s.m.Lookup(op.sibling) == nil) {
			continue
		}
		if child.insertLocked(op.sibling, op.above) {
			child.damageTreeLocked()
			changed = true
		}
	}
	s.restack = nil

	if changed {
		s.m.restackLocked()
	}
	return changed
}

// damageTreeLocked damages the area covered by s and its descendants.
func (s *Surface) damageTreeLocked() {
	if s.m.layout == nil {
		return
	}
	var damage region.Region
	for _, r := range s.appendTree(nil) {
		if c := s.m.Lookup(r); (c != nil) && c.mapped {
			damage = damage.UnionRect(c.Rect())
		}
	}
	if !damage.Empty() {
		s.m.layout.AddDamage(damage)
	}
}

// raiseLocked moves a root surface to the top of its band.
func (s *Surface) raiseLocked() bool {
	i := slices.Index(s.m.roots, s.ref)
	if (i < 0) || (i == len(s.m.roots)-1) {
		return false
	}
	s.m.roots = append(append(s.m.roots[:i:i], s.m.roots[i+1:]...), s.ref)
	return true
}

// moveRef returns a copy of list with r moved directly above or below
// sibling.
func moveRef(list []Ref, r, sibling Ref, above bool) ([]Ref, bool) {
	i := slices.Index(list, r)
	if (i < 0) || (slices.Index(list, sibling) < 0) {
		return list, false
	}

	out := make([]Ref, 0, len(list))
	out = append(out, list[:i]...)
	out = append(out, list[i+1:]...)

	j := slices.Index(out, sibling)
	if above {
		j++
	}
	out = append(out[:j], append([]Ref{r}, out[j:]...)...)
	return out, !slices.Equal(out, list)
}
