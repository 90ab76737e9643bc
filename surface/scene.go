package surface

import (
	"image"

	"golang.org/x/exp/slices"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
)

var (
	_ output.Scene    = (*Manager)(nil)
	_ output.Listener = (*Manager)(nil)
)

// Collect implements output.Scene.
func (m *Manager) Collect(o *output.Output, f *output.Frame) {
	rect := o.Rect()
	for _, r := range m.order {
		s := m.Lookup(r)
		if (s == nil) || !s.mapped || (s.current.Buffer == nil) {
			continue
		}
		if m.locked && !s.visibleWhileLocked() {
			continue
		}
		if !s.Rect().Overlaps(rect) {
			continue
		}

		it := output.DrawItem{
			Key:       r.Key(),
			Version:   s.version,
			Image:     s.current.Buffer.Image(),
			Rect:      s.Rect(),
			Source:    s.drawSource(),
			Transform: s.drawTransform(),
			Opaque:    s.opaqueRegion(),
		}
		if c, ok := s.role.(*Cursor); ok {
			it.Cursor = true
			it.Hotspot = c.hotspot
		}

		s.cbMu.Lock()
		it.Callbacks, s.callbacks = s.callbacks, nil
		it.Feedback, s.feedback = s.feedback, nil
		s.cbMu.Unlock()

		if s.invisible() {
			// Nothing to draw, but the client still gets its callbacks.
			it.Image = nil
			it.Opaque = region.Region{}
		}
		f.Items = append(f.Items, &it)
	}
}

// Requeue implements output.Scene.
func (m *Manager) Requeue(f *output.Frame) {
	for _, it := range f.Items {
		if len(it.Callbacks) == 0 {
			continue
		}
		s := m.Lookup(refFromKey(it.Key))
		if s == nil {
			continue
		}

		s.cbMu.Lock()
		s.callbacks = append(slices.Clone(it.Callbacks), s.callbacks...)
		s.cbMu.Unlock()
	}
}

// visibleWhileLocked reports whether s is shown while the session is
// locked.
func (s *Surface) visibleWhileLocked() bool {
	switch s.roleKind {
	case RoleSessionLock, RoleCursor:
		return true
	case RoleSubsurface, RolePopup:
		if p := s.Parent(); p != nil {
			return p.visibleWhileLocked()
		}
	}
	return false
}

// invisible reports whether the invisible region covers the whole
// surface.
func (s *Surface) invisible() bool {
	inv := s.current.Invisible
	if inv.Empty() {
		return false
	}
	bounds := image.Rectangle{Max: s.size}
	return region.New(bounds).Subtract(inv).Empty()
}

// OutputAdded implements output.Listener.
func (m *Manager) OutputAdded(o *output.Output) {
	m.post(m.refreshAll)
}

// OutputRemoved implements output.Listener by posting RemoveOutput.
func (m *Manager) OutputRemoved(o *output.Output) {
	m.post(func() { m.RemoveOutput(o) })
}

// RemoveOutput tells roles that are anchored to o that it is gone and
// then recomputes every surface's output membership. It must be called
// from the dispatch goroutine.
func (m *Manager) RemoveOutput(o *output.Output) {
	m.update(func(n *notes) {
		m.arena.all(func(s *Surface) {
			if r, ok := s.role.(outputAnchored); ok {
				r.outputRemoved(o, n)
			}
		})
	})
	m.refreshAll()
}

// AvailableGeometryChanged implements output.Listener.
func (m *Manager) AvailableGeometryChanged(o *output.Output) {
	m.post(func() {
		m.update(func(n *notes) {
			m.arena.all(func(s *Surface) {
				if r, ok := s.role.(outputAnchored); ok {
					r.availableChanged(o, n)
				}
			})
		})
		m.refreshAll()
	})
}

// refreshAll recomputes the placement of every surface.
func (m *Manager) refreshAll() {
	m.update(func(n *notes) {
		for _, r := range m.roots {
			if s := m.Lookup(r); s != nil {
				s.refreshLocked(n)
			}
		}
	})
}
