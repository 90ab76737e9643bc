package surface

// Destroy destroys the surface. It is unmapped first, so that nothing
// else can reach it, and then detached from its role, its relatives,
// and its queued commits.
func (s *Surface) Destroy() {
	if s.destroyed {
		return
	}

	s.m.update(func(n *notes) {
		s.destroyed = true
		s.refreshLocked(n)
		if s.m.focus == s.ref {
			s.m.focus = Ref{}
		}
	})

	for _, r := range s.popups {
		if c := s.m.Lookup(r); c != nil {
			if p, ok := c.role.(*Popup); ok {
				p.Dismiss()
			}
		}
	}

	if r := s.role; r != nil {
		s.role = nil
		r.destroy()
	}

	s.m.update(func(n *notes) {
		s.removeFromParentLocked()
		s.below, s.above, s.popups = nil, nil, nil
		s.restack = nil

		for _, e := range s.queue {
			e.discard(n)
		}
		s.queue = nil

		pending := entry{state: s.pending}
		pending.state.Field &^= FieldBuffer
		pending.discard(n)
		s.pending = State{}

		if s.current.Buffer != nil {
			s.current.Buffer.Unlock()
			s.current.Buffer = nil
		}

		s.cbMu.Lock()
		feedback := s.feedback
		s.callbacks, s.feedback = nil, nil
		s.cbMu.Unlock()
		n.add(func() {
			for _, fb := range feedback {
				fb.Discarded()
			}
		})

		s.m.arena.remove(s.ref)
		s.m.restackLocked()
	})

	if s.m.layout != nil {
		key := s.ref.Key()
		for _, o := range s.m.layout.Outputs() {
			o.Evict(key)
		}
	}
}
