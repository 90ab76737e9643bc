package surface

import (
	"image"

	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
)

// maxQueued is the most commits that may wait to be applied on a
// single surface.
const maxQueued = 64

// entry is a commit that has been accepted but not yet applied.
// Entries on a surface are applied strictly in order; an entry at the
// head of the queue that is blocked holds back every entry after it.
type entry struct {
	id      uint64
	state   State
	changes Change

	// fences is the number of fences that have yet to signal.
	fences int

	// held is set while the entry waits for its parent to commit.
	held bool

	// offsets are subsurface positions set before the commit that take
	// effect when it is applied.
	offsets []childOffset
}

type childOffset struct {
	child Ref
	pos   image.Point
}

func (e *entry) blocked() bool {
	return (e.fences > 0) || e.held
}

// Commit atomically applies the pending state. If the commit has to
// wait, because of an unsignaled acquire fence or because the surface
// is a synchronized subsurface, it is queued and applied later, after
// every commit before it.
func (s *Surface) Commit() error {
	if s.destroyed {
		return ErrDestroyed
	}

	next := s.pending
	changes := s.changes
	s.pending = State{}
	s.changes = 0

	err := s.validate(&next)
	if err != nil {
		return err
	}
	if s.role != nil {
		err := s.role.AcceptCommit(&next)
		if err != nil {
			return err
		}
	}

	if len(s.queue) >= maxQueued {
		s.reject(&next)
		return ErrQueueFull
	}

	s.commitID++
	e := &entry{id: s.commitID, state: next, changes: changes, offsets: s.takeOffsets()}
	if (next.Field&FieldBuffer != 0) && (next.Buffer != nil) {
		next.Buffer.Lock()
	}
	if f := next.Acquire; (next.Field&FieldAcquire != 0) && (f != nil) && !f.Signaled() {
		e.fences++
		f.Wait(func() {
			s.m.post(func() { s.fenceSignaled(e) })
		})
	}
	if s.synced() {
		e.held = true
	}
	s.queue = append(s.queue, e)

	s.flush()
	return nil
}

// reject gives back everything that a commit that will never be
// applied holds. Frame callbacks still fire with the surface's next
// frame.
func (s *Surface) reject(st *State) {
	for _, fb := range st.Feedback {
		fb.Discarded()
	}
	if len(st.Callbacks) > 0 {
		s.cbMu.Lock()
		s.callbacks = append(s.callbacks, st.Callbacks...)
		s.cbMu.Unlock()
		s.scheduleFrame()
	}
	if (st.Field&FieldBuffer != 0) && (st.Buffer != nil) {
		// Lets the client know that it may reuse the buffer unless the
		// surface is still holding it from an earlier commit.
		st.Buffer.Lock()
		st.Buffer.Unlock()
	}
}

// takeOffsets collects the pending positions of the surface's
// subsurfaces.
func (s *Surface) takeOffsets() []childOffset {
	var offsets []childOffset
	for _, child := range s.dependents() {
		sub, ok := child.role.(*Subsurface)
		if !ok || !sub.posSet {
			continue
		}
		offsets = append(offsets, childOffset{child: child.ref, pos: sub.pendingPos})
		sub.posSet = false
	}
	return offsets
}

// Queued returns the number of commits waiting to be applied.
func (s *Surface) Queued() int {
	return len(s.queue)
}

// synced reports whether the surface is a subsurface that is
// synchronized with its parent, either directly or because an
// ancestor is.
func (s *Surface) synced() bool {
	for s != nil {
		sub, ok := s.role.(*Subsurface)
		if !ok {
			return false
		}
		if sub.sync {
			return true
		}
		s = s.Parent()
	}
	return false
}

func (s *Surface) fenceSignaled(e *entry) {
	if s.destroyed {
		return
	}
	if !debug.Assert(e.fences > 0, "%v: fence signaled for commit %v with no fences", s, e.id) {
		return
	}
	e.fences--
	s.flush()
}

func (s *Surface) flush() {
	s.m.update(func(n *notes) {
		s.flushLocked(n)
	})
}

// flushLocked applies entries from the head of the queue until one is
// blocked.
func (s *Surface) flushLocked(n *notes) {
	if s.destroyed {
		return
	}
	for len(s.queue) > 0 {
		e := s.queue[0]
		if e.blocked() {
			return
		}

		if !debug.Assert(e.id > s.applied, "%v: commit %v is older than applied commit %v", s, e.id, s.applied) {
			s.recoverLocked(n)
			return
		}

		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.applyLocked(e, n)
	}
}

// releaseLocked releases the oldest entry that is waiting for the
// parent to commit.
func (s *Surface) releaseLocked(n *notes) {
	for _, e := range s.queue {
		if e.held {
			e.held = false
			break
		}
	}
	s.flushLocked(n)
}

// releaseAllLocked releases every entry that is waiting for the parent
// to commit.
func (s *Surface) releaseAllLocked(n *notes) {
	for _, e := range s.queue {
		e.held = false
	}
	s.flushLocked(n)
}

// recoverLocked collapses the queue into its newest state and applies
// it immediately. It is only used if the queue is found to be
// inconsistent.
func (s *Surface) recoverLocked(n *notes) {
	s.m.log.Error("commit queue inconsistent, applying latest state", "surface", s, "queued", len(s.queue))

	merged := entry{id: s.commitID}
	for _, e := range s.queue {
		if (e.state.Field&FieldBuffer != 0) && (merged.state.Field&FieldBuffer != 0) && (merged.state.Buffer != nil) {
			merged.state.Buffer.Unlock()
		}
		merged.changes |= e.changes
		merged.state.merge(&e.state)
		merged.offsets = append(merged.offsets, e.offsets...)
	}
	s.queue = nil
	s.applied = 0
	s.applyLocked(&merged, n)
}

// applyLocked makes an entry's state current.
func (s *Surface) applyLocked(e *entry, n *notes) {
	s.applied = e.id

	oldBuffer := s.current.Buffer
	oldBufferSize := s.current.bufferSize()
	oldSize := s.current.size()
	oldRect := s.Rect()
	oldOpaque := s.current.Opaque

	st := &e.state
	c := e.changes | s.current.merge(st)

	damage := s.current.Damage.Union(s.current.bufferToSurface(s.current.BufferDamage))
	callbacks := s.current.Callbacks
	feedback := s.current.Feedback
	s.current.Damage = region.Region{}
	s.current.BufferDamage = region.Region{}
	s.current.Callbacks = nil
	s.current.Feedback = nil
	s.current.Acquire = nil

	if st.Field&FieldBuffer != 0 {
		if oldBuffer != nil {
			oldBuffer.Unlock()
		}
		if s.current.Buffer != nil {
			s.version++
		}
	} else if !damage.Empty() {
		s.version++
	}

	if s.current.bufferSize() != oldBufferSize {
		c |= ChangeBufferSize
	}
	resized := s.current.size() != oldSize
	if resized {
		c |= ChangeSize
	}
	if !s.current.Opaque.Equal(oldOpaque) {
		c |= ChangeOpaque
	}

	if s.role != nil {
		s.role.applied(c, n)
	}
	s.current.Offset = image.Point{}

	if s.applyRestackLocked() {
		c |= ChangeOrder
	}
	for _, off := range e.offsets {
		child := s.m.Lookup(off.child)
		if child == nil {
			continue
		}
		if sub, ok := child.role.(*Subsurface); ok {
			sub.pos = off.pos
		}
	}
	for _, child := range s.dependents() {
		if child.role != nil {
			child.role.ParentCommitted()
		}
	}

	s.refreshLocked(n)
	s.damageLocked(damage, oldRect, resized || (c&(ChangeScale|ChangeTransform|ChangeOpaque|ChangeOrder) != 0) || (st.Field&(FieldViewportSource|FieldViewportDest) != 0))

	if len(callbacks) > 0 {
		s.cbMu.Lock()
		s.callbacks = append(s.callbacks, callbacks...)
		s.cbMu.Unlock()
		s.scheduleFrame()
	}
	s.updateFeedbackLocked(feedback, n)

	n.changed(s, c)

	for _, child := range s.dependents() {
		if child.synced() {
			child.releaseLocked(n)
		}
	}
}

// damageLocked adds the damage from a commit to the outputs that the
// surface is on. If full is set, the whole surface is damaged at both
// its old and new locations.
func (s *Surface) damageLocked(damage region.Region, oldRect image.Rectangle, full bool) {
	if !s.mapped || (s.m.layout == nil) {
		return
	}

	if full {
		s.m.layout.AddDamage(region.New(oldRect, s.Rect()))
		return
	}
	damage = damage.IntersectRect(image.Rectangle{Max: s.size})
	if damage.Empty() {
		return
	}
	s.m.layout.AddDamage(damage.Translate(s.pos))
}

// updateFeedbackLocked replaces presentation feedback that has not yet
// been handed to an output. Feedback for content that was replaced
// before it was shown, or that cannot be shown, is discarded.
func (s *Surface) updateFeedbackLocked(feedback []output.Feedback, n *notes) {
	s.cbMu.Lock()
	superseded := s.feedback
	s.feedback = nil
	if s.mapped {
		s.feedback = feedback
	} else {
		superseded = append(superseded, feedback...)
	}
	s.cbMu.Unlock()

	if len(s.feedback) > 0 {
		s.scheduleFrame()
	}
	if len(superseded) > 0 {
		n.add(func() {
			for _, fb := range superseded {
				fb.Discarded()
			}
		})
	}
}

// discardEntry drops an entry that will never be applied.
func (e *entry) discard(n *notes) {
	if (e.state.Field&FieldBuffer != 0) && (e.state.Buffer != nil) {
		e.state.Buffer.Unlock()
	}
	feedback := e.state.Feedback
	if len(feedback) > 0 {
		n.add(func() {
			for _, fb := range feedback {
				fb.Discarded()
			}
		})
	}
}
