package surface

import (
	"image"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
)

// LockHandler sends a lock surface's events to its client.
type LockHandler interface {
	Configure(serial uint32, size image.Point)
}

// LockSurface is the role of a surface that covers one output while
// the session is locked.
type LockSurface struct {
	configurable

	h    LockHandler
	o    *output.Output
	size image.Point
}

// NewLockSurface makes s into the lock surface for o and sends it its
// first configure.
func NewLockSurface(s *Surface, o *output.Output, h LockHandler) (*LockSurface, error) {
	if (s.current.Buffer != nil) || (s.pending.Buffer != nil) {
		return nil, protocolErrorf(ErrAlreadyConstructed, "%v already has a buffer", s)
	}

	l := LockSurface{
		configurable: configurable{roleBase: roleBase{s: s}},
		h:            h,
		o:            o,
	}
	err := s.setRole(&l)
	if err != nil {
		return nil, err
	}

	s.m.update(func(n *notes) {
		s.m.roots = append(s.m.roots, s.ref)
		s.m.restackLocked()
	})
	l.configure()
	return &l, nil
}

func (l *LockSurface) Kind() RoleKind { return RoleSessionLock }
func (l *LockSurface) band() band     { return bandLock }

func (l *LockSurface) Output() *output.Output {
	return l.o
}

func (l *LockSurface) Pos() image.Point {
	if l.o == nil {
		return image.Point{}
	}
	return l.o.Position()
}

func (l *LockSurface) Mappable() bool {
	return l.acked && (l.o != nil)
}

// AcceptCommit requires that buffers be configured and exactly fill
// the output.
func (l *LockSurface) AcceptCommit(pending *State) error {
	if (pending.Field&FieldBuffer == 0) || (pending.Buffer == nil) {
		return nil
	}
	if !l.acked {
		return protocolErrorf(ErrUnconfiguredBuffer, "buffer committed before the first configure was acknowledged")
	}

	st := l.s.projected(pending)
	if size := st.size(); size != l.size {
		return protocolErrorf(ErrInvalidSize, "surface size %v does not match configured size %v", size, l.size)
	}
	return nil
}

func (l *LockSurface) configure() {
	if (l.o == nil) || l.s.destroyed || (l.h == nil) {
		return
	}
	l.size = l.o.Size()
	serial := l.nextSerial()
	l.h.Configure(serial, l.size)
}

func (l *LockSurface) availableChanged(o *output.Output, n *notes) {
	if (o == l.o) && (o.Size() != l.size) {
		n.add(l.configure)
	}
}

func (l *LockSurface) outputRemoved(o *output.Output, n *notes) {
	if o == l.o {
		l.o = nil
	}
}

func (l *LockSurface) Destroy() {
	l.s.clearRole(l)
}

// Lock hides every surface except lock surfaces and the cursor until
// Unlock is called.
func (m *Manager) Lock() {
	m.setLocked(true)
}

func (m *Manager) Unlock() {
	m.setLocked(false)
}

func (m *Manager) Locked() bool {
	return m.locked
}

func (m *Manager) setLocked(locked bool) {
	if m.locked == locked {
		return
	}
	m.update(func(n *notes) {
		m.locked = locked
	})
	if m.layout != nil {
		m.layout.AddDamage(region.New(m.layout.Bounds()))
	}
}
