package surface

import (
	"image"
	"strings"

	"deedles.dev/wlcomp/output"
)

// ToplevelState is a set of states that a toplevel window can be in.
type ToplevelState uint32

const (
	ToplevelMaximized ToplevelState = 1 << iota
	ToplevelFullscreen
	ToplevelResizing
	ToplevelActivated
)

func (s ToplevelState) String() string {
	var names []string
	for i, name := range []string{"maximized", "fullscreen", "resizing", "activated"} {
		if s&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}

// ToplevelHandler sends a toplevel's events to its client.
type ToplevelHandler interface {
	// Configure asks the client to draw at size with the given states.
	// A zero size lets the client pick.
	Configure(serial uint32, size image.Point, states ToplevelState)
	Close()
}

// Toplevel is the role of a regular application window.
type Toplevel struct {
	configurable

	h ToplevelHandler

	// pos is where the window geometry's origin is placed.
	pos    image.Point
	size   image.Point
	states ToplevelState
	output *output.Output

	title  string
	appID  string
	parent Ref

	minSize, maxSize image.Point
}

// NewToplevel makes s into a toplevel window. The first configure is
// sent once the surface makes its initial commit.
func NewToplevel(s *Surface, h ToplevelHandler) (*Toplevel, error) {
	if s.current.Buffer != nil {
		return nil, protocolErrorf(ErrUnconfiguredBuffer, "%v already has a buffer", s)
	}

	t := Toplevel{
		configurable: configurable{roleBase: roleBase{s: s}},
		h:            h,
	}
	err := s.setRole(&t)
	if err != nil {
		return nil, err
	}

	s.m.update(func(n *notes) {
		t.pos = s.m.placeLocked()
		s.m.roots = append(s.m.roots, s.ref)
		s.m.restackLocked()
	})
	return &t, nil
}

func (t *Toplevel) Kind() RoleKind { return RoleToplevel }
func (t *Toplevel) band() band     { return bandNormal }

func (t *Toplevel) Pos() image.Point {
	return t.pos.Sub(t.WindowGeometry().Min)
}

func (t *Toplevel) Mappable() bool {
	return t.acked
}

func (t *Toplevel) AcceptCommit(pending *State) error {
	return t.acceptBuffer(pending)
}

func (t *Toplevel) applied(c Change, n *notes) {
	t.applyGeometry(c)

	if (c&ChangeBuffer != 0) && (t.s.current.Buffer == nil) && t.acked {
		// Unmapped. The client starts over with a new initial commit.
		t.reset()
		return
	}
	if !t.sent {
		n.add(t.configure)
		t.sent = true
	}
	if (t.s.current.Offset != image.Point{}) && !t.fixed() {
		t.pos = t.pos.Add(t.s.current.Offset)
	}
}

// fixed reports whether the window's position is controlled by an
// output rather than by the window itself.
func (t *Toplevel) fixed() bool {
	return (t.output != nil) && (t.states&(ToplevelMaximized|ToplevelFullscreen) != 0)
}

// configure sends a configure event describing the window's current
// state.
func (t *Toplevel) configure() {
	if t.s.destroyed || (t.h == nil) {
		return
	}

	size := t.size
	if t.output != nil {
		switch {
		case t.states&ToplevelFullscreen != 0:
			r := t.output.Rect()
			t.pos, size = r.Min, r.Size()
		case t.states&ToplevelMaximized != 0:
			r := t.output.AvailableGeometry()
			t.pos, size = r.Min, r.Size()
		}
	}

	serial := t.nextSerial()
	t.h.Configure(serial, size, t.states)
}

// update changes the window's states and sends a new configure.
func (t *Toplevel) update(f func()) {
	f()
	if t.sent {
		t.configure()
	}
	t.s.m.refresh(t.s)
}

func (t *Toplevel) States() ToplevelState {
	return t.states
}

// SetMaximized maximizes the window within the available geometry of
// o, or restores it if o is nil.
func (t *Toplevel) SetMaximized(o *output.Output) {
	t.update(func() {
		t.output = o
		t.states &^= ToplevelFullscreen
		if o != nil {
			t.states |= ToplevelMaximized
			return
		}
		t.states &^= ToplevelMaximized
	})
}

// SetFullscreen makes the window cover o entirely, or restores it if o
// is nil.
func (t *Toplevel) SetFullscreen(o *output.Output) {
	t.update(func() {
		t.output = o
		t.states &^= ToplevelMaximized
		if o != nil {
			t.states |= ToplevelFullscreen
			return
		}
		t.states &^= ToplevelFullscreen
	})
}

func (t *Toplevel) SetActivated(active bool) {
	t.update(func() {
		if active {
			t.states |= ToplevelActivated
			return
		}
		t.states &^= ToplevelActivated
	})
}

// Resize asks the client to draw the window at size.
func (t *Toplevel) Resize(size image.Point) {
	t.update(func() {
		t.size = size
	})
}

// Move places the window geometry's origin at p.
func (t *Toplevel) Move(p image.Point) {
	if t.fixed() {
		return
	}
	t.pos = p
	t.s.m.refresh(t.s)
}

// Raise moves the window above the other windows.
func (t *Toplevel) Raise() {
	t.s.m.update(func(n *notes) {
		if t.s.raiseLocked() {
			t.s.m.restackLocked()
			t.s.damageTreeLocked()
			n.changed(t.s, ChangeOrder)
		}
	})
}

// Close asks the client to close the window.
func (t *Toplevel) Close() {
	if t.h != nil {
		t.h.Close()
	}
}

func (t *Toplevel) Title() string     { return t.title }
func (t *Toplevel) SetTitle(v string) { t.title = v }
func (t *Toplevel) AppID() string     { return t.appID }
func (t *Toplevel) SetAppID(v string) { t.appID = v }

// SetParent marks the window as a child of parent, such as a dialog. A
// nil parent unsets it.
func (t *Toplevel) SetParent(parent *Toplevel) error {
	if parent == nil {
		t.parent = Ref{}
		return nil
	}
	for p := parent; p != nil; p = p.Parent() {
		if p == t {
			return protocolErrorf(ErrBadSurface, "%v cannot be its own ancestor", t.s)
		}
	}
	t.parent = parent.s.ref
	return nil
}

// Parent returns the window's parent window, or nil.
func (t *Toplevel) Parent() *Toplevel {
	s := t.s.m.Lookup(t.parent)
	if s == nil {
		return nil
	}
	p, _ := s.role.(*Toplevel)
	return p
}

// SetMinSize and SetMaxSize record the client's size limits. Zero
// means no limit.
func (t *Toplevel) SetMinSize(size image.Point) error {
	if (size.X < 0) || (size.Y < 0) {
		return protocolErrorf(ErrInvalidSize, "negative minimum size %v", size)
	}
	t.minSize = size
	return nil
}

func (t *Toplevel) SetMaxSize(size image.Point) error {
	if (size.X < 0) || (size.Y < 0) {
		return protocolErrorf(ErrInvalidSize, "negative maximum size %v", size)
	}
	t.maxSize = size
	return nil
}

func (t *Toplevel) availableChanged(o *output.Output, n *notes) {
	if (o != t.output) || !t.fixed() || !t.sent {
		return
	}
	n.add(t.configure)
}

func (t *Toplevel) outputRemoved(o *output.Output, n *notes) {
	if o != t.output {
		return
	}
	t.output = nil
	t.states &^= ToplevelMaximized | ToplevelFullscreen
	if t.sent {
		n.add(t.configure)
	}
}

// Destroy destroys the role object, unmapping the surface.
func (t *Toplevel) Destroy() {
	t.s.clearRole(t)
}
