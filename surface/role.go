package surface

import (
	"fmt"
	"image"

	"golang.org/x/exp/slices"

	"deedles.dev/wlcomp/output"
)

// RoleKind identifies the variant of a surface's role.
type RoleKind int

const (
	RoleNone RoleKind = iota
	RoleToplevel
	RolePopup
	RoleSubsurface
	RoleCursor
	RoleDragIcon
	RoleSessionLock
	RoleLayer
	RoleX11Window
)

var roleKindNames = [...]string{
	RoleNone:        "none",
	RoleToplevel:    "xdg_toplevel",
	RolePopup:       "xdg_popup",
	RoleSubsurface:  "wl_subsurface",
	RoleCursor:      "cursor",
	RoleDragIcon:    "drag icon",
	RoleSessionLock: "session lock surface",
	RoleLayer:       "layer surface",
	RoleX11Window:   "X11 window",
}

func (k RoleKind) String() string {
	if (k < 0) || (int(k) >= len(roleKindNames)) {
		return fmt.Sprintf("RoleKind(%d)", int(k))
	}
	return roleKindNames[k]
}

// band is a coarse stacking level. Every root surface is drawn above
// all roots in lower bands.
type band int

const (
	bandBackground band = iota
	bandBottom
	bandNormal
	bandTop
	bandOverlay
	bandLock
	bandDragIcon
	bandCursor
)

// Role is the behavior assigned to a surface. The set of roles is
// closed; every implementation is in this package.
type Role interface {
	Kind() RoleKind
	Surface() *Surface

	// Pos returns the position of the surface's origin in global
	// logical coordinates.
	Pos() image.Point

	// AcceptCommit is called with the pending state before a commit
	// is queued. A non-nil error rejects the commit.
	AcceptCommit(pending *State) error

	// ParentCommitted is called whenever the surface's parent applies
	// a commit.
	ParentCommitted()

	// Mappable reports whether the role currently allows the surface
	// to be shown.
	Mappable() bool

	applied(c Change, n *notes)
	band() band
	destroy()
}

// outputAnchored is implemented by roles whose placement depends on a
// particular output.
type outputAnchored interface {
	availableChanged(o *output.Output, n *notes)
	outputRemoved(o *output.Output, n *notes)
}

// windowed is implemented by roles that have a window geometry.
type windowed interface {
	WindowGeometry() image.Rectangle
}

// roleBase holds what every role has in common.
type roleBase struct {
	s *Surface
}

func (r *roleBase) Surface() *Surface {
	return r.s
}

func (r *roleBase) AcceptCommit(pending *State) error { return nil }
func (r *roleBase) ParentCommitted()                  {}
func (r *roleBase) applied(c Change, n *notes)        {}
func (r *roleBase) destroy()                          {}

// configurable implements the configure and acknowledge sequence that
// xdg_surface-like roles share.
type configurable struct {
	roleBase

	serials []uint32
	sent    bool
	acked   bool

	lastAcked uint32

	geometry image.Rectangle
}

// nextSerial returns the serial for a new configure event.
func (c *configurable) nextSerial() uint32 {
	serial := c.s.m.NextSerial()
	c.serials = append(c.serials, serial)
	c.sent = true
	return serial
}

// AckConfigure acknowledges the configure event with the given serial
// and every one sent before it.
func (c *configurable) AckConfigure(serial uint32) error {
	i := slices.Index(c.serials, serial)
	if i < 0 {
		return protocolErrorf(ErrInvalidSerial, "serial %v was not sent or was already acknowledged", serial)
	}
	c.serials = c.serials[i+1:]
	c.acked = true
	c.lastAcked = serial
	return nil
}

// reset returns the role to its unconfigured state, as after a null
// buffer is committed.
func (c *configurable) reset() {
	c.serials = nil
	c.sent = false
	c.acked = false
}

// Configured reports whether a configure has been acknowledged.
func (c *configurable) Configured() bool {
	return c.acked
}

// acceptBuffer rejects buffers committed after a configure has been
// sent but before any has been acknowledged. The initial commit, made
// before anything has been sent, is always accepted.
func (c *configurable) acceptBuffer(pending *State) error {
	if !c.sent || c.acked {
		return nil
	}
	if (pending.Field&FieldBuffer != 0) && (pending.Buffer != nil) {
		return protocolErrorf(ErrUnconfiguredBuffer, "buffer committed before the first configure was acknowledged")
	}
	return nil
}

// SetWindowGeometry sets the part of the surface that is considered
// the window proper, excluding decorations such as shadows. It is
// double-buffered.
func (c *configurable) SetWindowGeometry(r image.Rectangle) error {
	if (r.Dx() <= 0) || (r.Dy() <= 0) {
		return protocolErrorf(ErrInvalidSize, "window geometry %v has no area", r)
	}
	c.s.pending.WindowGeometry = r
	c.s.pending.Field |= FieldWindowGeometry
	return nil
}

// applyGeometry takes the window geometry from the surface's newly
// applied state and reports whether it changed.
func (c *configurable) applyGeometry(ch Change) bool {
	if ch&ChangeWindowGeometry == 0 {
		return false
	}
	g := c.s.current.WindowGeometry
	changed := c.geometry != g
	c.geometry = g
	return changed
}

// WindowGeometry returns the current window geometry. If none has been
// set, it is the surface's bounds.
func (c *configurable) WindowGeometry() image.Rectangle {
	if c.geometry.Empty() {
		return image.Rectangle{Max: c.s.current.size()}
	}
	return c.geometry
}
