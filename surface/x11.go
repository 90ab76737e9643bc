package surface

import "image"

// X11Window is the role of a surface that shows an X11 window. The
// window's geometry is controlled by the X window manager rather than
// by the surface.
type X11Window struct {
	roleBase

	window   uint32
	rect     image.Rectangle
	override bool
	shown    bool
}

// NewX11Window associates s with the X11 window with the given id.
func NewX11Window(s *Surface, window uint32) (*X11Window, error) {
	x := X11Window{
		roleBase: roleBase{s: s},
		window:   window,
	}
	err := s.setRole(&x)
	if err != nil {
		return nil, err
	}

	s.m.update(func(n *notes) {
		s.m.roots = append(s.m.roots, s.ref)
		s.m.restackLocked()
	})
	return &x, nil
}

func (x *X11Window) Kind() RoleKind { return RoleX11Window }

func (x *X11Window) band() band {
	if x.override {
		return bandTop
	}
	return bandNormal
}

func (x *X11Window) Window() uint32 {
	return x.window
}

func (x *X11Window) Pos() image.Point {
	return x.rect.Min
}

func (x *X11Window) Mappable() bool {
	return x.shown
}

// Configure sets the window's geometry, as decided by the window
// manager.
func (x *X11Window) Configure(r image.Rectangle) {
	x.rect = r
	x.s.m.refresh(x.s)
}

// SetOverrideRedirect marks the window as one that the window manager
// does not manage, such as a menu, which is stacked above regular
// windows.
func (x *X11Window) SetOverrideRedirect(override bool) {
	if x.override == override {
		return
	}
	x.override = override
	x.s.m.update(func(n *notes) {
		x.s.m.restackLocked()
		x.s.damageTreeLocked()
		n.changed(x.s, ChangeOrder)
	})
}

// SetShown maps or unmaps the window, following the X11 map state.
func (x *X11Window) SetShown(shown bool) {
	x.shown = shown
	x.s.m.refresh(x.s)
}

func (x *X11Window) Destroy() {
	x.s.clearRole(x)
}
