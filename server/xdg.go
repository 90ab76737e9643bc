package server

import (
	"encoding/binary"
	"image"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

const wmBaseVersion = 5

// xdg_wm_base error codes.
const (
	wmBaseRole uint32 = iota
	wmBaseDefunctSurfaces
	wmBaseNotTheTopmostPopup
	wmBaseInvalidPopupParent
	wmBaseInvalidSurfaceState
	wmBaseInvalidPositioner
	wmBaseUnresponsive
)

type wmBase struct {
	resource
}

func bindWmBase(c *Client, id, version uint32) error {
	return c.add(&wmBase{resource: newResource(c, "xdg_wm_base", version)}, id)
}

var wmBaseRequests = []string{"destroy", "create_positioner", "get_xdg_surface", "pong"}

func (wm *wmBase) MethodName(op uint16) string {
	return wm.methodName(wmBaseRequests, op)
}

func (wm *wmBase) Dispatch(msg *wire.MessageBuffer) error {
	c := wm.client
	switch msg.Op() {
	case 0:
		c.remove(wm)
		return nil

	case 1:
		return c.add(&positioner{resource: newResource(c, "xdg_positioner", wm.version)}, msg.ReadUint())

	case 2:
		id := msg.ReadUint()
		sr, err := lookup[*surfaceResource](c, msg.ReadUint(), false)
		if err != nil {
			return err
		}
		switch sr.s.RoleKind() {
		case surface.RoleNone, surface.RoleToplevel, surface.RolePopup:
		default:
			return errorf(wmBaseRole, "%v already has role %v", sr, sr.s.RoleKind())
		}
		if sr.role != nil {
			return errorf(wmBaseRole, "%v already has a role object", sr)
		}

		xs := xdgSurface{
			resource: newResource(c, "xdg_surface", wm.version),
			wm:       wm,
			sr:       sr,
		}
		err = c.add(&xs, id)
		if err != nil {
			return err
		}
		sr.role = &xs
		return nil

	case 3:
		msg.ReadUint()
		return nil
	}
	return wm.unknownOp(msg.Op())
}

func (wm *wmBase) errorTarget(kind surface.ErrorKind) (wire.Object, uint32, bool) {
	switch kind {
	case surface.ErrRole:
		return wm, wmBaseRole, true
	case surface.ErrInvalidGeometry, surface.ErrInvalidAnchor:
		return wm, wmBaseInvalidPositioner, true
	}
	return nil, 0, false
}

// xdg_positioner anchor and gravity values.
var positionerAnchors = [...]surface.Anchor{
	0,
	surface.AnchorTop,
	surface.AnchorBottom,
	surface.AnchorLeft,
	surface.AnchorRight,
	surface.AnchorTop | surface.AnchorLeft,
	surface.AnchorBottom | surface.AnchorLeft,
	surface.AnchorTop | surface.AnchorRight,
	surface.AnchorBottom | surface.AnchorRight,
}

// xdg_positioner constraint adjustment bits that are supported.
var positionerAdjustments = map[uint32]surface.Adjustment{
	1: surface.AdjustSlideX,
	2: surface.AdjustSlideY,
	4: surface.AdjustFlipX,
	8: surface.AdjustFlipY,
}

const positionerInvalidInput uint32 = 0

type positioner struct {
	resource
	p surface.Positioner
}

var positionerRequests = []string{
	"destroy", "set_size", "set_anchor_rect", "set_anchor", "set_gravity",
	"set_constraint_adjustment", "set_offset", "set_reactive",
	"set_parent_size", "set_parent_configure",
}

func (pos *positioner) MethodName(op uint16) string {
	return pos.methodName(positionerRequests, op)
}

func (pos *positioner) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		pos.client.remove(pos)
		return nil

	case 1:
		w, h := int(msg.ReadInt()), int(msg.ReadInt())
		if (w <= 0) || (h <= 0) {
			return errorf(positionerInvalidInput, "invalid size %vx%v", w, h)
		}
		pos.p.Size = image.Pt(w, h)
		return nil

	case 2:
		x, y := int(msg.ReadInt()), int(msg.ReadInt())
		w, h := int(msg.ReadInt()), int(msg.ReadInt())
		if (w < 0) || (h < 0) {
			return errorf(positionerInvalidInput, "invalid anchor rectangle size %vx%v", w, h)
		}
		pos.p.AnchorRect = image.Rect(x, y, x+w, y+h)
		return nil

	case 3, 4:
		v := msg.ReadUint()
		if v >= uint32(len(positionerAnchors)) {
			return errorf(positionerInvalidInput, "invalid anchor or gravity %v", v)
		}
		if msg.Op() == 3 {
			pos.p.Anchor = positionerAnchors[v]
			return nil
		}
		pos.p.Gravity = positionerAnchors[v]
		return nil

	case 5:
		bits := msg.ReadUint()
		var adj surface.Adjustment
		for bit, a := range positionerAdjustments {
			if bits&bit != 0 {
				adj |= a
			}
		}
		pos.p.Adjustment = adj
		return nil

	case 6:
		pos.p.Offset = image.Pt(int(msg.ReadInt()), int(msg.ReadInt()))
		return nil

	case 7:
		return nil

	case 8:
		msg.ReadInt()
		msg.ReadInt()
		return nil

	case 9:
		msg.ReadUint()
		return nil
	}
	return pos.unknownOp(msg.Op())
}

// xdg_surface error codes.
const (
	xdgSurfaceNotConstructed uint32 = iota + 1
	xdgSurfaceAlreadyConstructed
	xdgSurfaceUnconfiguredBuffer
	xdgSurfaceInvalidSerial
	xdgSurfaceInvalidSize
	xdgSurfaceDefunctRoleObject
)

// configurer is the part of the toplevel and popup roles that
// xdg_surface requests act on.
type configurer interface {
	AckConfigure(serial uint32) error
	SetWindowGeometry(r image.Rectangle) error
}

type xdgSurface struct {
	resource
	wm *wmBase
	sr *surfaceResource

	// role is the xdg_toplevel or xdg_popup, if one has been created.
	role wire.Object
	conf configurer
}

var xdgSurfaceRequests = []string{
	"destroy", "get_toplevel", "get_popup", "set_window_geometry",
	"ack_configure",
}

func (xs *xdgSurface) MethodName(op uint16) string {
	return xs.methodName(xdgSurfaceRequests, op)
}

func (xs *xdgSurface) Dispatch(msg *wire.MessageBuffer) error {
	c := xs.client
	switch msg.Op() {
	case 0:
		if xs.role != nil {
			return errorf(xdgSurfaceDefunctRoleObject, "%v destroyed before its role object", xs)
		}
		c.remove(xs)
		return nil

	case 1:
		id := msg.ReadUint()
		if xs.role != nil {
			return errorf(xdgSurfaceAlreadyConstructed, "%v already has a role object", xs)
		}

		tl := toplevel{
			resource: newResource(c, "xdg_toplevel", xs.version),
			xs:       xs,
		}
		err := c.add(&tl, id)
		if err != nil {
			return err
		}
		t, err := surface.NewToplevel(xs.sr.s, &tl)
		if err != nil {
			c.store.Delete(id)
			return err
		}
		tl.t = t
		xs.role, xs.conf = &tl, t

		if tl.version >= 5 {
			caps := make([]byte, 8)
			binary.LittleEndian.PutUint32(caps[0:], 2) // maximize
			binary.LittleEndian.PutUint32(caps[4:], 3) // fullscreen
			c.event(&tl, 3, "wm_capabilities", caps)
		}
		return nil

	case 2:
		id := msg.ReadUint()
		parent, err := lookup[*xdgSurface](c, msg.ReadUint(), true)
		if err != nil {
			return err
		}
		pos, err := lookup[*positioner](c, msg.ReadUint(), false)
		if err != nil {
			return err
		}
		if xs.role != nil {
			return errorf(xdgSurfaceAlreadyConstructed, "%v already has a role object", xs)
		}
		if parent == nil {
			return xs.wm.error(wmBaseInvalidPopupParent, "popups without a parent are not supported")
		}
		err = pos.p.Validate()
		if err != nil {
			return xs.wm.error(wmBaseInvalidPositioner, err.Error())
		}

		pr := popup{
			resource: newResource(c, "xdg_popup", xs.version),
			xs:       xs,
		}
		err = c.add(&pr, id)
		if err != nil {
			return err
		}
		p, err := surface.NewPopup(xs.sr.s, parent.sr.s, pos.p, &pr)
		if err != nil {
			c.store.Delete(id)
			return err
		}
		pr.p = p
		xs.role, xs.conf = &pr, p
		return nil

	case 3:
		var r image.Rectangle
		x, y := int(msg.ReadInt()), int(msg.ReadInt())
		w, h := int(msg.ReadInt()), int(msg.ReadInt())
		if xs.conf == nil {
			return errorf(xdgSurfaceNotConstructed, "%v has no role object", xs)
		}
		if (w > 0) && (h > 0) {
			r = image.Rect(x, y, x+w, y+h)
		}
		return xs.conf.SetWindowGeometry(r)

	case 4:
		serial := msg.ReadUint()
		if xs.conf == nil {
			return errorf(xdgSurfaceNotConstructed, "%v has no role object", xs)
		}
		return xs.conf.AckConfigure(serial)
	}
	return xs.unknownOp(msg.Op())
}

func (xs *xdgSurface) Delete() {
	if xs.sr.role == xs {
		xs.sr.role = nil
	}
}

func (xs *xdgSurface) errorTarget(kind surface.ErrorKind) (wire.Object, uint32, bool) {
	switch kind {
	case surface.ErrUnconfiguredBuffer:
		return xs, xdgSurfaceUnconfiguredBuffer, true
	case surface.ErrInvalidSerial:
		return xs, xdgSurfaceInvalidSerial, true
	case surface.ErrInvalidSize:
		return xs, xdgSurfaceInvalidSize, true
	case surface.ErrDefunctRoleObject:
		return xs, xdgSurfaceDefunctRoleObject, true
	}
	if m, ok := xs.role.(errorMapper); ok {
		if obj, code, ok := m.errorTarget(kind); ok {
			return obj, code, true
		}
	}
	return xs.wm.errorTarget(kind)
}

// error returns a protocol error that is reported on the xdg_wm_base.
func (wm *wmBase) error(code uint32, msg string) error {
	return &requestError{obj: wm, code: code, msg: msg}
}

// xdg_toplevel states and error codes.
const (
	toplevelStateMaximized  uint32 = 1
	toplevelStateFullscreen uint32 = 2
	toplevelStateResizing   uint32 = 3
	toplevelStateActivated  uint32 = 4

	toplevelInvalidResizeEdge uint32 = 0
	toplevelInvalidParent     uint32 = 1
	toplevelInvalidSize       uint32 = 2
)

type toplevel struct {
	resource
	xs *xdgSurface
	t  *surface.Toplevel
}

var toplevelRequests = []string{
	"destroy", "set_parent", "set_title", "set_app_id", "show_window_menu",
	"move", "resize", "set_max_size", "set_min_size", "set_maximized",
	"unset_maximized", "set_fullscreen", "unset_fullscreen", "set_minimized",
}

func (tl *toplevel) MethodName(op uint16) string {
	return tl.methodName(toplevelRequests, op)
}

func (tl *toplevel) Dispatch(msg *wire.MessageBuffer) error {
	c := tl.client
	switch msg.Op() {
	case 0:
		c.remove(tl)
		return nil

	case 1:
		parent, err := lookup[*toplevel](c, msg.ReadUint(), true)
		if err != nil {
			return err
		}
		if parent == nil {
			return tl.t.SetParent(nil)
		}
		return tl.t.SetParent(parent.t)

	case 2:
		tl.t.SetTitle(msg.ReadString())
		return nil

	case 3:
		tl.t.SetAppID(msg.ReadString())
		return nil

	case 4:
		// Window menus need a seat, which the compositor does not
		// have.
		msg.ReadUint()
		msg.ReadUint()
		msg.ReadInt()
		msg.ReadInt()
		return nil

	case 5:
		msg.ReadUint()
		msg.ReadUint()
		return nil

	case 6:
		msg.ReadUint()
		msg.ReadUint()
		edges := msg.ReadUint()
		if edges > 10 {
			return errorf(toplevelInvalidResizeEdge, "invalid resize edge %v", edges)
		}
		return nil

	case 7:
		return tl.t.SetMaxSize(image.Pt(int(msg.ReadInt()), int(msg.ReadInt())))

	case 8:
		return tl.t.SetMinSize(image.Pt(int(msg.ReadInt()), int(msg.ReadInt())))

	case 9:
		tl.t.SetMaximized(tl.output(nil))
		return nil

	case 10:
		tl.t.SetMaximized(nil)
		return nil

	case 11:
		or, err := lookup[*outputResource](c, msg.ReadUint(), true)
		if err != nil {
			return err
		}
		tl.t.SetFullscreen(tl.output(or))
		return nil

	case 12:
		tl.t.SetFullscreen(nil)
		return nil

	case 13:
		return nil
	}
	return tl.unknownOp(msg.Op())
}

// output picks the output that the window should be maximized or made
// fullscreen on: the one requested, or else one that the window is on,
// or else any.
func (tl *toplevel) output(requested *outputResource) *output.Output {
	if requested != nil {
		return requested.o
	}
	if outputs := tl.xs.sr.s.Outputs(); len(outputs) != 0 {
		return outputs[0]
	}
	if outputs := tl.client.server.layout.Outputs(); len(outputs) != 0 {
		return outputs[0]
	}
	return nil
}

func (tl *toplevel) Delete() {
	if tl.t != nil {
		tl.t.Destroy()
	}
	if tl.xs.role == tl {
		tl.xs.role, tl.xs.conf = nil, nil
	}
}

func (tl *toplevel) errorTarget(kind surface.ErrorKind) (wire.Object, uint32, bool) {
	switch kind {
	case surface.ErrBadSurface:
		return tl, toplevelInvalidParent, true
	case surface.ErrInvalidSize:
		return tl, toplevelInvalidSize, true
	}
	return tl.xs.errorTarget(kind)
}

// Configure implements surface.ToplevelHandler.
func (tl *toplevel) Configure(serial uint32, size image.Point, states surface.ToplevelState) {
	var list []uint32
	for _, s := range []struct {
		state surface.ToplevelState
		value uint32
	}{
		{surface.ToplevelMaximized, toplevelStateMaximized},
		{surface.ToplevelFullscreen, toplevelStateFullscreen},
		{surface.ToplevelResizing, toplevelStateResizing},
		{surface.ToplevelActivated, toplevelStateActivated},
	} {
		if states&s.state != 0 {
			list = append(list, s.value)
		}
	}

	arr := make([]byte, 4*len(list))
	for i, v := range list {
		binary.LittleEndian.PutUint32(arr[4*i:], v)
	}

	tl.client.event(tl, 0, "configure", int32(size.X), int32(size.Y), arr)
	tl.client.event(tl.xs, 0, "configure", serial)
}

// Close implements surface.ToplevelHandler.
func (tl *toplevel) Close() {
	tl.client.event(tl, 1, "close")
}

type popup struct {
	resource
	xs *xdgSurface
	p  *surface.Popup
}

var popupRequests = []string{"destroy", "grab", "reposition"}

func (pr *popup) MethodName(op uint16) string {
	return pr.methodName(popupRequests, op)
}

func (pr *popup) Dispatch(msg *wire.MessageBuffer) error {
	c := pr.client
	switch msg.Op() {
	case 0:
		c.remove(pr)
		return nil

	case 1:
		// Grabs need a seat, which the compositor does not have.
		msg.ReadUint()
		msg.ReadUint()
		return nil

	case 2:
		pos, err := lookup[*positioner](c, msg.ReadUint(), false)
		token := msg.ReadUint()
		if err != nil {
			return err
		}
		err = pos.p.Validate()
		if err != nil {
			return pr.xs.wm.error(wmBaseInvalidPositioner, err.Error())
		}
		c.event(pr, 2, "repositioned", token)
		return pr.p.Reposition(pos.p)
	}
	return pr.unknownOp(msg.Op())
}

func (pr *popup) Delete() {
	if pr.p != nil {
		pr.p.Destroy()
	}
	if pr.xs.role == pr {
		pr.xs.role, pr.xs.conf = nil, nil
	}
}

// Configure implements surface.PopupHandler.
func (pr *popup) Configure(serial uint32, rect image.Rectangle) {
	pr.client.event(pr, 0, "configure", int32(rect.Min.X), int32(rect.Min.Y), int32(rect.Dx()), int32(rect.Dy()))
	pr.client.event(pr.xs, 0, "configure", serial)
}

// Done implements surface.PopupHandler.
func (pr *popup) Done() {
	pr.client.event(pr, 1, "popup_done")
}
