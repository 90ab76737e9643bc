package server

import (
	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

const viewporterViewportExists uint32 = 0

// wp_viewport error codes.
const (
	viewportBadValue uint32 = iota
	viewportBadSize
	viewportOutOfBuffer
	viewportNoSurface
)

type viewporter struct {
	resource
}

func bindViewporter(c *Client, id, version uint32) error {
	return c.add(&viewporter{resource: newResource(c, "wp_viewporter", version)}, id)
}

var viewporterRequests = []string{"destroy", "get_viewport"}

func (vp *viewporter) MethodName(op uint16) string {
	return vp.methodName(viewporterRequests, op)
}

func (vp *viewporter) Dispatch(msg *wire.MessageBuffer) error {
	c := vp.client
	switch msg.Op() {
	case 0:
		c.remove(vp)
		return nil

	case 1:
		id := msg.ReadUint()
		sr, err := lookup[*surfaceResource](c, msg.ReadUint(), false)
		if err != nil {
			return err
		}
		if sr.viewport != nil {
			return errorf(viewporterViewportExists, "%v already has a viewport", sr)
		}

		v := viewport{
			resource: newResource(c, "wp_viewport", vp.version),
			sr:       sr,
		}
		err = c.add(&v, id)
		if err != nil {
			return err
		}
		sr.viewport = &v
		return nil
	}
	return vp.unknownOp(msg.Op())
}

type viewport struct {
	resource
	sr *surfaceResource
}

var viewportRequests = []string{"destroy", "set_source", "set_destination"}

func (v *viewport) MethodName(op uint16) string {
	return v.methodName(viewportRequests, op)
}

func (v *viewport) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		v.client.remove(v)
		return nil

	case 1:
		x, y := msg.ReadFixed(), msg.ReadFixed()
		w, h := msg.ReadFixed(), msg.ReadFixed()
		if !v.alive() {
			return errorf(viewportNoSurface, "surface of %v was destroyed", v)
		}
		return v.sr.s.SetViewportSource(geom.FRect{
			X: x.Float(),
			Y: y.Float(),
			W: w.Float(),
			H: h.Float(),
		})

	case 2:
		w, h := msg.ReadInt(), msg.ReadInt()
		if !v.alive() {
			return errorf(viewportNoSurface, "surface of %v was destroyed", v)
		}
		return v.sr.s.SetViewportDestination(int(w), int(h))
	}
	return v.unknownOp(msg.Op())
}

func (v *viewport) alive() bool {
	return !v.sr.s.Destroyed()
}

// Delete unsets the viewport's state. The change is applied with the
// surface's next commit.
func (v *viewport) Delete() {
	if v.sr.viewport == v {
		v.sr.viewport = nil
	}
	if !v.alive() {
		return
	}
	v.sr.s.SetViewportSource(geom.FRect{X: -1, Y: -1, W: -1, H: -1})
	v.sr.s.SetViewportDestination(-1, -1)
}

func (v *viewport) errorTarget(kind surface.ErrorKind) (wire.Object, uint32, bool) {
	switch kind {
	case surface.ErrBadValue:
		return v, viewportBadValue, true
	case surface.ErrBadSize:
		return v, viewportBadSize, true
	case surface.ErrOutOfBuffer:
		return v, viewportOutOfBuffer, true
	case surface.ErrNoSurface:
		return v, viewportNoSurface, true
	}
	return nil, 0, false
}
