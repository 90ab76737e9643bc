package server

import (
	"image"

	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

// wl_subcompositor error codes.
const (
	subcompositorBadSurface uint32 = iota
	subcompositorBadParent
)

type subcompositor struct {
	resource
}

func bindSubcompositor(c *Client, id, version uint32) error {
	return c.add(&subcompositor{resource: newResource(c, "wl_subcompositor", version)}, id)
}

var subcompositorRequests = []string{"destroy", "get_subsurface"}

func (sc *subcompositor) MethodName(op uint16) string {
	return sc.methodName(subcompositorRequests, op)
}

func (sc *subcompositor) Dispatch(msg *wire.MessageBuffer) error {
	c := sc.client
	switch msg.Op() {
	case 0:
		c.remove(sc)
		return nil

	case 1:
		id := msg.ReadUint()
		sr, err := lookup[*surfaceResource](c, msg.ReadUint(), false)
		if err != nil {
			return err
		}
		parent, err := lookup[*surfaceResource](c, msg.ReadUint(), false)
		if err != nil {
			return err
		}
		if sr == parent {
			return errorf(subcompositorBadParent, "%v cannot be its own parent", sr)
		}
		if sr.role != nil {
			return errorf(subcompositorBadSurface, "%v already has a role object", sr)
		}

		sub, err := surface.NewSubsurface(sr.s, parent.s)
		switch {
		case surface.IsProtocolError(err, surface.ErrRole):
			return errorf(subcompositorBadSurface, "%v", err)
		case surface.IsProtocolError(err, surface.ErrBadSurface):
			return errorf(subcompositorBadParent, "%v", err)
		case err != nil:
			return err
		}

		res := subsurface{
			resource: newResource(c, "wl_subsurface", 1),
			sr:       sr,
			sub:      sub,
		}
		err = c.add(&res, id)
		if err != nil {
			sub.Destroy()
			return err
		}
		sr.role = &res
		return nil
	}
	return sc.unknownOp(msg.Op())
}

// wl_subsurface error codes.
const subsurfaceBadSurface uint32 = 0

type subsurface struct {
	resource
	sr  *surfaceResource
	sub *surface.Subsurface
}

var subsurfaceRequests = []string{
	"destroy", "set_position", "place_above", "place_below", "set_sync",
	"set_desync",
}

func (ss *subsurface) MethodName(op uint16) string {
	return ss.methodName(subsurfaceRequests, op)
}

func (ss *subsurface) Dispatch(msg *wire.MessageBuffer) error {
	c := ss.client
	switch msg.Op() {
	case 0:
		c.remove(ss)
		return nil

	case 1:
		ss.sub.SetPosition(image.Pt(int(msg.ReadInt()), int(msg.ReadInt())))
		return nil

	case 2, 3:
		sibling, err := lookup[*surfaceResource](c, msg.ReadUint(), false)
		if err != nil {
			return err
		}
		if msg.Op() == 2 {
			return ss.sub.PlaceAbove(sibling.s)
		}
		return ss.sub.PlaceBelow(sibling.s)

	case 4:
		ss.sub.SetSync()
		return nil

	case 5:
		ss.sub.SetDesync()
		return nil
	}
	return ss.unknownOp(msg.Op())
}

func (ss *subsurface) Delete() {
	ss.sub.Destroy()
	if ss.sr.role == ss {
		ss.sr.role = nil
	}
}

func (ss *subsurface) errorTarget(kind surface.ErrorKind) (wire.Object, uint32, bool) {
	if kind == surface.ErrBadSurface {
		return ss, subsurfaceBadSurface, true
	}
	return nil, 0, false
}
