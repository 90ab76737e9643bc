package server

import (
	"image"
	"math"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

const compositorVersion = 6

type compositor struct {
	resource
}

func bindCompositor(c *Client, id, version uint32) error {
	return c.add(&compositor{resource: newResource(c, "wl_compositor", version)}, id)
}

var compositorRequests = []string{"create_surface", "create_region"}

func (comp *compositor) MethodName(op uint16) string {
	return comp.methodName(compositorRequests, op)
}

func (comp *compositor) Dispatch(msg *wire.MessageBuffer) error {
	c := comp.client
	switch msg.Op() {
	case 0:
		sr := surfaceResource{resource: newResource(c, "wl_surface", comp.version)}
		err := c.add(&sr, msg.ReadUint())
		if err != nil {
			return err
		}
		sr.s = c.server.surfaces.Create(c)
		sr.s.SetListener(&sr)
		return nil

	case 1:
		return c.add(&regionResource{resource: newResource(c, "wl_region", 1)}, msg.ReadUint())
	}
	return comp.unknownOp(msg.Op())
}

// surfaceResource is a wl_surface.
type surfaceResource struct {
	resource
	s *surface.Surface

	// role is the protocol object that gave the surface its role, such
	// as an xdg_surface or a wl_subsurface.
	role     wire.Object
	viewport *viewport
}

var surfaceRequests = []string{
	"destroy", "attach", "damage", "frame", "set_opaque_region",
	"set_input_region", "commit", "set_buffer_transform",
	"set_buffer_scale", "damage_buffer", "offset",
}

func (sr *surfaceResource) MethodName(op uint16) string {
	return sr.methodName(surfaceRequests, op)
}

func (sr *surfaceResource) Dispatch(msg *wire.MessageBuffer) error {
	c := sr.client
	s := sr.s
	switch msg.Op() {
	case 0:
		c.remove(sr)
		return nil

	case 1:
		b, err := lookup[*buffer](c, msg.ReadUint(), true)
		x, y := msg.ReadInt(), msg.ReadInt()
		if err != nil {
			return err
		}
		offset := image.Pt(int(x), int(y))
		if (sr.version >= 5) && (offset != image.Point{}) {
			return errorf(surfaceInvalidOffset, "attach with non-zero offset %v", offset)
		}
		if b == nil {
			s.Attach(nil, offset)
			return nil
		}
		s.Attach(b, offset)
		return nil

	case 2:
		s.Damage(readRect(msg))
		return nil

	case 3:
		cb := newCallback(c)
		err := c.add(cb, msg.ReadUint())
		if err != nil {
			return err
		}
		s.Frame(cb)
		return nil

	case 4:
		r, err := lookup[*regionResource](c, msg.ReadUint(), true)
		if err != nil {
			return err
		}
		var opaque region.Region
		if r != nil {
			opaque = r.r
		}
		s.SetOpaqueRegion(opaque)
		return nil

	case 5:
		r, err := lookup[*regionResource](c, msg.ReadUint(), true)
		if err != nil {
			return err
		}
		input := region.Infinite()
		if r != nil {
			input = r.r
		}
		s.SetInputRegion(input)
		return nil

	case 6:
		return s.Commit()

	case 7:
		return s.SetBufferTransform(geom.Transform(msg.ReadInt()))

	case 8:
		return s.SetBufferScale(msg.ReadInt())

	case 9:
		s.DamageBuffer(readRect(msg))
		return nil

	case 10:
		s.SetOffset(image.Pt(int(msg.ReadInt()), int(msg.ReadInt())))
		return nil
	}
	return sr.unknownOp(msg.Op())
}

func (sr *surfaceResource) Delete() {
	sr.s.Destroy()
}

// wl_surface error codes.
const (
	surfaceInvalidScale uint32 = iota
	surfaceInvalidTransform
	surfaceInvalidSize
	surfaceInvalidOffset
	surfaceDefunctRoleObject
)

func (sr *surfaceResource) errorTarget(kind surface.ErrorKind) (wire.Object, uint32, bool) {
	switch kind {
	case surface.ErrInvalidScale:
		return sr, surfaceInvalidScale, true
	case surface.ErrInvalidTransform:
		return sr, surfaceInvalidTransform, true
	case surface.ErrInvalidSize:
		return sr, surfaceInvalidSize, true
	case surface.ErrInvalidOffset:
		return sr, surfaceInvalidOffset, true
	case surface.ErrDefunctRoleObject:
		return sr, surfaceDefunctRoleObject, true
	}

	// Errors detected at commit time belong to whatever extension
	// object set the state that turned out to be invalid.
	if sr.viewport != nil {
		if obj, code, ok := sr.viewport.errorTarget(kind); ok {
			return obj, code, true
		}
	}
	if m, ok := sr.role.(errorMapper); ok {
		return m.errorTarget(kind)
	}
	return nil, 0, false
}

// Changed implements surface.Listener.
func (sr *surfaceResource) Changed(c surface.Change) {}

// Enter implements surface.Listener.
func (sr *surfaceResource) Enter(o *output.Output) {
	for _, r := range sr.client.outputResources(o) {
		sr.client.event(sr, 0, "enter", r)
	}
	if sr.version >= 6 {
		sr.client.event(sr, 2, "preferred_buffer_scale", int32(math.Ceil(o.Scale())))
		sr.client.event(sr, 3, "preferred_buffer_transform", uint32(o.Transform()))
	}
}

// Leave implements surface.Listener.
func (sr *surfaceResource) Leave(o *output.Output) {
	for _, r := range sr.client.outputResources(o) {
		sr.client.event(sr, 1, "leave", r)
	}
}

type regionResource struct {
	resource
	r region.Region
}

var regionRequests = []string{"destroy", "add", "subtract"}

func (rr *regionResource) MethodName(op uint16) string {
	return rr.methodName(regionRequests, op)
}

func (rr *regionResource) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		rr.client.remove(rr)
		return nil
	case 1:
		rr.r = rr.r.UnionRect(readRect(msg))
		return nil
	case 2:
		rr.r = rr.r.SubtractRect(readRect(msg))
		return nil
	}
	return rr.unknownOp(msg.Op())
}

// readRect reads the x, y, width and height arguments that many
// requests share.
func readRect(msg *wire.MessageBuffer) image.Rectangle {
	x, y := int(msg.ReadInt()), int(msg.ReadInt())
	w, h := int(msg.ReadInt()), int(msg.ReadInt())
	if (w <= 0) || (h <= 0) {
		return image.Rectangle{}
	}
	return image.Rect(x, y, x+w, y+h)
}
