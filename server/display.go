package server

import (
	"time"

	"deedles.dev/wlcomp/wire"
)

type display struct {
	resource
}

var displayRequests = []string{"sync", "get_registry"}

func (d *display) MethodName(op uint16) string {
	return d.methodName(displayRequests, op)
}

func (d *display) Dispatch(msg *wire.MessageBuffer) error {
	c := d.client
	switch msg.Op() {
	case 0:
		cb := newCallback(c)
		err := c.add(cb, msg.ReadUint())
		if err != nil {
			return err
		}
		cb.done(c.server.surfaces.NextSerial())
		return nil

	case 1:
		r := registry{resource: newResource(c, "wl_registry", 1)}
		err := c.add(&r, msg.ReadUint())
		if err != nil {
			return err
		}
		c.registries = append(c.registries, &r)
		for _, g := range c.server.sortedGlobals() {
			r.sendGlobal(g)
		}
		return nil
	}
	return d.unknownOp(msg.Op())
}

type registry struct {
	resource
}

var registryRequests = []string{"bind"}

func (r *registry) MethodName(op uint16) string {
	return r.methodName(registryRequests, op)
}

func (r *registry) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		name := msg.ReadUint()
		id := msg.ReadNewID()
		if msg.Err() != nil {
			return nil
		}

		g, ok := r.client.server.globals[name]
		if !ok {
			return displayErrorf(displayInvalidObject, "no global named %v", name)
		}
		if g.iface != id.Interface {
			return displayErrorf(displayInvalidObject, "global %v is %v, not %v", name, g.iface, id.Interface)
		}
		if (id.Version == 0) || (id.Version > g.version) {
			return displayErrorf(displayInvalidObject, "invalid version %v of %v, server has %v", id.Version, g.iface, g.version)
		}
		return g.bind(r.client, id.ID, id.Version)
	}
	return r.unknownOp(msg.Op())
}

func (r *registry) Delete() {
	regs := r.client.registries
	for i, reg := range regs {
		if reg == r {
			r.client.registries = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
}

func (r *registry) sendGlobal(g *global) {
	r.client.event(r, 0, "global", g.name, g.iface, g.version)
}

// callback is a wl_callback. It is destroyed by the server once it is
// done.
type callback struct {
	resource
}

func newCallback(c *Client) *callback {
	return &callback{resource: newResource(c, "wl_callback", 1)}
}

func (cb *callback) MethodName(op uint16) string {
	return "unknown"
}

func (cb *callback) Dispatch(msg *wire.MessageBuffer) error {
	return cb.unknownOp(msg.Op())
}

func (cb *callback) done(data uint32) {
	cb.client.event(cb, 0, "done", data)
	cb.client.remove(cb)
}

// Done implements output.FrameCallback. It may be called from any
// goroutine.
func (cb *callback) Done(t time.Time) {
	cb.client.server.Post(func() {
		if cb.client.store.Get(cb.id) != cb {
			return
		}
		cb.done(uint32(t.UnixMilli()))
	})
}
