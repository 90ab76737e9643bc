package server

import (
	"math"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/wire"
)

const outputVersion = 4

// wl_output mode flags.
const (
	outputModeCurrent   uint32 = 0x1
	outputModePreferred uint32 = 0x2
)

type outputResource struct {
	resource
	o *output.Output
}

func bindOutput(c *Client, id, version uint32, o *output.Output) error {
	r := outputResource{
		resource: newResource(c, "wl_output", version),
		o:        o,
	}
	err := c.add(&r, id)
	if err != nil {
		return err
	}
	c.outputs[o] = append(c.outputs[o], &r)
	r.sendInfo()
	return nil
}

var outputRequests = []string{"release"}

func (r *outputResource) MethodName(op uint16) string {
	return r.methodName(outputRequests, op)
}

func (r *outputResource) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		r.client.remove(r)
		return nil
	}
	return r.unknownOp(msg.Op())
}

func (r *outputResource) Delete() {
	list := r.client.outputs[r.o]
	for i, v := range list {
		if v == r {
			r.client.outputs[r.o] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// sendInfo describes the output to the client.
func (r *outputResource) sendInfo() {
	c, o := r.client, r.o
	pos := o.Position()
	mode := o.Mode()

	c.event(r, 0, "geometry",
		int32(pos.X), int32(pos.Y),
		int32(0), int32(0), // Physical size is unknown.
		int32(0),
		"wlcomp", o.Name(),
		int32(o.Transform()),
	)

	flags := outputModeCurrent
	if mode.Preferred {
		flags |= outputModePreferred
	}
	c.event(r, 1, "mode", flags, int32(mode.Width), int32(mode.Height), int32(mode.Refresh))

	if r.version >= 2 {
		c.event(r, 3, "scale", int32(math.Ceil(o.Scale())))
	}
	if r.version >= 4 {
		c.event(r, 4, "name", o.Name())
		c.event(r, 5, "description", o.String())
	}
	if r.version >= 2 {
		c.event(r, 2, "done")
	}
}
