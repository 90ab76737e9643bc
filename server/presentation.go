package server

import (
	"time"

	"golang.org/x/sys/unix"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/wire"
)

type presentation struct {
	resource
}

func bindPresentation(c *Client, id, version uint32) error {
	p := presentation{resource: newResource(c, "wp_presentation", version)}
	err := c.add(&p, id)
	if err != nil {
		return err
	}
	c.event(&p, 0, "clock_id", uint32(unix.CLOCK_MONOTONIC))
	return nil
}

var presentationRequests = []string{"destroy", "feedback"}

func (p *presentation) MethodName(op uint16) string {
	return p.methodName(presentationRequests, op)
}

func (p *presentation) Dispatch(msg *wire.MessageBuffer) error {
	c := p.client
	switch msg.Op() {
	case 0:
		c.remove(p)
		return nil

	case 1:
		sr, err := lookup[*surfaceResource](c, msg.ReadUint(), false)
		id := msg.ReadUint()
		if err != nil {
			return err
		}

		fb := feedback{resource: newResource(c, "wp_presentation_feedback", p.version)}
		err = c.add(&fb, id)
		if err != nil {
			return err
		}
		sr.s.AddFeedback(&fb)
		return nil
	}
	return p.unknownOp(msg.Op())
}

// feedback is a wp_presentation_feedback. It is destroyed by the
// server once it has reported what became of its commit.
type feedback struct {
	resource
}

func (fb *feedback) MethodName(op uint16) string {
	return "unknown"
}

func (fb *feedback) Dispatch(msg *wire.MessageBuffer) error {
	return fb.unknownOp(msg.Op())
}

func (fb *feedback) alive() bool {
	return fb.client.store.Get(fb.id) == fb
}

// Presented implements output.Feedback. It may be called from any
// goroutine.
func (fb *feedback) Presented(o *output.Output, t output.PresentTime) {
	fb.client.server.Post(func() {
		if !fb.alive() {
			return
		}

		c := fb.client
		for _, r := range c.outputResources(o) {
			c.event(fb, 0, "sync_output", r)
		}

		ts := monotonic(t.Time)
		sec := uint64(ts.Sec)
		c.event(fb, 1, "presented",
			uint32(sec>>32), uint32(sec),
			uint32(ts.Nsec),
			uint32(t.Refresh.Nanoseconds()),
			uint32(t.Seq>>32), uint32(t.Seq),
			uint32(t.Flags),
		)
		c.remove(fb)
	})
}

// Discarded implements output.Feedback. It may be called from any
// goroutine.
func (fb *feedback) Discarded() {
	fb.client.server.Post(func() {
		if !fb.alive() {
			return
		}
		fb.client.event(fb, 2, "discarded")
		fb.client.remove(fb)
	})
}

// monotonic converts t into a CLOCK_MONOTONIC timestamp, which is the
// clock that presentation times are reported in.
func monotonic(t time.Time) unix.Timespec {
	var now unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &now)
	ns := now.Nano() - int64(time.Since(t))
	if ns < 0 {
		ns = 0
	}
	return unix.NsecToTimespec(ns)
}
