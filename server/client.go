package server

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"deedles.dev/wlcomp/internal/cq"
	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/internal/objstore"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

// Client is a single connection to the server.
type Client struct {
	server *Server
	conn   *wire.Conn
	log    *log.Logger

	done   chan struct{}
	close  sync.Once
	closed atomic.Bool

	// out holds events waiting to be written. A nil entry closes the
	// connection once everything before it has been sent.
	out *cq.Queue[*wire.MessageBuilder]

	// Everything below is only used on the dispatch goroutine.
	store      *objstore.Store
	display    *display
	failed     bool
	registries []*registry
	outputs    map[*output.Output][]*outputResource
}

func newClient(server *Server, conn *wire.Conn) *Client {
	c := Client{
		server:  server,
		conn:    conn,
		done:    make(chan struct{}),
		out:     cq.New[*wire.MessageBuilder](),
		store:   objstore.New(objstore.ServerIDStart),
		outputs: make(map[*output.Output][]*outputResource),
	}

	pid, _ := conn.PID()
	c.log = server.log.With("pid", pid)

	c.display = &display{resource: newResource(&c, "wl_display", 1)}
	c.display.SetID(1)
	c.store.Add(c.display)

	go c.listen()
	go c.write()

	return &c
}

// Alive reports whether the client is still connected.
func (c *Client) Alive() bool {
	return !c.closed.Load()
}

func (c *Client) listen() {
	for {
		msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.Alive() {
				c.log.Warn("read message", "err", err)
			}
			c.server.post(func() error { c.destroy(); return nil })
			return
		}

		ok := c.server.post(func() error { return c.dispatch(msg) })
		if !ok {
			msg.Close()
			return
		}
	}
}

func (c *Client) write() {
	defer c.out.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.done:
			return
		case batch := <-c.out.Get():
			for _, msg := range batch {
				if msg == nil {
					return
				}
				debug.Printf(" -> %v", msg)
				err := msg.Build(c.conn)
				if err != nil {
					if !errors.Is(err, net.ErrClosed) {
						c.log.Warn("write event", "event", msg.Method, "err", err)
					}
					c.server.post(func() error { c.destroy(); return nil })
					return
				}
			}
		}
	}
}

func (c *Client) dispatch(msg *wire.MessageBuffer) error {
	defer msg.Close()

	if c.failed || !c.Alive() {
		return nil
	}

	obj := c.store.Get(msg.Sender())
	if obj == nil {
		c.fail(nil, displayInvalidObject, wire.UnknownSenderIDError{Sender: msg.Sender(), Op: msg.Op()}.Error())
		return nil
	}

	err := obj.Dispatch(msg)
	debug.Printf("%v", msg.Debug(obj))
	if derr := msg.Err(); derr != nil {
		c.fail(nil, displayInvalidMethod, "malformed "+obj.MethodName(msg.Op())+" request: "+derr.Error())
		return nil
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, surface.ErrQueueFull) {
		c.log.Warn("commit dropped", "object", obj, "err", err)
		return nil
	}

	target, code, text, ok := protocolError(obj, err)
	if !ok {
		c.fail(nil, displayImplementation, err.Error())
		return err
	}
	c.fail(target, code, text)
	return nil
}

// fail sends a protocol error and disconnects the client once it has
// been written. A nil object reports the error on wl_display.
func (c *Client) fail(obj wire.Object, code uint32, msg string) {
	if c.failed {
		return
	}
	c.failed = true

	if obj == nil {
		obj = c.display
	}
	c.log.Warn("protocol error", "object", obj, "code", code, "msg", msg)
	c.event(c.display, 0, "error", obj, code, msg)
	c.out.Push(nil)
	c.server.post(func() error { c.destroy(); return nil })
}

// event queues an event for sending. Arguments are encoded according
// to their Go types.
func (c *Client) event(sender wire.Object, op uint16, method string, args ...any) {
	if !c.Alive() {
		return
	}

	msg := wire.NewMessage(sender, op)
	msg.Method = method
	msg.Args = args
	for _, arg := range args {
		switch arg := arg.(type) {
		case int32:
			msg.WriteInt(arg)
		case uint32:
			msg.WriteUint(arg)
		case wire.Fixed:
			msg.WriteFixed(arg)
		case string:
			msg.WriteString(arg)
		case []byte:
			msg.WriteArray(arg)
		case *os.File:
			msg.WriteFile(arg)
		case wire.Object:
			msg.WriteObject(arg)
		case nil:
			msg.WriteUint(0)
		default:
			panic("unsupported event argument type")
		}
	}
	c.out.Push(msg)
}

// add registers a client-created object under the ID that the client
// chose for it.
func (c *Client) add(obj wire.Object, id uint32) error {
	if (id == 0) || (id >= objstore.ServerIDStart) {
		return displayErrorf(displayInvalidObject, "invalid new object ID %v", id)
	}
	if c.store.Has(id) {
		return displayErrorf(displayInvalidObject, "object ID %v is already in use", id)
	}
	obj.SetID(id)
	c.store.Add(obj)
	return nil
}

// remove deletes obj and tells the client that its ID may be reused.
func (c *Client) remove(obj wire.Object) {
	id := obj.ID()
	if c.store.Get(id) != obj {
		return
	}
	c.store.Delete(id)
	if id < objstore.ServerIDStart {
		c.event(c.display, 1, "delete_id", id)
	}
}

// destroy disconnects the client and tears down everything it owns.
func (c *Client) destroy() {
	if c.closed.Swap(true) {
		return
	}

	c.store.Clear()
	c.server.surfaces.DestroyClient(c)
	c.server.clients.Delete(c)

	if !c.failed {
		c.close.Do(func() { close(c.done) })
	}
	c.out.Push(nil)
	c.log.Debug("client disconnected")
}

// Close disconnects the client immediately.
func (c *Client) Close() {
	c.close.Do(func() { close(c.done) })
	c.conn.Close()
}

// outputResources returns the client's wl_output objects for o.
func (c *Client) outputResources(o *output.Output) []*outputResource {
	return c.outputs[o]
}
