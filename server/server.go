// Package server implements the Wayland protocol objects through which
// clients drive the compositor, and the dispatch loop that every
// change to compositor state goes through.
package server

import (
	"context"
	"errors"
	"net"
	"sync"

	"deedles.dev/xsync"
	"github.com/charmbracelet/log"
	"golang.org/x/exp/slices"

	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/internal/logger"
	"deedles.dev/wlcomp/internal/set"
	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

// Server accepts client connections and runs the dispatch loop.
type Server struct {
	lis   *net.UnixListener
	queue ev.Queue
	log   *log.Logger

	// stopping guards sends to queue against queue being stopped.
	stopping sync.RWMutex
	stopped  bool
	done     xsync.Stopper

	surfaces *surface.Manager
	layout   *output.Layout

	// Only used on the dispatch goroutine.
	clients  set.Set[*Client]
	globals  map[uint32]*global
	nextName uint32
	outputs  map[*output.Output]*global
}

// New returns a server that accepts clients from lis. Outputs added to
// the server's layout draw with painters returned by newPainter.
func New(lis *net.UnixListener, newPainter func(*output.Output) output.Painter) *Server {
	s := Server{
		lis:      lis,
		log:      logger.With("component", "server"),
		clients:  make(set.Set[*Client]),
		globals:  make(map[uint32]*global),
		nextName: 1,
		outputs:  make(map[*output.Output]*global),
	}
	s.surfaces = surface.NewManager(s.Post)
	s.layout = output.NewLayout(s.surfaces, newPainter)
	s.surfaces.SetLayout(s.layout)
	s.layout.SetListener(&s)

	s.addGlobal("wl_compositor", compositorVersion, bindCompositor)
	s.addGlobal("wl_subcompositor", 1, bindSubcompositor)
	s.addGlobal("wl_shm", 1, bindShm)
	s.addGlobal("xdg_wm_base", wmBaseVersion, bindWmBase)
	s.addGlobal("wp_viewporter", 1, bindViewporter)
	s.addGlobal("wp_presentation", 1, bindPresentation)

	return &s
}

// Listen is like New, but opens a listening socket first. An empty name
// picks the first free wayland-N socket.
func Listen(name string, newPainter func(*output.Output) output.Painter) (*Server, error) {
	lis, err := wire.Listen(name)
	if err != nil {
		return nil, err
	}
	return New(lis, newPainter), nil
}

// Addr returns the address that the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.lis.Addr()
}

// Surfaces returns the server's surface manager.
func (s *Server) Surfaces() *surface.Manager {
	return s.surfaces
}

// Layout returns the outputs that the server draws to.
func (s *Server) Layout() *output.Layout {
	return s.layout
}

// Run accepts clients and dispatches their requests until ctx is
// canceled.
func (s *Server) Run(ctx context.Context) error {
	defer s.stop()
	go s.listen()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()

		case task, ok := <-s.queue.Get():
			if !ok {
				return nil
			}
			err := s.queue.Drain(task)
			if err != nil {
				s.log.Error("dispatch", "err", err)
			}
		}
	}
}

func (s *Server) stop() {
	s.done.Stop()
	s.lis.Close()

	s.stopping.Lock()
	defer s.stopping.Unlock()
	if !s.stopped {
		s.stopped = true
		s.queue.Stop()
	}
}

// shutdown disconnects every client.
func (s *Server) shutdown() {
	for _, c := range s.clients.Slice() {
		c.destroy()
		c.Close()
	}
}

func (s *Server) listen() {
	for {
		conn, err := s.lis.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept", "err", err)
			continue
		}

		ok := s.post(func() error {
			c := newClient(s, wire.NewConn(conn))
			s.clients.Add(c)
			c.log.Debug("client connected")
			return nil
		})
		if !ok {
			conn.Close()
			return
		}
	}
}

// post queues f to run on the dispatch goroutine. It returns false if
// the server has stopped.
func (s *Server) post(f func() error) bool {
	s.stopping.RLock()
	defer s.stopping.RUnlock()

	if s.stopped {
		return false
	}
	s.queue.Add() <- f
	return true
}

// Post runs f on the dispatch goroutine. It may be called from any
// goroutine, including the dispatch goroutine itself.
func (s *Server) Post(f func()) {
	s.post(func() error { f(); return nil })
}

// OutputAdded implements output.Listener.
func (s *Server) OutputAdded(o *output.Output) {
	s.surfaces.OutputAdded(o)
	s.Post(func() {
		if _, ok := s.outputs[o]; ok {
			return
		}
		s.outputs[o] = s.addGlobal("wl_output", outputVersion, func(c *Client, id, version uint32) error {
			return bindOutput(c, id, version, o)
		})
	})
}

// OutputRemoved implements output.Listener. It waits for the dispatch
// goroutine to finish with o so that the output is not torn down while
// surfaces still refer to it, so it must not be called from the
// dispatch goroutine.
func (s *Server) OutputRemoved(o *output.Output) {
	done := make(chan struct{})
	ok := s.post(func() error {
		defer close(done)

		s.surfaces.RemoveOutput(o)
		g, ok := s.outputs[o]
		if !ok {
			return nil
		}
		delete(s.outputs, o)
		s.removeGlobal(g)
		for c := range s.clients {
			delete(c.outputs, o)
		}
		return nil
	})
	if !ok {
		return
	}

	select {
	case <-done:
	case <-s.done.Done():
	}
}

// AvailableGeometryChanged implements output.Listener.
func (s *Server) AvailableGeometryChanged(o *output.Output) {
	s.surfaces.AvailableGeometryChanged(o)
}

// global is an object that clients can bind to through wl_registry.
type global struct {
	name    uint32
	iface   string
	version uint32
	bind    func(c *Client, id, version uint32) error
}

func (s *Server) addGlobal(iface string, version uint32, bind func(c *Client, id, version uint32) error) *global {
	g := global{
		name:    s.nextName,
		iface:   iface,
		version: version,
		bind:    bind,
	}
	s.nextName++
	s.globals[g.name] = &g

	for c := range s.clients {
		for _, r := range c.registries {
			r.sendGlobal(&g)
		}
	}
	return &g
}

func (s *Server) removeGlobal(g *global) {
	delete(s.globals, g.name)
	for c := range s.clients {
		for _, r := range c.registries {
			c.event(r, 1, "global_remove", g.name)
		}
	}
}

// sortedGlobals returns the globals in the order that they were
// added.
func (s *Server) sortedGlobals() []*global {
	names := make([]uint32, 0, len(s.globals))
	for name := range s.globals {
		names = append(names, name)
	}
	slices.Sort(names)
	globals := make([]*global, 0, len(names))
	for _, name := range names {
		globals = append(globals, s.globals[name])
	}
	return globals
}
