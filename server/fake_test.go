package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/render"
	"deedles.dev/wlcomp/wire"
)

const timeout = 5 * time.Second

// proxy stands in for an object on the client side of a connection.
type proxy uint32

func (p proxy) ID() uint32                         { return uint32(p) }
func (p proxy) SetID(id uint32)                    {}
func (p proxy) Dispatch(*wire.MessageBuffer) error { return nil }
func (p proxy) Delete()                            {}
func (p proxy) MethodName(op uint16) string        { return "request" }

func newServer(t *testing.T) *Server {
	path := filepath.Join(t.TempDir(), "wayland-test")
	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	require.NoError(t, err)

	srv := New(lis, func(o *output.Output) output.Painter { return render.NewSoftware() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() {
		srv.Run(ctx)
		done <- struct{}{}
	}()
	go func() {
		srv.Layout().Serve(ctx)
		done <- struct{}{}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	return srv
}

// onDispatch runs f on the server's dispatch goroutine and waits for
// it to finish.
func onDispatch(srv *Server, f func()) {
	done := make(chan struct{})
	srv.Post(func() {
		defer close(done)
		f()
	})
	<-done
}

type event struct {
	sender uint32
	op     uint16
	msg    *wire.MessageBuffer
}

type testClient struct {
	t      *testing.T
	conn   *wire.Conn
	nextID uint32
	events chan event

	globals map[string]uint32
}

func dial(t *testing.T, srv *Server) *testClient {
	c, err := net.DialUnix("unix", nil, srv.Addr().(*net.UnixAddr))
	require.NoError(t, err)

	tc := testClient{
		t:       t,
		conn:    wire.NewConn(c),
		nextID:  2,
		events:  make(chan event, 1024),
		globals: make(map[string]uint32),
	}
	t.Cleanup(func() { tc.conn.Close() })

	go func() {
		defer close(tc.events)
		for {
			msg, err := wire.ReadMessage(tc.conn)
			if err != nil {
				return
			}
			tc.events <- event{sender: msg.Sender(), op: msg.Op(), msg: msg}
		}
	}()

	return &tc
}

func (tc *testClient) newID() uint32 {
	id := tc.nextID
	tc.nextID++
	return id
}

func (tc *testClient) send(id uint32, op uint16, args ...any) {
	msg := wire.NewMessage(proxy(id), op)
	for _, arg := range args {
		switch arg := arg.(type) {
		case int32:
			msg.WriteInt(arg)
		case uint32:
			msg.WriteUint(arg)
		case int:
			msg.WriteInt(int32(arg))
		case string:
			msg.WriteString(arg)
		case wire.Fixed:
			msg.WriteFixed(arg)
		case wire.NewID:
			msg.WriteNewID(arg)
		case *os.File:
			msg.WriteFile(arg)
		default:
			tc.t.Fatalf("unsupported argument %T", arg)
		}
	}
	require.NoError(tc.t, msg.Build(tc.conn))
}

// next returns the next event, failing the test if there is none.
func (tc *testClient) next() event {
	select {
	case ev, ok := <-tc.events:
		require.True(tc.t, ok, "connection closed")
		return ev
	case <-time.After(timeout):
		tc.t.Fatal("timed out waiting for event")
		return event{}
	}
}

// waitFor skips events until one from sender with opcode op arrives.
func (tc *testClient) waitFor(sender uint32, op uint16) *wire.MessageBuffer {
	for {
		ev := tc.next()
		if (ev.sender == sender) && (ev.op == op) {
			return ev.msg
		}
		if (ev.sender == 1) && (ev.op == 0) {
			tc.t.Fatalf("unexpected protocol error: object %v, code %v, %q", ev.msg.ReadUint(), ev.msg.ReadUint(), ev.msg.ReadString())
		}
	}
}

// roundtrip returns every event that arrives before the server
// answers a wl_display.sync.
func (tc *testClient) roundtrip() []event {
	cb := tc.newID()
	tc.send(1, 0, cb)

	var events []event
	for {
		ev := tc.next()
		if (ev.sender == cb) && (ev.op == 0) {
			return events
		}
		events = append(events, ev)
	}
}

// expectError waits for a protocol error and then for the connection
// to be closed.
func (tc *testClient) expectError() (obj, code uint32) {
	for {
		ev := tc.next()
		if (ev.sender == 1) && (ev.op == 0) {
			obj, code = ev.msg.ReadUint(), ev.msg.ReadUint()
			break
		}
	}

	deadline := time.After(timeout)
	for {
		select {
		case _, ok := <-tc.events:
			if !ok {
				return obj, code
			}
		case <-deadline:
			tc.t.Fatal("connection not closed after protocol error")
		}
	}
}

// registry gets the registry and records the globals that it
// announces.
func (tc *testClient) registry() uint32 {
	reg := tc.newID()
	tc.send(1, 1, reg)
	for _, ev := range tc.roundtrip() {
		if (ev.sender == reg) && (ev.op == 0) {
			name, iface := ev.msg.ReadUint(), ev.msg.ReadString()
			tc.globals[iface] = name
		}
	}
	return reg
}

func (tc *testClient) bind(reg uint32, iface string, version uint32) uint32 {
	name, ok := tc.globals[iface]
	require.True(tc.t, ok, "no %v global", iface)
	id := tc.newID()
	tc.send(reg, 0, name, wire.NewID{Interface: iface, Version: version, ID: id})
	return id
}

// memfd returns an anonymous file holding data.
func (tc *testClient) memfd(data []byte) *os.File {
	fd, err := unix.MemfdCreate("wlcomp-test", 0)
	require.NoError(tc.t, err)
	file := os.NewFile(uintptr(fd), "wlcomp-test")
	_, err = file.Write(data)
	require.NoError(tc.t, err)
	return file
}

// shmBuffer creates a w×h buffer filled with the byte v.
func (tc *testClient) shmBuffer(shm uint32, w, h int, format uint32, v byte) uint32 {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = v
	}
	file := tc.memfd(data)
	defer file.Close()

	pool, buf := tc.newID(), tc.newID()
	tc.send(shm, 0, pool, file, len(data))
	tc.send(pool, 0, buf, 0, w, h, w*4, format)
	tc.send(pool, 1)
	return buf
}
