package wire

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"deedles.dev/wlcomp/internal/set"
)

func xdgRuntimeDir() string {
	dir, ok := os.LookupEnv("XDG_RUNTIME_DIR")
	if ok {
		return dir
	}
	return fmt.Sprintf("/var/run/user/%v", os.Getuid())
}

// SocketPath determines the path to the Wayland Unix domain socket
// named name. Relative names are resolved against $XDG_RUNTIME_DIR.
func SocketPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(xdgRuntimeDir(), name)
}

// NewSocketPath attempts to generate a valid path for opening a new
// socket to listen on.
func NewSocketPath() (string, error) {
	dir := xdgRuntimeDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	names := make(set.Set[int], len(entries))
	for _, ent := range entries {
		after, ok := strings.CutPrefix(ent.Name(), "wayland-")
		if !ok {
			continue
		}
		after = strings.TrimSuffix(after, ".lock")
		n, err := strconv.ParseInt(after, 10, 0)
		if err != nil {
			continue
		}
		names.Add(int(n))
	}

	var num int
	for names.Has(num) {
		num++
	}

	return filepath.Join(dir, fmt.Sprintf("wayland-%v", num)), nil
}

// Listen opens a listening socket. If name is empty, the first free
// wayland-N name in $XDG_RUNTIME_DIR is used.
func Listen(name string) (*net.UnixListener, error) {
	path := SocketPath(name)
	if name == "" {
		p, err := NewSocketPath()
		if err != nil {
			return nil, fmt.Errorf("find socket path: %w", err)
		}
		path = p
	}

	lis, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, err
	}
	lis.SetUnlinkOnClose(true)
	return lis, nil
}

// Conn represents a low-level Wayland connection. Reads must happen
// on a single goroutine; writes are serialized internally.
type Conn struct {
	conn *net.UnixConn
	wm   sync.Mutex
}

// NewConn creates a new Conn that wraps c. After this is called, use
// the provided Close method to close c instead of calling its own
// Close method.
func NewConn(c *net.UnixConn) *Conn {
	return &Conn{
		conn: c,
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// PID returns the process ID of the peer.
func (c *Conn) PID() (int32, error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var pid int32
	var cerr error
	err = raw.Control(func(fd uintptr) {
		cred, err := unixGetCred(int(fd))
		if err != nil {
			cerr = err
			return
		}
		pid = cred.Pid
	})
	if err != nil {
		return 0, err
	}
	return pid, cerr
}
