package surface

import (
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"deedles.dev/wlcomp/internal/logger"
)

// Fence is a point at which some asynchronous work, usually on the
// GPU, is complete.
type Fence interface {
	// Signaled reports whether the work has completed.
	Signaled() bool

	// Wait arranges for f to be called once the fence signals. It may
	// be called from any goroutine, including synchronously if the
	// fence has already signaled.
	Wait(f func())
}

// Timeline is a counter that only increases, in the manner of a DRM
// timeline syncobj. Points on it signal once the counter reaches
// them.
type Timeline struct {
	mu      sync.Mutex
	value   uint64
	waiters map[uint64][]func()
}

func NewTimeline() *Timeline {
	return &Timeline{waiters: make(map[uint64][]func())}
}

func (t *Timeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.value
}

// Signal advances the timeline to v, signaling every point at or
// before it. Attempts to move the timeline backwards are ignored.
func (t *Timeline) Signal(v uint64) {
	t.mu.Lock()
	if v <= t.value {
		t.mu.Unlock()
		return
	}
	t.value = v

	var ready []func()
	for p, fs := range t.waiters {
		if p <= v {
			ready = append(ready, fs...)
			delete(t.waiters, p)
		}
	}
	t.mu.Unlock()

	for _, f := range ready {
		f()
	}
}

// Point returns a fence that signals once the timeline reaches v.
func (t *Timeline) Point(v uint64) Fence {
	return timelinePoint{t: t, v: v}
}

type timelinePoint struct {
	t *Timeline
	v uint64
}

func (p timelinePoint) Signaled() bool {
	return p.t.Value() >= p.v
}

func (p timelinePoint) Wait(f func()) {
	p.t.mu.Lock()
	if p.t.value >= p.v {
		p.t.mu.Unlock()
		f()
		return
	}
	p.t.waiters[p.v] = append(p.t.waiters[p.v], f)
	p.t.mu.Unlock()
}

// FileFence is a fence backed by a sync_file descriptor, which becomes
// readable once the fence signals.
type FileFence struct {
	file *os.File
	once sync.Once
	done chan struct{}
}

// NewFileFence takes ownership of file.
func NewFileFence(file *os.File) *FileFence {
	f := FileFence{
		file: file,
		done: make(chan struct{}),
	}
	return &f
}

func (f *FileFence) poll(timeout int) bool {
	sc, err := f.file.SyscallConn()
	if err != nil {
		return true
	}

	var ready bool
	sc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for {
			n, err := unix.Poll(fds, timeout)
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				logger.Warn("poll fence", "err", err)
				ready = true
				return
			}
			ready = (n > 0) && (fds[0].Revents&(unix.POLLIN|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0)
			return
		}
	})
	return ready
}

func (f *FileFence) Signaled() bool {
	select {
	case <-f.done:
		return true
	default:
	}

	if f.poll(0) {
		f.once.Do(func() { close(f.done) })
		return true
	}
	return false
}

func (f *FileFence) Wait(fn func()) {
	if f.Signaled() {
		fn()
		return
	}

	go func() {
		f.poll(-1)
		f.once.Do(func() { close(f.done) })
		fn()
	}()
}

func (f *FileFence) Close() error {
	return f.file.Close()
}
