package surface

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"deedles.dev/wlcomp/backend/offscreen"
	"deedles.dev/wlcomp/output"
)

type fakeBuffer struct {
	size     image.Point
	opaque   bool
	locks    int
	released int
}

func newBuffer(w, h int) *fakeBuffer {
	return &fakeBuffer{size: image.Pt(w, h)}
}

func (b *fakeBuffer) Size() image.Point { return b.size }
func (b *fakeBuffer) Opaque() bool      { return b.opaque }
func (b *fakeBuffer) Lock()             { b.locks++ }

func (b *fakeBuffer) Unlock() {
	b.locks--
	if b.locks == 0 {
		b.released++
	}
}

func (b *fakeBuffer) Image() image.Image {
	return image.NewUniform(color.White)
}

type fakeCallback struct {
	done int
}

func (cb *fakeCallback) Done(t time.Time) { cb.done++ }

type fakeFeedback struct {
	presented int
	discarded int
}

func (fb *fakeFeedback) Presented(o *output.Output, t output.PresentTime) { fb.presented++ }
func (fb *fakeFeedback) Discarded()                                       { fb.discarded++ }

type configureEvent struct {
	serial uint32
	size   image.Point
	states ToplevelState
}

type fakeToplevel struct {
	configures []configureEvent
	closed     int
}

func (h *fakeToplevel) Configure(serial uint32, size image.Point, states ToplevelState) {
	h.configures = append(h.configures, configureEvent{serial: serial, size: size, states: states})
}

func (h *fakeToplevel) Close() { h.closed++ }

func (h *fakeToplevel) last() configureEvent {
	return h.configures[len(h.configures)-1]
}

type fakePopup struct {
	configures []image.Rectangle
	serials    []uint32
	done       int
}

func (h *fakePopup) Configure(serial uint32, rect image.Rectangle) {
	h.configures = append(h.configures, rect)
	h.serials = append(h.serials, serial)
}

func (h *fakePopup) Done() { h.done++ }

type fakeLayer struct {
	serials []uint32
	sizes   []image.Point
	closed  int
}

func (h *fakeLayer) Configure(serial uint32, size image.Point) {
	h.serials = append(h.serials, serial)
	h.sizes = append(h.sizes, size)
}

func (h *fakeLayer) Closed() { h.closed++ }

type recordingListener struct {
	changes []Change
	entered []*output.Output
	left    []*output.Output
}

func (lis *recordingListener) Changed(c Change)       { lis.changes = append(lis.changes, c) }
func (lis *recordingListener) Enter(o *output.Output) { lis.entered = append(lis.entered, o) }
func (lis *recordingListener) Leave(o *output.Output) { lis.left = append(lis.left, o) }

func (lis *recordingListener) saw(c Change) bool {
	for _, v := range lis.changes {
		if v&c != 0 {
			return true
		}
	}
	return false
}

type fakeClient struct{}

func (fakeClient) Alive() bool { return true }

// testManager runs posted work when drain is called, standing in for
// the dispatch loop.
type testManager struct {
	*Manager
	posted []func()
}

func newTestManager(t *testing.T) *testManager {
	tm := testManager{}
	tm.Manager = NewManager(func(f func()) {
		tm.posted = append(tm.posted, f)
	})
	return &tm
}

func (tm *testManager) drain() {
	for len(tm.posted) > 0 {
		f := tm.posted[0]
		tm.posted = tm.posted[1:]
		f()
	}
}

// mapToplevel creates a mapped toplevel with a buffer of the given
// size.
func (tm *testManager) mapToplevel(t *testing.T, w, h int) (*Surface, *Toplevel, *fakeToplevel) {
	t.Helper()

	s := tm.Create(fakeClient{})
	handler := &fakeToplevel{}
	top, err := NewToplevel(s, handler)
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	require.NoError(t, top.AckConfigure(handler.last().serial))
	s.Attach(newBuffer(w, h), image.Point{})
	require.NoError(t, s.Commit())
	require.True(t, s.Mapped())
	return s, top, handler
}

func newOutput() *output.Output {
	return output.New(offscreen.New("test"))
}

// drawn returns the keys of the items that m would draw on o.
func drawn(m *Manager, o *output.Output) []uint64 {
	var f output.Frame
	m.Collect(o, &f)

	keys := make([]uint64, 0, len(f.Items))
	for _, it := range f.Items {
		keys = append(keys, it.Key)
	}
	return keys
}
