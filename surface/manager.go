// Package surface implements the compositor's surfaces: their
// double-buffered state, the commit engine that applies it, and the
// roles that give surfaces their behavior.
//
// Everything in this package that mutates a surface must be called
// from the dispatch goroutine. Output goroutines only read surfaces,
// and only with the Manager's read lock held.
package surface

import (
	"image"
	"sync"

	"github.com/charmbracelet/log"

	"deedles.dev/wlcomp/internal/logger"
	"deedles.dev/wlcomp/output"
)

// Client identifies the connection that a surface belongs to.
type Client interface {
	Alive() bool
}

// Observer is told about state changes of every surface. It is called
// on the dispatch goroutine once the change is complete.
type Observer interface {
	SurfaceChanged(s *Surface, c Change)
}

// Manager owns every surface and the order in which they are drawn.
type Manager struct {
	mu sync.RWMutex

	arena arena
	roots []Ref
	order []Ref

	layout    *output.Layout
	post      func(func())
	observers []Observer
	log       *log.Logger

	serial    uint32
	cursorPos image.Point
	cursor    Ref
	dragIcon  Ref
	focus     Ref
	locked    bool
	placed    int
}

// NewManager returns a new Manager. Work that must be moved onto the
// dispatch goroutine, such as handling fences that signal on other
// goroutines, is handed to post.
func NewManager(post func(func())) *Manager {
	return &Manager{
		post: post,
		log:  logger.With("component", "surface"),
	}
}

// SetLayout sets the layout that surfaces are shown on.
func (m *Manager) SetLayout(layout *output.Layout) {
	m.layout = layout
}

func (m *Manager) Layout() *output.Layout {
	return m.layout
}

func (m *Manager) AddObserver(o Observer) {
	m.observers = append(m.observers, o)
}

// RLocker returns the lock that output goroutines hold while reading
// surfaces.
func (m *Manager) RLocker() sync.Locker {
	return m.mu.RLocker()
}

// Create creates a new surface for c.
func (m *Manager) Create(c Client) *Surface {
	s := Surface{
		m:       m,
		client:  c,
		current: defaultState(),
		outputs: make(map[*output.Output]struct{}),
	}

	m.mu.Lock()
	s.ref = m.arena.add(&s)
	m.mu.Unlock()

	return &s
}

// Lookup resolves r. It returns nil if the surface no longer exists.
func (m *Manager) Lookup(r Ref) *Surface {
	return m.arena.get(r)
}

// Surfaces returns every surface in the order they are drawn, back to
// front.
func (m *Manager) Surfaces() []*Surface {
	surfaces := make([]*Surface, 0, len(m.order))
	for _, r := range m.order {
		if s := m.Lookup(r); s != nil {
			surfaces = append(surfaces, s)
		}
	}
	return surfaces
}

// All returns every surface that has not been destroyed, including
// those that are not drawn.
func (m *Manager) All() []*Surface {
	var all []*Surface
	m.arena.all(func(s *Surface) {
		all = append(all, s)
	})
	return all
}

// NextSerial returns a new event serial.
func (m *Manager) NextSerial() uint32 {
	m.serial++
	return m.serial
}

// Focus returns the surface with keyboard focus, or nil.
func (m *Manager) Focus() *Surface {
	return m.Lookup(m.focus)
}

func (m *Manager) SetFocus(s *Surface) {
	if s == nil {
		m.focus = Ref{}
		return
	}
	m.focus = s.ref
}

func (m *Manager) CursorPosition() image.Point {
	return m.cursorPos
}

// MoveCursor moves the cursor and anything attached to it.
func (m *Manager) MoveCursor(p image.Point) {
	if p == m.cursorPos {
		return
	}
	m.cursorPos = p

	var moved []*Surface
	if s := m.Lookup(m.cursor); s != nil {
		moved = append(moved, s)
	}
	if s := m.Lookup(m.dragIcon); s != nil {
		moved = append(moved, s)
	}
	m.refresh(moved...)
}

// SurfaceAt returns the topmost mapped surface whose input region
// contains p, along with p in that surface's coordinates.
func (m *Manager) SurfaceAt(p image.Point) (*Surface, image.Point) {
	for i := len(m.order) - 1; i >= 0; i-- {
		s := m.Lookup(m.order[i])
		if (s == nil) || !s.mapped {
			continue
		}
		switch s.RoleKind() {
		case RoleCursor, RoleDragIcon:
			continue
		}

		local := p.Sub(s.pos)
		if !local.In(image.Rectangle{Max: s.size}) {
			continue
		}
		if s.current.Input.Contains(local) {
			return s, local
		}
	}
	return nil, image.Point{}
}

// DestroyClient destroys every surface belonging to c.
func (m *Manager) DestroyClient(c Client) {
	var surfaces []*Surface
	m.arena.all(func(s *Surface) {
		if s.client == c {
			surfaces = append(surfaces, s)
		}
	})
	for _, s := range surfaces {
		s.Destroy()
	}
}

// update runs f with the scene locked for writing and then runs the
// notifications that f collected.
func (m *Manager) update(f func(n *notes)) {
	var n notes
	m.mu.Lock()
	f(&n)
	m.mu.Unlock()
	n.run()
}

// refresh recomputes the position, mapping and output membership of
// each of surfaces and their descendants. Nil surfaces are skipped.
func (m *Manager) refresh(surfaces ...*Surface) {
	if len(surfaces) == 0 {
		return
	}
	m.update(func(n *notes) {
		for _, s := range surfaces {
			if s != nil {
				s.refreshLocked(n)
			}
		}
	})
}

// restackLocked rebuilds the render order from the root list and
// every surface's children.
func (m *Manager) restackLocked() {
	roots := make([]*Surface, 0, len(m.roots))
	for _, r := range m.roots {
		if s := m.Lookup(r); s != nil {
			roots = append(roots, s)
		}
	}

	order := m.order[:0]
	for b := bandBackground; b <= bandCursor; b++ {
		for _, s := range roots {
			if s.band() == b {
				order = s.appendTree(order)
			}
		}
	}
	m.order = order
}

// notes collects notifications to deliver once the scene lock has been
// released.
type notes []func()

func (n *notes) add(f func()) {
	*n = append(*n, f)
}

func (n *notes) changed(s *Surface, c Change) {
	if c == 0 {
		return
	}
	n.add(func() {
		if s.listener != nil {
			s.listener.Changed(c)
		}
		for _, o := range s.m.observers {
			o.SurfaceChanged(s, c)
		}
	})
}

func (n notes) run() {
	for _, f := range n {
		f()
	}
}

// cascade is the offset between successively placed windows.
const cascade = 32

// placeLocked returns a position for a new window.
func (m *Manager) placeLocked() image.Point {
	var area image.Rectangle
	if m.layout != nil {
		if outputs := m.layout.Outputs(); len(outputs) > 0 {
			area = outputs[0].AvailableGeometry()
		}
	}

	m.placed++
	step := (m.placed - 1) % 8
	return area.Min.Add(image.Pt(step*cascade, step*cascade))
}
