package surface

import (
	"image"

	"deedles.dev/wlcomp/output"
)

// Layer is one of the stacking levels that layer surfaces are placed
// in.
type Layer int

const (
	LayerBackground Layer = iota
	LayerBottom
	LayerTop
	LayerOverlay
)

func (l Layer) band() band {
	switch l {
	case LayerBackground:
		return bandBackground
	case LayerBottom:
		return bandBottom
	case LayerTop:
		return bandTop
	default:
		return bandOverlay
	}
}

// Margins are distances kept from the anchored edges of an output.
type Margins struct {
	Top, Bottom, Left, Right int
}

// LayerHandler sends a layer surface's events to its client.
type LayerHandler interface {
	Configure(serial uint32, size image.Point)
	Closed()
}

type layerState struct {
	layer     Layer
	size      image.Point
	anchor    Anchor
	margins   Margins
	exclusive int
}

// LayerSurface is the role of a surface, such as a panel or a
// wallpaper, that is attached to the edges of an output.
type LayerSurface struct {
	configurable

	h LayerHandler
	o *output.Output

	pending layerState
	current layerState

	zone *output.ExclusiveZone
	rect image.Rectangle
}

// NewLayerSurface makes s into a layer surface on o.
func NewLayerSurface(s *Surface, o *output.Output, layer Layer, h LayerHandler) (*LayerSurface, error) {
	if layer < LayerBackground || layer > LayerOverlay {
		return nil, protocolErrorf(ErrBadValue, "invalid layer %v", int(layer))
	}
	if s.current.Buffer != nil {
		return nil, protocolErrorf(ErrAlreadyConstructed, "%v already has a buffer", s)
	}

	l := LayerSurface{
		configurable: configurable{roleBase: roleBase{s: s}},
		h:            h,
		o:            o,
		pending:      layerState{layer: layer},
		current:      layerState{layer: layer},
	}
	err := s.setRole(&l)
	if err != nil {
		return nil, err
	}

	s.m.update(func(n *notes) {
		s.m.roots = append(s.m.roots, s.ref)
		s.m.restackLocked()
	})
	return &l, nil
}

func (l *LayerSurface) Kind() RoleKind { return RoleLayer }
func (l *LayerSurface) band() band     { return l.current.layer.band() }

func (l *LayerSurface) Output() *output.Output {
	return l.o
}

func (l *LayerSurface) Pos() image.Point {
	return l.rect.Min
}

func (l *LayerSurface) Mappable() bool {
	return l.acked && (l.o != nil)
}

func (l *LayerSurface) SetSize(size image.Point) error {
	if (size.X < 0) || (size.Y < 0) {
		return protocolErrorf(ErrInvalidSize, "negative size %v", size)
	}
	l.pending.size = size
	return nil
}

func (l *LayerSurface) SetAnchor(a Anchor) error {
	if a&^(AnchorTop|AnchorBottom|AnchorLeft|AnchorRight) != 0 {
		return protocolErrorf(ErrInvalidAnchor, "invalid anchor %v", uint32(a))
	}
	l.pending.anchor = a
	return nil
}

func (l *LayerSurface) SetMargins(m Margins) {
	l.pending.margins = m
}

// SetExclusiveZone asks for size logical pixels along the anchored
// edge to be kept clear. Zero asks to be moved out of other surfaces'
// zones and a negative value asks to ignore them.
func (l *LayerSurface) SetExclusiveZone(size int) {
	l.pending.exclusive = size
}

func (l *LayerSurface) SetLayer(layer Layer) error {
	if layer < LayerBackground || layer > LayerOverlay {
		return protocolErrorf(ErrBadValue, "invalid layer %v", int(layer))
	}
	l.pending.layer = layer
	return nil
}

func (l *LayerSurface) AcceptCommit(pending *State) error {
	st := l.pending
	horiz := AnchorLeft | AnchorRight
	vert := AnchorTop | AnchorBottom
	if (st.size.X == 0) && (st.anchor&horiz != horiz) {
		return protocolErrorf(ErrInvalidSize, "zero width without anchoring to both left and right")
	}
	if (st.size.Y == 0) && (st.anchor&vert != vert) {
		return protocolErrorf(ErrInvalidSize, "zero height without anchoring to both top and bottom")
	}
	if _, ok := zoneEdge(st.anchor); (st.exclusive > 0) && !ok {
		return protocolErrorf(ErrInvalidExclusiveZone, "exclusive zone with ambiguous anchor %v", uint32(st.anchor))
	}
	return l.acceptBuffer(pending)
}

func (l *LayerSurface) applied(c Change, n *notes) {
	old := l.current
	l.current = l.pending
	if l.current.layer != old.layer {
		l.s.m.restackLocked()
	}

	if l.o != nil {
		l.updateZone()
	}

	if (c&ChangeBuffer != 0) && (l.s.current.Buffer == nil) && l.acked {
		l.reset()
		return
	}
	if !l.sent || (l.current.size != old.size) || (l.current.anchor != old.anchor) || (l.current.margins != old.margins) {
		l.arrange(n)
		l.sent = true
	}
}

// updateZone adds, resizes or removes the surface's exclusive zone.
func (l *LayerSurface) updateZone() {
	edge, ok := zoneEdge(l.current.anchor)
	size := l.current.exclusive
	if !ok || (size <= 0) {
		if l.zone != nil {
			l.zone.Remove()
			l.zone = nil
		}
		return
	}

	switch edge {
	case output.EdgeTop:
		size += l.current.margins.Top
	case output.EdgeBottom:
		size += l.current.margins.Bottom
	case output.EdgeLeft:
		size += l.current.margins.Left
	case output.EdgeRight:
		size += l.current.margins.Right
	}

	if l.zone == nil {
		l.zone = l.o.AddZone(edge, size)
		return
	}
	l.zone.SetEdge(edge)
	l.zone.SetSize(size)
}

// bounds returns the area that the surface is placed in.
func (l *LayerSurface) bounds() image.Rectangle {
	if l.current.exclusive < 0 {
		return l.o.Rect()
	}
	if l.zone != nil {
		// A surface's own zone does not push it away from its edge.
		return l.zone.Rect().Union(l.o.AvailableGeometry())
	}
	return l.o.AvailableGeometry()
}

// arrange places the surface according to its anchors and sends a
// configure with the resulting size.
func (l *LayerSurface) arrange(n *notes) {
	if l.o == nil {
		return
	}

	st := l.current
	b := l.bounds()
	size := st.size
	if size.X == 0 {
		size.X = b.Dx() - st.margins.Left - st.margins.Right
	}
	if size.Y == 0 {
		size.Y = b.Dy() - st.margins.Top - st.margins.Bottom
	}

	var p image.Point
	switch st.anchor & (AnchorLeft | AnchorRight) {
	case AnchorLeft, AnchorLeft | AnchorRight:
		p.X = b.Min.X + st.margins.Left
	case AnchorRight:
		p.X = b.Max.X - st.margins.Right - size.X
	default:
		p.X = b.Min.X + (b.Dx()-size.X)/2
	}
	switch st.anchor & (AnchorTop | AnchorBottom) {
	case AnchorTop, AnchorTop | AnchorBottom:
		p.Y = b.Min.Y + st.margins.Top
	case AnchorBottom:
		p.Y = b.Max.Y - st.margins.Bottom - size.Y
	default:
		p.Y = b.Min.Y + (b.Dy()-size.Y)/2
	}

	changed := l.rect.Size() != size
	l.rect = image.Rectangle{Min: p, Max: p.Add(size)}
	if changed || !l.sent {
		n.add(func() {
			if l.s.destroyed || (l.h == nil) {
				return
			}
			serial := l.nextSerial()
			l.h.Configure(serial, size)
		})
	}
}

func (l *LayerSurface) availableChanged(o *output.Output, n *notes) {
	if (o != l.o) || !l.sent {
		return
	}
	l.arrange(n)
	l.s.refreshLocked(n)
}

func (l *LayerSurface) outputRemoved(o *output.Output, n *notes) {
	if o != l.o {
		return
	}
	l.o = nil
	l.zone = nil
	n.add(func() {
		if l.h != nil {
			l.h.Closed()
		}
	})
}

func (l *LayerSurface) destroy() {
	if l.zone != nil {
		l.zone.Remove()
		l.zone = nil
	}
}

func (l *LayerSurface) Destroy() {
	l.s.clearRole(l)
}

// zoneEdge returns the edge that a surface with anchor a reserves an
// exclusive zone on: a single anchored edge, or one edge together with
// both edges perpendicular to it.
func zoneEdge(a Anchor) (output.Edge, bool) {
	switch a {
	case AnchorTop, AnchorTop | AnchorLeft | AnchorRight:
		return output.EdgeTop, true
	case AnchorBottom, AnchorBottom | AnchorLeft | AnchorRight:
		return output.EdgeBottom, true
	case AnchorLeft, AnchorLeft | AnchorTop | AnchorBottom:
		return output.EdgeLeft, true
	case AnchorRight, AnchorRight | AnchorTop | AnchorBottom:
		return output.EdgeRight, true
	}
	return 0, false
}
