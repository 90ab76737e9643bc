package output

import (
	"fmt"
	"image"

	"deedles.dev/wlcomp/internal/xslices"
)

// Edge is a side of an output.
type Edge int

const (
	EdgeTop Edge = iota
	EdgeBottom
	EdgeLeft
	EdgeRight
)

func (e Edge) String() string {
	switch e {
	case EdgeTop:
		return "top"
	case EdgeBottom:
		return "bottom"
	case EdgeLeft:
		return "left"
	case EdgeRight:
		return "right"
	}
	return fmt.Sprintf("Edge(%d)", int(e))
}

// ExclusiveZone is a strip along one edge of an output that other
// surfaces should not cover, such as the area occupied by a panel.
// Zones on the same edge stack in the order that they were added.
type ExclusiveZone struct {
	o    *Output
	edge Edge
	size int
	rect image.Rectangle
}

// AddZone reserves size logical pixels along edge.
func (o *Output) AddZone(edge Edge, size int) *ExclusiveZone {
	z := ExclusiveZone{o: o, edge: edge, size: size}
	o.updateZones(func() {
		o.zones = append(o.zones, &z)
	})
	return &z
}

// AvailableGeometry returns the part of the output's rectangle that is
// not covered by exclusive zones.
func (o *Output) AvailableGeometry() image.Rectangle {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.avail
}

func (o *Output) updateZones(f func()) {
	o.mu.Lock()
	f()
	changed := o.computeAvailableGeometryLocked()
	layout := o.layout
	o.mu.Unlock()

	if !changed {
		return
	}
	o.ScheduleRepaint()
	if layout != nil {
		layout.notifyAvailable(o)
	}
}

// computeAvailableGeometryLocked recomputes the available geometry from
// scratch. It reports whether it changed.
func (o *Output) computeAvailableGeometryLocked() bool {
	avail := o.rectLocked()
	for _, z := range o.zones {
		z.rect = z.reserve(avail)
		switch z.edge {
		case EdgeTop:
			avail.Min.Y = z.rect.Max.Y
		case EdgeBottom:
			avail.Max.Y = z.rect.Min.Y
		case EdgeLeft:
			avail.Min.X = z.rect.Max.X
		case EdgeRight:
			avail.Max.X = z.rect.Min.X
		}
	}

	changed := avail != o.avail
	o.avail = avail
	return changed
}

func (z *ExclusiveZone) reserve(avail image.Rectangle) image.Rectangle {
	size := max(z.size, 0)
	switch z.edge {
	case EdgeTop:
		size = min(size, avail.Dy())
		return image.Rect(avail.Min.X, avail.Min.Y, avail.Max.X, avail.Min.Y+size)
	case EdgeBottom:
		size = min(size, avail.Dy())
		return image.Rect(avail.Min.X, avail.Max.Y-size, avail.Max.X, avail.Max.Y)
	case EdgeLeft:
		size = min(size, avail.Dx())
		return image.Rect(avail.Min.X, avail.Min.Y, avail.Min.X+size, avail.Max.Y)
	case EdgeRight:
		size = min(size, avail.Dx())
		return image.Rect(avail.Max.X-size, avail.Min.Y, avail.Max.X, avail.Max.Y)
	}
	return image.Rectangle{}
}

func (z *ExclusiveZone) Output() *Output {
	return z.o
}

func (z *ExclusiveZone) Edge() Edge {
	z.o.mu.Lock()
	defer z.o.mu.Unlock()

	return z.edge
}

func (z *ExclusiveZone) Size() int {
	z.o.mu.Lock()
	defer z.o.mu.Unlock()

	return z.size
}

// Rect returns the area that the zone currently reserves.
func (z *ExclusiveZone) Rect() image.Rectangle {
	z.o.mu.Lock()
	defer z.o.mu.Unlock()

	return z.rect
}

func (z *ExclusiveZone) SetSize(size int) {
	z.o.updateZones(func() {
		z.size = size
	})
}

func (z *ExclusiveZone) SetEdge(edge Edge) {
	z.o.updateZones(func() {
		z.edge = edge
	})
}

// Raise moves the zone to the front of the stacking order so that it
// is placed against the output's edge before any other zone.
func (z *ExclusiveZone) Raise() {
	z.o.updateZones(func() {
		z.o.zones = xslices.Prepend(z.o.removeZone(z), z)
	})
}

// Lower moves the zone to the back of the stacking order.
func (z *ExclusiveZone) Lower() {
	z.o.updateZones(func() {
		z.o.zones = append(z.o.removeZone(z), z)
	})
}

// Remove releases the zone. Calling it more than once has no effect.
func (z *ExclusiveZone) Remove() {
	z.o.updateZones(func() {
		z.o.zones = z.o.removeZone(z)
		z.rect = image.Rectangle{}
	})
}

func (o *Output) removeZone(z *ExclusiveZone) []*ExclusiveZone {
	return xslices.Filter(o.zones, func(v *ExclusiveZone) bool { return v != z })
}
