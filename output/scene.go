package output

import (
	"image"
	"image/draw"
	"math"
	"sync"
	"time"

	"deedles.dev/wlcomp/geom"
	"deedles.dev/wlcomp/region"
)

// FrameCallback is a request to be told when a good time to draw a new
// frame is. Done is called at most once.
type FrameCallback interface {
	Done(t time.Time)
}

// Feedback tracks whether a particular commit's content reached the
// screen. Exactly one of its methods is eventually called.
type Feedback interface {
	Presented(o *Output, t PresentTime)
	Discarded()
}

// DrawItem is one entry of a frame's paint list, back to front.
type DrawItem struct {
	// Key identifies the surface that the item was produced from.
	Key uint64

	// Version changes whenever the item's image content does.
	Version uint64

	Image image.Image

	// Rect is where the item is drawn, in global logical coordinates.
	Rect image.Rectangle

	// Source is the part of the image that is shown, in buffer
	// coordinates after Transform has been applied. If it is unset,
	// the whole image is used.
	Source    geom.FRect
	Transform geom.Transform

	// Opaque is the part of Rect that the item fully covers, in global
	// logical coordinates.
	Opaque region.Region

	Cursor  bool
	Hotspot image.Point

	Callbacks []FrameCallback
	Feedback  []Feedback
}

// Frame is a single dispatched paint.
type Frame struct {
	ID    uint64
	Items []*DrawItem

	// Damage is the fresh damage that this frame consumed.
	Damage region.Region

	// Repaint is the area that was actually redrawn, including damage
	// carried over from older frames because of the image's age.
	Repaint region.Region

	Image Image
}

// Scene is the source of the surfaces that outputs draw.
type Scene interface {
	// RLocker returns the lock that serializes reads of the scene from
	// output goroutines against mutation by the dispatch goroutine.
	RLocker() sync.Locker

	// Collect appends the items visible on o to f.Items, back to front,
	// and hands over their pending frame callbacks and presentation
	// feedback. It is called with RLocker held.
	Collect(o *Output, f *Frame)

	// Requeue gives frame callbacks of a frame that was not presented
	// back to their surfaces so that they fire with a later frame.
	Requeue(f *Frame)
}

// View describes how global logical coordinates map onto a render
// target.
type View struct {
	Origin    image.Point
	Size      image.Point
	Scale     float64
	Transform geom.Transform
}

// Unrotated returns the size of the render target before the view's
// transform is applied.
func (v View) Unrotated() image.Point {
	return image.Pt(
		int(math.Ceil(float64(v.Size.X)*v.Scale)),
		int(math.Ceil(float64(v.Size.Y)*v.Scale)),
	)
}

// RenderSize returns the size of the render target.
func (v View) RenderSize() image.Point {
	u := v.Unrotated()
	w, h := v.Transform.Size(u.X, u.Y)
	return image.Pt(w, h)
}

// Region maps r from global logical coordinates into render target
// coordinates.
func (v View) Region(r region.Region) region.Region {
	u := v.Unrotated()
	return r.IntersectRect(image.Rectangle{Min: v.Origin, Max: v.Origin.Add(v.Size)}).
		Translate(v.Origin.Mul(-1)).
		Scale(v.Scale).
		IntersectRect(image.Rectangle{Max: u}).
		Transform(v.Transform, u.X, u.Y)
}

// Painter draws frames. Every method is called from the goroutine of
// the output that owns the painter.
type Painter interface {
	// Upload prepares whatever the painter needs to draw it later. It
	// is called with the scene locked, so it is the last point at which
	// it.Image may be read.
	Upload(it *DrawItem)

	Begin(target draw.Image, v View)
	Clear(r region.Region)
	Draw(it *DrawItem, clip region.Region)
	End() error

	// Resolve copies src, rendered with view sv, into dst, rendered
	// with view dv, scaling as necessary. Only the part of dst within
	// damage, in dst's coordinates, is written.
	Resolve(dst draw.Image, dv View, src image.Image, sv View, damage region.Region)

	// Evict drops any resources associated with the item key.
	Evict(key uint64)
}

// Listener receives notifications about outputs in a Layout. Methods
// may be called from any goroutine. The output is torn down once
// OutputRemoved returns.
type Listener interface {
	OutputAdded(o *Output)
	OutputRemoved(o *Output)
	AvailableGeometryChanged(o *Output)
}
