// Package region implements sets of pixels described as unions of
// rectangles, in the manner of pixman regions. Regions are immutable
// values; every operation returns a new Region.
package region

import (
	"fmt"
	"image"
	"math"
	"strings"

	"deedles.dev/wlcomp/geom"
)

// Region is a set of pixels stored as non-overlapping rectangles. The
// zero Region is empty.
type Region struct {
	rects []image.Rectangle
}

// infinite is large enough to cover any coordinate space a compositor
// deals with while leaving headroom for translation.
var infinite = image.Rect(math.MinInt32/2, math.MinInt32/2, math.MaxInt32/2, math.MaxInt32/2)

// Infinite returns a region covering every pixel.
func Infinite() Region {
	return Region{rects: []image.Rectangle{infinite}}
}

// New returns the union of rects.
func New(rects ...image.Rectangle) (r Region) {
	for _, rect := range rects {
		r = r.UnionRect(rect)
	}
	return r
}

// Rects returns the rectangles making up r. The caller must not modify
// the returned slice.
func (r Region) Rects() []image.Rectangle {
	return r.rects
}

func (r Region) Empty() bool {
	return len(r.rects) == 0
}

// IsInfinite reports whether r was derived from Infinite without
// being clipped.
func (r Region) IsInfinite() bool {
	return (len(r.rects) == 1) && (r.rects[0] == infinite)
}

// Bounds returns the smallest rectangle containing all of r.
func (r Region) Bounds() (b image.Rectangle) {
	for _, rect := range r.rects {
		b = b.Union(rect)
	}
	return b
}

// Area returns the number of pixels in r.
func (r Region) Area() (a int) {
	for _, rect := range r.rects {
		a += rect.Dx() * rect.Dy()
	}
	return a
}

func (r Region) Contains(p image.Point) bool {
	for _, rect := range r.rects {
		if p.In(rect) {
			return true
		}
	}
	return false
}

func (r Region) UnionRect(rect image.Rectangle) Region {
	if rect.Empty() {
		return r
	}

	pieces := []image.Rectangle{rect}
	for _, existing := range r.rects {
		pieces = subtractAll(pieces, existing)
		if len(pieces) == 0 {
			return r
		}
	}

	rects := make([]image.Rectangle, 0, len(r.rects)+len(pieces))
	rects = append(rects, r.rects...)
	return Region{rects: append(rects, pieces...)}
}

func (r Region) Union(o Region) Region {
	if r.Empty() {
		return o
	}
	for _, rect := range o.rects {
		r = r.UnionRect(rect)
	}
	return r
}

func (r Region) SubtractRect(rect image.Rectangle) Region {
	if rect.Empty() || r.Empty() {
		return r
	}
	return Region{rects: subtractAll(r.rects, rect)}
}

func (r Region) Subtract(o Region) Region {
	for _, rect := range o.rects {
		if r.Empty() {
			break
		}
		r = r.SubtractRect(rect)
	}
	return r
}

func (r Region) IntersectRect(rect image.Rectangle) Region {
	var rects []image.Rectangle
	for _, existing := range r.rects {
		i := existing.Intersect(rect)
		if !i.Empty() {
			rects = append(rects, i)
		}
	}
	return Region{rects: rects}
}

func (r Region) Intersect(o Region) Region {
	var rects []image.Rectangle
	for _, a := range r.rects {
		for _, b := range o.rects {
			i := a.Intersect(b)
			if !i.Empty() {
				rects = append(rects, i)
			}
		}
	}
	return Region{rects: rects}
}

// Overlaps reports whether r and rect share at least one pixel.
func (r Region) Overlaps(rect image.Rectangle) bool {
	for _, existing := range r.rects {
		if existing.Overlaps(rect) {
			return true
		}
	}
	return false
}

func (r Region) Translate(p image.Point) Region {
	if (p == image.Point{}) || r.IsInfinite() {
		return r
	}

	rects := make([]image.Rectangle, len(r.rects))
	for i, rect := range r.rects {
		rects[i] = rect.Add(p)
	}
	return Region{rects: rects}
}

// Scale scales r by f, rounding outwards so that the result covers
// every pixel that the scaled area touches.
func (r Region) Scale(f float64) Region {
	return r.ScaleXY(f, f)
}

func (r Region) ScaleXY(fx, fy float64) Region {
	if ((fx == 1) && (fy == 1)) || r.IsInfinite() {
		return r
	}

	var s Region
	for _, rect := range r.rects {
		s = s.UnionRect(image.Rect(
			int(math.Floor(float64(rect.Min.X)*fx)),
			int(math.Floor(float64(rect.Min.Y)*fy)),
			int(math.Ceil(float64(rect.Max.X)*fx)),
			int(math.Ceil(float64(rect.Max.Y)*fy)),
		))
	}
	return s
}

// Transform maps r, which lies in a w×h area, through t.
func (r Region) Transform(t geom.Transform, w, h int) Region {
	if t == geom.Normal {
		return r
	}

	rects := make([]image.Rectangle, len(r.rects))
	for i, rect := range r.rects {
		rects[i] = t.Rect(rect, w, h)
	}
	return Region{rects: rects}
}

// Equal reports whether r and o cover exactly the same pixels,
// regardless of how each is split into rectangles.
func (r Region) Equal(o Region) bool {
	return r.Subtract(o).Empty() && o.Subtract(r).Empty()
}

func (r Region) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, rect := range r.rects {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprint(&sb, rect)
	}
	sb.WriteByte('}')
	return sb.String()
}

func subtractAll(rects []image.Rectangle, cut image.Rectangle) []image.Rectangle {
	out := make([]image.Rectangle, 0, len(rects))
	for _, rect := range rects {
		out = subtract(out, rect, cut)
	}
	return out
}

// subtract appends the parts of a not covered by b to dst. At most
// four rectangles are produced: full-width bands above and below b and
// the pieces to its left and right.
func subtract(dst []image.Rectangle, a, b image.Rectangle) []image.Rectangle {
	if !a.Overlaps(b) {
		return append(dst, a)
	}

	if a.Min.Y < b.Min.Y {
		dst = append(dst, image.Rect(a.Min.X, a.Min.Y, a.Max.X, b.Min.Y))
	}
	if b.Max.Y < a.Max.Y {
		dst = append(dst, image.Rect(a.Min.X, b.Max.Y, a.Max.X, a.Max.Y))
	}

	top, bottom := max(a.Min.Y, b.Min.Y), min(a.Max.Y, b.Max.Y)
	if a.Min.X < b.Min.X {
		dst = append(dst, image.Rect(a.Min.X, top, b.Min.X, bottom))
	}
	if b.Max.X < a.Max.X {
		dst = append(dst, image.Rect(b.Max.X, top, a.Max.X, bottom))
	}
	return dst
}
