// Package geom contains the geometric primitives shared by surfaces
// and outputs: buffer/output transforms and fractional rectangles.
package geom

import (
	"fmt"
	"image"
	"strings"
)

// Transform is one of the eight wl_output.transform values. The
// numeric values match the protocol.
type Transform int32

const (
	Normal Transform = iota
	Rotate90
	Rotate180
	Rotate270
	Flipped
	Flipped90
	Flipped180
	Flipped270
)

var transformNames = [...]string{
	Normal:     "normal",
	Rotate90:   "90",
	Rotate180:  "180",
	Rotate270:  "270",
	Flipped:    "flipped",
	Flipped90:  "flipped-90",
	Flipped180: "flipped-180",
	Flipped270: "flipped-270",
}

// ParseTransform parses the names returned by Transform.String. The
// empty string parses as Normal.
func ParseTransform(str string) (Transform, error) {
	str = strings.ToLower(strings.TrimSpace(str))
	if str == "" {
		return Normal, nil
	}
	for t, name := range transformNames {
		if name == str {
			return Transform(t), nil
		}
	}
	return Normal, fmt.Errorf("unknown transform %q", str)
}

func (t Transform) Valid() bool {
	return (t >= Normal) && (t <= Flipped270)
}

func (t Transform) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Transform(%d)", int32(t))
	}
	return transformNames[t]
}

// Rotated reports whether t swaps the width and height of whatever it
// is applied to.
func (t Transform) Rotated() bool {
	return t&1 != 0
}

// Invert returns the transform that undoes t.
func (t Transform) Invert() Transform {
	switch t {
	case Rotate90:
		return Rotate270
	case Rotate270:
		return Rotate90
	default:
		return t
	}
}

// Size returns the size of a w×h area after t has been applied to it.
func (t Transform) Size(w, h int) (int, int) {
	if t.Rotated() {
		return h, w
	}
	return w, h
}

// Point maps p, inside of a w×h area, through t.
func (t Transform) Point(p image.Point, w, h int) image.Point {
	x, y := p.X, p.Y
	switch t {
	case Rotate90:
		return image.Pt(h-y, x)
	case Rotate180:
		return image.Pt(w-x, h-y)
	case Rotate270:
		return image.Pt(y, w-x)
	case Flipped:
		return image.Pt(w-x, y)
	case Flipped90:
		return image.Pt(y, x)
	case Flipped180:
		return image.Pt(x, h-y)
	case Flipped270:
		return image.Pt(h-y, w-x)
	default:
		return p
	}
}

// Rect maps r, inside of a w×h area, through t. The result lies inside
// of the area returned by t.Size(w, h).
func (t Transform) Rect(r image.Rectangle, w, h int) image.Rectangle {
	return image.Rectangle{
		Min: t.Point(r.Min, w, h),
		Max: t.Point(r.Max, w, h),
	}.Canon()
}

// Coefficients returns the affine map performed by Point for a w×h
// area, as the row-major entries of a 2×3 matrix.
func (t Transform) Coefficients(w, h float64) [6]float64 {
	switch t {
	case Rotate90:
		return [6]float64{0, -1, h, 1, 0, 0}
	case Rotate180:
		return [6]float64{-1, 0, w, 0, -1, h}
	case Rotate270:
		return [6]float64{0, 1, 0, -1, 0, w}
	case Flipped:
		return [6]float64{-1, 0, w, 0, 1, 0}
	case Flipped90:
		return [6]float64{0, 1, 0, 1, 0, 0}
	case Flipped180:
		return [6]float64{1, 0, 0, 0, -1, h}
	case Flipped270:
		return [6]float64{0, -1, h, -1, 0, w}
	default:
		return [6]float64{1, 0, 0, 0, 1, 0}
	}
}
