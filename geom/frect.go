package geom

import (
	"image"
	"math"
)

// FRect is a rectangle with fractional coordinates, such as a viewport
// source rectangle. A zero FRect is considered unset.
type FRect struct {
	X, Y, W, H float64
}

func (r FRect) IsSet() bool {
	return r != (FRect{})
}

// Outer returns the smallest integer rectangle containing r.
func (r FRect) Outer() image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X)),
		int(math.Floor(r.Y)),
		int(math.Ceil(r.X+r.W)),
		int(math.Ceil(r.Y+r.H)),
	)
}

// Integral reports whether r's size is a whole number in both
// dimensions.
func (r FRect) Integral() bool {
	return (r.W == math.Trunc(r.W)) && (r.H == math.Trunc(r.H))
}

// Within reports whether r lies entirely inside of a w×h area.
func (r FRect) Within(w, h int) bool {
	return (r.X >= 0) && (r.Y >= 0) && (r.X+r.W <= float64(w)) && (r.Y+r.H <= float64(h))
}
