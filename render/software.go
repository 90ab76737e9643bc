// Package render contains painters that draw output frames.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"deedles.dev/wlcomp/output"
	"deedles.dev/wlcomp/region"
)

// idleFrames is how many frames a texture may go unused before it is
// dropped.
const idleFrames = 300

// Filter selects the interpolator used when an item is scaled or
// rotated.
type Filter int

const (
	FilterBilinear Filter = iota
	FilterNearest
	FilterCatmullRom
)

// ParseFilter parses a filter name as used in configuration files.
func ParseFilter(name string) (Filter, error) {
	switch strings.ToLower(name) {
	case "", "bilinear":
		return FilterBilinear, nil
	case "nearest":
		return FilterNearest, nil
	case "catmullrom", "catmull-rom":
		return FilterCatmullRom, nil
	}
	return 0, fmt.Errorf("unknown filter %q", name)
}

func (f Filter) interpolator() draw.Interpolator {
	switch f {
	case FilterNearest:
		return draw.NearestNeighbor
	case FilterCatmullRom:
		return draw.CatmullRom
	default:
		return draw.ApproxBiLinear
	}
}

type texture struct {
	version uint64
	img     image.Image
	used    uint64
}

// Software is a Painter that draws on the CPU. Textures are private
// copies of the items' images, so a Software painter must only be used
// by a single output.
type Software struct {
	Filter     Filter
	Background color.Color

	textures map[uint64]*texture
	frame    uint64

	target draw.Image
	view   output.View
}

func NewSoftware() *Software {
	return &Software{
		Background: color.Black,
		textures:   make(map[uint64]*texture),
	}
}

func (s *Software) Upload(it *output.DrawItem) {
	if it.Image == nil {
		return
	}

	t, ok := s.textures[it.Key]
	if !ok {
		t = &texture{}
		s.textures[it.Key] = t
	} else if (t.version == it.Version) && (t.img != nil) {
		t.used = s.frame
		return
	}

	t.version = it.Version
	t.used = s.frame
	t.img = snapshot(it.Image)
}

// snapshot returns a copy of img that remains valid after img's
// backing memory is given back to its owner.
func snapshot(img image.Image) image.Image {
	if u, ok := img.(*image.Uniform); ok {
		return u
	}

	b := img.Bounds()
	c := image.NewRGBA(image.Rectangle{Max: b.Size()})
	draw.Draw(c, c.Rect, img, b.Min, draw.Src)
	return c
}

func (s *Software) Begin(target draw.Image, v output.View) {
	s.frame++
	s.target = target
	s.view = v
}

func (s *Software) Clear(r region.Region) {
	bg := image.NewUniform(s.Background)
	for _, rect := range r.Rects() {
		draw.Draw(s.target, rect, bg, image.Point{}, draw.Src)
	}
}

func (s *Software) Draw(it *output.DrawItem, clip region.Region) {
	t, ok := s.textures[it.Key]
	if !ok || (t.img == nil) {
		return
	}
	t.used = s.frame

	if u, ok := t.img.(*image.Uniform); ok {
		for _, rect := range clip.Rects() {
			draw.Draw(s.target, rect, u, image.Point{}, draw.Over)
		}
		return
	}

	s2d := itemTransform(it, t.img.Bounds().Size(), s.view)
	interp := s.Filter.interpolator()
	for _, rect := range clip.Rects() {
		interp.Transform(clipImage(s.target, rect), s2d, t.img, t.img.Bounds(), draw.Over, nil)
	}
}

func (s *Software) End() error {
	if s.target == nil {
		return errors.New("end without begin")
	}
	s.target = nil

	for key, t := range s.textures {
		if s.frame-t.used > idleFrames {
			delete(s.textures, key)
		}
	}
	return nil
}

func (s *Software) Resolve(dst draw.Image, dv output.View, src image.Image, sv output.View, damage region.Region) {
	u := dv.Unrotated()
	f := dv.Scale / sv.Scale
	s2d := mul(
		aff(dv.Transform.Coefficients(float64(u.X), float64(u.Y))),
		f64.Aff3{f, 0, 0, 0, f, 0},
	)

	interp := s.Filter.interpolator()
	for _, rect := range damage.Rects() {
		interp.Transform(clipImage(dst, rect), s2d, src, src.Bounds(), draw.Src, nil)
	}
}

func (s *Software) Evict(key uint64) {
	delete(s.textures, key)
}

// itemTransform returns the affine map from the pixels of an item's
// texture, which is size large, to the render target of v.
func itemTransform(it *output.DrawItem, size image.Point, v output.View) f64.Aff3 {
	tw, th := it.Transform.Size(size.X, size.Y)
	m := aff(it.Transform.Coefficients(float64(size.X), float64(size.Y)))

	src := it.Source
	if !src.IsSet() {
		src.W, src.H = float64(tw), float64(th)
	}
	sx := float64(it.Rect.Dx()) / src.W
	sy := float64(it.Rect.Dy()) / src.H
	m = mul(f64.Aff3{
		sx, 0, float64(it.Rect.Min.X) - src.X*sx,
		0, sy, float64(it.Rect.Min.Y) - src.Y*sy,
	}, m)

	m = mul(f64.Aff3{
		v.Scale, 0, -float64(v.Origin.X) * v.Scale,
		0, v.Scale, -float64(v.Origin.Y) * v.Scale,
	}, m)

	u := v.Unrotated()
	return mul(aff(v.Transform.Coefficients(float64(u.X), float64(u.Y))), m)
}

func aff(c [6]float64) f64.Aff3 {
	return f64.Aff3(c)
}

// mul returns the affine map that applies b and then a.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// clipImage returns a view of img restricted to r.
func clipImage(img draw.Image, r image.Rectangle) draw.Image {
	if si, ok := img.(subImager); ok {
		if sub, ok := si.SubImage(r).(draw.Image); ok {
			return sub
		}
	}
	return clipped{Image: img, r: r.Intersect(img.Bounds())}
}

type clipped struct {
	draw.Image
	r image.Rectangle
}

func (c clipped) Bounds() image.Rectangle {
	return c.r
}
