package geom

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformRoundTrip(t *testing.T) {
	const w, h = 40, 30
	r := image.Rect(3, 5, 10, 12)

	for tr := Normal; tr <= Flipped270; tr++ {
		tw, th := tr.Size(w, h)
		out := tr.Rect(r, w, h)
		assert.True(t, out.In(image.Rect(0, 0, tw, th)), "%v: %v", tr, out)
		assert.Equal(t, r, tr.Invert().Rect(out, tw, th), "%v", tr)
	}
}

func TestTransformCoefficientsMatchPoint(t *testing.T) {
	const w, h = 17, 9
	p := image.Pt(4, 2)

	for tr := Normal; tr <= Flipped270; tr++ {
		c := tr.Coefficients(w, h)
		x := c[0]*float64(p.X) + c[1]*float64(p.Y) + c[2]
		y := c[3]*float64(p.X) + c[4]*float64(p.Y) + c[5]
		assert.Equal(t, tr.Point(p, w, h), image.Pt(int(x), int(y)), "%v", tr)
	}
}

func TestParseTransform(t *testing.T) {
	for tr := Normal; tr <= Flipped270; tr++ {
		parsed, err := ParseTransform(tr.String())
		require.NoError(t, err)
		assert.Equal(t, tr, parsed)
	}

	_, err := ParseTransform("sideways")
	assert.Error(t, err)
	assert.False(t, Transform(8).Valid())
}
