package surface

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deedles.dev/wlcomp/output"
)

func TestPositionerPlace(t *testing.T) {
	tests := []struct {
		name   string
		p      Positioner
		bounds image.Rectangle
		out    image.Rectangle
	}{
		{
			name: "BottomRight",
			p: Positioner{
				Size:       image.Pt(50, 30),
				AnchorRect: image.Rect(10, 10, 20, 20),
				Anchor:     AnchorBottom | AnchorRight,
				Gravity:    AnchorBottom | AnchorRight,
			},
			out: image.Rect(20, 20, 70, 50),
		},
		{
			name: "Centered",
			p: Positioner{
				Size:       image.Pt(50, 30),
				AnchorRect: image.Rect(10, 10, 20, 20),
			},
			out: image.Rect(-10, 0, 40, 30),
		},
		{
			name: "Offset",
			p: Positioner{
				Size:       image.Pt(10, 10),
				AnchorRect: image.Rect(0, 0, 10, 10),
				Anchor:     AnchorTop | AnchorLeft,
				Gravity:    AnchorBottom | AnchorRight,
				Offset:     image.Pt(3, 4),
			},
			out: image.Rect(3, 4, 13, 14),
		},
		{
			name: "FlipX",
			p: Positioner{
				Size:       image.Pt(50, 30),
				AnchorRect: image.Rect(60, 10, 70, 20),
				Anchor:     AnchorRight,
				Gravity:    AnchorRight,
				Adjustment: AdjustFlipX,
			},
			bounds: image.Rect(0, 0, 100, 100),
			out:    image.Rect(10, 0, 60, 30),
		},
		{
			name: "SlideX",
			p: Positioner{
				Size:       image.Pt(50, 30),
				AnchorRect: image.Rect(60, 10, 70, 20),
				Anchor:     AnchorRight,
				Gravity:    AnchorRight,
				Adjustment: AdjustSlideX,
			},
			bounds: image.Rect(0, 0, 100, 100),
			out:    image.Rect(50, 0, 100, 30),
		},
		{
			name: "Unconstrained",
			p: Positioner{
				Size:       image.Pt(50, 30),
				AnchorRect: image.Rect(60, 10, 70, 20),
				Anchor:     AnchorRight,
				Gravity:    AnchorRight,
			},
			bounds: image.Rect(0, 0, 100, 100),
			out:    image.Rect(70, 0, 120, 30),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.NoError(t, test.p.Validate())
			assert.Equal(t, test.out, test.p.Place(test.bounds))
		})
	}
}

func TestPositionerValidate(t *testing.T) {
	err := Positioner{}.Validate()
	assert.True(t, IsProtocolError(err, ErrInvalidGeometry), "%v", err)

	err = Positioner{Size: image.Pt(1, 1), Anchor: AnchorLeft | AnchorRight}.Validate()
	assert.True(t, IsProtocolError(err, ErrInvalidAnchor), "%v", err)
}

func TestPopup(t *testing.T) {
	tm := newTestManager(t)
	parent, top, _ := tm.mapToplevel(t, 100, 100)
	top.Move(image.Pt(200, 100))

	s := tm.Create(fakeClient{})
	h := &fakePopup{}
	pop, err := NewPopup(s, parent, Positioner{
		Size:       image.Pt(40, 20),
		AnchorRect: image.Rect(10, 10, 20, 20),
		Anchor:     AnchorBottom | AnchorLeft,
		Gravity:    AnchorBottom | AnchorRight,
	}, h)
	require.NoError(t, err)

	require.NoError(t, s.Commit())
	require.Len(t, h.configures, 1)
	assert.Equal(t, image.Rect(10, 20, 50, 40), h.configures[0])

	require.NoError(t, pop.AckConfigure(h.serials[0]))
	s.Attach(newBuffer(40, 20), image.Point{})
	require.NoError(t, s.Commit())
	assert.True(t, s.Mapped())
	assert.Equal(t, image.Pt(210, 120), s.Pos())
	assert.Equal(t, []*Surface{parent, s}, tm.Surfaces())

	parent.Attach(nil, image.Point{})
	require.NoError(t, parent.Commit())
	assert.False(t, s.Mapped())
	tm.drain()
	assert.Equal(t, 1, h.done)
	assert.True(t, pop.Dismissed())
}

func TestPopupDismissedWithParent(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)

	s := tm.Create(fakeClient{})
	h := &fakePopup{}
	_, err := NewPopup(s, parent, Positioner{Size: image.Pt(10, 10)}, h)
	require.NoError(t, err)

	parent.Destroy()
	assert.Equal(t, 1, h.done)
	assert.Nil(t, s.Parent())
}

func TestToplevelMaximize(t *testing.T) {
	tm := newTestManager(t)
	o := newOutput()
	s, top, h := tm.mapToplevel(t, 100, 100)

	top.SetMaximized(o)
	assert.Equal(t, ToplevelMaximized, h.last().states)
	assert.Equal(t, o.Size(), h.last().size)

	zone := o.AddZone(output.EdgeTop, 30)
	tm.AvailableGeometryChanged(o)
	tm.drain()
	assert.Equal(t, image.Pt(o.Size().X, o.Size().Y-30), h.last().size)
	assert.Equal(t, image.Pt(0, 30), s.Pos())

	zone.Remove()
	tm.OutputRemoved(o)
	tm.drain()
	assert.Zero(t, h.last().states&ToplevelMaximized)
	assert.Equal(t, image.Point{}, h.last().size)
}

func TestToplevelWindowGeometry(t *testing.T) {
	tm := newTestManager(t)
	s, top, _ := tm.mapToplevel(t, 120, 120)
	top.Move(image.Pt(100, 100))

	require.NoError(t, top.SetWindowGeometry(image.Rect(10, 10, 110, 110)))
	assert.Equal(t, image.Pt(100, 100), s.Pos())

	require.NoError(t, s.Commit())
	assert.Equal(t, image.Rect(10, 10, 110, 110), top.WindowGeometry())
	assert.Equal(t, image.Pt(90, 90), s.Pos())

	err := top.SetWindowGeometry(image.Rect(0, 0, 0, 10))
	assert.True(t, IsProtocolError(err, ErrInvalidSize), "%v", err)
}

func TestLayerSurface(t *testing.T) {
	tm := newTestManager(t)
	o := newOutput()
	size := o.Size()

	s := tm.Create(fakeClient{})
	h := &fakeLayer{}
	l, err := NewLayerSurface(s, o, LayerTop, h)
	require.NoError(t, err)

	require.NoError(t, l.SetAnchor(AnchorTop))
	require.NoError(t, l.SetSize(image.Pt(0, 30)))
	err = s.Commit()
	assert.True(t, IsProtocolError(err, ErrInvalidSize), "%v", err)

	require.NoError(t, l.SetAnchor(AnchorTop|AnchorLeft|AnchorRight))
	l.SetExclusiveZone(30)
	require.NoError(t, s.Commit())
	require.Len(t, h.sizes, 1)
	assert.Equal(t, image.Pt(size.X, 30), h.sizes[0])
	assert.Equal(t, image.Rect(0, 30, size.X, size.Y), o.AvailableGeometry())

	require.NoError(t, l.AckConfigure(h.serials[0]))
	s.Attach(newBuffer(size.X, 30), image.Point{})
	require.NoError(t, s.Commit())
	assert.True(t, s.Mapped())
	assert.Equal(t, image.Point{}, s.Pos())

	tm.OutputRemoved(o)
	tm.drain()
	assert.Equal(t, 1, h.closed)
	assert.False(t, s.Mapped())

	l.Destroy()
	assert.Nil(t, s.Role())
}

func TestLayerZoneRemoved(t *testing.T) {
	tm := newTestManager(t)
	o := newOutput()

	s := tm.Create(fakeClient{})
	l, err := NewLayerSurface(s, o, LayerBottom, &fakeLayer{})
	require.NoError(t, err)
	require.NoError(t, l.SetAnchor(AnchorLeft))
	require.NoError(t, l.SetSize(image.Pt(40, 0)))
	assert.Error(t, s.Commit())

	require.NoError(t, l.SetAnchor(AnchorLeft|AnchorTop|AnchorBottom))
	l.SetExclusiveZone(40)
	require.NoError(t, s.Commit())
	assert.Equal(t, 40, o.AvailableGeometry().Min.X)

	l.Destroy()
	assert.Equal(t, o.Rect(), o.AvailableGeometry())
}

func TestX11Window(t *testing.T) {
	tm := newTestManager(t)
	s := tm.Create(fakeClient{})
	x, err := NewX11Window(s, 42)
	require.NoError(t, err)

	s.Attach(newBuffer(30, 30), image.Point{})
	require.NoError(t, s.Commit())
	assert.False(t, s.Mapped())

	x.Configure(image.Rect(5, 5, 35, 35))
	x.SetShown(true)
	assert.True(t, s.Mapped())
	assert.Equal(t, image.Pt(5, 5), s.Pos())

	top, _, _ := tm.mapToplevel(t, 10, 10)
	assert.Equal(t, []*Surface{s, top}, tm.Surfaces())
	x.SetOverrideRedirect(true)
	assert.Equal(t, []*Surface{top, s}, tm.Surfaces())
}
