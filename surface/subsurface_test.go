package surface

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSubsurface(t *testing.T, tm *testManager, parent *Surface) (*Surface, *Subsurface) {
	t.Helper()
	s := tm.Create(fakeClient{})
	sub, err := NewSubsurface(s, parent)
	require.NoError(t, err)
	return s, sub
}

func TestSyncedSubsurfaceFIFO(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)
	child, _ := newSubsurface(t, tm, parent)

	buffers := []*fakeBuffer{newBuffer(10, 10), newBuffer(20, 20), newBuffer(30, 30)}
	for _, b := range buffers {
		child.Attach(b, image.Point{})
		require.NoError(t, child.Commit())
	}
	assert.Nil(t, child.Current().Buffer)
	assert.Equal(t, 3, child.Queued())
	for _, b := range buffers {
		assert.Equal(t, 1, b.locks)
	}

	require.NoError(t, parent.Commit())
	assert.Equal(t, Buffer(buffers[0]), child.Current().Buffer)
	assert.Equal(t, 2, child.Queued())
	assert.True(t, child.Mapped())

	require.NoError(t, parent.Commit())
	assert.Equal(t, Buffer(buffers[1]), child.Current().Buffer)
	assert.Equal(t, 1, child.Queued())
	assert.Equal(t, 0, buffers[0].locks)
}

func TestDesyncReleasesCache(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)
	child, sub := newSubsurface(t, tm, parent)

	buffers := []*fakeBuffer{newBuffer(10, 10), newBuffer(20, 20)}
	for _, b := range buffers {
		child.Attach(b, image.Point{})
		require.NoError(t, child.Commit())
	}
	require.Equal(t, 2, child.Queued())

	sub.SetDesync()
	assert.Zero(t, child.Queued())
	assert.Equal(t, Buffer(buffers[1]), child.Current().Buffer)
	assert.Equal(t, 0, buffers[0].locks)
	assert.Equal(t, 1, buffers[1].locks)

	child.Attach(buffers[0], image.Point{})
	require.NoError(t, child.Commit())
	assert.Equal(t, Buffer(buffers[0]), child.Current().Buffer)
}

func TestNestedSyncedSubsurface(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)
	child, _ := newSubsurface(t, tm, parent)
	grandchild, sub := newSubsurface(t, tm, child)
	sub.SetDesync()

	b := newBuffer(5, 5)
	grandchild.Attach(b, image.Point{})
	require.NoError(t, grandchild.Commit())
	assert.Equal(t, 1, grandchild.Queued(), "desync under a synced parent still waits")

	child.Attach(newBuffer(10, 10), image.Point{})
	require.NoError(t, child.Commit())
	assert.Equal(t, 1, grandchild.Queued())

	require.NoError(t, parent.Commit())
	assert.Zero(t, child.Queued())
	assert.Zero(t, grandchild.Queued())
	assert.Equal(t, Buffer(b), grandchild.Current().Buffer)
	assert.True(t, grandchild.Mapped())
}

func TestSubsurfacePosition(t *testing.T) {
	tm := newTestManager(t)
	parent, top, _ := tm.mapToplevel(t, 100, 100)
	top.Move(image.Pt(50, 60))
	child, sub := newSubsurface(t, tm, parent)
	sub.SetDesync()

	child.Attach(newBuffer(10, 10), image.Point{})
	require.NoError(t, child.Commit())
	assert.Equal(t, image.Pt(50, 60), child.Pos())

	sub.SetPosition(image.Pt(5, 7))
	assert.Equal(t, image.Pt(50, 60), child.Pos())

	require.NoError(t, parent.Commit())
	assert.Equal(t, image.Pt(55, 67), child.Pos())

	top.Move(image.Pt(0, 0))
	assert.Equal(t, image.Pt(5, 7), child.Pos())
}

func TestSubsurfaceStacking(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)
	a, subA := newSubsurface(t, tm, parent)
	b, subB := newSubsurface(t, tm, parent)
	lis := &recordingListener{}
	parent.SetListener(lis)

	assert.Equal(t, []*Surface{parent, a, b}, tm.Surfaces())

	require.NoError(t, subB.PlaceBelow(parent))
	require.NoError(t, subA.PlaceAbove(b))
	assert.Equal(t, []*Surface{parent, a, b}, tm.Surfaces(), "order changed before parent commit")

	require.NoError(t, parent.Commit())
	assert.Equal(t, []*Surface{b, a, parent}, tm.Surfaces())
	assert.Equal(t, []*Surface{b, a, parent}, parent.Children())
	assert.True(t, lis.saw(ChangeOrder))

	other, _, _ := tm.mapToplevel(t, 10, 10)
	err := subA.PlaceAbove(other)
	assert.True(t, IsProtocolError(err, ErrBadSurface), "%v", err)
	err = subA.PlaceAbove(a)
	assert.True(t, IsProtocolError(err, ErrBadSurface), "%v", err)
}

func TestSubsurfaceCycle(t *testing.T) {
	tm := newTestManager(t)
	root := tm.Create(fakeClient{})
	child, _ := newSubsurface(t, tm, root)

	_, err := NewSubsurface(root, child)
	assert.True(t, IsProtocolError(err, ErrBadSurface), "%v", err)

	s := tm.Create(fakeClient{})
	_, err = NewSubsurface(s, s)
	assert.True(t, IsProtocolError(err, ErrBadSurface), "%v", err)
}

func TestSubsurfaceFollowsParentMapping(t *testing.T) {
	tm := newTestManager(t)
	parent, _, _ := tm.mapToplevel(t, 100, 100)
	child, sub := newSubsurface(t, tm, parent)
	sub.SetDesync()

	child.Attach(newBuffer(10, 10), image.Point{})
	require.NoError(t, child.Commit())
	require.True(t, child.Mapped())

	parent.Attach(nil, image.Point{})
	require.NoError(t, parent.Commit())
	assert.False(t, parent.Mapped())
	assert.False(t, child.Mapped())

	sub.Destroy()
	assert.Nil(t, child.Parent())
	assert.Equal(t, []*Surface{parent}, parent.Children())
}
