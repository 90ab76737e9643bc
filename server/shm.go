package server

import (
	"image"
	"os"

	"deedles.dev/ximage/format"
	"golang.org/x/sys/unix"

	"deedles.dev/wlcomp/wire"
)

// wl_shm formats and error codes.
const (
	shmFormatARGB8888 uint32 = 0
	shmFormatXRGB8888 uint32 = 1

	shmInvalidFormat uint32 = 0
	shmInvalidStride uint32 = 1
	shmInvalidFD     uint32 = 2
)

type shm struct {
	resource
}

func bindShm(c *Client, id, version uint32) error {
	s := shm{resource: newResource(c, "wl_shm", version)}
	err := c.add(&s, id)
	if err != nil {
		return err
	}
	c.event(&s, 0, "format", shmFormatARGB8888)
	c.event(&s, 0, "format", shmFormatXRGB8888)
	return nil
}

var shmRequests = []string{"create_pool", "release"}

func (s *shm) MethodName(op uint16) string {
	return s.methodName(shmRequests, op)
}

func (s *shm) Dispatch(msg *wire.MessageBuffer) error {
	c := s.client
	switch msg.Op() {
	case 0:
		id := msg.ReadUint()
		file := msg.ReadFile()
		size := msg.ReadInt()
		if msg.Err() != nil {
			return nil
		}
		if size <= 0 {
			file.Close()
			return errorf(shmInvalidStride, "invalid pool size %v", size)
		}

		m, err := mapFile(file, int(size))
		if err != nil {
			file.Close()
			return errorf(shmInvalidFD, "map pool: %v", err)
		}

		pool := shmPool{
			resource: newResource(c, "wl_shm_pool", s.version),
			file:     file,
			m:        m,
		}
		err = c.add(&pool, id)
		if err != nil {
			pool.Delete()
			return err
		}
		return nil

	case 1:
		c.remove(s)
		return nil
	}
	return s.unknownOp(msg.Op())
}

// mapping is a shared memory mapping that is unmapped once nothing
// refers to it anymore. A pool that is resized gets a new mapping, but
// buffers created from the old one keep it alive.
type mapping struct {
	data []byte
	refs int
}

func mapFile(file *os.File, size int) (*mapping, error) {
	data, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mapping{data: data, refs: 1}, nil
}

func (m *mapping) ref() *mapping {
	m.refs++
	return m
}

func (m *mapping) unref() {
	m.refs--
	if m.refs == 0 {
		unix.Munmap(m.data)
		m.data = nil
	}
}

type shmPool struct {
	resource
	file *os.File
	m    *mapping
}

var shmPoolRequests = []string{"create_buffer", "destroy", "resize"}

func (p *shmPool) MethodName(op uint16) string {
	return p.methodName(shmPoolRequests, op)
}

func (p *shmPool) Dispatch(msg *wire.MessageBuffer) error {
	c := p.client
	switch msg.Op() {
	case 0:
		id := msg.ReadUint()
		offset, w, h := int(msg.ReadInt()), int(msg.ReadInt()), int(msg.ReadInt())
		stride := int(msg.ReadInt())
		pf := msg.ReadUint()
		if msg.Err() != nil {
			return nil
		}

		if (pf != shmFormatARGB8888) && (pf != shmFormatXRGB8888) {
			return errorf(shmInvalidFormat, "unsupported format %#x", pf)
		}
		if (w <= 0) || (h <= 0) || (offset < 0) || (stride < w*4) || (stride%4 != 0) {
			return errorf(shmInvalidStride, "invalid buffer geometry: offset %v, %vx%v, stride %v", offset, w, h, stride)
		}
		if offset+stride*h > len(p.m.data) {
			return errorf(shmInvalidStride, "buffer of %v bytes at %v does not fit in pool of %v", stride*h, offset, len(p.m.data))
		}

		b := newBuffer(c, p.m.ref(), offset, w, h, stride, pf)
		err := c.add(b, id)
		if err != nil {
			b.m.unref()
			return err
		}
		return nil

	case 1:
		c.remove(p)
		return nil

	case 2:
		size := int(msg.ReadInt())
		if msg.Err() != nil {
			return nil
		}
		if size < len(p.m.data) {
			return errorf(shmInvalidStride, "pool cannot shrink from %v to %v", len(p.m.data), size)
		}
		if size == len(p.m.data) {
			return nil
		}

		m, err := mapFile(p.file, size)
		if err != nil {
			return errorf(shmInvalidFD, "remap pool: %v", err)
		}
		p.m.unref()
		p.m = m
		return nil
	}
	return p.unknownOp(msg.Op())
}

func (p *shmPool) Delete() {
	p.m.unref()
	p.file.Close()
}

// buffer is a wl_buffer backed by shared memory. It implements
// surface.Buffer.
type buffer struct {
	resource
	m      *mapping
	size   image.Point
	opaque bool
	img    image.Image

	locks     int
	destroyed bool
}

func newBuffer(c *Client, m *mapping, offset, w, h, stride int, pf uint32) *buffer {
	pix := m.data[offset : offset+stride*h : offset+stride*h]

	var f format.Format = format.ARGB8888
	if pf == shmFormatXRGB8888 {
		f = format.XRGB8888
	}

	return &buffer{
		resource: newResource(c, "wl_buffer", 1),
		m:        m,
		size:     image.Pt(w, h),
		opaque:   pf == shmFormatXRGB8888,
		img: strided{
			Image: &format.Image{
				Format: f,
				Rect:   image.Rect(0, 0, stride/4, h),
				Pix:    pix,
			},
			w: w,
		},
	}
}

var bufferRequests = []string{"destroy"}

func (b *buffer) MethodName(op uint16) string {
	return b.methodName(bufferRequests, op)
}

func (b *buffer) Dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case 0:
		b.client.remove(b)
		return nil
	}
	return b.unknownOp(msg.Op())
}

func (b *buffer) Delete() {
	b.destroyed = true
	if b.locks == 0 {
		b.m.unref()
	}
}

func (b *buffer) Size() image.Point {
	return b.size
}

func (b *buffer) Image() image.Image {
	return b.img
}

func (b *buffer) Opaque() bool {
	return b.opaque
}

func (b *buffer) Lock() {
	b.locks++
}

// Unlock releases a lock on the buffer. When the last lock is released
// the client is told that it may reuse the buffer.
func (b *buffer) Unlock() {
	b.locks--
	if b.locks > 0 {
		return
	}
	if b.destroyed {
		b.m.unref()
		return
	}
	b.client.event(b, 0, "release")
}

// strided limits an image whose rows are wider than the buffer to the
// buffer's own width.
type strided struct {
	*format.Image
	w int
}

func (s strided) Bounds() image.Rectangle {
	r := s.Image.Bounds()
	r.Max.X = r.Min.X + s.w
	return r
}
