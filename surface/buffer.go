package surface

import "image"

// Buffer is client pixel content that can be attached to a surface.
//
// A surface keeps a buffer locked for as long as it might still read
// from it. The buffer is free to be reused by its client once every
// lock has been released.
type Buffer interface {
	Size() image.Point
	Image() image.Image

	// Opaque reports whether the buffer's format has no alpha channel.
	Opaque() bool

	Lock()
	Unlock()
}
