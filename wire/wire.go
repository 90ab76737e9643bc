// Package wire defines types helpful for dealing with the Wayland
// wire protocol. It is used by the protocol objects in the server
// package to decode requests and encode events.
package wire

import (
	"errors"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// maxFDs is the largest number of file descriptors accepted alongside
// a single read. libwayland uses the same limit.
const maxFDs = 28

// Object represents a Wayland protocol object.
type Object interface {
	ID() uint32
	SetID(id uint32)

	// Dispatch performs the operation requested by the message in the
	// buffer.
	Dispatch(msg *MessageBuffer) error

	// Delete is called when the object is removed from its
	// connection's object store.
	Delete()

	// MethodName returns the name of the request with the given
	// opcode. It is used for debugging output.
	MethodName(op uint16) string
}

// NewID is the decoded form of an untyped new_id argument.
type NewID struct {
	Interface string
	Version   uint32
	ID        uint32
}

// unixTee reads from c, but also reads out-of-band data
// simultaneously, writing it into oob.
type unixTee struct {
	c   *net.UnixConn
	oob io.Writer
}

func (t unixTee) Read(buf []byte) (int, error) {
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))
	n, oobn, _, _, err := t.c.ReadMsgUnix(buf, oob)
	_, ooberr := t.oob.Write(oob[:oobn])
	if (n == 0) && (err == nil) {
		err = io.EOF
	}
	return n, errors.Join(err, ooberr)
}
