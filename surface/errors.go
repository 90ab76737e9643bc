package surface

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the way in which a client broke the protocol.
// The resource layer maps each kind to the error code of the interface
// that the offending request was made on.
type ErrorKind int

const (
	ErrInvalidScale ErrorKind = iota
	ErrInvalidTransform
	ErrInvalidSize
	ErrInvalidOffset
	ErrDefunctRoleObject
	ErrRole
	ErrBadSurface
	ErrBadValue
	ErrBadSize
	ErrOutOfBuffer
	ErrNoSurface
	ErrInvalidSerial
	ErrUnconfiguredBuffer
	ErrAlreadyConstructed
	ErrInvalidGeometry
	ErrInvalidAnchor
	ErrInvalidExclusiveZone
	ErrNoAcquirePoint
)

var errorKindNames = [...]string{
	ErrInvalidScale:         "invalid scale",
	ErrInvalidTransform:     "invalid transform",
	ErrInvalidSize:          "invalid size",
	ErrInvalidOffset:        "invalid offset",
	ErrDefunctRoleObject:    "defunct role object",
	ErrRole:                 "role",
	ErrBadSurface:           "bad surface",
	ErrBadValue:             "bad value",
	ErrBadSize:              "bad size",
	ErrOutOfBuffer:          "out of buffer",
	ErrNoSurface:            "no surface",
	ErrInvalidSerial:        "invalid serial",
	ErrUnconfiguredBuffer:   "unconfigured buffer",
	ErrAlreadyConstructed:   "already constructed",
	ErrInvalidGeometry:      "invalid geometry",
	ErrInvalidAnchor:        "invalid anchor",
	ErrInvalidExclusiveZone: "invalid exclusive zone",
	ErrNoAcquirePoint:       "no acquire point",
}

func (k ErrorKind) String() string {
	if (k < 0) || (int(k) >= len(errorKindNames)) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return errorKindNames[k]
}

// ProtocolError is returned when a client violates the protocol. It
// terminates the offending client's connection but never affects
// anything else.
type ProtocolError struct {
	Kind ErrorKind
	Msg  string
}

func protocolErrorf(kind ErrorKind, format string, args ...any) error {
	return &ProtocolError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (err *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (%v): %v", err.Kind, err.Msg)
}

// IsProtocolError reports whether err is a ProtocolError of the given
// kind.
func IsProtocolError(err error, kind ErrorKind) bool {
	var perr *ProtocolError
	return errors.As(err, &perr) && (perr.Kind == kind)
}

var (
	// ErrDestroyed is returned by operations on a destroyed surface.
	ErrDestroyed = errors.New("surface destroyed")

	// ErrQueueFull is returned by Commit when a surface has too many
	// commits waiting to be applied. The commit is dropped and the
	// surface keeps its current state.
	ErrQueueFull = errors.New("too many queued commits")
)
