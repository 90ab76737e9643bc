package server

import (
	"errors"
	"fmt"

	"deedles.dev/wlcomp/surface"
	"deedles.dev/wlcomp/wire"
)

// resource holds what every protocol object has in common.
type resource struct {
	id      uint32
	iface   string
	version uint32
	client  *Client
}

func newResource(c *Client, iface string, version uint32) resource {
	return resource{
		iface:   iface,
		version: version,
		client:  c,
	}
}

func (r *resource) ID() uint32 {
	return r.id
}

func (r *resource) SetID(id uint32) {
	r.id = id
}

func (r *resource) Delete() {}

func (r *resource) String() string {
	return fmt.Sprintf("%v@%v", r.iface, r.id)
}

// unknownOp returns the error for a request that the object does not
// implement.
func (r *resource) unknownOp(op uint16) error {
	return wire.UnknownOpError{Interface: r.iface, Type: "request", Op: op}
}

func (r *resource) methodName(names []string, op uint16) string {
	if int(op) >= len(names) {
		return "unknown"
	}
	return names[op]
}

// wl_display error codes.
const (
	displayInvalidObject uint32 = iota
	displayInvalidMethod
	displayNoMemory
	displayImplementation
)

// requestError is a protocol error detected by the resource layer
// itself.
type requestError struct {
	// obj is the object that the error is reported on. If it is nil,
	// the error belongs to the object that the request was made on,
	// unless display is set.
	obj     wire.Object
	display bool
	code    uint32
	msg     string
}

func errorf(code uint32, format string, args ...any) error {
	return &requestError{code: code, msg: fmt.Sprintf(format, args...)}
}

func displayErrorf(code uint32, format string, args ...any) error {
	return &requestError{display: true, code: code, msg: fmt.Sprintf(format, args...)}
}

func (err *requestError) Error() string {
	return err.msg
}

// errorMapper is implemented by objects whose requests can fail with a
// surface.ProtocolError. It returns the object that the error should
// be reported on and that object's error code for kind.
type errorMapper interface {
	errorTarget(kind surface.ErrorKind) (wire.Object, uint32, bool)
}

// protocolError works out which object and code an error returned by
// a request on obj should be reported with.
func protocolError(obj wire.Object, err error) (target wire.Object, code uint32, msg string, ok bool) {
	var rerr *requestError
	if errors.As(err, &rerr) {
		switch {
		case rerr.display:
			return nil, rerr.code, rerr.msg, true
		case rerr.obj != nil:
			return rerr.obj, rerr.code, rerr.msg, true
		}
		return obj, rerr.code, rerr.msg, true
	}

	var uerr wire.UnknownOpError
	if errors.As(err, &uerr) {
		return nil, displayInvalidMethod, err.Error(), true
	}

	var perr *surface.ProtocolError
	if errors.As(err, &perr) {
		if m, ok := obj.(errorMapper); ok {
			if target, code, ok := m.errorTarget(perr.Kind); ok {
				return target, code, perr.Msg, true
			}
		}
		return nil, displayImplementation, perr.Error(), true
	}

	return nil, 0, "", false
}

// lookup finds the object with the given ID and checks that it is of
// type T. An ID of zero is only accepted if nullable is true, in which
// case the zero value of T is returned.
func lookup[T wire.Object](c *Client, id uint32, nullable bool) (T, error) {
	var zero T
	if id == 0 {
		if nullable {
			return zero, nil
		}
		return zero, displayErrorf(displayInvalidObject, "null object where one is required")
	}

	obj := c.store.Get(id)
	if obj == nil {
		return zero, displayErrorf(displayInvalidObject, "object %v does not exist", id)
	}
	v, ok := obj.(T)
	if !ok {
		return zero, displayErrorf(displayInvalidObject, "object %v is %v, not %T", id, obj, zero)
	}
	return v, nil
}
