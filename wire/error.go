package wire

import (
	"fmt"
)

// UnknownOpError is returned by Object.Dispatch when a message's
// opcode is not defined for the object's interface and version.
type UnknownOpError struct {
	Interface string
	Type      string // "request" or "event"
	Op        uint16
}

func (err UnknownOpError) Error() string {
	return fmt.Sprintf("%v has no %v with opcode %v", err.Interface, err.Type, err.Op)
}

// UnknownSenderIDError is the error for a message addressed to an
// object ID that is not live on the connection.
type UnknownSenderIDError struct {
	Sender uint32
	Op     uint16
}

func (err UnknownSenderIDError) Error() string {
	return fmt.Sprintf("message with opcode %v for unknown object %v", err.Op, err.Sender)
}
