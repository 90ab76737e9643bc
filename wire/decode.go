package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"deedles.dev/wlcomp/internal/bin"
	"golang.org/x/sys/unix"
)

// MessageBuffer holds message data that has been read from the socket
// but not yet decoded.
type MessageBuffer struct {
	sender  uint32
	op      uint16
	size    uint16
	data    bytes.Reader
	fds     []int
	fdindex int
	err     error
	args    []any
}

// ReadMessage reads message data from the socket into a buffer.
func ReadMessage(c *Conn) (*MessageBuffer, error) {
	var oob bytes.Buffer
	r := unixTee{c: c.conn, oob: &oob}

	sender, err := bin.Read[uint32](r)
	if err != nil {
		return nil, fmt.Errorf("read message sender: %w", err)
	}

	so, err := bin.Read[uint32](r)
	if err != nil {
		return nil, fmt.Errorf("read message size and opcode: %w", err)
	}
	size := uint16(so >> 16)
	if size < 8 {
		return nil, fmt.Errorf("invalid message size %v", size)
	}

	data := bytes.NewBuffer(make([]byte, 0, size))
	_, err = io.CopyN(data, r, int64(size)-8)
	if err != nil {
		return nil, fmt.Errorf("copy data to buffer: %w", err)
	}

	var fds []int
	cmsgs, err := unix.ParseSocketControlMessage(oob.Bytes())
	if err != nil {
		return nil, fmt.Errorf("parse socket control messages: %w", err)
	}
	for _, cmsg := range cmsgs {
		rights, err := unix.ParseUnixRights(&cmsg)
		if err != nil {
			if errors.Is(err, unix.EINVAL) {
				continue
			}
			return nil, fmt.Errorf("parse unix control message: %w", err)
		}
		fds = append(fds, rights...)
	}

	return NewMessageBuffer(sender, uint16(so&0xFFFF), data.Bytes(), fds), nil
}

// NewMessageBuffer wraps already-read message data.
func NewMessageBuffer(sender uint32, op uint16, data []byte, fds []int) *MessageBuffer {
	mr := MessageBuffer{
		sender: sender,
		op:     op,
		size:   uint16(len(data) + 8),
		fds:    fds,
	}
	mr.data.Reset(data)
	return &mr
}

// Sender is the object ID of the sender of the message.
func (r *MessageBuffer) Sender() uint32 {
	return r.sender
}

// Op is the opcode of the message.
func (r *MessageBuffer) Op() uint16 {
	return r.op
}

// Size is the total size of the message, including the 8 byte header.
func (r *MessageBuffer) Size() uint16 {
	return r.size
}

func (r *MessageBuffer) Err() error {
	if errors.Is(r.err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return r.err
}

// Close closes any file descriptors that were received with the
// message but never claimed by ReadFile.
func (r *MessageBuffer) Close() error {
	var errs []error
	for _, fd := range r.fds[r.fdindex:] {
		errs = append(errs, unix.Close(fd))
	}
	r.fdindex = len(r.fds)
	return errors.Join(errs...)
}

func (r *MessageBuffer) ReadInt() (v int32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[int32](&r.data)
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadUint() (v uint32) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[uint32](&r.data)
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadNewID() NewID {
	return NewID{
		Interface: r.ReadString(),
		Version:   r.ReadUint(),
		ID:        r.ReadUint(),
	}
}

func (r *MessageBuffer) ReadFixed() (v Fixed) {
	if r.err != nil {
		return
	}

	v, r.err = bin.Read[Fixed](&r.data)
	r.args = append(r.args, v)
	return v
}

func (r *MessageBuffer) ReadString() string {
	if r.err != nil {
		return ""
	}

	length, err := bin.Read[uint32](&r.data)
	if err != nil {
		r.err = err
		return ""
	}
	if length == 0 {
		r.args = append(r.args, "")
		return ""
	}
	pad := bin.Padding(length)

	var str strings.Builder
	str.Grow(int(length + pad))
	_, r.err = io.CopyN(&str, &r.data, int64(length+pad))
	if r.err != nil {
		return ""
	}
	v := str.String()
	if v[length-1] != 0 {
		r.err = errors.New("string is not null-terminated")
		return ""
	}

	r.args = append(r.args, v[:length-1])
	return v[:length-1]
}

func (r *MessageBuffer) ReadArray() []byte {
	if r.err != nil {
		return nil
	}

	length, err := bin.Read[uint32](&r.data)
	if err != nil {
		r.err = err
		return nil
	}
	pad := bin.Padding(length)

	buf := make([]byte, length+pad)
	_, r.err = io.ReadFull(&r.data, buf)
	if r.err != nil {
		return nil
	}

	r.args = append(r.args, buf[:length])
	return buf[:length]
}

func (r *MessageBuffer) ReadFile() *os.File {
	if r.err != nil {
		return nil
	}

	if r.fdindex >= len(r.fds) {
		r.err = errors.New("no more file descriptors")
		return nil
	}

	f := os.NewFile(uintptr(r.fds[r.fdindex]), "")
	r.fdindex++
	r.args = append(r.args, f)
	return f
}

func (r *MessageBuffer) Debug(sender Object) string {
	args := make([]string, 0, len(r.args))
	for _, arg := range r.args {
		switch arg := arg.(type) {
		case string:
			args = append(args, strconv.Quote(arg))
		case *os.File:
			args = append(args, fmt.Sprint(arg.Fd()))
		default:
			args = append(args, fmt.Sprint(arg))
		}
	}

	method := sender.MethodName(r.op)
	return fmt.Sprintf("%v.%v(%v)", sender, method, strings.Join(args, ", "))
}
