package wayland

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wayland messages are a two-word header (object id, then size<<16|opcode)
// followed by 32-bit aligned arguments, all in host byte order.
const (
	headerSize     = 8
	maxMessageSize = 4096
)

var order = binary.NativeEndian

var errShortArgs = errors.New("message arguments truncated")

type message struct {
	sender uint32
	opcode uint16
	args   []byte
}

// args builds a request body.
type args struct {
	buf []byte
}

func newArgs() *args {
	return &args{}
}

func (a *args) Uint(v uint32) *args {
	a.buf = order.AppendUint32(a.buf, v)
	return a
}

func (a *args) Int(v int32) *args {
	return a.Uint(uint32(v))
}

func (a *args) Object(id uint32) *args {
	return a.Uint(id)
}

func (a *args) NewID(id uint32) *args {
	return a.Uint(id)
}

func (a *args) String(s string) *args {
	a.Uint(uint32(len(s) + 1))
	a.buf = append(a.buf, s...)
	a.buf = append(a.buf, 0)
	a.pad()
	return a
}

func (a *args) Array(b []byte) *args {
	a.Uint(uint32(len(b)))
	a.buf = append(a.buf, b...)
	a.pad()
	return a
}

func (a *args) pad() {
	for len(a.buf)%4 != 0 {
		a.buf = append(a.buf, 0)
	}
}

func (a *args) bytes() []byte {
	if a == nil {
		return nil
	}
	return a.buf
}

func appendMessage(dst []byte, sender uint32, opcode uint16, body []byte) []byte {
	size := uint32(headerSize + len(body))
	dst = order.AppendUint32(dst, sender)
	dst = order.AppendUint32(dst, size<<16|uint32(opcode))
	return append(dst, body...)
}

// splitMessage takes one complete message off the front of buf.
func splitMessage(buf []byte) (message, []byte, bool, error) {
	if len(buf) < headerSize {
		return message{}, buf, false, nil
	}
	sender := order.Uint32(buf[0:4])
	word := order.Uint32(buf[4:8])
	size := int(word >> 16)
	if size < headerSize || size%4 != 0 || size > maxMessageSize {
		return message{}, buf, false, fmt.Errorf("bad message size %d from object %d", size, sender)
	}
	if len(buf) < size {
		return message{}, buf, false, nil
	}
	msg := message{
		sender: sender,
		opcode: uint16(word & 0xffff),
		args:   buf[headerSize:size],
	}
	return msg, buf[size:], true, nil
}

// reader decodes event arguments. The first failure sticks in err.
type reader struct {
	data []byte
	err  error
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

func (r *reader) Uint() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.data) < 4 {
		r.err = errShortArgs
		return 0
	}
	v := order.Uint32(r.data)
	r.data = r.data[4:]
	return v
}

func (r *reader) Int() int32 {
	return int32(r.Uint())
}

func (r *reader) Object() uint32 {
	return r.Uint()
}

func (r *reader) NewID() uint32 {
	return r.Uint()
}

func (r *reader) String() string {
	n := int(r.Uint())
	if r.err != nil || n == 0 {
		return ""
	}
	b := r.take(n)
	if r.err != nil {
		return ""
	}
	// Drop the terminating NUL.
	return string(b[:n-1])
}

func (r *reader) Array() []byte {
	n := int(r.Uint())
	if r.err != nil || n == 0 {
		return nil
	}
	b := r.take(n)
	if r.err != nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) take(n int) []byte {
	padded := (n + 3) &^ 3
	if len(r.data) < padded {
		r.err = errShortArgs
		return nil
	}
	b := r.data[:n]
	r.data = r.data[padded:]
	return b
}

func (r *reader) Err() error {
	return r.err
}

// uint32s decodes a wl_array of uint32 values, as used by state events.
func uint32s(b []byte) []uint32 {
	out := make([]uint32, 0, len(b)/4)
	for len(b) >= 4 {
		out = append(out, order.Uint32(b))
		b = b[4:]
	}
	return out
}
