// Package record implements bounded read/write cursors over caller owned
// buffers. A cursor never panics on short input: a read that asks for more than
// is available snaps the reader to the writer and flags the cursor as truncated,
// so a decoder can finish its walk and check Available() and Truncated() once.
package record

import (
	"github.com/rigado/a2dp"
)

var logger = a2dp.ComponentLogger("record")

// Record is a cursor for single octet values and raw byte spans.
type Record struct {
	buf    []byte
	reader int
	writer int

	truncated  bool
	overflowed bool
}

// New returns an empty cursor writing into buf.
func New(buf []byte) *Record {
	return &Record{buf: buf}
}

// Wrap returns a cursor over data already present in buf.
func Wrap(buf []byte) *Record {
	return &Record{buf: buf, writer: len(buf)}
}

func (r *Record) Capacity() int  { return len(r.buf) }
func (r *Record) Length() int    { return r.writer }
func (r *Record) Available() int { return r.writer - r.reader }
func (r *Record) Free() int      { return len(r.buf) - r.writer }

// Reader returns the current read offset.
func (r *Record) Reader() int { return r.reader }

// Truncated reports whether any read ran past the written data.
func (r *Record) Truncated() bool { return r.truncated }

// Overflowed reports whether any write was dropped for lack of space.
func (r *Record) Overflowed() bool { return r.overflowed }

// Data returns the written bytes. The slice aliases the underlying buffer.
func (r *Record) Data() []byte { return r.buf[:r.writer] }

// Remaining returns the unread bytes without consuming them.
func (r *Record) Remaining() []byte { return r.buf[r.reader:r.writer] }

// Clear resets both offsets and the error flags.
func (r *Record) Clear() {
	r.reader, r.writer = 0, 0
	r.truncated, r.overflowed = false, false
}

// Assign marks the first n bytes of the buffer as written.
func (r *Record) Assign(n int) {
	if n > len(r.buf) {
		n = len(r.buf)
	}
	r.writer = n
	if r.reader > r.writer {
		r.reader = r.writer
	}
}

// Tail returns the unwritten part of the buffer. Octets filled in place are
// marked written with Claim.
func (r *Record) Tail() []byte { return r.buf[r.writer:] }

// Claim marks the next n octets of Tail as written.
func (r *Record) Claim(n int) bool {
	if !r.reserve(n) {
		return false
	}
	r.writer += n
	return true
}

// Rewind moves the reader back to the start.
func (r *Record) Rewind() { r.reader = 0 }

// Seek moves the reader to an absolute offset, clamped to the written data.
func (r *Record) Seek(offset int) {
	switch {
	case offset < 0:
		r.reader = 0
	case offset > r.writer:
		r.reader = r.writer
	default:
		r.reader = offset
	}
}

// Skip advances the reader by n bytes.
func (r *Record) Skip(n int) {
	if r.check(n) {
		r.reader += n
	}
}

func (r *Record) PushUint8(v uint8) {
	if r.reserve(1) {
		r.buf[r.writer] = v
		r.writer++
	}
}

func (r *Record) PopUint8() uint8 {
	if !r.check(1) {
		return 0
	}
	v := r.buf[r.reader]
	r.reader++
	return v
}

// Push appends a raw byte span.
func (r *Record) Push(b []byte) {
	if r.reserve(len(b)) {
		r.writer += copy(r.buf[r.writer:], b)
	}
}

// Fill appends n copies of v.
func (r *Record) Fill(v uint8, n int) {
	if !r.reserve(n) {
		return
	}
	for i := 0; i < n; i++ {
		r.buf[r.writer+i] = v
	}
	r.writer += n
}

// Pop consumes n bytes and returns a copy of them.
func (r *Record) Pop(n int) []byte {
	if n < 0 || !r.check(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.reader:])
	r.reader += n
	return out
}

// PopInto fills b completely from the reader.
func (r *Record) PopInto(b []byte) bool {
	if !r.check(len(b)) {
		return false
	}
	r.reader += copy(b, r.buf[r.reader:])
	return true
}

// check verifies n bytes can be read, poisoning the cursor when they cannot.
func (r *Record) check(n int) bool {
	if n <= r.Available() {
		return true
	}
	logger.Warnf("truncated read: want %v bytes, have %v", n, r.Available())
	r.reader = r.writer
	r.truncated = true
	return false
}

func (r *Record) reserve(n int) bool {
	if n <= r.Free() {
		return true
	}
	logger.Errorf("write overflow: want %v bytes, have %v", n, r.Free())
	r.overflowed = true
	return false
}
