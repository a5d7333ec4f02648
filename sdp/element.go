package sdp

import (
	"fmt"

	"github.com/rigado/a2dp/record"
)

// ElementType is the type tag of a data element descriptor (top 5 bits).
type ElementType uint8

const (
	Nil         ElementType = 0x00
	Uint        ElementType = 0x08
	Int         ElementType = 0x10
	UUIDType    ElementType = 0x18
	Text        ElementType = 0x20
	Bool        ElementType = 0x28
	Sequence    ElementType = 0x30
	Alternative ElementType = 0x38
	URL         ElementType = 0x40
)

var elementTypeNames = map[ElementType]string{
	Nil:         "nil",
	Uint:        "uint",
	Int:         "int",
	UUIDType:    "uuid",
	Text:        "text",
	Bool:        "bool",
	Sequence:    "seq",
	Alternative: "alt",
	URL:         "url",
}

func (t ElementType) String() string {
	if s, ok := elementTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// size codes, low 3 bits of the descriptor
const (
	size1   = 0
	size2   = 1
	size4   = 2
	size8   = 3
	size16  = 4
	sizeL8  = 5
	sizeL16 = 6
	sizeL32 = 7
)

// maxDescriptorSize is a type octet followed by a 32-bit length.
const maxDescriptorSize = 5

// variable reports whether t carries an explicit length.
func (t ElementType) variable() bool {
	return t == Text || t == Sequence || t == Alternative || t == URL
}

// Payload reads and writes self describing data elements.
type Payload struct {
	record.BE
}

// NewPayload returns an empty payload writing into buf.
func NewPayload(buf []byte) *Payload {
	return &Payload{*record.NewBE(buf)}
}

// WrapPayload returns a payload reading the elements encoded in buf.
func WrapPayload(buf []byte) *Payload {
	return &Payload{*record.WrapBE(buf)}
}

// PushDescriptor writes the descriptor for an element of type t whose value is size octets.
func (p *Payload) PushDescriptor(t ElementType, size int) {
	if t == Nil {
		p.BE.PushUint8(uint8(Nil))
		return
	}

	if !t.variable() {
		code := uint8(size1)
		switch size {
		case 1:
			code = size1
		case 2:
			code = size2
		case 4:
			code = size4
		case 8:
			code = size8
		case 16:
			code = size16
		default:
			logger.Errorf("invalid size %v for fixed element %v", size, t)
		}
		p.BE.PushUint8(uint8(t) | code)
		return
	}

	switch {
	case size <= 0xff:
		p.BE.PushUint8(uint8(t) | sizeL8)
		p.BE.PushUint8(uint8(size))
	case size <= 0xffff:
		p.BE.PushUint8(uint8(t) | sizeL16)
		p.BE.PushUint16(uint16(size))
	default:
		p.BE.PushUint8(uint8(t) | sizeL32)
		p.BE.PushUint32(uint32(size))
	}
}

// PopDescriptor reads a descriptor and the explicit length if present.
// It returns the element type and the number of value octets that follow.
func (p *Payload) PopDescriptor() (ElementType, int, bool) {
	if p.Available() < 1 {
		p.Skip(1)
		return Nil, 0, false
	}

	d := p.BE.PopUint8()
	t := ElementType(d & 0xf8)
	var size int

	switch d & 0x07 {
	case size1:
		size = 1
	case size2:
		size = 2
	case size4:
		size = 4
	case size8:
		size = 8
	case size16:
		size = 16
	case sizeL8:
		size = int(p.BE.PopUint8())
	case sizeL16:
		size = int(p.BE.PopUint16())
	case sizeL32:
		size = int(p.BE.PopUint32())
	}

	if t == Nil {
		size = 0
	}
	if p.Truncated() {
		return t, 0, false
	}
	return t, size, true
}

func (p *Payload) PushNil() { p.PushDescriptor(Nil, 0) }

func (p *Payload) PushBool(useDescriptor bool, v bool) {
	if useDescriptor {
		p.PushDescriptor(Bool, 1)
	}
	if v {
		p.BE.PushUint8(1)
	} else {
		p.BE.PushUint8(0)
	}
}

func (p *Payload) PushUint8(useDescriptor bool, v uint8) {
	if useDescriptor {
		p.PushDescriptor(Uint, 1)
	}
	p.BE.PushUint8(v)
}

func (p *Payload) PushUint16(useDescriptor bool, v uint16) {
	if useDescriptor {
		p.PushDescriptor(Uint, 2)
	}
	p.BE.PushUint16(v)
}

func (p *Payload) PushUint32(useDescriptor bool, v uint32) {
	if useDescriptor {
		p.PushDescriptor(Uint, 4)
	}
	p.BE.PushUint32(v)
}

func (p *Payload) PushUint64(useDescriptor bool, v uint64) {
	if useDescriptor {
		p.PushDescriptor(Uint, 8)
	}
	p.BE.PushUint64(v)
}

func (p *Payload) PushInt8(useDescriptor bool, v int8) {
	if useDescriptor {
		p.PushDescriptor(Int, 1)
	}
	p.BE.PushUint8(uint8(v))
}

func (p *Payload) PushInt16(useDescriptor bool, v int16) {
	if useDescriptor {
		p.PushDescriptor(Int, 2)
	}
	p.BE.PushUint16(uint16(v))
}

func (p *Payload) PushInt32(useDescriptor bool, v int32) {
	if useDescriptor {
		p.PushDescriptor(Int, 4)
	}
	p.BE.PushUint32(uint32(v))
}

func (p *Payload) PushInt64(useDescriptor bool, v int64) {
	if useDescriptor {
		p.PushDescriptor(Int, 8)
	}
	p.BE.PushUint64(uint64(v))
}

func (p *Payload) PushUUID(useDescriptor bool, u UUID) {
	b := u.Bytes()
	if useDescriptor {
		p.PushDescriptor(UUIDType, len(b))
	}
	p.Push(b)
}

func (p *Payload) PushText(useDescriptor bool, s string) {
	if useDescriptor {
		p.PushDescriptor(Text, len(s))
	}
	p.Push([]byte(s))
}

func (p *Payload) PushURL(useDescriptor bool, s string) {
	if useDescriptor {
		p.PushDescriptor(URL, len(s))
	}
	p.Push([]byte(s))
}

// PushSequence writes a sequence whose elements are produced by build.
func (p *Payload) PushSequence(useDescriptor bool, build func(*Payload)) {
	p.pushContainer(Sequence, useDescriptor, build)
}

// PushAlternative writes an alternative whose elements are produced by build.
func (p *Payload) PushAlternative(useDescriptor bool, build func(*Payload)) {
	p.pushContainer(Alternative, useDescriptor, build)
}

func (p *Payload) pushContainer(t ElementType, useDescriptor bool, build func(*Payload)) {
	// content is built in place after room for the widest descriptor that
	// could still fit, then moved down once its length is known
	tail := p.Tail()
	header := 0
	if useDescriptor {
		header = containerHeader(len(tail))
	}

	content := NewPayload(tail[header:])
	if build != nil {
		build(content)
	}
	n := content.Length()
	if content.Overflowed() {
		logger.Errorf("%v content does not fit, %v bytes free", t, p.Free())
		p.Claim(p.Free() + 1) // flags the overflow
		return
	}
	if !useDescriptor {
		p.Claim(n)
		return
	}

	var hb [maxDescriptorSize]byte
	d := NewPayload(hb[:])
	d.PushDescriptor(t, n)
	if d.Length() > header {
		p.Claim(p.Free() + 1)
		return
	}
	copy(tail[d.Length():], tail[header:header+n])
	copy(tail, d.Data())
	p.Claim(d.Length() + n)
}

// containerHeader is the descriptor room to leave in front of a container
// built into free octets. Content that fits with its own descriptor always
// fits behind this room.
func containerHeader(free int) int {
	switch {
	case free < 2:
		return free
	case free-3 <= 0xff:
		return 2
	case free-5 <= 0xffff:
		return 3
	default:
		return maxDescriptorSize
	}
}

// PushRaw appends an already encoded element.
func (p *Payload) PushRaw(element []byte) {
	p.Push(element)
}

// skipMismatch consumes a whole element of the wrong type.
func (p *Payload) skipMismatch(want string, got ElementType, size int) {
	logger.Warnf("unexpected element %v (%v bytes), want %v", got, size, want)
	p.Skip(size)
}

func (p *Payload) popUnsigned(useDescriptor bool, t ElementType, width int) (uint64, bool) {
	if useDescriptor {
		gt, size, ok := p.PopDescriptor()
		if !ok {
			return 0, false
		}
		if gt != t || size != width {
			p.skipMismatch(fmt.Sprintf("%v%v", t, width*8), gt, size)
			return 0, false
		}
	}

	var v uint64
	switch width {
	case 1:
		v = uint64(p.BE.PopUint8())
	case 2:
		v = uint64(p.BE.PopUint16())
	case 4:
		v = uint64(p.BE.PopUint32())
	case 8:
		v = p.BE.PopUint64()
	}
	return v, !p.Truncated()
}

func (p *Payload) PopUint8(useDescriptor bool) (uint8, bool) {
	v, ok := p.popUnsigned(useDescriptor, Uint, 1)
	return uint8(v), ok
}

func (p *Payload) PopUint16(useDescriptor bool) (uint16, bool) {
	v, ok := p.popUnsigned(useDescriptor, Uint, 2)
	return uint16(v), ok
}

func (p *Payload) PopUint32(useDescriptor bool) (uint32, bool) {
	v, ok := p.popUnsigned(useDescriptor, Uint, 4)
	return uint32(v), ok
}

func (p *Payload) PopUint64(useDescriptor bool) (uint64, bool) {
	return p.popUnsigned(useDescriptor, Uint, 8)
}

func (p *Payload) PopInt8(useDescriptor bool) (int8, bool) {
	v, ok := p.popUnsigned(useDescriptor, Int, 1)
	return int8(v), ok
}

func (p *Payload) PopInt16(useDescriptor bool) (int16, bool) {
	v, ok := p.popUnsigned(useDescriptor, Int, 2)
	return int16(v), ok
}

func (p *Payload) PopInt32(useDescriptor bool) (int32, bool) {
	v, ok := p.popUnsigned(useDescriptor, Int, 4)
	return int32(v), ok
}

func (p *Payload) PopInt64(useDescriptor bool) (int64, bool) {
	v, ok := p.popUnsigned(useDescriptor, Int, 8)
	return int64(v), ok
}

func (p *Payload) PopBool(useDescriptor bool) (bool, bool) {
	v, ok := p.popUnsigned(useDescriptor, Bool, 1)
	return v != 0, ok
}

// PopUUID reads a UUID element. Without a descriptor a 16-bit UUID is assumed.
func (p *Payload) PopUUID(useDescriptor bool) (UUID, bool) {
	size := 2
	if useDescriptor {
		t, s, ok := p.PopDescriptor()
		if !ok {
			return UUID{}, false
		}
		if t != UUIDType || (s != 2 && s != 4 && s != 16) {
			p.skipMismatch("uuid", t, s)
			return UUID{}, false
		}
		size = s
	}

	b := p.Pop(size)
	if b == nil {
		return UUID{}, false
	}

	switch size {
	case 2:
		return NewUUID16(uint16(b[0])<<8 | uint16(b[1])), true
	case 4:
		return NewUUID32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])), true
	default:
		u, err := NewUUID128(b)
		return u, err == nil
	}
}

// PopText reads a TEXT or URL element. Without a descriptor the rest of the
// payload is taken as the string.
func (p *Payload) PopText(useDescriptor bool) (string, bool) {
	size := p.Available()
	if useDescriptor {
		t, s, ok := p.PopDescriptor()
		if !ok {
			return "", false
		}
		if t != Text && t != URL {
			p.skipMismatch("text", t, s)
			return "", false
		}
		size = s
	}

	b := p.Pop(size)
	if b == nil && size > 0 {
		return "", false
	}
	return string(b), true
}

// PopSequence inspects a sequence through a payload bounded to its declared
// length. The reader always moves past the whole sequence, whatever inspect consumed.
func (p *Payload) PopSequence(useDescriptor bool, inspect func(*Payload)) bool {
	return p.popContainer(Sequence, useDescriptor, inspect)
}

// PopAlternative is PopSequence for alternatives.
func (p *Payload) PopAlternative(useDescriptor bool, inspect func(*Payload)) bool {
	return p.popContainer(Alternative, useDescriptor, inspect)
}

func (p *Payload) popContainer(want ElementType, useDescriptor bool, inspect func(*Payload)) bool {
	size := p.Available()
	if useDescriptor {
		t, s, ok := p.PopDescriptor()
		if !ok {
			return false
		}
		if t != want {
			p.skipMismatch(want.String(), t, s)
			return false
		}
		size = s
	}

	if size > p.Available() {
		logger.Warnf("%v declares %v bytes, have %v", want, size, p.Available())
		p.Skip(size)
		return false
	}

	sub := WrapPayload(p.Remaining()[:size])
	if inspect != nil {
		inspect(sub)
	}
	p.Skip(size)
	return true
}

// PopRawElement returns one complete encoded element, descriptor included.
func (p *Payload) PopRawElement() ([]byte, bool) {
	start := p.Reader()
	_, size, ok := p.PopDescriptor()
	if !ok {
		return nil, false
	}
	hdr := p.Reader() - start
	p.Seek(start)
	b := p.Pop(hdr + size)
	return b, b != nil
}
