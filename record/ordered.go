package record

import "encoding/binary"

// BE is a cursor packing multi octet integers most significant octet first.
type BE struct {
	Record
}

// LE is a cursor packing multi octet integers least significant octet first.
type LE struct {
	Record
}

func NewBE(buf []byte) *BE  { return &BE{Record{buf: buf}} }
func WrapBE(buf []byte) *BE { return &BE{Record{buf: buf, writer: len(buf)}} }
func NewLE(buf []byte) *LE  { return &LE{Record{buf: buf}} }
func WrapLE(buf []byte) *LE { return &LE{Record{buf: buf, writer: len(buf)}} }

func (r *BE) PushUint16(v uint16) { r.put16(binary.BigEndian, v) }
func (r *BE) PushUint32(v uint32) { r.put32(binary.BigEndian, v) }
func (r *BE) PushUint64(v uint64) { r.put64(binary.BigEndian, v) }
func (r *BE) PopUint16() uint16   { return r.get16(binary.BigEndian) }
func (r *BE) PopUint32() uint32   { return r.get32(binary.BigEndian) }
func (r *BE) PopUint64() uint64   { return r.get64(binary.BigEndian) }

func (r *LE) PushUint16(v uint16) { r.put16(binary.LittleEndian, v) }
func (r *LE) PushUint32(v uint32) { r.put32(binary.LittleEndian, v) }
func (r *LE) PushUint64(v uint64) { r.put64(binary.LittleEndian, v) }
func (r *LE) PopUint16() uint16   { return r.get16(binary.LittleEndian) }
func (r *LE) PopUint32() uint32   { return r.get32(binary.LittleEndian) }
func (r *LE) PopUint64() uint64   { return r.get64(binary.LittleEndian) }

func (r *Record) put16(o binary.ByteOrder, v uint16) {
	if r.reserve(2) {
		o.PutUint16(r.buf[r.writer:], v)
		r.writer += 2
	}
}

func (r *Record) put32(o binary.ByteOrder, v uint32) {
	if r.reserve(4) {
		o.PutUint32(r.buf[r.writer:], v)
		r.writer += 4
	}
}

func (r *Record) put64(o binary.ByteOrder, v uint64) {
	if r.reserve(8) {
		o.PutUint64(r.buf[r.writer:], v)
		r.writer += 8
	}
}

func (r *Record) get16(o binary.ByteOrder) uint16 {
	if !r.check(2) {
		return 0
	}
	v := o.Uint16(r.buf[r.reader:])
	r.reader += 2
	return v
}

func (r *Record) get32(o binary.ByteOrder) uint32 {
	if !r.check(4) {
		return 0
	}
	v := o.Uint32(r.buf[r.reader:])
	r.reader += 4
	return v
}

func (r *Record) get64(o binary.ByteOrder) uint64 {
	if !r.check(8) {
		return 0
	}
	v := o.Uint64(r.buf[r.reader:])
	r.reader += 8
	return v
}
