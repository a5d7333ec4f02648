package sdp

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp/record"
)

// PDUType identifies an SDP PDU.
type PDUType uint8

const (
	Invalid                        PDUType = 0x00
	ErrorResponse                  PDUType = 0x01
	ServiceSearchRequest           PDUType = 0x02
	ServiceSearchResponse          PDUType = 0x03
	ServiceAttributeRequest        PDUType = 0x04
	ServiceAttributeResponse       PDUType = 0x05
	ServiceSearchAttributeRequest  PDUType = 0x06
	ServiceSearchAttributeResponse PDUType = 0x07
)

var pduTypeNames = []string{
	"invalid",
	"error response",
	"service search request",
	"service search response",
	"service attribute request",
	"service attribute response",
	"service search attribute request",
	"service search attribute response",
}

func (t PDUType) String() string {
	if int(t) < len(pduTypeNames) {
		return pduTypeNames[t]
	}
	return fmt.Sprintf("pdu(0x%02x)", uint8(t))
}

// ErrorCode is carried by an ErrorResponse PDU.
type ErrorCode uint16

const (
	Success                    ErrorCode = 0x0000
	InvalidVersion             ErrorCode = 0x0001
	InvalidServiceRecordHandle ErrorCode = 0x0002
	InvalidRequestSyntax       ErrorCode = 0x0003
	InvalidPduSize             ErrorCode = 0x0004
	InvalidContinuationState   ErrorCode = 0x0005
	InsufficientResources      ErrorCode = 0x0006

	// local only, never sent
	Deserialization ErrorCode = 0xFFFF
)

var errorCodeNames = map[ErrorCode]string{
	Success:                    "success",
	InvalidVersion:             "invalid sdp version",
	InvalidServiceRecordHandle: "invalid service record handle",
	InvalidRequestSyntax:       "invalid request syntax",
	InvalidPduSize:             "invalid pdu size",
	InvalidContinuationState:   "invalid continuation state",
	InsufficientResources:      "insufficient resources",
	Deserialization:            "deserialization failed",
}

func (c ErrorCode) String() string {
	if s, ok := errorCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("error(0x%04x)", uint16(c))
}

const (
	pduHeaderSize        = 5
	maxContinuationState = 16
)

// PDU is one SDP protocol data unit.
type PDU struct {
	Type          PDUType
	TransactionID uint16
	Payload       []byte
	Error         ErrorCode

	hasTransaction bool
}

// NewPDU builds a PDU with a transaction id.
func NewPDU(typ PDUType, tid uint16, payload []byte) *PDU {
	return &PDU{Type: typ, TransactionID: tid, Payload: payload, hasTransaction: true}
}

// NewErrorResponse builds an ErrorResponse for transaction tid.
func NewErrorResponse(tid uint16, code ErrorCode) *PDU {
	return &PDU{Type: ErrorResponse, TransactionID: tid, Error: code, hasTransaction: true}
}

// IsValid reports whether the PDU has a type and a transaction id.
func (p *PDU) IsValid() bool {
	return p.Type != Invalid && p.hasTransaction
}

// Size is the number of octets Serialize writes.
func (p *PDU) Size() int {
	if p.Type == ErrorResponse {
		return pduHeaderSize
	}
	return pduHeaderSize + len(p.Payload)
}

// Serialize writes the PDU into out and returns the number of octets written,
// or 0 if out is too small.
func (p *PDU) Serialize(out []byte) int {
	if len(out) < p.Size() {
		logger.Errorf("pdu %v needs %v bytes, have %v", p.Type, p.Size(), len(out))
		return 0
	}

	r := record.NewBE(out)
	r.PushUint8(uint8(p.Type))
	r.PushUint16(p.TransactionID)
	if p.Type == ErrorResponse {
		r.PushUint16(uint16(p.Error))
	} else {
		r.PushUint16(uint16(len(p.Payload)))
		r.Push(p.Payload)
	}
	return r.Length()
}

// Bytes is Serialize into a freshly sized buffer.
func (p *PDU) Bytes() []byte {
	out := make([]byte, p.Size())
	return out[:p.Serialize(out)]
}

// Deserialize parses one PDU from in.
func (p *PDU) Deserialize(in []byte) error {
	*p = PDU{}
	r := record.WrapBE(in)

	p.Type = PDUType(r.PopUint8())
	p.TransactionID = r.PopUint16()
	v := r.PopUint16()
	if r.Truncated() {
		p.Type = Invalid
		return errors.Errorf("short pdu: %v bytes", len(in))
	}
	p.hasTransaction = true

	if p.Type == ErrorResponse {
		p.Error = ErrorCode(v)
		return nil
	}

	if int(v) != r.Available() {
		p.Error = InvalidPduSize
		return errors.Errorf("pdu %v declares %v payload bytes, have %v", p.Type, v, r.Available())
	}
	p.Payload = r.Pop(int(v))
	return nil
}

func (p *PDU) String() string {
	if p.Type == ErrorResponse {
		return fmt.Sprintf("%v tid %v: %v", p.Type, p.TransactionID, p.Error)
	}
	return fmt.Sprintf("%v tid %v: % x", p.Type, p.TransactionID, p.Payload)
}

// ContinuationState is the opaque paging token echoed between client and server.
// This server encodes it as a 16-bit big endian resume offset.
type ContinuationState []byte

func offsetState(offset int) ContinuationState {
	if offset == 0 {
		return nil
	}
	return ContinuationState{byte(offset >> 8), byte(offset)}
}

// Offset decodes the resume offset written by this server.
func (c ContinuationState) Offset() (int, bool) {
	switch len(c) {
	case 0:
		return 0, true
	case 2:
		return int(c[0])<<8 | int(c[1]), true
	default:
		return 0, false
	}
}

func (p *Payload) pushContinuation(c ContinuationState) {
	p.BE.PushUint8(uint8(len(c)))
	p.Push(c)
}

func (p *Payload) popContinuation() (ContinuationState, bool) {
	n := int(p.BE.PopUint8())
	if p.Truncated() || n > maxContinuationState {
		return nil, false
	}
	c := p.Pop(n)
	if c == nil {
		return nil, false
	}
	return ContinuationState(c), true
}
