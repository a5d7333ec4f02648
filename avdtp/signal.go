package avdtp

import (
	"fmt"

	"github.com/pkg/errors"
)

// SignalIdentifier is the 6-bit AVDTP signal id.
type SignalIdentifier uint8

const (
	SignalDiscover           SignalIdentifier = 0x01
	SignalGetCapabilities    SignalIdentifier = 0x02
	SignalSetConfiguration   SignalIdentifier = 0x03
	SignalGetConfiguration   SignalIdentifier = 0x04
	SignalReconfigure        SignalIdentifier = 0x05
	SignalOpen               SignalIdentifier = 0x06
	SignalStart              SignalIdentifier = 0x07
	SignalClose              SignalIdentifier = 0x08
	SignalSuspend            SignalIdentifier = 0x09
	SignalAbort              SignalIdentifier = 0x0A
	SignalSecurityControl    SignalIdentifier = 0x0B
	SignalGetAllCapabilities SignalIdentifier = 0x0C
	SignalDelayReport        SignalIdentifier = 0x0D

	signalFirst = SignalDiscover
	signalLast  = SignalDelayReport
)

var signalNames = []string{
	"invalid",
	"discover",
	"get capabilities",
	"set configuration",
	"get configuration",
	"reconfigure",
	"open",
	"start",
	"close",
	"suspend",
	"abort",
	"security control",
	"get all capabilities",
	"delay report",
}

func (s SignalIdentifier) String() string {
	if int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("signal(0x%02x)", uint8(s))
}

// MessageType is bits [1:0] of the signalling header.
type MessageType uint8

const (
	Command        MessageType = 0
	GeneralReject  MessageType = 1
	ResponseAccept MessageType = 2
	ResponseReject MessageType = 3
)

var messageTypeNames = []string{"command", "general reject", "response accept", "response reject"}

func (m MessageType) String() string {
	if int(m) < len(messageTypeNames) {
		return messageTypeNames[m]
	}
	return fmt.Sprintf("message(%d)", uint8(m))
}

// PacketType is bits [3:2] of the signalling header.
type PacketType uint8

const (
	PacketSingle   PacketType = 0
	PacketStart    PacketType = 1
	PacketContinue PacketType = 2
	PacketEnd      PacketType = 3
)

var packetTypeNames = []string{"single", "start", "continue", "end"}

func (p PacketType) String() string {
	if int(p) < len(packetTypeNames) {
		return packetTypeNames[p]
	}
	return fmt.Sprintf("packet(%d)", uint8(p))
}

// ErrorCode is an AVDTP error code [AVDTP 8.20.6.2]. Success, InProgress and
// GeneralError are local codes that never appear on the wire.
type ErrorCode uint8

const (
	Success                  ErrorCode = 0x00
	BadHeaderFormat          ErrorCode = 0x01
	BadLength                ErrorCode = 0x11
	BadACPSEID               ErrorCode = 0x12
	SEPInUse                 ErrorCode = 0x13
	SEPNotInUse              ErrorCode = 0x14
	BadServCategory          ErrorCode = 0x17
	BadPayloadFormat         ErrorCode = 0x18
	NotSupportedCommand      ErrorCode = 0x19
	InvalidCapabilities      ErrorCode = 0x1A
	BadRecoveryType          ErrorCode = 0x22
	BadMediaTransportFormat  ErrorCode = 0x23
	BadRecoveryFormat        ErrorCode = 0x25
	BadROHCFormat            ErrorCode = 0x26
	BadCPFormat              ErrorCode = 0x27
	BadMultiplexingFormat    ErrorCode = 0x28
	UnsupportedConfiguration ErrorCode = 0x29
	BadState                 ErrorCode = 0x31
	InProgress               ErrorCode = 0xFE
	GeneralError             ErrorCode = 0xFF
)

var errorCodeNames = map[ErrorCode]string{
	Success:                  "success",
	BadHeaderFormat:          "bad header format",
	BadLength:                "bad length",
	BadACPSEID:               "bad acp seid",
	SEPInUse:                 "sep in use",
	SEPNotInUse:              "sep not in use",
	BadServCategory:          "bad service category",
	BadPayloadFormat:         "bad payload format",
	NotSupportedCommand:      "not supported command",
	InvalidCapabilities:      "invalid capabilities",
	BadRecoveryType:          "bad recovery type",
	BadMediaTransportFormat:  "bad media transport format",
	BadRecoveryFormat:        "bad recovery format",
	BadROHCFormat:            "bad rohc format",
	BadCPFormat:              "bad cp format",
	BadMultiplexingFormat:    "bad multiplexing format",
	UnsupportedConfiguration: "unsupported configuration",
	BadState:                 "bad state",
	InProgress:               "in progress",
	GeneralError:             "general error",
}

func (e ErrorCode) String() string {
	if s, ok := errorCodeNames[e]; ok {
		return s
	}
	return fmt.Sprintf("error(0x%02x)", uint8(e))
}

// RejectError is a RESPONSE_REJECT or GENERAL_REJECT received from the peer.
type RejectError struct {
	Signal SignalIdentifier
	Code   ErrorCode
	// seid or service category the rejection refers to, if any
	Data uint8
}

func (e *RejectError) Error() string {
	if rejectCarriesData(e.Signal) {
		return fmt.Sprintf("%v rejected: %v (0x%02x)", e.Signal, e.Code, e.Data)
	}
	return fmt.Sprintf("%v rejected: %v", e.Signal, e.Code)
}

// NoLabel marks a signal without a transaction label.
const NoLabel uint8 = 0xFF

const (
	singleHeaderSize   = 2
	startHeaderSize    = 3
	continueHeaderSize = 1
	minSignalMTU       = startHeaderSize + 1
)

// rejectCarriesData reports whether a reject of id puts a seid or category
// in front of the error code.
func rejectCarriesData(id SignalIdentifier) bool {
	switch id {
	case SignalSetConfiguration, SignalReconfigure, SignalStart, SignalSuspend:
		return true
	}
	return false
}

// Signal is one AVDTP signalling message. Serialize emits it packet by packet,
// Deserialize assembles it from packets.
type Signal struct {
	Label   uint8
	ID      SignalIdentifier
	Type    MessageType
	Payload []byte

	// Error is InProgress while a COMMAND or RESPONSE_ACCEPT is being
	// assembled, then Success or GeneralError. For rejects it carries the
	// peer's error code and Data the associated seid or category.
	Error ErrorCode
	Data  uint8

	expected  int
	processed int
	offset    int
}

// NewSignal returns a cleared signal.
func NewSignal() *Signal {
	s := &Signal{}
	s.Clear()
	return s
}

// Set prepares the signal for sending.
func (s *Signal) Set(label uint8, id SignalIdentifier, typ MessageType) {
	s.Label = label
	s.ID = id
	s.Type = typ
	s.Error = Success
	s.Data = 0
	s.Payload = s.Payload[:0]
	s.expected, s.processed, s.offset = 0, 0, 0
}

// Clear forgets everything, label included.
func (s *Signal) Clear() {
	*s = Signal{Label: NoLabel, Error: Success}
}

// Reload rewinds serialization so the same message can be sent again.
func (s *Signal) Reload() {
	s.expected, s.processed, s.offset = 0, 0, 0
}

// IsComplete reports whether every packet has been emitted or received.
func (s *Signal) IsComplete() bool {
	return s.expected != 0 && s.expected == s.processed
}

// IsValid reports whether the signal has a label and a known identifier.
func (s *Signal) IsValid() bool {
	return s.Label <= 0x0f && s.ID >= signalFirst && s.ID <= signalLast
}

// ExpectedPackets is the number of packets the message spans.
func (s *Signal) ExpectedPackets() int { return s.expected }

// ProcessedPackets is the number of packets emitted or received so far.
func (s *Signal) ProcessedPackets() int { return s.processed }

func (s *Signal) header(pt PacketType) byte {
	return s.Label<<4 | uint8(pt)<<2 | uint8(s.Type)&0x03
}

// Serialize writes the next packet into out, using len(out) as the MTU, and
// returns its length. It returns 0 once every packet has been written.
func (s *Signal) Serialize(out []byte) int {
	mtu := len(out)

	if s.expected == 0 {
		if mtu < minSignalMTU {
			logger.Errorf("mtu %v too small for %v", mtu, s.ID)
			return 0
		}
		if len(s.Payload)+singleHeaderSize <= mtu {
			s.expected = 1
		} else {
			s.expected = (len(s.Payload) + startHeaderSize + mtu - continueHeaderSize - 1) / (mtu - continueHeaderSize)
		}
		if s.expected > 0xff {
			logger.Errorf("%v: %v bytes need %v packets at mtu %v", s.ID, len(s.Payload), s.expected, mtu)
			s.expected = 0
			return 0
		}
		s.processed, s.offset = 0, 0
	}

	if s.processed >= s.expected {
		return 0
	}

	var n int
	switch {
	case s.expected == 1:
		out[0] = s.header(PacketSingle)
		out[1] = uint8(s.ID) & 0x3f
		n = singleHeaderSize
	case s.processed == 0:
		out[0] = s.header(PacketStart)
		out[1] = uint8(s.expected)
		out[2] = uint8(s.ID) & 0x3f
		n = startHeaderSize
	case s.processed == s.expected-1:
		out[0] = s.header(PacketEnd)
		n = continueHeaderSize
	default:
		out[0] = s.header(PacketContinue)
		n = continueHeaderSize
	}

	c := copy(out[n:], s.Payload[s.offset:])
	s.offset += c
	s.processed++
	return n + c
}

// Deserialize feeds one received packet. A SINGLE or START packet starts a
// new message; CONTINUE and END packets must carry the label of the START.
func (s *Signal) Deserialize(in []byte) error {
	if len(in) < 1 {
		return errors.New("empty packet")
	}

	label := in[0] >> 4
	pt := PacketType(in[0] >> 2 & 0x03)
	typ := MessageType(in[0] & 0x03)

	switch pt {
	case PacketSingle:
		if len(in) < singleHeaderSize {
			return s.restart(label, typ, errors.Errorf("short single packet % x", in))
		}
		s.begin(label, typ, SignalIdentifier(in[1]&0x3f), 1)
		s.Payload = append(s.Payload, in[singleHeaderSize:]...)

	case PacketStart:
		if len(in) < startHeaderSize || in[1] < 2 {
			return s.restart(label, typ, errors.Errorf("bad start packet % x", in))
		}
		s.begin(label, typ, SignalIdentifier(in[2]&0x3f), int(in[1]))
		s.Payload = append(s.Payload, in[startHeaderSize:]...)

	default:
		if s.expected == 0 || s.IsComplete() {
			return errors.Errorf("%v packet without start", pt)
		}
		if label != s.Label {
			return errors.Errorf("%v packet label %v, assembling %v", pt, label, s.Label)
		}
		s.Payload = append(s.Payload, in[continueHeaderSize:]...)
		s.processed++

		last := s.processed == s.expected
		switch {
		case pt == PacketEnd && !last:
			logger.Warnf("%v: end after %v of %v packets", s.ID, s.processed, s.expected)
			s.expected = s.processed
			s.complete()
			s.Error = GeneralError
			return nil
		case pt == PacketContinue && last:
			logger.Warnf("%v: continue packet %v of %v", s.ID, s.processed, s.expected)
			s.complete()
			s.Error = GeneralError
			return nil
		}
	}

	if s.IsComplete() {
		s.complete()
	}
	return nil
}

func (s *Signal) begin(label uint8, typ MessageType, id SignalIdentifier, expected int) {
	s.Label = label
	s.Type = typ
	s.ID = id
	s.Payload = s.Payload[:0]
	s.Data = 0
	s.expected = expected
	s.processed = 1
	s.offset = 0
	s.Error = InProgress
}

// restart records a malformed first packet as a completed, failed message so
// the receiver can still answer it.
func (s *Signal) restart(label uint8, typ MessageType, err error) error {
	s.begin(label, typ, 0, 1)
	s.Error = GeneralError
	return err
}

func (s *Signal) complete() {
	switch s.Type {
	case Command, ResponseAccept:
		if s.IsValid() {
			s.Error = Success
		} else {
			s.Error = GeneralError
		}

	case GeneralReject:
		s.Error = NotSupportedCommand

	case ResponseReject:
		p := s.Payload
		if rejectCarriesData(s.ID) {
			if len(p) < 1 {
				s.Error = GeneralError
				return
			}
			s.Data, p = p[0], p[1:]
		}
		if len(p) < 1 {
			s.Error = GeneralError
			return
		}
		s.Error = ErrorCode(p[0])
	}
}

// Reject reports the peer's rejection as an error, or nil for an accepted response.
func (s *Signal) Reject() error {
	switch s.Type {
	case GeneralReject, ResponseReject:
		return &RejectError{Signal: s.ID, Code: s.Error, Data: s.Data}
	}
	return nil
}

func (s *Signal) String() string {
	return fmt.Sprintf("label %v %v %v [%v] % x", s.Label, s.ID, s.Type, s.Error, s.Payload)
}
