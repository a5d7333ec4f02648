package sdp

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/metrics"
)

// ServiceRepository gives the server locked read access to the records it serves.
type ServiceRepository interface {
	WithServiceTree(f func(t *Tree))
}

// Attribute is one (id, encoded value) pair of a service record.
type Attribute struct {
	ID    uint16
	Value []byte
}

// Element decodes the attribute value.
func (a Attribute) Element() (Element, bool) {
	return WrapPayload(a.Value).PopElement()
}

// AttributeRange selects attribute ids First..Last inclusive.
type AttributeRange struct {
	First, Last uint16
}

// AllAttributes selects every attribute.
var AllAttributes = []AttributeRange{{0x0000, 0xffff}}

func (r AttributeRange) Contains(id uint16) bool {
	return id >= r.First && id <= r.Last
}

func inRanges(ranges []AttributeRange, id uint16) bool {
	for _, r := range ranges {
		if r.Contains(id) {
			return true
		}
	}
	return false
}

const (
	maxPatternSize = 12

	// size of a handle count pair in a search response
	searchCountsSize = 4
	// worst case continuation state this server emits
	continuationSize = 3
	// worst case sequence descriptor this server emits
	sequenceHeaderSize = 3
	// id element of an attribute pair
	attributeIDSize = 3
	// smallest max byte count a client may ask for
	minByteCount = 7
)

type pduDispatcher struct {
	desc    string
	handler func(s *Server, req *PDU, mtu int) *PDU
}

var dispatcher = map[PDUType]pduDispatcher{
	ServiceSearchRequest:          {"service search", (*Server).OnServiceSearch},
	ServiceAttributeRequest:       {"service attribute", (*Server).OnServiceAttribute},
	ServiceSearchAttributeRequest: {"service search attribute", (*Server).OnServiceSearchAttribute},
}

// Server answers SDP requests from a ServiceRepository.
type Server struct {
	repo   ServiceRepository
	logger a2dp.Logger
}

// NewServer returns a server for the records of repo.
func NewServer(repo ServiceRepository, opts ...Option) (*Server, error) {
	if repo == nil {
		return nil, errors.New("no service repository")
	}
	s := &Server{repo: repo, logger: logger}
	if err := applyOptions(s, opts); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) SetLogger(l a2dp.Logger) error {
	s.logger = l
	return nil
}

// OnPDU answers one request. mtu is the outgoing MTU of the channel that
// carries the response.
func (s *Server) OnPDU(req *PDU, mtu int) *PDU {
	if !req.IsValid() {
		return NewErrorResponse(req.TransactionID, InvalidRequestSyntax)
	}
	if req.Error == InvalidPduSize {
		return NewErrorResponse(req.TransactionID, InvalidPduSize)
	}

	d, ok := dispatcher[req.Type]
	if !ok {
		s.logger.Debugf("unexpected pdu %v", req.Type)
		return NewErrorResponse(req.TransactionID, InvalidRequestSyntax)
	}
	s.logger.Debugf("%v request, tid %v", d.desc, req.TransactionID)
	resp := d.handler(s, req, mtu)
	metrics.ObserveSDP(req.Type.String(), resp.Type.String())
	return resp
}

func (s *Server) reject(req *PDU, code ErrorCode, format string, args ...interface{}) *PDU {
	s.logger.Debugf("reject tid %v with %v: %v", req.TransactionID, code, fmt.Sprintf(format, args...))
	return NewErrorResponse(req.TransactionID, code)
}

func popPattern(p *Payload) ([]UUID, bool) {
	var pattern []UUID
	ok := p.PopSequence(true, func(s *Payload) {
		for s.Available() > 0 {
			u, ok := s.PopUUID(true)
			if !ok {
				pattern = nil
				return
			}
			pattern = append(pattern, u)
		}
	})
	if !ok || len(pattern) == 0 || len(pattern) > maxPatternSize {
		return nil, false
	}
	return pattern, true
}

func popRanges(p *Payload) ([]AttributeRange, bool) {
	var ranges []AttributeRange
	valid := true
	ok := p.PopSequence(true, func(s *Payload) {
		for s.Available() > 0 && valid {
			t, size, ok := s.PopDescriptor()
			switch {
			case !ok || t != Uint:
				valid = false
			case size == 2:
				id := s.BE.PopUint16()
				ranges = append(ranges, AttributeRange{id, id})
			case size == 4:
				v := s.BE.PopUint32()
				ranges = append(ranges, AttributeRange{uint16(v >> 16), uint16(v)})
			default:
				valid = false
			}
		}
		valid = valid && !s.Truncated()
	})
	if !ok || !valid || len(ranges) == 0 {
		return nil, false
	}
	return ranges, true
}

// OnServiceSearch answers a ServiceSearchRequest:
// pattern SEQ, max record count, continuation.
func (s *Server) OnServiceSearch(req *PDU, mtu int) *PDU {
	p := WrapPayload(req.Payload)

	pattern, ok := popPattern(p)
	if !ok {
		return s.reject(req, InvalidRequestSyntax, "bad uuid pattern")
	}
	max := int(p.BE.PopUint16())
	cont, ok := p.popContinuation()
	if !ok || p.Truncated() {
		return s.reject(req, InvalidRequestSyntax, "short request")
	}
	offset, ok := cont.Offset()
	if !ok {
		return s.reject(req, InvalidContinuationState, "continuation % x", []byte(cont))
	}

	fit := (mtu - pduHeaderSize - searchCountsSize - continuationSize) / 4
	if fit < max {
		max = fit
	}
	if max <= 0 {
		return s.reject(req, InsufficientResources, "mtu %v", mtu)
	}

	var handles []uint32
	s.repo.WithServiceTree(func(t *Tree) {
		for _, svc := range t.Search(pattern) {
			handles = append(handles, svc.Handle())
		}
	})
	if offset > len(handles) {
		return s.reject(req, InvalidContinuationState, "offset %v of %v", offset, len(handles))
	}

	page := handles[offset:]
	next := 0
	if len(page) > max {
		page = page[:max]
		next = offset + max
	}

	out := NewPayload(make([]byte, searchCountsSize+4*len(page)+continuationSize))
	out.BE.PushUint16(uint16(len(handles)))
	out.BE.PushUint16(uint16(len(page)))
	for _, h := range page {
		out.BE.PushUint32(h)
	}
	out.pushContinuation(offsetState(next))

	return NewPDU(ServiceSearchResponse, req.TransactionID, out.Data())
}

// attribute list page under construction
type attributePage struct {
	budget  int
	skip    int
	emitted int
	full    bool
}

// take decides whether the next attribute of cost bytes goes onto the page.
func (a *attributePage) take(cost int) bool {
	if a.full {
		return false
	}
	if a.skip > 0 {
		a.skip--
		return false
	}
	if cost > a.budget {
		a.full = true
		return false
	}
	a.budget -= cost
	a.emitted++
	return true
}

func countAttributes(svc *Service, ranges []AttributeRange) int {
	n := 0
	for _, id := range svc.IDs() {
		if inRanges(ranges, id) {
			n++
		}
	}
	return n
}

func pushAttributes(p *Payload, svc *Service, ranges []AttributeRange, page *attributePage, index *int) {
	for _, id := range svc.IDs() {
		if !inRanges(ranges, id) {
			continue
		}
		v, ok := svc.Attribute(id)
		if !ok {
			continue
		}
		if page.take(attributeIDSize + len(v)) {
			p.PushUint16(true, id)
			p.PushRaw(v)
		}
		if page.full {
			return
		}
		*index++
	}
}

func (s *Server) attributeResponse(req *PDU, typ PDUType, mtu int, maxBytes int, offset int, collect func(p *Payload, page *attributePage, index *int)) *PDU {
	if maxBytes < minByteCount {
		return s.reject(req, InvalidRequestSyntax, "max byte count %v", maxBytes)
	}
	if fit := mtu - pduHeaderSize - 2 - continuationSize; fit < maxBytes {
		maxBytes = fit
	}

	page := &attributePage{budget: maxBytes - sequenceHeaderSize, skip: offset}
	list := NewPayload(make([]byte, maxBytes))
	index := 0
	list.PushSequence(true, func(seq *Payload) {
		collect(seq, page, &index)
	})

	if page.full && page.emitted == 0 {
		return s.reject(req, InsufficientResources, "attribute does not fit %v bytes", maxBytes)
	}
	if index < offset {
		return s.reject(req, InvalidContinuationState, "offset %v of %v", offset, index)
	}

	next := 0
	if page.full {
		next = index
	}

	out := NewPayload(make([]byte, 2+list.Length()+continuationSize))
	out.BE.PushUint16(uint16(list.Length()))
	out.PushRaw(list.Data())
	out.pushContinuation(offsetState(next))
	return NewPDU(typ, req.TransactionID, out.Data())
}

// OnServiceAttribute answers a ServiceAttributeRequest:
// handle, max byte count, attribute range SEQ, continuation.
func (s *Server) OnServiceAttribute(req *PDU, mtu int) *PDU {
	p := WrapPayload(req.Payload)

	handle := p.BE.PopUint32()
	maxBytes := int(p.BE.PopUint16())
	ranges, ok := popRanges(p)
	if !ok {
		return s.reject(req, InvalidRequestSyntax, "bad attribute id list")
	}
	cont, ok := p.popContinuation()
	if !ok || p.Truncated() {
		return s.reject(req, InvalidRequestSyntax, "short request")
	}
	offset, ok := cont.Offset()
	if !ok {
		return s.reject(req, InvalidContinuationState, "continuation % x", []byte(cont))
	}

	var resp *PDU
	s.repo.WithServiceTree(func(t *Tree) {
		svc := t.Find(handle)
		if svc == nil {
			resp = s.reject(req, InvalidServiceRecordHandle, "handle 0x%08x", handle)
			return
		}
		resp = s.attributeResponse(req, ServiceAttributeResponse, mtu, maxBytes, offset,
			func(seq *Payload, page *attributePage, index *int) {
				pushAttributes(seq, svc, ranges, page, index)
			})
	})
	return resp
}

// OnServiceSearchAttribute answers a ServiceSearchAttributeRequest:
// pattern SEQ, max byte count, attribute range SEQ, continuation.
// The response holds one attribute SEQ per matching record.
func (s *Server) OnServiceSearchAttribute(req *PDU, mtu int) *PDU {
	p := WrapPayload(req.Payload)

	pattern, ok := popPattern(p)
	if !ok {
		return s.reject(req, InvalidRequestSyntax, "bad uuid pattern")
	}
	maxBytes := int(p.BE.PopUint16())
	ranges, ok := popRanges(p)
	if !ok {
		return s.reject(req, InvalidRequestSyntax, "bad attribute id list")
	}
	cont, ok := p.popContinuation()
	if !ok || p.Truncated() {
		return s.reject(req, InvalidRequestSyntax, "short request")
	}
	offset, ok := cont.Offset()
	if !ok {
		return s.reject(req, InvalidContinuationState, "continuation % x", []byte(cont))
	}

	var resp *PDU
	s.repo.WithServiceTree(func(t *Tree) {
		matches := t.Search(pattern)
		resp = s.attributeResponse(req, ServiceSearchAttributeResponse, mtu, maxBytes, offset,
			func(seq *Payload, page *attributePage, index *int) {
				for _, svc := range matches {
					if page.full {
						return
					}
					if n := countAttributes(svc, ranges); page.skip >= n {
						page.skip -= n
						*index += n
						continue
					}
					page.budget -= sequenceHeaderSize
					seq.PushSequence(true, func(inner *Payload) {
						pushAttributes(inner, svc, ranges, page, index)
					})
				}
			})
	})
	return resp
}
