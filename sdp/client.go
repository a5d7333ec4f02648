package sdp

import (
	"time"

	"github.com/pkg/errors"
)

// Client runs the SDP procedures over a ClientSocket. Every procedure pages
// through continuation states until the server reports it is done.
type Client struct {
	sock    *ClientSocket
	Timeout time.Duration
}

func NewClient(sock *ClientSocket) *Client {
	return &Client{sock: sock}
}

func (c *Client) exchange(typ, want PDUType, build func(p *Payload)) (*Payload, error) {
	p := NewPayload(make([]byte, 0xffff))
	build(p)
	if p.Overflowed() {
		return nil, errors.Errorf("%v does not fit a pdu", typ)
	}

	resp, err := c.sock.Command(c.Timeout, NewPDU(typ, 0, p.Data()))
	if err != nil {
		return nil, err
	}
	if resp.Type == ErrorResponse {
		return nil, &ResponseError{Code: resp.Error}
	}
	if resp.Type != want {
		return nil, errors.Errorf("unexpected %v, want %v", resp.Type, want)
	}
	return WrapPayload(resp.Payload), nil
}

func (c *Client) maxByteCount() uint16 {
	mtu := c.sock.Info().RxMTU
	if mtu <= 0 || mtu > 0xffff {
		return 0xffff
	}
	n := mtu - pduHeaderSize - 2 - continuationSize
	if n < minByteCount {
		n = minByteCount
	}
	return uint16(n)
}

func pushPattern(p *Payload, pattern []UUID) {
	p.PushSequence(true, func(s *Payload) {
		for _, u := range pattern {
			s.PushUUID(true, u)
		}
	})
}

func pushRanges(p *Payload, ranges []AttributeRange) {
	p.PushSequence(true, func(s *Payload) {
		for _, r := range ranges {
			if r.First == r.Last {
				s.PushUint16(true, r.First)
			} else {
				s.PushUint32(true, uint32(r.First)<<16|uint32(r.Last))
			}
		}
	})
}

func checkPattern(pattern []UUID) error {
	if len(pattern) == 0 || len(pattern) > maxPatternSize {
		return errors.Errorf("pattern needs 1 to %v uuids, have %v", maxPatternSize, len(pattern))
	}
	return nil
}

// ServiceSearch returns the handles of the records matching every uuid of pattern.
// max caps the handles the server returns per response.
func (c *Client) ServiceSearch(pattern []UUID, max uint16) ([]uint32, error) {
	if err := checkPattern(pattern); err != nil {
		return nil, err
	}

	var handles []uint32
	var cont ContinuationState
	for {
		resp, err := c.exchange(ServiceSearchRequest, ServiceSearchResponse, func(p *Payload) {
			pushPattern(p, pattern)
			p.BE.PushUint16(max)
			p.pushContinuation(cont)
		})
		if err != nil {
			return nil, errors.Wrap(err, "service search")
		}

		resp.BE.PopUint16() // total
		n := int(resp.BE.PopUint16())
		for i := 0; i < n; i++ {
			handles = append(handles, resp.BE.PopUint32())
		}
		next, ok := resp.popContinuation()
		if !ok || resp.Truncated() {
			return nil, errors.New("service search: malformed response")
		}
		if len(next) == 0 {
			return handles, nil
		}
		cont = next
	}
}

// popAttributeList reads one page of an attribute response: the byte count,
// that many octets of attribute list and the continuation state.
func popAttributeList(resp *Payload) ([]byte, ContinuationState, error) {
	n := int(resp.BE.PopUint16())
	raw := resp.Pop(n)
	if raw == nil {
		return nil, nil, errors.Errorf("attribute list of %v bytes truncated", n)
	}
	next, ok := resp.popContinuation()
	if !ok {
		return nil, nil, errors.New("malformed continuation state")
	}
	return raw, next, nil
}

// popAttributePairs reads (id, value) pairs until the payload is exhausted.
func popAttributePairs(p *Payload, out *[]Attribute) bool {
	for p.Available() > 0 {
		id, ok := p.PopUint16(true)
		if !ok {
			return false
		}
		v, ok := p.PopRawElement()
		if !ok {
			return false
		}
		*out = append(*out, Attribute{ID: id, Value: v})
	}
	return true
}

// parseAttributeLists decodes the attribute list bytes collected over every
// page. A server may split the list at any octet, or close a sequence per
// page, so the joined bytes hold one or more top level sequences.
func parseAttributeLists(raw []byte, inspect func(seq *Payload) bool) error {
	list := WrapPayload(raw)
	for list.Available() > 0 {
		ok := true
		if !list.PopSequence(true, func(s *Payload) { ok = inspect(s) }) || !ok {
			return errors.Errorf("malformed attribute list % x", raw)
		}
	}
	return nil
}

// attributePages runs request until the continuation state is empty and
// returns the joined attribute list bytes.
func (c *Client) attributePages(typ, want PDUType, request func(p *Payload, cont ContinuationState)) ([]byte, error) {
	var raw []byte
	var cont ContinuationState
	for {
		resp, err := c.exchange(typ, want, func(p *Payload) { request(p, cont) })
		if err != nil {
			return nil, err
		}
		page, next, err := popAttributeList(resp)
		if err != nil {
			return nil, err
		}
		raw = append(raw, page...)
		if len(next) == 0 {
			return raw, nil
		}
		cont = next
	}
}

// ServiceAttribute returns the attributes of record handle within ranges.
func (c *Client) ServiceAttribute(handle uint32, ranges []AttributeRange) ([]Attribute, error) {
	if len(ranges) == 0 {
		ranges = AllAttributes
	}

	raw, err := c.attributePages(ServiceAttributeRequest, ServiceAttributeResponse, func(p *Payload, cont ContinuationState) {
		p.BE.PushUint32(handle)
		p.BE.PushUint16(c.maxByteCount())
		pushRanges(p, ranges)
		p.pushContinuation(cont)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "service attribute 0x%08x", handle)
	}

	var attrs []Attribute
	err = parseAttributeLists(raw, func(s *Payload) bool {
		return popAttributePairs(s, &attrs)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "service attribute 0x%08x", handle)
	}
	return attrs, nil
}

// ServiceSearchAttribute returns the attributes within ranges of every record
// matching pattern, in record order.
func (c *Client) ServiceSearchAttribute(pattern []UUID, ranges []AttributeRange) ([]Attribute, error) {
	if err := checkPattern(pattern); err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		ranges = AllAttributes
	}

	raw, err := c.attributePages(ServiceSearchAttributeRequest, ServiceSearchAttributeResponse, func(p *Payload, cont ContinuationState) {
		pushPattern(p, pattern)
		p.BE.PushUint16(c.maxByteCount())
		pushRanges(p, ranges)
		p.pushContinuation(cont)
	})
	if err != nil {
		return nil, errors.Wrap(err, "service search attribute")
	}

	var attrs []Attribute
	err = parseAttributeLists(raw, func(services *Payload) bool {
		for services.Available() > 0 {
			ok := true
			if !services.PopSequence(true, func(s *Payload) { ok = popAttributePairs(s, &attrs) }) || !ok {
				return false
			}
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "service search attribute")
	}
	return attrs, nil
}

// Discover searches for pattern and fetches every attribute of each match.
func (c *Client) Discover(pattern []UUID) ([]*Service, error) {
	handles, err := c.ServiceSearch(pattern, 0xffff)
	if err != nil {
		return nil, err
	}

	var out []*Service
	for _, h := range handles {
		attrs, err := c.ServiceAttribute(h, AllAttributes)
		if err != nil {
			return nil, err
		}
		svc := NewService(h)
		for _, a := range attrs {
			if err := svc.Set(a.ID, a.Value); err != nil {
				logger.Warnf("record 0x%08x: %v", h, err)
			}
		}
		out = append(out, svc)
	}
	return out, nil
}
