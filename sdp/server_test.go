package sdp

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/l2cap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChannel struct {
	a2dp.Channel
	sends int32
}

func (c *countingChannel) Send(b []byte) error {
	atomic.AddInt32(&c.sends, 1)
	return c.Channel.Send(b)
}

func newLoopback(t *testing.T, tree *Tree, mtu int) (*Client, *countingChannel) {
	local, remote := l2cap.Pipe(a2dp.PSMSDP, mtu)

	srv, err := NewServer(tree)
	require.NoError(t, err)
	_, err = NewServerSocket(remote, srv)
	require.NoError(t, err)

	cc := &countingChannel{Channel: local}
	sock, err := NewClientSocket(cc, OptTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })
	return NewClient(sock), cc
}

func attributeRequest(handle uint32, maxBytes uint16, ranges []AttributeRange, cont ContinuationState) *PDU {
	p := NewPayload(make([]byte, 128))
	p.BE.PushUint32(handle)
	p.BE.PushUint16(maxBytes)
	pushRanges(p, ranges)
	p.pushContinuation(cont)
	return NewPDU(ServiceAttributeRequest, 1, p.Data())
}

func responseIDs(t *testing.T, resp *PDU) ([]uint16, ContinuationState) {
	require.Equal(t, ServiceAttributeResponse, resp.Type, "%v", resp)

	raw, next, err := popAttributeList(WrapPayload(resp.Payload))
	require.NoError(t, err)

	var attrs []Attribute
	require.NoError(t, parseAttributeLists(raw, func(s *Payload) bool {
		return popAttributePairs(s, &attrs)
	}))

	var ids []uint16
	for _, a := range attrs {
		ids = append(ids, a.ID)
	}
	return ids, next
}

// splitServer answers successive attribute requests with successive chunks
// of list, so pages end wherever chunk falls.
func splitServer(t *testing.T, ch a2dp.Channel, list []byte, chunk int) {
	rx, err := ch.Subscribe()
	require.NoError(t, err)

	go func() {
		offset := 0
		for b := range rx {
			var req PDU
			if req.Deserialize(b) != nil {
				return
			}

			end := offset + chunk
			if end > len(list) {
				end = len(list)
			}
			p := NewPayload(make([]byte, chunk+8))
			p.BE.PushUint16(uint16(end - offset))
			p.Push(list[offset:end])
			if end < len(list) {
				p.pushContinuation(offsetState(end))
			} else {
				p.pushContinuation(nil)
			}
			offset = end

			want := ServiceAttributeResponse
			if req.Type == ServiceSearchAttributeRequest {
				want = ServiceSearchAttributeResponse
			}
			if ch.Send(NewPDU(want, req.TransactionID, p.Data()).Bytes()) != nil {
				return
			}
		}
	}()
}

func TestClientJoinsSplitAttributeList(t *testing.T) {
	tree := NewTree()
	svc, err := AddA2DPRecord(tree, AudioSinkRole, "split", FeatureHeadphone)
	require.NoError(t, err)

	pairs := func(s *Payload) {
		for _, id := range svc.IDs() {
			v, ok := svc.Attribute(id)
			require.True(t, ok)
			s.PushUint16(true, id)
			s.PushRaw(v)
		}
	}
	single := NewPayload(make([]byte, 1024))
	single.PushSequence(true, pairs)
	nested := NewPayload(make([]byte, 1024))
	nested.PushSequence(true, func(s *Payload) { s.PushSequence(true, pairs) })

	for _, chunk := range []int{1, 5, 7, 16} {
		local, remote := l2cap.Pipe(a2dp.PSMSDP, 672)
		splitServer(t, remote, single.Data(), chunk)
		sock, err := NewClientSocket(local, OptTimeout(time.Second))
		require.NoError(t, err)

		attrs, err := NewClient(sock).ServiceAttribute(svc.Handle(), AllAttributes)
		require.NoError(t, err, "chunk %v", chunk)
		var ids []uint16
		for _, a := range attrs {
			ids = append(ids, a.ID)
		}
		assert.Equal(t, svc.IDs(), ids, "chunk %v", chunk)
		local.Close()

		local, remote = l2cap.Pipe(a2dp.PSMSDP, 672)
		splitServer(t, remote, nested.Data(), chunk)
		sock, err = NewClientSocket(local, OptTimeout(time.Second))
		require.NoError(t, err)

		attrs, err = NewClient(sock).ServiceSearchAttribute([]UUID{ClassAudioSink}, AllAttributes)
		require.NoError(t, err, "chunk %v", chunk)
		assert.Len(t, attrs, len(svc.IDs()), "chunk %v", chunk)
		local.Close()
	}
}

func TestClientRejectsTruncatedAttributeList(t *testing.T) {
	list := NewPayload(make([]byte, 32))
	list.PushSequence(true, func(s *Payload) {
		s.PushUint16(true, AttrServiceRecordHandle)
		s.PushUint32(true, FirstServiceHandle)
	})
	partial := list.Data()[:list.Length()-2]

	local, remote := l2cap.Pipe(a2dp.PSMSDP, 672)
	defer local.Close()
	splitServer(t, remote, partial, 64)
	sock, err := NewClientSocket(local, OptTimeout(time.Second))
	require.NoError(t, err)

	_, err = NewClient(sock).ServiceAttribute(FirstServiceHandle, AllAttributes)
	assert.Error(t, err)
}

func TestAttributeRangeFilter(t *testing.T) {
	tree := NewTree()
	svc, _ := tree.Add(0)
	svc.ProtocolDescriptorList().Add(ProtocolL2CAP, a2dp.PSMAVDTP)
	require.NoError(t, svc.SetElement(0x0200, func(p *Payload) { p.PushUint8(true, 1) }))
	require.NoError(t, svc.SetElement(0x0311, func(p *Payload) { p.PushUint16(true, 1) }))
	require.Equal(t, []uint16{0x0000, 0x0004, 0x0200, 0x0311}, svc.IDs())

	srv, err := NewServer(tree)
	require.NoError(t, err)

	req := attributeRequest(svc.Handle(), 0xffff, []AttributeRange{{0x0000, 0x0004}, {0x0200, 0x0300}}, nil)
	ids, next := responseIDs(t, srv.OnPDU(req, 672))
	assert.Equal(t, []uint16{0x0000, 0x0004, 0x0200}, ids)
	assert.Empty(t, next)

	req = attributeRequest(svc.Handle(), 0xffff, []AttributeRange{{0x0311, 0x0311}}, nil)
	ids, _ = responseIDs(t, srv.OnPDU(req, 672))
	assert.Equal(t, []uint16{0x0311}, ids)
}

func TestAttributeContinuation(t *testing.T) {
	tree := NewTree()
	svc, _ := AddA2DPRecord(tree, AudioSourceRole, "A2DP Audio", FeaturePlayer)
	srv, _ := NewServer(tree)

	var all []uint16
	var cont ContinuationState
	rounds := 0
	for {
		rounds++
		ids, next := responseIDs(t, srv.OnPDU(attributeRequest(svc.Handle(), 24, AllAttributes, cont), 672))
		require.NotEmpty(t, ids)
		all = append(all, ids...)
		if len(next) == 0 {
			break
		}
		cont = next
		require.Less(t, rounds, 10)
	}

	assert.Greater(t, rounds, 1)
	assert.Equal(t, svc.IDs(), all)
}

func TestServerErrors(t *testing.T) {
	tree := NewTree()
	svc, _ := tree.Add(0)
	srv, _ := NewServer(tree)

	tests := []struct {
		name string
		req  *PDU
		want ErrorCode
	}{
		{"unknown handle", attributeRequest(0x1234, 0xffff, AllAttributes, nil), InvalidServiceRecordHandle},
		{"small max bytes", attributeRequest(svc.Handle(), 6, AllAttributes, nil), InvalidRequestSyntax},
		{"bad continuation", attributeRequest(svc.Handle(), 0xffff, AllAttributes, ContinuationState{1, 2, 3}), InvalidContinuationState},
		{"offset past end", attributeRequest(svc.Handle(), 0xffff, AllAttributes, offsetState(40)), InvalidContinuationState},
		{"empty pattern", NewPDU(ServiceSearchRequest, 1, []byte{0x35, 0x00, 0x00, 0x01, 0x00}), InvalidRequestSyntax},
		{"response type", NewPDU(ServiceSearchResponse, 1, nil), InvalidRequestSyntax},
		{"short", NewPDU(ServiceAttributeRequest, 1, []byte{0x00}), InvalidRequestSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.OnPDU(tt.req, 672)
			require.Equal(t, ErrorResponse, resp.Type)
			assert.Equal(t, tt.req.TransactionID, resp.TransactionID)
			assert.Equal(t, tt.want, resp.Error)
		})
	}
}

func TestServiceSearchPagination(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 5; i++ {
		_, err := AddA2DPRecord(tree, AudioSinkRole, "sink", FeatureHeadphone)
		require.NoError(t, err)
	}
	_, err := AddA2DPRecord(tree, AudioSourceRole, "source", FeaturePlayer)
	require.NoError(t, err)

	client, ch := newLoopback(t, tree, 672)
	handles, err := client.ServiceSearch([]UUID{ClassAudioSink}, 2)
	require.NoError(t, err)

	assert.Equal(t, []uint32{0x10000, 0x10001, 0x10002, 0x10003, 0x10004}, handles)
	assert.Equal(t, int32(3), atomic.LoadInt32(&ch.sends))
}

func TestServiceSearchMTUClamp(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 8; i++ {
		tree.Add(0)
		tree.Services()[i].ServiceClassIDList().Add(ClassAudioSink)
	}
	srv, _ := NewServer(tree)

	p := NewPayload(make([]byte, 32))
	pushPattern(p, []UUID{ClassAudioSink})
	p.BE.PushUint16(100)
	p.pushContinuation(nil)

	// 5 header + 4 counts + 3 continuation leaves room for 3 handles in 24 octets
	resp := srv.OnPDU(NewPDU(ServiceSearchRequest, 9, p.Data()), 24)
	require.Equal(t, ServiceSearchResponse, resp.Type)
	r := WrapPayload(resp.Payload)
	assert.Equal(t, uint16(8), r.BE.PopUint16())
	assert.Equal(t, uint16(3), r.BE.PopUint16())
	assert.True(t, resp.Size() <= 24)
}

func TestDiscoverOverSmallMTU(t *testing.T) {
	tree := NewTree()
	_, err := AddA2DPRecord(tree, AudioSinkRole, "living room", FeatureSpeaker)
	require.NoError(t, err)
	_, err = AddA2DPRecord(tree, AudioSourceRole, "phone", FeaturePlayer)
	require.NoError(t, err)

	client, ch := newLoopback(t, tree, 48)
	services, err := client.Discover([]UUID{ProtocolAVDTP})
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.True(t, atomic.LoadInt32(&ch.sends) > 3)

	info, err := ParseA2DPRecord(services[0])
	require.NoError(t, err)
	assert.Equal(t, AudioSinkRole, info.Role)
	assert.Equal(t, "living room", info.Name)
	assert.Equal(t, FeatureSpeaker, info.Features)
	assert.Equal(t, tree.Services()[0].IDs(), services[0].IDs())

	attrs, err := client.ServiceSearchAttribute([]UUID{ClassAudioSource}, []AttributeRange{{AttrServiceRecordHandle, AttrServiceRecordHandle}, {0x0100, 0x0100}})
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, AttrServiceRecordHandle, attrs[0].ID)
	e, ok := attrs[1].Element()
	require.True(t, ok)
	assert.Equal(t, "phone", e.Value)
}

func TestServiceSearchAttributeContinuation(t *testing.T) {
	tree := NewTree()
	for i := 0; i < 3; i++ {
		_, err := AddA2DPRecord(tree, AudioSinkRole, "sink", FeatureHeadphone)
		require.NoError(t, err)
	}

	client, ch := newLoopback(t, tree, 48)
	attrs, err := client.ServiceSearchAttribute([]UUID{ClassAudioSink}, AllAttributes)
	require.NoError(t, err)

	want := 3 * len(tree.Services()[0].IDs())
	assert.Len(t, attrs, want)
	assert.True(t, atomic.LoadInt32(&ch.sends) > 1)
}

func TestClientTimeout(t *testing.T) {
	local, _ := l2cap.Pipe(a2dp.PSMSDP, 672)
	sock, err := NewClientSocket(local)
	require.NoError(t, err)

	_, err = NewClient(sock).ServiceSearch(nil, 1)
	require.Error(t, err)

	client := &Client{sock: sock, Timeout: 20 * time.Millisecond}
	_, err = client.ServiceSearch([]UUID{ClassAudioSink}, 1)
	assert.True(t, a2dp.Is(err, a2dp.ErrTimedOut), "got %v", err)
}
