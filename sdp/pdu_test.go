package sdp

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDUSerialize(t *testing.T) {
	p := NewPDU(ServiceSearchRequest, 0x0102, []byte{0xaa, 0xbb})
	assert.True(t, p.IsValid())
	assert.Equal(t, []byte{0x02, 0x01, 0x02, 0x00, 0x02, 0xaa, 0xbb}, p.Bytes())

	assert.Equal(t, 0, p.Serialize(make([]byte, 6)))
}

func TestErrorResponseLayout(t *testing.T) {
	p := NewErrorResponse(7, InvalidContinuationState)
	assert.Equal(t, []byte{0x01, 0x00, 0x07, 0x00, 0x05}, p.Bytes())

	var d PDU
	require.NoError(t, d.Deserialize(p.Bytes()))
	assert.Equal(t, ErrorResponse, d.Type)
	assert.Equal(t, uint16(7), d.TransactionID)
	assert.Equal(t, InvalidContinuationState, d.Error)
}

func TestPDUDeserialize(t *testing.T) {
	var d PDU
	require.NoError(t, d.Deserialize([]byte{0x03, 0x00, 0x09, 0x00, 0x01, 0x42}))
	assert.True(t, d.IsValid())
	assert.Equal(t, ServiceSearchResponse, d.Type)
	assert.Equal(t, []byte{0x42}, d.Payload)

	assert.Error(t, d.Deserialize([]byte{0x03, 0x00, 0x09, 0x00, 0x02, 0x42}))
	assert.Equal(t, InvalidPduSize, d.Error)
	assert.True(t, d.IsValid())

	assert.Error(t, d.Deserialize([]byte{0x03, 0x00}))
	assert.False(t, d.IsValid())

	var zero PDU
	assert.False(t, zero.IsValid())
}

func TestContinuationState(t *testing.T) {
	assert.Nil(t, offsetState(0))
	c := offsetState(0x0102)
	assert.Equal(t, ContinuationState{0x01, 0x02}, c)
	off, ok := c.Offset()
	assert.True(t, ok)
	assert.Equal(t, 0x0102, off)

	_, ok = ContinuationState{1, 2, 3}.Offset()
	assert.False(t, ok)

	p := NewPayload(make([]byte, 8))
	p.pushContinuation(c)
	assert.Equal(t, []byte{0x02, 0x01, 0x02}, p.Data())
	got, ok := WrapPayload(p.Data()).popContinuation()
	assert.True(t, ok)
	assert.Equal(t, c, got)

	_, ok = WrapPayload(append([]byte{17}, make([]byte, 17)...)).popContinuation()
	assert.False(t, ok)
}

func TestParseErrorsKeepCause(t *testing.T) {
	_, err := ParseUUID("not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid uuid "not-a-uuid"`)
	assert.NotEqual(t, err, errors.Cause(err))

	var d PDU
	err = d.Deserialize([]byte{0x03})
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%+v", err), "Deserialize")
}
