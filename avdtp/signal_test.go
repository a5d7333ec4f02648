package avdtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func packets(s *Signal, mtu int) [][]byte {
	var out [][]byte
	buf := make([]byte, mtu)
	for n := s.Serialize(buf); n > 0; n = s.Serialize(buf) {
		out = append(out, append([]byte{}, buf[:n]...))
	}
	return out
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSerializeSingle(t *testing.T) {
	s := NewSignal()
	s.Set(3, SignalOpen, Command)
	s.Payload = append(s.Payload, 5<<2)

	pkts := packets(s, 48)
	require.Len(t, pkts, 1)
	assert.Equal(t, []byte{0x30, 0x06, 0x14}, pkts[0])
	assert.True(t, s.IsComplete())

	r := NewSignal()
	require.NoError(t, r.Deserialize(pkts[0]))
	assert.True(t, r.IsComplete())
	assert.Equal(t, uint8(3), r.Label)
	assert.Equal(t, SignalOpen, r.ID)
	assert.Equal(t, Command, r.Type)
	assert.Equal(t, Success, r.Error)
	assert.Equal(t, []byte{0x14}, r.Payload)
}

func TestExpectedPackets(t *testing.T) {
	tests := []struct {
		payload, mtu int
		expected     int
		last         int
	}{
		{0, 4, 1, 2},
		{10, 12, 1, 12},
		{11, 12, 2, 3},
		{100, 10, 12, 4},
		// payload fills the continues exactly, END carries nothing
		{16, 10, 3, 1},
		{600, 48, 13, 39},
	}
	for _, tt := range tests {
		s := NewSignal()
		s.Set(1, SignalGetAllCapabilities, ResponseAccept)
		s.Payload = append(s.Payload, payload(tt.payload)...)

		pkts := packets(s, tt.mtu)
		require.Len(t, pkts, tt.expected, "payload %v mtu %v", tt.payload, tt.mtu)
		assert.Equal(t, tt.expected, s.ExpectedPackets())
		assert.Len(t, pkts[len(pkts)-1], tt.last, "payload %v mtu %v", tt.payload, tt.mtu)
		for _, p := range pkts {
			assert.True(t, len(p) <= tt.mtu)
		}
		if tt.expected > 1 {
			assert.Equal(t, PacketStart, PacketType(pkts[0][0]>>2&0x03))
			assert.Equal(t, byte(tt.expected), pkts[0][1])
			assert.Equal(t, PacketEnd, PacketType(pkts[len(pkts)-1][0]>>2&0x03))
		}
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	for _, mtu := range []int{4, 5, 7, 48, 672} {
		s := NewSignal()
		s.Set(9, SignalGetAllCapabilities, ResponseAccept)
		s.Payload = append(s.Payload, payload(300)...)

		first := packets(s, mtu)
		s.Reload()
		assert.Equal(t, first, packets(s, mtu), "mtu %v", mtu)
		assert.Empty(t, packets(s, mtu))

		r := NewSignal()
		for i, p := range first {
			require.NoError(t, r.Deserialize(p))
			assert.Equal(t, i == len(first)-1, r.IsComplete())
		}
		assert.Equal(t, Success, r.Error)
		assert.Equal(t, uint8(9), r.Label)
		assert.Equal(t, SignalGetAllCapabilities, r.ID)
		assert.Equal(t, payload(300), r.Payload)
		assert.Equal(t, len(first), r.ProcessedPackets())
	}
}

func TestSerializeLimits(t *testing.T) {
	s := NewSignal()
	s.Set(0, SignalDiscover, Command)
	assert.Equal(t, 0, s.Serialize(make([]byte, 3)))

	s.Set(0, SignalDiscover, ResponseAccept)
	s.Payload = append(s.Payload, payload(2000)...)
	assert.Equal(t, 0, s.Serialize(make([]byte, 5)))
}

func TestFragmentLabelMismatch(t *testing.T) {
	s := NewSignal()
	s.Set(1, SignalGetCapabilities, ResponseAccept)
	s.Payload = append(s.Payload, payload(20)...)
	pkts := packets(s, 12)
	require.Len(t, pkts, 3)

	r := NewSignal()
	require.NoError(t, r.Deserialize(pkts[0]))

	foreign := append([]byte{}, pkts[1]...)
	foreign[0] = 2<<4 | foreign[0]&0x0f
	assert.Error(t, r.Deserialize(foreign))
	assert.False(t, r.IsComplete())

	require.NoError(t, r.Deserialize(pkts[1]))
	require.NoError(t, r.Deserialize(pkts[2]))
	assert.True(t, r.IsComplete())
	assert.Equal(t, payload(20), r.Payload)
}

func TestFragmentErrors(t *testing.T) {
	r := NewSignal()
	assert.Error(t, r.Deserialize([]byte{0x18}), "continue without start")
	assert.Error(t, r.Deserialize(nil))

	// END after two of three packets
	require.NoError(t, r.Deserialize([]byte{0x14, 0x03, 0x02, 0xaa}))
	assert.Equal(t, InProgress, r.Error)
	require.NoError(t, r.Deserialize([]byte{0x1c, 0xbb}))
	assert.True(t, r.IsComplete())
	assert.Equal(t, GeneralError, r.Error)

	// CONTINUE where the END belongs
	require.NoError(t, r.Deserialize([]byte{0x14, 0x02, 0x02, 0xaa}))
	require.NoError(t, r.Deserialize([]byte{0x18, 0xbb}))
	assert.True(t, r.IsComplete())
	assert.Equal(t, GeneralError, r.Error)

	// short single packet completes as a failed message
	assert.Error(t, r.Deserialize([]byte{0x20}))
	assert.True(t, r.IsComplete())
	assert.Equal(t, GeneralError, r.Error)

	// unknown signal id
	require.NoError(t, r.Deserialize([]byte{0x20, 0x0e}))
	assert.True(t, r.IsComplete())
	assert.Equal(t, GeneralError, r.Error)
	assert.False(t, r.IsValid())
}

func TestRejectParsing(t *testing.T) {
	tests := []struct {
		name string
		pkt  []byte
		id   SignalIdentifier
		code ErrorCode
		data uint8
	}{
		{"set configuration", []byte{0x13, 0x03, 0x07, 0x29}, SignalSetConfiguration, UnsupportedConfiguration, 0x07},
		{"start", []byte{0x13, 0x07, 0x14, 0x31}, SignalStart, BadState, 0x14},
		{"open", []byte{0x13, 0x06, 0x31}, SignalOpen, BadState, 0},
		{"reconfigure without code", []byte{0x13, 0x05, 0x07}, SignalReconfigure, GeneralError, 0x07},
		{"empty", []byte{0x13, 0x08}, SignalClose, GeneralError, 0},
		{"general reject", []byte{0x11, 0x0b}, SignalSecurityControl, NotSupportedCommand, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSignal()
			require.NoError(t, r.Deserialize(tt.pkt))
			require.True(t, r.IsComplete())
			assert.Equal(t, tt.id, r.ID)
			assert.Equal(t, tt.code, r.Error)
			assert.Equal(t, tt.data, r.Data)

			rej, ok := r.Reject().(*RejectError)
			require.True(t, ok)
			assert.Equal(t, tt.code, rej.Code)
		})
	}

	r := NewSignal()
	require.NoError(t, r.Deserialize([]byte{0x12, 0x06}))
	assert.NoError(t, r.Reject())
}

func TestSignalValidity(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.IsValid())
	assert.Equal(t, NoLabel, s.Label)

	s.Set(15, SignalDelayReport, Command)
	assert.True(t, s.IsValid())
	s.Set(15, SignalIdentifier(0x0e), Command)
	assert.False(t, s.IsValid())

	s.Set(2, SignalAbort, Command)
	s.Payload = append(s.Payload, 0x04)
	s.Clear()
	assert.Empty(t, s.Payload)
	assert.Equal(t, NoLabel, s.Label)
}
