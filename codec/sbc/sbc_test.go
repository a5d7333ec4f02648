package sbc

import (
	"testing"

	"github.com/rigado/a2dp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementBytes(t *testing.T) {
	assert.Equal(t, []byte{0xff, 0xff, 2, 53}, All.Bytes())

	e, err := ParseElement([]byte{0x21, 0x15, 2, 53})
	require.NoError(t, err)
	assert.Equal(t, Frequency44100, e.Frequencies)
	assert.Equal(t, ChannelJointStereo, e.ChannelModes)
	assert.Equal(t, Blocks16, e.BlockLengths)
	assert.Equal(t, Subbands8, e.Subbands)
	assert.Equal(t, AllocationLoudness, e.Allocations)
	assert.Equal(t, 44100, e.SamplingFrequency())
	assert.Equal(t, 2, e.Channels())
	assert.Equal(t, []byte{0x21, 0x15, 2, 53}, e.Bytes())

	_, err = ParseElement([]byte{0x21, 0x15, 2})
	assert.True(t, a2dp.Is(err, a2dp.ErrBadRequest))
}

func TestConfigure(t *testing.T) {
	caps := All
	caps.Frequencies = Frequency44100 | Frequency48000

	tests := []struct {
		name    string
		element []byte
		ok      bool
	}{
		{"valid", []byte{0x21, 0x15, 2, 53}, true},
		{"two frequencies", []byte{0x31, 0x15, 2, 53}, false},
		{"no channel mode", []byte{0x20, 0x15, 2, 53}, false},
		{"unsupported frequency", []byte{0x81, 0x15, 2, 53}, false},
		{"two allocations", []byte{0x21, 0x17, 2, 53}, false},
		{"bitpool inverted", []byte{0x21, 0x15, 40, 30}, false},
		{"bitpool above caps", []byte{0x21, 0x15, 2, 60}, false},
		{"short", []byte{0x21}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(caps)
			err := c.Configure(tt.element)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.element, c.Serialize(false))
				assert.Equal(t, caps.Bytes(), c.Serialize(true))
				return
			}
			assert.True(t, a2dp.Is(err, a2dp.ErrBadRequest), "%v", err)
			_, ok := c.Configuration()
			assert.False(t, ok)
		})
	}
}

func TestChoose(t *testing.T) {
	remote := Element{
		Frequencies:  Frequency48000 | Frequency32000,
		ChannelModes: ChannelStereo | ChannelMono,
		BlockLengths: Blocks8,
		Subbands:     Subbands4 | Subbands8,
		Allocations:  AllocationSNR,
		MinBitpool:   10,
		MaxBitpool:   35,
	}
	e, err := Choose(All, remote)
	require.NoError(t, err)
	assert.Equal(t, Element{
		Frequencies:  Frequency48000,
		ChannelModes: ChannelStereo,
		BlockLengths: Blocks8,
		Subbands:     Subbands8,
		Allocations:  AllocationSNR,
		MinBitpool:   10,
		MaxBitpool:   35,
	}, e)
	assert.NoError(t, e.Validate(remote))

	remote.Frequencies = Frequency16000
	local := All
	local.Frequencies = Frequency44100
	_, err = Choose(local, remote)
	assert.Error(t, err)
}

func TestCodecUnavailable(t *testing.T) {
	c := New(All)
	assert.Equal(t, a2dp.CodecSBC, c.Type())
	_, _, err := c.Decode([]byte{1}, make([]byte, 8))
	assert.True(t, a2dp.Is(err, a2dp.ErrUnavailable))
	_, _, err = c.Encode([]byte{1}, make([]byte, 8))
	assert.True(t, a2dp.Is(err, a2dp.ErrUnavailable))
}
