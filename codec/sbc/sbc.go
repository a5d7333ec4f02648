// Package sbc negotiates the SBC codec information element. Audio is not
// encoded or decoded here.
package sbc

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
)

// Sampling frequencies.
const (
	Frequency16000 uint8 = 0x80
	Frequency32000 uint8 = 0x40
	Frequency44100 uint8 = 0x20
	Frequency48000 uint8 = 0x10
)

// Channel modes.
const (
	ChannelMono        uint8 = 0x08
	ChannelDual        uint8 = 0x04
	ChannelStereo      uint8 = 0x02
	ChannelJointStereo uint8 = 0x01
)

// Block lengths.
const (
	Blocks4  uint8 = 0x80
	Blocks8  uint8 = 0x40
	Blocks12 uint8 = 0x20
	Blocks16 uint8 = 0x10
)

// Subbands.
const (
	Subbands4 uint8 = 0x08
	Subbands8 uint8 = 0x04
)

// Allocation methods.
const (
	AllocationSNR      uint8 = 0x02
	AllocationLoudness uint8 = 0x01
)

const (
	MinBitpool = 2
	MaxBitpool = 250

	elementSize = 4
)

// Element is an SBC codec information element, each field holding its bits
// at their wire position. As capabilities a field may hold several bits, as a
// configuration exactly one.
type Element struct {
	Frequencies  uint8
	ChannelModes uint8
	BlockLengths uint8
	Subbands     uint8
	Allocations  uint8
	MinBitpool   uint8
	MaxBitpool   uint8
}

// All is everything an SBC decoder has to support.
var All = Element{
	Frequencies:  Frequency16000 | Frequency32000 | Frequency44100 | Frequency48000,
	ChannelModes: ChannelMono | ChannelDual | ChannelStereo | ChannelJointStereo,
	BlockLengths: Blocks4 | Blocks8 | Blocks12 | Blocks16,
	Subbands:     Subbands4 | Subbands8,
	Allocations:  AllocationSNR | AllocationLoudness,
	MinBitpool:   MinBitpool,
	MaxBitpool:   53,
}

func (e Element) Bytes() []byte {
	return []byte{
		e.Frequencies&0xf0 | e.ChannelModes&0x0f,
		e.BlockLengths&0xf0 | e.Subbands&0x0c | e.Allocations&0x03,
		e.MinBitpool,
		e.MaxBitpool,
	}
}

// ParseElement decodes a 4 byte information element.
func ParseElement(b []byte) (Element, error) {
	if len(b) != elementSize {
		return Element{}, errors.Wrapf(a2dp.ErrBadRequest, "sbc element of %v bytes", len(b))
	}
	return Element{
		Frequencies:  b[0] & 0xf0,
		ChannelModes: b[0] & 0x0f,
		BlockLengths: b[1] & 0xf0,
		Subbands:     b[1] & 0x0c,
		Allocations:  b[1] & 0x03,
		MinBitpool:   b[2],
		MaxBitpool:   b[3],
	}, nil
}

func (e Element) String() string {
	return fmt.Sprintf("freq 0x%x mode 0x%x blocks 0x%x subbands 0x%x alloc 0x%x bitpool %v-%v",
		e.Frequencies, e.ChannelModes, e.BlockLengths, e.Subbands, e.Allocations, e.MinBitpool, e.MaxBitpool)
}

// Validate checks that e is a single choice per field within caps.
func (e Element) Validate(caps Element) error {
	fields := []struct {
		name      string
		got, caps uint8
	}{
		{"sampling frequency", e.Frequencies, caps.Frequencies},
		{"channel mode", e.ChannelModes, caps.ChannelModes},
		{"block length", e.BlockLengths, caps.BlockLengths},
		{"subbands", e.Subbands, caps.Subbands},
		{"allocation method", e.Allocations, caps.Allocations},
	}
	for _, f := range fields {
		if bits.OnesCount8(f.got) != 1 {
			return errors.Wrapf(a2dp.ErrBadRequest, "%v 0x%x is not a single choice", f.name, f.got)
		}
		if f.got&f.caps == 0 {
			return errors.Wrapf(a2dp.ErrBadRequest, "%v 0x%x not supported", f.name, f.got)
		}
	}
	if e.MinBitpool < MinBitpool || e.MinBitpool > e.MaxBitpool || e.MaxBitpool > MaxBitpool {
		return errors.Wrapf(a2dp.ErrBadRequest, "bitpool %v-%v", e.MinBitpool, e.MaxBitpool)
	}
	if e.MinBitpool < caps.MinBitpool || e.MaxBitpool > caps.MaxBitpool {
		return errors.Wrapf(a2dp.ErrBadRequest, "bitpool %v-%v outside %v-%v",
			e.MinBitpool, e.MaxBitpool, caps.MinBitpool, caps.MaxBitpool)
	}
	return nil
}

// SamplingFrequency is the configured rate in Hz, or 0.
func (e Element) SamplingFrequency() int {
	switch e.Frequencies {
	case Frequency16000:
		return 16000
	case Frequency32000:
		return 32000
	case Frequency44100:
		return 44100
	case Frequency48000:
		return 48000
	}
	return 0
}

// Channels is the configured channel count, or 0.
func (e Element) Channels() int {
	switch e.ChannelModes {
	case ChannelMono:
		return 1
	case ChannelDual, ChannelStereo, ChannelJointStereo:
		return 2
	}
	return 0
}

// Codec is the SBC a2dp.Codec.
type Codec struct {
	mu     sync.Mutex
	caps   Element
	config Element
	ok     bool
}

// New returns a codec advertising caps.
func New(caps Element) *Codec {
	return &Codec{caps: caps}
}

func (c *Codec) Type() uint8 { return a2dp.CodecSBC }

func (c *Codec) Serialize(capabilities bool) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if capabilities || !c.ok {
		return c.caps.Bytes()
	}
	return c.config.Bytes()
}

func (c *Codec) Configure(element []byte) error {
	e, err := ParseElement(element)
	if err != nil {
		return err
	}
	if err := e.Validate(c.caps); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.config, c.ok = e, true
	return nil
}

// Configuration returns the active configuration, if any.
func (c *Codec) Configuration() (Element, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config, c.ok
}

// Choose picks a configuration from the intersection of local and remote
// capabilities, preferring 44.1kHz joint stereo with 16 blocks, 8 subbands
// and loudness allocation.
func Choose(local, remote Element) (Element, error) {
	pick := func(name string, mask uint8, order ...uint8) (uint8, error) {
		for _, v := range order {
			if mask&v != 0 {
				return v, nil
			}
		}
		return 0, errors.Wrapf(a2dp.ErrBadRequest, "no common %v", name)
	}

	var e Element
	var err error
	if e.Frequencies, err = pick("sampling frequency", local.Frequencies&remote.Frequencies,
		Frequency44100, Frequency48000, Frequency32000, Frequency16000); err != nil {
		return e, err
	}
	if e.ChannelModes, err = pick("channel mode", local.ChannelModes&remote.ChannelModes,
		ChannelJointStereo, ChannelStereo, ChannelDual, ChannelMono); err != nil {
		return e, err
	}
	if e.BlockLengths, err = pick("block length", local.BlockLengths&remote.BlockLengths,
		Blocks16, Blocks12, Blocks8, Blocks4); err != nil {
		return e, err
	}
	if e.Subbands, err = pick("subbands", local.Subbands&remote.Subbands,
		Subbands8, Subbands4); err != nil {
		return e, err
	}
	if e.Allocations, err = pick("allocation method", local.Allocations&remote.Allocations,
		AllocationLoudness, AllocationSNR); err != nil {
		return e, err
	}

	e.MinBitpool = max8(local.MinBitpool, remote.MinBitpool)
	e.MaxBitpool = min8(local.MaxBitpool, remote.MaxBitpool)
	if e.MinBitpool > e.MaxBitpool {
		return e, errors.Wrapf(a2dp.ErrBadRequest, "no common bitpool")
	}
	return e, nil
}

func max8(a, b uint8) uint8 {
	if a > b {
		return a
	}
	return b
}

func min8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

func (c *Codec) Encode(in []byte, out []byte) (int, int, error) {
	return 0, 0, errors.Wrap(a2dp.ErrUnavailable, "sbc encode")
}

func (c *Codec) Decode(in []byte, out []byte) (int, int, error) {
	return 0, 0, errors.Wrap(a2dp.ErrUnavailable, "sbc decode")
}
