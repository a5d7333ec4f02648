package a2dp

// Media codec types used in the AVDTP media codec capability.
const (
	CodecSBC    uint8 = 0x00
	CodecMPEG12 uint8 = 0x01
	CodecAAC    uint8 = 0x02
	CodecVendor uint8 = 0xFF
)

// Codec is an audio codec the signalling layer negotiates on behalf of.
// The signal processing itself is opaque to this module.
type Codec interface {
	// Type is the codec type octet of the media codec capability.
	Type() uint8

	// Serialize returns the codec specific information element. With capabilities set
	// it describes everything the codec supports, otherwise the active configuration.
	Serialize(capabilities bool) []byte

	// Configure applies a codec specific information element chosen by the peer.
	// ErrBadRequest means the configuration is not supported.
	Configure(element []byte) error

	Encode(in []byte, out []byte) (consumed, produced int, err error)
	Decode(in []byte, out []byte) (consumed, produced int, err error)
}
