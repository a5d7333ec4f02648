package a2dp

// Well known L2CAP protocol/service multiplexers.
const (
	PSMSDP   uint16 = 0x0001
	PSMAVDTP uint16 = 0x0019
)

// Channel is a connected, message oriented L2CAP channel.
type Channel interface {
	// Send writes one message. It must not exceed Info().TxMTU.
	Send(bb []byte) error

	// Subscribe returns the receive queue. Only one subscriber is allowed.
	Subscribe() (<-chan []byte, error)
	Unsubscribe() error

	Close() error
	Info() ChannelInfo
}

// ChannelInfo describes a Channel.
type ChannelInfo struct {
	PSM          uint16
	RxMTU, TxMTU int
	RemoteAddr   Addr
}
