package l2cap

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
)

const pipeQueueSize = 64

// Pipe returns two connected in-memory channels. A message sent on one is
// delivered to the other. Closing either end disconnects both.
func Pipe(psm uint16, mtu int) (a2dp.Channel, a2dp.Channel) {
	a := newPipeEnd(psm, mtu, "00:00:00:00:00:02")
	b := newPipeEnd(psm, mtu, "00:00:00:00:00:01")
	a.peer, b.peer = b, a
	return a, b
}

type pipeEnd struct {
	info a2dp.ChannelInfo
	peer *pipeEnd

	mu         sync.Mutex
	rx         chan []byte
	subscribed bool
	closed     bool
}

func newPipeEnd(psm uint16, mtu int, remote string) *pipeEnd {
	return &pipeEnd{
		info: a2dp.ChannelInfo{PSM: psm, RxMTU: mtu, TxMTU: mtu, RemoteAddr: a2dp.NewAddr(remote)},
		rx:   make(chan []byte, pipeQueueSize),
	}
}

func (p *pipeEnd) Info() a2dp.ChannelInfo { return p.info }

func (p *pipeEnd) Send(bb []byte) error {
	if len(bb) > p.info.TxMTU {
		return errors.Wrapf(a2dp.ErrBadRequest, "%v bytes exceed mtu %v", len(bb), p.info.TxMTU)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return a2dp.ErrClosed
	}
	return p.peer.deliver(bb)
}

func (p *pipeEnd) deliver(bb []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return a2dp.ErrClosed
	}
	b := make([]byte, len(bb))
	copy(b, bb)
	select {
	case p.rx <- b:
		return nil
	default:
		return errors.Wrap(a2dp.ErrUnavailable, "pipe queue full")
	}
}

func (p *pipeEnd) Subscribe() (<-chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, a2dp.ErrClosed
	}
	if p.subscribed {
		return nil, a2dp.ErrAlreadyConnected
	}
	p.subscribed = true
	return p.rx, nil
}

// Unsubscribe ends the receive queue. The pipe cannot be resubscribed.
func (p *pipeEnd) Unsubscribe() error {
	return p.shutdown()
}

func (p *pipeEnd) shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.rx)
	return nil
}

func (p *pipeEnd) Close() error {
	p.shutdown()
	return p.peer.shutdown()
}
