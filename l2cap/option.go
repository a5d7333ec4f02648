package l2cap

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
)

var logger = a2dp.ComponentLogger("l2cap")

// DefaultMTU is the L2CAP default signalling MTU for BR/EDR.
const DefaultMTU = 672

// ChannelOption is implemented by things that open channels.
type ChannelOption interface {
	SetMTU(mtu int) error
	SetTimeout(d time.Duration) error
	SetLogger(l a2dp.Logger) error
}

// An Option configures a Dial or Listen.
type Option func(ChannelOption) error

// OptMTU sets the receive MTU requested for the channel.
func OptMTU(mtu int) Option {
	return func(opt ChannelOption) error {
		return opt.SetMTU(mtu)
	}
}

// OptTimeout bounds connection setup.
func OptTimeout(d time.Duration) Option {
	return func(opt ChannelOption) error {
		return opt.SetTimeout(d)
	}
}

// OptLogger replaces the channel logger.
func OptLogger(l a2dp.Logger) Option {
	return func(opt ChannelOption) error {
		return opt.SetLogger(l)
	}
}

type params struct {
	mtu     int
	timeout time.Duration
	logger  a2dp.Logger
}

func newParams(opts []Option) (*params, error) {
	p := &params{mtu: DefaultMTU, timeout: 10 * time.Second, logger: logger}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *params) SetMTU(mtu int) error {
	if mtu < 48 || mtu > 0xffff {
		return errors.Errorf("invalid mtu %v", mtu)
	}
	p.mtu = mtu
	return nil
}

func (p *params) SetTimeout(d time.Duration) error {
	p.timeout = d
	return nil
}

func (p *params) SetLogger(l a2dp.Logger) error {
	p.logger = l
	return nil
}
