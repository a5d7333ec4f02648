package sdp

import (
	"time"

	"github.com/rigado/a2dp"
)

var logger = a2dp.ComponentLogger("sdp")

// ComponentOption is implemented by the SDP server and sockets.
type ComponentOption interface {
	SetLogger(l a2dp.Logger) error
}

// TimeoutOption is implemented by components that wait for a peer.
type TimeoutOption interface {
	SetTimeout(d time.Duration) error
}

// An Option configures an SDP component.
type Option func(ComponentOption) error

// OptLogger replaces the component logger.
func OptLogger(l a2dp.Logger) Option {
	return func(opt ComponentOption) error {
		return opt.SetLogger(l)
	}
}

// OptTimeout sets the default request timeout of a client socket.
func OptTimeout(d time.Duration) Option {
	return func(opt ComponentOption) error {
		t, ok := opt.(TimeoutOption)
		if !ok {
			return a2dp.ErrUnavailable
		}
		return t.SetTimeout(d)
	}
}

func applyOptions(c ComponentOption, opts []Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}
