package avdtp

import (
	"time"

	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/worker"
)

var logger = a2dp.ComponentLogger("avdtp")

// ComponentOption is implemented by every configurable AVDTP component.
type ComponentOption interface {
	SetLogger(l a2dp.Logger) error
}

// SocketOption is implemented by Socket.
type SocketOption interface {
	SetTimeout(d time.Duration) error
	SetServer(s *Server) error
	SetJobQueue(p *worker.Pool) error
	SetMediaHandler(h func(pkt []byte)) error
}

// EndpointOption is implemented by AudioEndpoint.
type EndpointOption interface {
	SetDelayReporting(enabled bool) error
	SetPacketHandler(h func(ep *AudioEndpoint, payload []byte)) error
}

// An Option configures an AVDTP component.
type Option func(ComponentOption) error

func OptLogger(l a2dp.Logger) Option {
	return func(opt ComponentOption) error {
		return opt.SetLogger(l)
	}
}

func socketOption(opt ComponentOption, f func(SocketOption) error) error {
	s, ok := opt.(SocketOption)
	if !ok {
		return a2dp.ErrUnavailable
	}
	return f(s)
}

func endpointOption(opt ComponentOption, f func(EndpointOption) error) error {
	e, ok := opt.(EndpointOption)
	if !ok {
		return a2dp.ErrUnavailable
	}
	return f(e)
}

// OptTimeout sets the default Exchange timeout.
func OptTimeout(d time.Duration) Option {
	return func(opt ComponentOption) error {
		return socketOption(opt, func(s SocketOption) error { return s.SetTimeout(d) })
	}
}

// OptServer answers inbound commands on a signalling socket.
func OptServer(srv *Server) Option {
	return func(opt ComponentOption) error {
		return socketOption(opt, func(s SocketOption) error { return s.SetServer(srv) })
	}
}

// OptJobQueue defers command dispatch to a worker pool.
func OptJobQueue(p *worker.Pool) Option {
	return func(opt ComponentOption) error {
		return socketOption(opt, func(s SocketOption) error { return s.SetJobQueue(p) })
	}
}

// OptMediaHandler receives every packet of a transport socket.
func OptMediaHandler(h func(pkt []byte)) Option {
	return func(opt ComponentOption) error {
		return socketOption(opt, func(s SocketOption) error { return s.SetMediaHandler(h) })
	}
}

// OptDelayReporting advertises the DELAY_REPORTING capability.
func OptDelayReporting(enabled bool) Option {
	return func(opt ComponentOption) error {
		return endpointOption(opt, func(e EndpointOption) error { return e.SetDelayReporting(enabled) })
	}
}

// OptPacketHandler receives the media payload of packets arriving while streaming.
func OptPacketHandler(h func(ep *AudioEndpoint, payload []byte)) Option {
	return func(opt ComponentOption) error {
		return endpointOption(opt, func(e EndpointOption) error { return e.SetPacketHandler(h) })
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
