//go:build !linux
// +build !linux

package l2cap

import "github.com/rigado/a2dp"

// Conn is not available on this platform.
type Conn struct {
	a2dp.Channel
}

// Listener is not available on this platform.
type Listener struct{}

func Dial(remote a2dp.Addr, psm uint16, opts ...Option) (*Conn, error) {
	return nil, a2dp.ErrUnavailable
}

func Listen(psm uint16, opts ...Option) (*Listener, error) {
	return nil, a2dp.ErrUnavailable
}

func (l *Listener) Accept() (*Conn, error) {
	return nil, a2dp.ErrUnavailable
}

func (l *Listener) Close() error {
	return nil
}
