//go:build linux
// +build linux

package l2cap

import (
	"io"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"golang.org/x/sys/unix"
)

const (
	solL2CAP     = 6
	l2capOptions = 0x01

	readTimeout    = 1000
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)

	rxQueueSize = 32
)

// struct l2cap_options
type options struct {
	omtu      uint16
	imtu      uint16
	flushTo   uint16
	mode      uint8
	fcs       uint8
	maxTx     uint8
	txwinSize uint16
}

func getOptions(fd int) (options, error) {
	var o options
	l := uint32(unsafe.Sizeof(o))
	_, _, ep := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), solL2CAP, l2capOptions,
		uintptr(unsafe.Pointer(&o)), uintptr(unsafe.Pointer(&l)), 0)
	if ep != 0 {
		return o, ep
	}
	return o, nil
}

func setOptions(fd int, o options) error {
	_, _, ep := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), solL2CAP, l2capOptions,
		uintptr(unsafe.Pointer(&o)), unsafe.Sizeof(o), 0)
	if ep != 0 {
		return ep
	}
	return nil
}

func newSocket(mtu int) (int, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return -1, errors.Wrap(err, "can't create l2cap socket")
	}

	o, err := getOptions(fd)
	if err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "can't get l2cap options")
	}
	o.imtu = uint16(mtu)
	if err := setOptions(fd, o); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "can't set l2cap options")
	}
	return fd, nil
}

func toSockaddr(a a2dp.Addr, psm uint16) (*unix.SockaddrL2, error) {
	sa := &unix.SockaddrL2{PSM: psm}
	if a == nil {
		return sa, nil
	}
	b := a.Bytes()
	if len(b) != 6 {
		return nil, errors.Errorf("invalid address %v", a)
	}
	copy(sa.Addr[:], b)
	return sa, nil
}

func fromSockaddr(sa unix.Sockaddr) a2dp.Addr {
	l2, ok := sa.(*unix.SockaddrL2)
	if !ok {
		return nil
	}
	return a2dp.NewAddr(formatAddr(l2.Addr))
}

func formatAddr(b [6]uint8) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, 17)
	for i, v := range b {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, digits[v>>4], digits[v&0x0f])
	}
	return string(out)
}

// Conn is a connected L2CAP SEQPACKET socket.
type Conn struct {
	fd     int
	info   a2dp.ChannelInfo
	logger a2dp.Logger

	wmu sync.Mutex

	smu        sync.Mutex
	rx         chan []byte
	subscribed bool

	cmu  sync.Mutex
	done chan struct{}
}

func newConn(fd int, psm uint16, remote a2dp.Addr, l a2dp.Logger) (*Conn, error) {
	o, err := getOptions(fd)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't get l2cap options")
	}

	c := &Conn{
		fd:   fd,
		info: a2dp.ChannelInfo{PSM: psm, RxMTU: int(o.imtu), TxMTU: int(o.omtu), RemoteAddr: remote},
		rx:   make(chan []byte, rxQueueSize),
		done: make(chan struct{}),
	}
	c.logger = l.ChildLogger(map[string]interface{}{"psm": psm, "remote": remote})
	go c.loop()
	return c, nil
}

// Dial connects to psm on the remote device.
func Dial(remote a2dp.Addr, psm uint16, opts ...Option) (*Conn, error) {
	p, err := newParams(opts)
	if err != nil {
		return nil, err
	}
	sa, err := toSockaddr(remote, psm)
	if err != nil {
		return nil, err
	}

	fd, err := newSocket(p.mtu)
	if err != nil {
		return nil, err
	}

	errc := make(chan error, 1)
	go func() { errc <- unix.Connect(fd, sa) }()
	select {
	case err = <-errc:
	case <-time.After(p.timeout):
		unix.Close(fd)
		return nil, errors.Wrapf(a2dp.ErrTimedOut, "connect %v psm 0x%04x", remote, psm)
	}
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't connect %v psm 0x%04x", remote, psm)
	}
	return newConn(fd, psm, remote, p.logger)
}

func (c *Conn) Info() a2dp.ChannelInfo { return c.info }

func (c *Conn) isOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *Conn) Send(bb []byte) error {
	if !c.isOpen() {
		return a2dp.ErrClosed
	}
	if len(bb) > c.info.TxMTU {
		return errors.Wrapf(a2dp.ErrBadRequest, "%v bytes exceed mtu %v", len(bb), c.info.TxMTU)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := unix.Write(c.fd, bb)
	return errors.Wrap(err, "can't write l2cap socket")
}

func (c *Conn) Subscribe() (<-chan []byte, error) {
	c.smu.Lock()
	defer c.smu.Unlock()

	if c.subscribed {
		return nil, a2dp.ErrAlreadyConnected
	}
	c.subscribed = true
	return c.rx, nil
}

// Unsubscribe disconnects the channel. The receive queue is closed once the
// read loop exits.
func (c *Conn) Unsubscribe() error {
	return c.Close()
}

func (c *Conn) Close() error {
	c.cmu.Lock()
	defer c.cmu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
		c.logger.Debug("closing l2cap socket")
		return errors.Wrap(unix.Close(c.fd), "can't close l2cap socket")
	}
}

func (c *Conn) read(b []byte) (int, error) {
	pfds := []unix.PollFd{{Fd: int32(c.fd), Events: unixPollDataIn}}
	unix.Poll(pfds, readTimeout)
	evts := pfds[0].Revents

	switch {
	case evts&unixPollErrors != 0:
		return 0, io.EOF
	case evts&unixPollDataIn != 0:
		return unix.Read(c.fd, b)
	default:
		return 0, nil
	}
}

func (c *Conn) loop() {
	defer close(c.rx)

	b := make([]byte, c.info.RxMTU)
	for c.isOpen() {
		n, err := c.read(b)
		if err != nil || (n == 0 && !c.isOpen()) {
			if c.isOpen() {
				c.logger.Infof("l2cap socket closed by peer: %v", err)
				c.Close()
			}
			return
		}
		if n == 0 {
			continue
		}

		msg := make([]byte, n)
		copy(msg, b[:n])
		select {
		case c.rx <- msg:
		case <-c.done:
			return
		}
	}
}

// Listener accepts incoming L2CAP connections on one PSM.
type Listener struct {
	fd     int
	psm    uint16
	mtu    int
	logger a2dp.Logger
}

// Listen binds psm on every local adapter.
func Listen(psm uint16, opts ...Option) (*Listener, error) {
	p, err := newParams(opts)
	if err != nil {
		return nil, err
	}

	fd, err := newSocket(p.mtu)
	if err != nil {
		return nil, err
	}
	sa, _ := toSockaddr(nil, psm)
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't bind psm 0x%04x", psm)
	}
	if err := unix.Listen(fd, 4); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't listen on psm 0x%04x", psm)
	}

	l := &Listener{fd: fd, psm: psm, mtu: p.mtu}
	l.logger = p.logger.ChildLogger(map[string]interface{}{"psm": psm, "role": "listener"})
	return l, nil
}

// Accept blocks until a peer connects.
func (l *Listener) Accept() (*Conn, error) {
	fd, sa, err := unix.Accept(l.fd)
	if err != nil {
		return nil, errors.Wrapf(err, "can't accept on psm 0x%04x", l.psm)
	}
	remote := fromSockaddr(sa)
	l.logger.Infof("accepted connection from %v", remote)
	return newConn(fd, l.psm, remote, l.logger)
}

func (l *Listener) Close() error {
	return errors.Wrap(unix.Close(l.fd), "can't close listener")
}
