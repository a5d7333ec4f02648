package sdp

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
)

// DefaultTimeout bounds a client request when no timeout is given.
const DefaultTimeout = 2 * time.Second

// ServerSocket serves SDP requests arriving on a channel.
type ServerSocket struct {
	ch     a2dp.Channel
	server *Server
	logger a2dp.Logger

	done chan struct{}
	once sync.Once
}

// NewServerSocket subscribes to ch and answers every request with server.
func NewServerSocket(ch a2dp.Channel, server *Server, opts ...Option) (*ServerSocket, error) {
	s := &ServerSocket{
		ch:     ch,
		server: server,
		logger: logger.ChildLogger(map[string]interface{}{"psm": ch.Info().PSM, "role": "server"}),
		done:   make(chan struct{}),
	}
	if err := applyOptions(s, opts); err != nil {
		return nil, err
	}

	rx, err := ch.Subscribe()
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	go s.loop(rx)
	return s, nil
}

func (s *ServerSocket) SetLogger(l a2dp.Logger) error {
	s.logger = l
	return nil
}

// Done is closed once the channel stops delivering requests.
func (s *ServerSocket) Done() <-chan struct{} { return s.done }

// Close detaches the socket from its channel.
func (s *ServerSocket) Close() error {
	return s.ch.Unsubscribe()
}

func (s *ServerSocket) loop(rx <-chan []byte) {
	defer s.once.Do(func() { close(s.done) })

	for b := range rx {
		var req PDU
		if err := req.Deserialize(b); err != nil && req.Type == Invalid {
			s.logger.Warnf("dropping malformed request % x: %v", b, err)
			continue
		}

		resp := s.server.OnPDU(&req, s.ch.Info().TxMTU)
		if resp == nil {
			continue
		}
		if err := s.ch.Send(resp.Bytes()); err != nil {
			s.logger.Errorf("send %v: %v", resp.Type, err)
		}
	}
}

// ResponseError is an ErrorResponse returned by the peer.
type ResponseError struct {
	Code ErrorCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("sdp error response: %v", e.Code)
}

// ClientSocket issues SDP requests on a channel, one at a time.
type ClientSocket struct {
	ch      a2dp.Channel
	logger  a2dp.Logger
	timeout time.Duration

	// serializes Command
	muCmd sync.Mutex
	tid   uint16

	muPending  sync.Mutex
	pending    chan *PDU
	pendingTID uint16

	done chan struct{}
	once sync.Once
}

// NewClientSocket subscribes to ch for responses.
func NewClientSocket(ch a2dp.Channel, opts ...Option) (*ClientSocket, error) {
	c := &ClientSocket{
		ch:      ch,
		logger:  logger.ChildLogger(map[string]interface{}{"psm": ch.Info().PSM, "role": "client"}),
		timeout: DefaultTimeout,
		done:    make(chan struct{}),
	}
	if err := applyOptions(c, opts); err != nil {
		return nil, err
	}

	rx, err := ch.Subscribe()
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	go c.loop(rx)
	return c, nil
}

func (c *ClientSocket) SetLogger(l a2dp.Logger) error {
	c.logger = l
	return nil
}

func (c *ClientSocket) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return errors.Errorf("invalid timeout %v", d)
	}
	c.timeout = d
	return nil
}

// Info describes the underlying channel.
func (c *ClientSocket) Info() a2dp.ChannelInfo { return c.ch.Info() }

func (c *ClientSocket) Close() error {
	return c.ch.Unsubscribe()
}

func (c *ClientSocket) loop(rx <-chan []byte) {
	defer c.once.Do(func() { close(c.done) })

	for b := range rx {
		resp := &PDU{}
		if err := resp.Deserialize(b); err != nil {
			if resp.Type == Invalid {
				c.logger.Warnf("dropping malformed response % x: %v", b, err)
				continue
			}
			resp.Type = ErrorResponse
			resp.Error = Deserialization
		}

		c.muPending.Lock()
		if c.pending != nil && resp.TransactionID == c.pendingTID {
			c.pending <- resp
			c.pending = nil
		} else {
			c.logger.Debugf("unsolicited %v", resp)
		}
		c.muPending.Unlock()
	}
}

// Command sends req with the next transaction id and waits for the matching response.
// A zero timeout uses the socket default.
func (c *ClientSocket) Command(timeout time.Duration, req *PDU) (*PDU, error) {
	c.muCmd.Lock()
	defer c.muCmd.Unlock()

	if timeout <= 0 {
		timeout = c.timeout
	}

	select {
	case <-c.done:
		return nil, a2dp.ErrClosed
	default:
	}

	c.tid++
	req.TransactionID = c.tid
	req.hasTransaction = true

	b := req.Bytes()
	if mtu := c.ch.Info().TxMTU; mtu > 0 && len(b) > mtu {
		return nil, errors.Wrapf(a2dp.ErrBadRequest, "%v is %v bytes, mtu %v", req.Type, len(b), mtu)
	}

	ch := make(chan *PDU, 1)
	c.muPending.Lock()
	c.pending, c.pendingTID = ch, req.TransactionID
	c.muPending.Unlock()

	defer func() {
		c.muPending.Lock()
		c.pending = nil
		c.muPending.Unlock()
	}()

	if err := c.ch.Send(b); err != nil {
		return nil, errors.Wrapf(err, "send %v", req.Type)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, a2dp.ErrClosed
	case <-time.After(timeout):
		return nil, errors.Wrapf(a2dp.ErrTimedOut, "%v tid %v", req.Type, req.TransactionID)
	}
}
