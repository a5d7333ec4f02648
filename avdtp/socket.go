package avdtp

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/metrics"
	"github.com/rigado/a2dp/worker"
	"go.uber.org/atomic"
)

// DefaultTimeout bounds an Exchange when no timeout is given.
const DefaultTimeout = 2 * time.Second

// ChannelType is the role of an AVDTP channel.
type ChannelType int

const (
	Signalling ChannelType = iota
	Transport
)

func (t ChannelType) String() string {
	if t == Transport {
		return "transport"
	}
	return "signalling"
}

var socketSeq atomic.Uint32

// SocketStats counts the traffic of a Socket.
type SocketStats struct {
	Exchanges  int64
	Dispatched int64
	Dropped    int64
}

// Socket runs AVDTP over one channel. A signalling socket answers inbound
// commands with its Server and matches responses to the pending Exchange.
// A transport socket hands every packet to the media handler.
type Socket struct {
	ch     a2dp.Channel
	typ    ChannelType
	info   a2dp.ChannelInfo
	key    string
	logger a2dp.Logger

	timeout time.Duration
	server  *Server
	pool    *worker.Pool
	media   func(pkt []byte)

	// owned by the read loop
	cmd *Signal
	rsp *Signal

	dmu sync.Mutex // one dispatch at a time
	wmu sync.Mutex
	xmu sync.Mutex // one exchange at a time

	label atomic.Uint32

	pmu          sync.Mutex
	pending      chan *Signal
	pendingLabel uint8
	pendingID    SignalIdentifier

	exchanges  atomic.Int64
	dispatched atomic.Int64
	dropped    atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewSocket subscribes to ch and starts serving it.
func NewSocket(ch a2dp.Channel, typ ChannelType, opts ...Option) (*Socket, error) {
	info := ch.Info()
	s := &Socket{
		ch:      ch,
		typ:     typ,
		info:    info,
		key:     fmt.Sprintf("%v/%v/%v", info.RemoteAddr, info.PSM, socketSeq.Inc()),
		timeout: DefaultTimeout,
		cmd:     NewSignal(),
		rsp:     NewSignal(),
		done:    make(chan struct{}),
	}
	s.logger = logger.ChildLogger(map[string]interface{}{"psm": info.PSM, "channel": typ.String()})
	if err := applyOptions(s, opts); err != nil {
		return nil, err
	}
	if typ == Signalling && info.TxMTU < minSignalMTU {
		return nil, errors.Wrapf(a2dp.ErrBadRequest, "tx mtu %v", info.TxMTU)
	}

	rx, err := ch.Subscribe()
	if err != nil {
		return nil, errors.Wrap(err, "subscribe")
	}
	go s.loop(rx)
	return s, nil
}

func (s *Socket) SetLogger(l a2dp.Logger) error {
	s.logger = l
	return nil
}

func (s *Socket) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return errors.Wrapf(a2dp.ErrBadRequest, "timeout %v", d)
	}
	s.timeout = d
	return nil
}

func (s *Socket) SetServer(srv *Server) error {
	s.server = srv
	return nil
}

func (s *Socket) SetJobQueue(p *worker.Pool) error {
	s.pool = p
	return nil
}

func (s *Socket) SetMediaHandler(h func(pkt []byte)) error {
	s.media = h
	return nil
}

func (s *Socket) Type() ChannelType { return s.typ }

func (s *Socket) Info() a2dp.ChannelInfo { return s.info }

// Done is closed once the channel stops delivering.
func (s *Socket) Done() <-chan struct{} { return s.done }

func (s *Socket) Stats() SocketStats {
	return SocketStats{
		Exchanges:  s.exchanges.Load(),
		Dispatched: s.dispatched.Load(),
		Dropped:    s.dropped.Load(),
	}
}

// Close closes the channel and waits for the read loop to end.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ch.Close()
	})
	<-s.done
	return err
}

func (s *Socket) loop(rx <-chan []byte) {
	defer close(s.done)

	for pkt := range rx {
		if s.typ == Transport {
			if s.media != nil {
				s.media(pkt)
			}
			continue
		}
		s.handle(pkt)
	}
	s.logger.Debug("channel closed")
}

func (s *Socket) handle(pkt []byte) {
	if len(pkt) < 1 {
		s.dropped.Inc()
		return
	}

	asm := &s.rsp
	if MessageType(pkt[0]&0x03) == Command {
		asm = &s.cmd
	}

	sig := *asm
	if err := sig.Deserialize(pkt); err != nil && !sig.IsComplete() {
		s.logger.Debugf("dropping packet % x: %v", pkt, err)
		s.dropped.Inc()
		return
	}
	if !sig.IsComplete() {
		return
	}
	*asm = NewSignal()

	if sig.Type == Command {
		s.dispatch(sig)
	} else {
		s.deliver(sig)
	}
}

func (s *Socket) dispatch(cmd *Signal) {
	s.dispatched.Inc()
	job := func() {
		s.dmu.Lock()
		defer s.dmu.Unlock()

		var r Reply
		if s.server == nil {
			r = Reply{General: true}
		} else {
			r = s.server.OnSignal(cmd)
		}

		rsp := NewSignal()
		r.Write(cmd, rsp)
		if err := s.send(rsp); err != nil {
			s.logger.Warnf("reply to %v: %v", cmd.ID, err)
		}
	}

	if s.pool == nil {
		job()
		return
	}
	if err := s.pool.Submit(s.key, job); err != nil {
		s.logger.Warnf("dispatching %v inline: %v", cmd.ID, err)
		job()
	}
	st := s.pool.Stats()
	metrics.SetQueued(st.Submitted - st.Processed)
}

func (s *Socket) deliver(rsp *Signal) {
	s.pmu.Lock()
	defer s.pmu.Unlock()

	matched := s.pending != nil && rsp.Label == s.pendingLabel &&
		(rsp.ID == s.pendingID || rsp.Type == GeneralReject)
	if !matched {
		s.logger.Debugf("unexpected response %v", rsp)
		s.dropped.Inc()
		return
	}
	s.pending <- rsp
	s.pending = nil
}

// send writes sig packet by packet at the channel TxMTU.
func (s *Socket) send(sig *Signal) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	buf := make([]byte, s.info.TxMTU)
	sent := 0
	for n := sig.Serialize(buf); n > 0; n = sig.Serialize(buf) {
		if err := s.ch.Send(buf[:n]); err != nil {
			return errors.Wrapf(err, "send %v packet %v", sig.ID, sent)
		}
		sent++
	}
	if sent == 0 {
		return errors.Wrapf(a2dp.ErrBadRequest, "%v does not fit mtu %v", sig.ID, s.info.TxMTU)
	}
	return nil
}

// Exchange sends req as a command with the next transaction label and waits
// for the matching response, which is copied into resp. A peer rejection is
// returned as *RejectError. A zero timeout uses the socket default.
func (s *Socket) Exchange(timeout time.Duration, req, resp *Signal) error {
	if s.typ != Signalling {
		return errors.Wrap(a2dp.ErrIllegalState, "exchange on transport channel")
	}
	if timeout <= 0 {
		timeout = s.timeout
	}

	s.xmu.Lock()
	defer s.xmu.Unlock()

	req.Label = uint8(s.label.Inc()-1) & 0x0f
	req.Type = Command
	req.Reload()

	ch := make(chan *Signal, 1)
	s.pmu.Lock()
	s.pending, s.pendingLabel, s.pendingID = ch, req.Label, req.ID
	s.pmu.Unlock()
	defer func() {
		s.pmu.Lock()
		s.pending = nil
		s.pmu.Unlock()
	}()

	start := time.Now()
	if err := s.send(req); err != nil {
		return err
	}
	s.exchanges.Inc()

	select {
	case r := <-ch:
		metrics.ObserveExchange(req.ID.String(), start)
		*resp = *r
		if err := resp.Reject(); err != nil {
			return err
		}
		if resp.Error != Success {
			return errors.Wrapf(a2dp.ErrGeneral, "malformed %v response", req.ID)
		}
		return nil
	case <-s.done:
		return errors.Wrapf(a2dp.ErrClosed, "%v", req.ID)
	case <-time.After(timeout):
		return errors.Wrapf(a2dp.ErrTimedOut, "%v after %v", req.ID, timeout)
	}
}
