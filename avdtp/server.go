package avdtp

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/metrics"
)

// Reply is the server's answer to one command.
type Reply struct {
	Accepted bool
	Payload  []byte

	// Code and Data of a RESPONSE_REJECT. Data is sent only for signals
	// whose reject carries a seid or category.
	Code ErrorCode
	Data uint8

	// General answers with GENERAL_REJECT instead.
	General bool
}

func accept(payload []byte) Reply { return Reply{Accepted: true, Payload: payload} }

func reject(code ErrorCode, data uint8) Reply { return Reply{Code: code, Data: data} }

// Write fills sig with the response to cmd.
func (r Reply) Write(cmd, sig *Signal) {
	switch {
	case r.General:
		sig.Set(cmd.Label, cmd.ID, GeneralReject)
	case r.Accepted:
		sig.Set(cmd.Label, cmd.ID, ResponseAccept)
		sig.Payload = append(sig.Payload, r.Payload...)
	default:
		sig.Set(cmd.Label, cmd.ID, ResponseReject)
		if rejectCarriesData(cmd.ID) {
			sig.Payload = append(sig.Payload, r.Data)
		}
		sig.Payload = append(sig.Payload, uint8(r.Code))
		sig.Error, sig.Data = r.Code, r.Data
	}
}

type signalDispatcher struct {
	desc    string
	handler func(s *Server, cmd *Signal) Reply
}

var dispatcher = map[SignalIdentifier]signalDispatcher{
	SignalDiscover:           signalDispatcher{"discover", (*Server).onDiscover},
	SignalGetCapabilities:    signalDispatcher{"get capabilities", (*Server).onGetCapabilities},
	SignalGetAllCapabilities: signalDispatcher{"get all capabilities", (*Server).onGetAllCapabilities},
	SignalSetConfiguration:   signalDispatcher{"set configuration", (*Server).onSetConfiguration},
	SignalGetConfiguration:   signalDispatcher{"get configuration", (*Server).onGetConfiguration},
	SignalReconfigure:        signalDispatcher{"reconfigure", (*Server).onReconfigure},
	SignalOpen:               signalDispatcher{"open", (*Server).onOpen},
	SignalStart:              signalDispatcher{"start", (*Server).onStart},
	SignalClose:              signalDispatcher{"close", (*Server).onClose},
	SignalSuspend:            signalDispatcher{"suspend", (*Server).onSuspend},
	SignalAbort:              signalDispatcher{"abort", (*Server).onAbort},
	SignalSecurityControl:    signalDispatcher{"security control", nil},
	SignalDelayReport:        signalDispatcher{"delay report", (*Server).onDelayReport},
}

// Server answers AVDTP commands against the local endpoints.
type Server struct {
	repo   EndpointRepository
	logger a2dp.Logger
}

func NewServer(repo EndpointRepository, opts ...Option) (*Server, error) {
	if repo == nil {
		return nil, errors.Wrap(a2dp.ErrBadRequest, "no endpoint repository")
	}

	s := &Server{repo: repo, logger: logger}
	if err := applyOptions(s, opts); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) SetLogger(l a2dp.Logger) error {
	s.logger = l
	return nil
}

// OnSignal answers one complete command.
func (s *Server) OnSignal(cmd *Signal) Reply {
	r := s.onSignal(cmd)
	metrics.ObserveSignal(cmd.ID.String(), r.Accepted)
	return r
}

func (s *Server) onSignal(cmd *Signal) Reply {
	d, ok := dispatcher[cmd.ID]
	if !ok || !cmd.IsValid() {
		s.logger.Debugf("general reject of %v", cmd)
		return Reply{General: true}
	}
	if cmd.Error != Success {
		s.logger.Debugf("%v: malformed command (%v)", d.desc, cmd.Error)
		return reject(BadHeaderFormat, 0)
	}
	if d.handler == nil {
		s.logger.Debugf("%v: not supported", d.desc)
		return reject(NotSupportedCommand, 0)
	}

	s.logger.Debugf("%v command, label %v", d.desc, cmd.Label)
	r := d.handler(s, cmd)
	if !r.Accepted {
		s.logger.Debugf("%v rejected: %v (0x%02x)", d.desc, r.Code, r.Data)
	}
	return r
}

func seid(b byte) uint8 { return b >> 2 }

// resultCode maps an endpoint result to the AVDTP error it is sent as.
func (s *Server) resultCode(id SignalIdentifier, err error) ErrorCode {
	switch errors.Cause(err) {
	case nil:
		return Success
	case a2dp.ErrUnavailable:
		return NotSupportedCommand
	case a2dp.ErrAlreadyConnected:
		return SEPInUse
	case a2dp.ErrAlreadyReleased:
		return SEPNotInUse
	case a2dp.ErrBadRequest:
		return UnsupportedConfiguration
	case a2dp.ErrIllegalState:
		return BadState
	}
	s.logger.Errorf("%v: unexpected endpoint result: %v", id, err)
	return BadState
}

// endpoint resolves the acp seid in the first payload octet.
func (s *Server) endpoint(cmd *Signal, min int) (Endpoint, Reply, bool) {
	if len(cmd.Payload) < min {
		return nil, reject(BadLength, 0), false
	}
	id := seid(cmd.Payload[0])
	e := s.repo.Find(id)
	if e == nil {
		return nil, reject(BadACPSEID, 0), false
	}
	return e, Reply{}, true
}

// configRejectData is the category a refused configuration is reported
// against. State derived rejects carry none.
func configRejectData(code ErrorCode) uint8 {
	if code == UnsupportedConfiguration {
		return uint8(MediaCodec)
	}
	return 0
}

func (s *Server) onDiscover(cmd *Signal) Reply {
	var out []byte
	s.repo.Visit(func(e Endpoint) {
		e.WithData(func(d *StreamEndPoint) {
			b := d.Info().serialize()
			out = append(out, b[:]...)
		})
	})
	return accept(out)
}

func (s *Server) capabilities(cmd *Signal, filter func(Category) bool) Reply {
	e, r, ok := s.endpoint(cmd, 1)
	if !ok {
		return r
	}
	var out []byte
	e.WithData(func(d *StreamEndPoint) { out = d.Capabilities.Serialize(filter) })
	return accept(out)
}

func (s *Server) onGetCapabilities(cmd *Signal) Reply {
	return s.capabilities(cmd, Category.Basic)
}

func (s *Server) onGetAllCapabilities(cmd *Signal) Reply {
	return s.capabilities(cmd, nil)
}

func (s *Server) onSetConfiguration(cmd *Signal) Reply {
	e, r, ok := s.endpoint(cmd, 2)
	if !ok {
		return r
	}
	var inUse bool
	e.WithData(func(d *StreamEndPoint) { inUse = d.InUse() })
	if inUse {
		return reject(SEPInUse, 0)
	}

	cfg, perr := ParseCapabilities(cmd.Payload[2:], nil, BadServCategory)
	if perr != nil {
		return reject(perr.Code, uint8(perr.Category))
	}

	remote := seid(cmd.Payload[1])
	if code := s.resultCode(cmd.ID, e.OnSetConfiguration(cfg, remote)); code != Success {
		return reject(code, configRejectData(code))
	}
	e.WithData(func(d *StreamEndPoint) { d.RemoteID = remote })
	return accept(nil)
}

func (s *Server) onGetConfiguration(cmd *Signal) Reply {
	e, r, ok := s.endpoint(cmd, 1)
	if !ok {
		return r
	}
	var out []byte
	e.WithData(func(d *StreamEndPoint) {
		if len(d.Configuration) > 0 {
			out = d.Configuration.Serialize(nil)
		}
	})
	if out == nil {
		return reject(BadState, 0)
	}
	return accept(out)
}

func (s *Server) onReconfigure(cmd *Signal) Reply {
	e, r, ok := s.endpoint(cmd, 1)
	if !ok {
		return r
	}

	cfg, perr := ParseCapabilities(cmd.Payload[1:], Category.Application, InvalidCapabilities)
	if perr != nil {
		return reject(perr.Code, uint8(perr.Category))
	}
	if code := s.resultCode(cmd.ID, e.OnReconfigure(cfg)); code != Success {
		return reject(code, configRejectData(code))
	}
	return accept(nil)
}

// simple runs a single seid command.
func (s *Server) simple(cmd *Signal, f func(e Endpoint) error) Reply {
	e, r, ok := s.endpoint(cmd, 1)
	if !ok {
		return r
	}
	if code := s.resultCode(cmd.ID, f(e)); code != Success {
		return reject(code, 0)
	}
	return accept(nil)
}

func (s *Server) onOpen(cmd *Signal) Reply {
	return s.simple(cmd, Endpoint.OnOpen)
}

func (s *Server) onClose(cmd *Signal) Reply {
	return s.simple(cmd, Endpoint.OnClose)
}

func (s *Server) onAbort(cmd *Signal) Reply {
	return s.simple(cmd, Endpoint.OnAbort)
}

// streams runs a command over a list of seids, stopping at the first failure
// and reporting the seid that failed.
func (s *Server) streams(cmd *Signal, f func(e Endpoint) error) Reply {
	if len(cmd.Payload) < 1 {
		return reject(BadLength, 0)
	}
	for _, b := range cmd.Payload {
		e := s.repo.Find(seid(b))
		if e == nil {
			return reject(BadACPSEID, b&0xfc)
		}
		if code := s.resultCode(cmd.ID, f(e)); code != Success {
			return reject(code, b&0xfc)
		}
	}
	return accept(cmd.Payload)
}

func (s *Server) onStart(cmd *Signal) Reply {
	return s.streams(cmd, Endpoint.OnStart)
}

func (s *Server) onSuspend(cmd *Signal) Reply {
	return s.streams(cmd, Endpoint.OnSuspend)
}

func (s *Server) onDelayReport(cmd *Signal) Reply {
	e, r, ok := s.endpoint(cmd, 3)
	if !ok {
		return r
	}
	delay := binary.BigEndian.Uint16(cmd.Payload[1:3])
	if code := s.resultCode(cmd.ID, e.OnDelayReport(delay)); code != Success {
		return reject(code, 0)
	}
	return accept(nil)
}
