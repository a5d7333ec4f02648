package avdtp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
)

const (
	rtpHeaderSize = 12
	// scratch size for decoded media
	pcmBufferSize = 8192
)

// AudioEndpoint is an audio stream endpoint around a codec.
type AudioEndpoint struct {
	mu     sync.Mutex
	data   StreamEndPoint
	codec  a2dp.Codec
	logger a2dp.Logger

	delayReporting bool
	delay          uint16
	onPacket       func(ep *AudioEndpoint, payload []byte)
	pcm            []byte
}

// NewAudioEndpoint returns an idle endpoint of the given service type.
func NewAudioEndpoint(service ServiceType, codec a2dp.Codec, opts ...Option) (*AudioEndpoint, error) {
	if codec == nil {
		return nil, errors.Wrap(a2dp.ErrBadRequest, "no codec")
	}

	e := &AudioEndpoint{
		data: StreamEndPoint{
			State:         StateIdle,
			ServiceType:   service,
			MediaType:     Audio,
			Configuration: make(Capabilities),
		},
		codec:  codec,
		logger: logger.ChildLogger(map[string]interface{}{"endpoint": service.String()}),
		pcm:    make([]byte, pcmBufferSize),
	}
	if err := applyOptions(e, opts); err != nil {
		return nil, err
	}
	e.data.Capabilities = e.capabilities()
	return e, nil
}

func (e *AudioEndpoint) SetLogger(l a2dp.Logger) error {
	e.logger = l
	return nil
}

func (e *AudioEndpoint) SetDelayReporting(enabled bool) error {
	e.delayReporting = enabled
	return nil
}

func (e *AudioEndpoint) SetPacketHandler(h func(ep *AudioEndpoint, payload []byte)) error {
	e.onPacket = h
	return nil
}

func (e *AudioEndpoint) capabilities() Capabilities {
	caps := Capabilities{
		MediaTransport: {},
		MediaCodec:     e.codecElement(true),
	}
	if e.delayReporting {
		caps[DelayReporting] = []byte{}
	}
	return caps
}

func (e *AudioEndpoint) codecElement(capabilities bool) []byte {
	return append([]byte{uint8(Audio) << 4, e.codec.Type()}, e.codec.Serialize(capabilities)...)
}

func (e *AudioEndpoint) WithData(f func(d *StreamEndPoint)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.data)
}

// Data returns a copy of the endpoint data.
func (e *AudioEndpoint) Data() StreamEndPoint {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.data
	d.Capabilities = e.data.Capabilities.Clone()
	d.Configuration = e.data.Configuration.Clone()
	return d
}

func (e *AudioEndpoint) Codec() a2dp.Codec { return e.codec }

// Delay is the last reported sink delay in 1/10 ms.
func (e *AudioEndpoint) Delay() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delay
}

func (e *AudioEndpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.data.State
}

// configureCodec validates the media codec element against this endpoint.
func (e *AudioEndpoint) configureCodec(element []byte) error {
	if len(element) < 2 {
		return errors.Wrapf(a2dp.ErrBadRequest, "media codec element % x", element)
	}
	if MediaType(element[0]>>4) != e.data.MediaType || element[1] != e.codec.Type() {
		return errors.Wrapf(a2dp.ErrBadRequest, "media 0x%02x codec 0x%02x", element[0], element[1])
	}
	return e.codec.Configure(element[2:])
}

func (e *AudioEndpoint) OnSetConfiguration(cfg Capabilities, remoteID uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data.State != StateIdle {
		return errors.Wrapf(a2dp.ErrAlreadyConnected, "endpoint %v is %v", e.data.ID, e.data.State)
	}
	for cat := range cfg {
		if _, ok := e.data.Capabilities[cat]; !ok {
			return errors.Wrapf(a2dp.ErrBadRequest, "%v not supported", cat)
		}
	}
	if _, ok := cfg[MediaTransport]; !ok {
		return errors.Wrap(a2dp.ErrBadRequest, "no media transport")
	}
	codec, ok := cfg[MediaCodec]
	if !ok {
		return errors.Wrap(a2dp.ErrBadRequest, "no media codec")
	}
	if err := e.configureCodec(codec); err != nil {
		return err
	}

	e.data.Configuration = cfg.Clone()
	e.data.State = StateConfigured
	e.logger.Infof("endpoint %v configured by remote %v", e.data.ID, remoteID)
	return nil
}

func (e *AudioEndpoint) OnReconfigure(cfg Capabilities) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data.State != StateOpened {
		return errors.Wrapf(a2dp.ErrIllegalState, "reconfigure in %v", e.data.State)
	}
	if codec, ok := cfg[MediaCodec]; ok {
		if err := e.configureCodec(codec); err != nil {
			return err
		}
	}
	for cat, v := range cfg {
		e.data.Configuration[cat] = append([]byte{}, v...)
	}
	return nil
}

func (e *AudioEndpoint) transition(from []State, to State, what string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range from {
		if e.data.State == s {
			e.logger.Debugf("endpoint %v %v: %v -> %v", e.data.ID, what, e.data.State, to)
			e.data.State = to
			if to == StateIdle {
				e.release()
			}
			return nil
		}
	}
	return errors.Wrapf(a2dp.ErrIllegalState, "%v in %v", what, e.data.State)
}

// release forgets the negotiated configuration. Callers hold mu.
func (e *AudioEndpoint) release() {
	e.data.Configuration = make(Capabilities)
	e.data.RemoteID = 0
	e.delay = 0
}

func (e *AudioEndpoint) OnOpen() error {
	return e.transition([]State{StateConfigured}, StateOpened, "open")
}

func (e *AudioEndpoint) OnStart() error {
	return e.transition([]State{StateOpened}, StateStarted, "start")
}

func (e *AudioEndpoint) OnSuspend() error {
	return e.transition([]State{StateStarted}, StateOpened, "suspend")
}

func (e *AudioEndpoint) OnClose() error {
	return e.transition([]State{StateOpened, StateStarted}, StateIdle, "close")
}

func (e *AudioEndpoint) OnAbort() error {
	return e.transition([]State{StateConfigured, StateOpened, StateStarted, StateClosing, StateAborting, StateIdle}, StateIdle, "abort")
}

func (e *AudioEndpoint) OnDelayReport(delay uint16) error {
	if !e.delayReporting {
		return errors.Wrap(a2dp.ErrUnavailable, "delay reporting disabled")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.data.State {
	case StateConfigured, StateOpened, StateStarted:
		e.delay = delay
		return nil
	}
	return errors.Wrapf(a2dp.ErrIllegalState, "delay report in %v", e.data.State)
}

// OnPacket takes one media transport packet. The RTP header is stripped and
// the media payload goes to the packet handler, or to the codec.
func (e *AudioEndpoint) OnPacket(pkt []byte) {
	e.mu.Lock()
	started := e.data.State == StateStarted
	h := e.onPacket
	e.mu.Unlock()

	if !started {
		e.logger.Debugf("dropping %v byte media packet, not started", len(pkt))
		return
	}
	if len(pkt) < rtpHeaderSize {
		e.logger.Warnf("short media packet % x", pkt)
		return
	}
	csrc := int(pkt[0] & 0x0f)
	off := rtpHeaderSize + 4*csrc
	if off > len(pkt) {
		e.logger.Warnf("media packet with %v csrc truncated", csrc)
		return
	}
	payload := pkt[off:]

	if h != nil {
		h(e, payload)
		return
	}
	if _, _, err := e.codec.Decode(payload, e.pcm); err != nil {
		e.logger.Debugf("decode: %v", err)
	}
}
