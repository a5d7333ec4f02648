package profile

import (
	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/avdtp"
	"github.com/rigado/a2dp/cache"
	"github.com/rigado/a2dp/codec/sbc"
)

// Source sets up streams from a local source endpoint to a remote sink.
type Source struct {
	p *Profile
}

func (p *Profile) Source() *Source { return &Source{p: p} }

// Stream is a started source to sink stream.
type Stream struct {
	Local         *avdtp.AudioEndpoint
	RemoteID      uint8
	Configuration avdtp.Capabilities

	client *avdtp.Client
}

// Suspend pauses the stream on both sides.
func (s *Stream) Suspend() error {
	if err := s.client.Suspend(s.RemoteID); err != nil {
		return err
	}
	return s.Local.OnSuspend()
}

// Resume restarts a suspended stream.
func (s *Stream) Resume() error {
	if err := s.client.Start(s.RemoteID); err != nil {
		return err
	}
	return s.Local.OnStart()
}

// Close releases the stream on both sides.
func (s *Stream) Close() error {
	err := s.client.Close(s.RemoteID)
	if lerr := s.Local.OnClose(); err == nil {
		err = lerr
	}
	return err
}

func (s *Source) localEndpoint() *avdtp.AudioEndpoint {
	var out *avdtp.AudioEndpoint
	s.p.Endpoints.Visit(func(e avdtp.Endpoint) {
		ae, ok := e.(*avdtp.AudioEndpoint)
		if ok && out == nil && ae.Data().ServiceType == avdtp.Source && ae.State() == avdtp.StateIdle {
			out = ae
		}
	})
	return out
}

// discover lists the remote endpoints with their capabilities.
func (s *Source) discover(c *avdtp.Client) ([]cache.RemoteEndpoint, error) {
	infos, err := c.Discover()
	if err != nil {
		return nil, errors.Wrap(err, "discover")
	}

	var out []cache.RemoteEndpoint
	for _, info := range infos {
		caps, err := c.GetAllCapabilities(info.ID)
		if err != nil {
			s.p.logger.Warnf("capabilities of remote endpoint %v: %v", info.ID, err)
			continue
		}
		out = append(out, cache.RemoteEndpoint{Info: info, Capabilities: caps})
	}
	return out, nil
}

// sbcCapabilities returns the SBC element of an audio codec capability.
func sbcCapabilities(caps avdtp.Capabilities) (sbc.Element, bool) {
	mc, ok := caps[avdtp.MediaCodec]
	if !ok || len(mc) < 2 || avdtp.MediaType(mc[0]>>4) != avdtp.Audio || mc[1] != a2dp.CodecSBC {
		return sbc.Element{}, false
	}
	e, err := sbc.ParseElement(mc[2:])
	return e, err == nil
}

// Connect finds the first idle remote audio sink sharing an SBC configuration
// with an idle local source, then configures, opens and starts it. The remote
// endpoints are recorded in the profile cache.
func (s *Source) Connect(remote a2dp.Addr, c *avdtp.Client) (*Stream, error) {
	local := s.localEndpoint()
	if local == nil {
		return nil, errors.Wrap(a2dp.ErrUnavailable, "no idle local source")
	}
	localCaps, err := sbc.ParseElement(local.Codec().Serialize(true))
	if err != nil {
		return nil, err
	}

	eps, err := s.discover(c)
	if err != nil {
		return nil, err
	}
	if s.p.cache != nil && remote != nil {
		if err := s.p.cache.Store(remote, eps, true); err != nil {
			s.p.logger.Warnf("caching endpoints of %v: %v", remote, err)
		}
	}

	for _, ep := range eps {
		if ep.Info.InUse || ep.Info.ServiceType != avdtp.Sink || ep.Info.MediaType != avdtp.Audio {
			continue
		}
		remoteCaps, ok := sbcCapabilities(ep.Capabilities)
		if !ok {
			continue
		}
		chosen, err := sbc.Choose(localCaps, remoteCaps)
		if err != nil {
			s.p.logger.Debugf("remote endpoint %v: %v", ep.Info.ID, err)
			continue
		}

		cfg := avdtp.Capabilities{
			avdtp.MediaTransport: {},
			avdtp.MediaCodec:     append([]byte{uint8(avdtp.Audio) << 4, a2dp.CodecSBC}, chosen.Bytes()...),
		}
		_, remoteDelay := ep.Capabilities[avdtp.DelayReporting]
		_, localDelay := local.Data().Capabilities[avdtp.DelayReporting]
		if remoteDelay && localDelay {
			cfg[avdtp.DelayReporting] = []byte{}
		}
		return s.start(c, local, ep.Info.ID, cfg)
	}
	return nil, errors.Wrap(a2dp.ErrUnavailable, "no compatible remote sink")
}

func (s *Source) start(c *avdtp.Client, local *avdtp.AudioEndpoint, remoteID uint8, cfg avdtp.Capabilities) (*Stream, error) {
	localID := local.Data().ID
	if err := local.OnSetConfiguration(cfg, remoteID); err != nil {
		return nil, err
	}
	local.WithData(func(d *avdtp.StreamEndPoint) { d.RemoteID = remoteID })

	abort := func(err error) (*Stream, error) {
		if aerr := c.Abort(remoteID); aerr != nil {
			s.p.logger.Debugf("abort remote endpoint %v: %v", remoteID, aerr)
		}
		local.OnAbort()
		return nil, err
	}

	if err := c.SetConfiguration(remoteID, localID, cfg); err != nil {
		local.OnAbort()
		return nil, errors.Wrap(err, "set configuration")
	}
	if err := c.Open(remoteID); err != nil {
		return abort(errors.Wrap(err, "open"))
	}
	if err := local.OnOpen(); err != nil {
		return abort(err)
	}
	if err := c.Start(remoteID); err != nil {
		return abort(errors.Wrap(err, "start"))
	}
	if err := local.OnStart(); err != nil {
		return abort(err)
	}

	s.p.logger.Infof("streaming endpoint %v to remote endpoint %v", localID, remoteID)
	return &Stream{Local: local, RemoteID: remoteID, Configuration: cfg, client: c}, nil
}
