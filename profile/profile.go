// Package profile wires the SDP and AVDTP engines into an A2DP source or sink.
package profile

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/avdtp"
	"github.com/rigado/a2dp/cache"
	"github.com/rigado/a2dp/codec/sbc"
	"github.com/rigado/a2dp/config"
	"github.com/rigado/a2dp/sdp"
	"github.com/rigado/a2dp/worker"
)

var logger = a2dp.ComponentLogger("profile")

// Profile holds the local service record, the local endpoints and the
// servers answering peers.
type Profile struct {
	cfg    *config.Config
	logger a2dp.Logger

	Tree      *sdp.Tree
	Record    *sdp.Service
	Endpoints *avdtp.Endpoints
	SDP       *sdp.Server
	AVDTP     *avdtp.Server

	pool  *worker.Pool
	cache cache.EndpointCache

	mu         sync.Mutex
	signalling map[string]*avdtp.Socket
}

// New builds the profile described by cfg.
func New(cfg *config.Config) (*Profile, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Profile{
		cfg:        cfg,
		logger:     logger,
		Tree:       sdp.NewTree(),
		Endpoints:  &avdtp.Endpoints{},
		signalling: make(map[string]*avdtp.Socket),
	}

	role, _ := cfg.Profile.AudioRole()
	avdtpVersion, a2dpVersion, _ := cfg.Profile.Versions()
	rec, err := sdp.AddA2DPInfo(p.Tree, sdp.A2DPInfo{
		Role:         role,
		PSM:          a2dp.PSMAVDTP,
		AVDTPVersion: avdtpVersion,
		A2DPVersion:  a2dpVersion,
		Features:     cfg.Profile.Features,
		Name:         cfg.SDP.Name,
	})
	if err != nil {
		return nil, errors.Wrap(err, "a2dp record")
	}
	if cfg.SDP.Description != "" {
		rec.SetDescription(cfg.SDP.Description)
	}
	if cfg.SDP.Provider != "" {
		rec.SetProvider(cfg.SDP.Provider)
	}
	p.Record = rec

	for i, ec := range cfg.Endpoints {
		st, _ := ec.ServiceType()
		ep, err := avdtp.NewAudioEndpoint(st, sbc.New(sbc.All), avdtp.OptDelayReporting(ec.DelayReporting))
		if err != nil {
			return nil, errors.Wrapf(err, "endpoint %v", i)
		}
		if _, err := p.Endpoints.Add(ep); err != nil {
			return nil, err
		}
	}

	if p.SDP, err = sdp.NewServer(p.Tree); err != nil {
		return nil, err
	}
	if p.AVDTP, err = avdtp.NewServer(p.Endpoints); err != nil {
		return nil, err
	}
	if p.pool, err = worker.New(cfg.Workers, 0); err != nil {
		return nil, err
	}
	if cfg.Cache.Path != "" {
		p.cache = cache.New(cfg.Cache.Path)
	}

	p.logger.Infof("%v profile with %v endpoints, record 0x%08x", role, p.Endpoints.Len(), rec.Handle())
	return p, nil
}

// Cache is the remote endpoint cache, nil unless cache.path is configured.
func (p *Profile) Cache() cache.EndpointCache { return p.cache }

// Pool is the dispatch queue shared by every AVDTP socket.
func (p *Profile) Pool() *worker.Pool { return p.pool }

// Attach serves an accepted or dialed channel. PSM 1 gets an SDP server
// socket. On PSM 25 the first channel of a peer is its signalling channel
// and any later one carries media. The returned value is an
// *sdp.ServerSocket or an *avdtp.Socket.
func (p *Profile) Attach(ch a2dp.Channel, psm uint16) (io.Closer, error) {
	switch psm {
	case a2dp.PSMSDP:
		sock, err := sdp.NewServerSocket(ch, p.SDP)
		if err != nil {
			return nil, err
		}
		return sock, nil
	case a2dp.PSMAVDTP:
		sock, err := p.attachAVDTP(ch)
		if err != nil {
			return nil, err
		}
		return sock, nil
	}
	return nil, errors.Wrapf(a2dp.ErrUnavailable, "psm 0x%04x", psm)
}

func remoteKey(ch a2dp.Channel) string {
	if a := ch.Info().RemoteAddr; a != nil {
		return a.String()
	}
	return ""
}

func (p *Profile) attachAVDTP(ch a2dp.Channel) (*avdtp.Socket, error) {
	key := remoteKey(ch)

	p.mu.Lock()
	defer p.mu.Unlock()

	if sig, ok := p.signalling[key]; ok {
		select {
		case <-sig.Done():
		default:
			p.logger.Debugf("transport channel from %v", key)
			return avdtp.NewSocket(ch, avdtp.Transport, avdtp.OptMediaHandler(p.onMedia))
		}
	}

	sock, err := avdtp.NewSocket(ch, avdtp.Signalling,
		avdtp.OptServer(p.AVDTP),
		avdtp.OptJobQueue(p.pool),
		avdtp.OptTimeout(p.cfg.Exchange.Timeout))
	if err != nil {
		return nil, err
	}
	p.signalling[key] = sock
	p.logger.Infof("signalling channel from %v", key)

	go func() {
		<-sock.Done()
		p.mu.Lock()
		if p.signalling[key] == sock {
			delete(p.signalling, key)
		}
		p.mu.Unlock()
	}()
	return sock, nil
}

// onMedia hands a transport packet to every streaming endpoint.
func (p *Profile) onMedia(pkt []byte) {
	p.Endpoints.Visit(func(e avdtp.Endpoint) {
		if ae, ok := e.(*avdtp.AudioEndpoint); ok && ae.State() == avdtp.StateStarted {
			ae.OnPacket(pkt)
		}
	})
}

// Close stops the dispatch queue.
func (p *Profile) Close() error {
	return p.pool.Close()
}
