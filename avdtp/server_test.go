package avdtp

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/a2dp"
	"github.com/rigado/a2dp/codec/sbc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 44.1kHz joint stereo, 16 blocks, 8 subbands, loudness
var sbcConfig = []byte{0x21, 0x15, 2, 53}

func command(id SignalIdentifier, payload ...byte) *Signal {
	s := NewSignal()
	s.Set(1, id, Command)
	s.Payload = append(s.Payload, payload...)
	return s
}

func codecConfig() Capabilities {
	return Capabilities{
		MediaTransport: {},
		MediaCodec:     append([]byte{0x00, a2dp.CodecSBC}, sbcConfig...),
	}
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *AudioEndpoint) {
	ep, err := NewAudioEndpoint(Sink, sbc.New(sbc.All), opts...)
	require.NoError(t, err)

	repo := &Endpoints{}
	id, err := repo.Add(ep)
	require.NoError(t, err)
	require.Equal(t, uint8(1), id)

	srv, err := NewServer(repo)
	require.NoError(t, err)
	return srv, ep
}

func assertReject(t *testing.T, r Reply, code ErrorCode, data uint8) {
	t.Helper()
	assert.False(t, r.Accepted)
	assert.False(t, r.General)
	assert.Equal(t, code, r.Code)
	assert.Equal(t, data, r.Data)
}

func setConfiguration(cfg Capabilities) *Signal {
	return command(SignalSetConfiguration, append([]byte{1 << 2, 3 << 2}, cfg.Serialize(nil)...)...)
}

func TestServerDiscover(t *testing.T) {
	srv, _ := newTestServer(t)

	r := srv.OnSignal(command(SignalDiscover))
	require.True(t, r.Accepted)
	assert.Equal(t, []byte{0x04, 0x08}, r.Payload)

	infos, err := ParseDiscover(r.Payload)
	require.NoError(t, err)
	assert.Equal(t, []EndpointInfo{{ID: 1, MediaType: Audio, ServiceType: Sink}}, infos)
}

func TestServerCapabilities(t *testing.T) {
	srv, _ := newTestServer(t, OptDelayReporting(true))

	basic := []byte{1, 0, 7, 6, 0x00, 0x00, 0xff, 0xff, 2, 53}
	r := srv.OnSignal(command(SignalGetCapabilities, 1<<2))
	require.True(t, r.Accepted)
	assert.Equal(t, basic, r.Payload)

	r = srv.OnSignal(command(SignalGetAllCapabilities, 1<<2))
	require.True(t, r.Accepted)
	assert.Equal(t, append(basic, 8, 0), r.Payload)

	assertReject(t, srv.OnSignal(command(SignalGetCapabilities, 2<<2)), BadACPSEID, 0)
	assertReject(t, srv.OnSignal(command(SignalGetCapabilities)), BadLength, 0)
}

func TestServerStateMachine(t *testing.T) {
	srv, ep := newTestServer(t)

	assertReject(t, srv.OnSignal(command(SignalOpen, 1<<2)), BadState, 0)
	assertReject(t, srv.OnSignal(command(SignalOpen, 9<<2)), BadACPSEID, 0)
	assertReject(t, srv.OnSignal(command(SignalGetConfiguration, 1<<2)), BadState, 0)

	require.True(t, srv.OnSignal(setConfiguration(codecConfig())).Accepted)
	assert.Equal(t, StateConfigured, ep.State())
	assert.Equal(t, uint8(3), ep.Data().RemoteID)
	assertReject(t, srv.OnSignal(setConfiguration(codecConfig())), SEPInUse, 0)

	r := srv.OnSignal(command(SignalGetConfiguration, 1<<2))
	require.True(t, r.Accepted)
	assert.Equal(t, codecConfig().Serialize(nil), r.Payload)

	assertReject(t, srv.OnSignal(command(SignalReconfigure, append([]byte{1 << 2, 7, 6}, codecConfig()[MediaCodec]...)...)), BadState, 0)

	require.True(t, srv.OnSignal(command(SignalOpen, 1<<2)).Accepted)
	assert.Equal(t, StateOpened, ep.State())

	r = srv.OnSignal(command(SignalStart, 1<<2, 5<<2))
	assertReject(t, r, BadACPSEID, 5<<2)
	assert.Equal(t, StateStarted, ep.State())

	assertReject(t, srv.OnSignal(command(SignalStart, 1<<2)), BadState, 1<<2)

	r = srv.OnSignal(command(SignalSuspend, 1<<2))
	require.True(t, r.Accepted)
	assert.Equal(t, []byte{1 << 2}, r.Payload)
	assert.Equal(t, StateOpened, ep.State())

	require.True(t, srv.OnSignal(command(SignalClose, 1<<2)).Accepted)
	assert.Equal(t, StateIdle, ep.State())
	assert.Empty(t, ep.Data().Configuration)
	assert.Equal(t, uint8(0), ep.Data().RemoteID)

	assertReject(t, srv.OnSignal(command(SignalClose, 1<<2)), BadState, 0)
	require.True(t, srv.OnSignal(command(SignalAbort, 1<<2)).Accepted)
}

func TestServerSetConfigurationErrors(t *testing.T) {
	srv, ep := newTestServer(t)

	tests := []struct {
		name string
		cmd  *Signal
		code ErrorCode
		data uint8
	}{
		{"category 0", command(SignalSetConfiguration, 1<<2, 3<<2, 0, 0), BadServCategory, 0},
		{"category 9", command(SignalSetConfiguration, 1<<2, 3<<2, 1, 0, 9, 0), BadServCategory, 9},
		{"truncated", command(SignalSetConfiguration, 1<<2, 3<<2, 7, 6, 0), BadPayloadFormat, 7},
		{"short", command(SignalSetConfiguration, 1<<2), BadLength, 0},
		{"unknown seid", setConfigurationTo(7), BadACPSEID, 0},
		{"no codec", setConfiguration(Capabilities{MediaTransport: {}}), UnsupportedConfiguration, uint8(MediaCodec)},
		{"bad codec", setConfiguration(Capabilities{MediaTransport: {}, MediaCodec: {0x00, 0x00, 0x31, 0x15, 2, 53}}), UnsupportedConfiguration, uint8(MediaCodec)},
		{"unadvertised category", setConfiguration(Capabilities{MediaTransport: {}, Recovery: {1, 1, 1}}), UnsupportedConfiguration, uint8(MediaCodec)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertReject(t, srv.OnSignal(tt.cmd), tt.code, tt.data)
			assert.Equal(t, StateIdle, ep.State())
		})
	}
}

func setConfigurationTo(acp uint8) *Signal {
	return command(SignalSetConfiguration, append([]byte{acp << 2, 3 << 2}, codecConfig().Serialize(nil)...)...)
}

func TestServerReconfigure(t *testing.T) {
	srv, ep := newTestServer(t)
	require.True(t, srv.OnSignal(setConfiguration(codecConfig())).Accepted)
	require.True(t, srv.OnSignal(command(SignalOpen, 1<<2)).Accepted)

	assertReject(t, srv.OnSignal(command(SignalReconfigure, 1<<2, 1, 0)), InvalidCapabilities, 1)
	assertReject(t, srv.OnSignal(command(SignalReconfigure, 1<<2, 9, 0)), BadServCategory, 9)

	dual := []byte{0x00, 0x00, 0x31, 0x15, 2, 53}
	assertReject(t, srv.OnSignal(command(SignalReconfigure, append([]byte{1 << 2, 7, 6}, dual...)...)), UnsupportedConfiguration, uint8(MediaCodec))

	mono := []byte{0x00, 0x00, 0x28, 0x15, 2, 53}
	require.True(t, srv.OnSignal(command(SignalReconfigure, append([]byte{1 << 2, 7, 6}, mono...)...)).Accepted)
	assert.Equal(t, mono, ep.Data().Configuration[MediaCodec])
	cfg, ok := ep.Codec().(*sbc.Codec).Configuration()
	require.True(t, ok)
	assert.Equal(t, 1, cfg.Channels())
}

func TestServerConcurrentEndpointAccess(t *testing.T) {
	srv, ep := newTestServer(t)
	require.True(t, srv.OnSignal(setConfiguration(codecConfig())).Accepted)
	require.True(t, srv.OnSignal(command(SignalOpen, 1<<2)).Accepted)

	mono := append([]byte{1 << 2, 7, 6, 0x00, 0x00}, 0x28, 0x15, 2, 53)
	stereo := append([]byte{1 << 2, 7, 6, 0x00, 0x00}, sbcConfig...)
	const rounds = 500

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			cfg := mono
			if i%2 == 0 {
				cfg = stereo
			}
			assert.True(t, srv.OnSignal(command(SignalReconfigure, cfg...)).Accepted)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			assert.True(t, srv.OnSignal(command(SignalGetConfiguration, 1<<2)).Accepted)
			assert.True(t, srv.OnSignal(command(SignalDiscover)).Accepted)
			assert.True(t, srv.OnSignal(command(SignalGetAllCapabilities, 1<<2)).Accepted)
			assert.Len(t, ep.Data().Configuration[MediaCodec], 6)
		}
	}()
	wg.Wait()
	assert.Equal(t, StateOpened, ep.State())
}

func TestServerDelayReport(t *testing.T) {
	srv, _ := newTestServer(t)
	assertReject(t, srv.OnSignal(command(SignalDelayReport, 1<<2, 0x01, 0x00)), NotSupportedCommand, 0)

	srv, ep := newTestServer(t, OptDelayReporting(true))
	assertReject(t, srv.OnSignal(command(SignalDelayReport, 1<<2, 0x01, 0x00)), BadState, 0)
	assertReject(t, srv.OnSignal(command(SignalDelayReport, 1<<2, 0x01)), BadLength, 0)

	require.True(t, srv.OnSignal(setConfiguration(codecConfig())).Accepted)
	require.True(t, srv.OnSignal(command(SignalDelayReport, 1<<2, 0x01, 0x2c)).Accepted)
	assert.Equal(t, uint16(300), ep.Delay())
}

func TestServerUnsupported(t *testing.T) {
	srv, _ := newTestServer(t)

	assertReject(t, srv.OnSignal(command(SignalSecurityControl, 1<<2)), NotSupportedCommand, 0)
	assert.True(t, srv.OnSignal(command(SignalIdentifier(0x0e))).General)
	assert.True(t, srv.OnSignal(command(SignalIdentifier(0x00))).General)

	bad := command(SignalDiscover)
	bad.Error = GeneralError
	assertReject(t, srv.OnSignal(bad), BadHeaderFormat, 0)
}

type fakeEndpoint struct {
	data StreamEndPoint
	err  error
}

func (f *fakeEndpoint) WithData(fn func(d *StreamEndPoint)) { fn(&f.data) }
func (f *fakeEndpoint) OnSetConfiguration(Capabilities, uint8) error { return f.err }
func (f *fakeEndpoint) OnReconfigure(Capabilities) error { return f.err }
func (f *fakeEndpoint) OnOpen() error { return f.err }
func (f *fakeEndpoint) OnClose() error { return f.err }
func (f *fakeEndpoint) OnStart() error { return f.err }
func (f *fakeEndpoint) OnSuspend() error { return f.err }
func (f *fakeEndpoint) OnAbort() error { return f.err }
func (f *fakeEndpoint) OnDelayReport(uint16) error { return f.err }

func TestServerResultMapping(t *testing.T) {
	tests := []struct {
		err  error
		code ErrorCode
	}{
		{a2dp.ErrUnavailable, NotSupportedCommand},
		{a2dp.ErrAlreadyConnected, SEPInUse},
		{errors.Wrap(a2dp.ErrAlreadyReleased, "wrapped"), SEPNotInUse},
		{a2dp.ErrBadRequest, UnsupportedConfiguration},
		{a2dp.ErrIllegalState, BadState},
		{a2dp.ErrTimedOut, BadState},
		{errors.New("surprise"), BadState},
	}

	fake := &fakeEndpoint{}
	repo := &Endpoints{}
	_, err := repo.Add(fake)
	require.NoError(t, err)
	srv, err := NewServer(repo)
	require.NoError(t, err)

	for _, tt := range tests {
		fake.err = tt.err
		assertReject(t, srv.OnSignal(command(SignalOpen, 1<<2)), tt.code, 0)
	}

	fake.err = nil
	assert.True(t, srv.OnSignal(command(SignalOpen, 1<<2)).Accepted)
}

func TestReplyWrite(t *testing.T) {
	rsp := NewSignal()
	reject(UnsupportedConfiguration, 7).Write(command(SignalSetConfiguration), rsp)
	assert.Equal(t, ResponseReject, rsp.Type)
	assert.Equal(t, []byte{7, 0x29}, rsp.Payload)

	reject(BadState, 7).Write(command(SignalOpen), rsp)
	assert.Equal(t, []byte{0x31}, rsp.Payload)
	assert.Equal(t, uint8(1), rsp.Label)

	Reply{General: true}.Write(command(SignalIdentifier(0x0e)), rsp)
	assert.Equal(t, GeneralReject, rsp.Type)
	assert.Empty(t, rsp.Payload)

	accept([]byte{1, 2}).Write(command(SignalDiscover), rsp)
	assert.Equal(t, ResponseAccept, rsp.Type)
	assert.Equal(t, []byte{1, 2}, rsp.Payload)
}

func TestEndpointsAdd(t *testing.T) {
	repo := &Endpoints{}
	for i := 1; i <= MaxEndpointID; i++ {
		id, err := repo.Add(&fakeEndpoint{})
		require.NoError(t, err)
		assert.Equal(t, uint8(i), id)
	}
	_, err := repo.Add(&fakeEndpoint{})
	assert.Error(t, err)
	assert.Equal(t, MaxEndpointID, repo.Len())
	assert.Nil(t, repo.Find(0))
	assert.Equal(t, uint8(5), repo.Find(5).(*fakeEndpoint).data.ID)
}
