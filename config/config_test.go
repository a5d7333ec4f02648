package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rigado/a2dp/avdtp"
	"github.com/rigado/a2dp/sdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "a2dpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 672, cfg.L2CAP.MTU)
	assert.Equal(t, 2*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "A2DP Audio", cfg.SDP.Name)
	assert.Equal(t, []EndpointConfig{{Service: "source", Media: "audio", Codec: "sbc"}}, cfg.Endpoints)

	role, err := cfg.Profile.AudioRole()
	require.NoError(t, err)
	assert.Equal(t, sdp.AudioSourceRole, role)

	av, a2, err := cfg.Profile.Versions()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0103), av)
	assert.Equal(t, uint16(0x0103), a2)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
l2cap:
  mtu: 1024
exchange:
  timeout: 500ms
profile:
  role: sink
  a2dp_version: "1.4"
  features: 3
endpoints:
  - service: sink
    delay_reporting: true
  - service: sink
    codec: sbc
log:
  file:
    path: /tmp/a2dpd.log
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.L2CAP.MTU)
	assert.Equal(t, 500*time.Millisecond, cfg.Exchange.Timeout)
	assert.Equal(t, uint16(3), cfg.Profile.Features)
	assert.Equal(t, "/tmp/a2dpd.log", cfg.Log.File.Path)
	assert.Equal(t, 10, cfg.Log.File.MaxSize)
	require.Len(t, cfg.Endpoints, 2)
	assert.True(t, cfg.Endpoints[0].DelayReporting)
	assert.Equal(t, "audio", cfg.Endpoints[0].Media)

	st, err := cfg.Endpoints[1].ServiceType()
	require.NoError(t, err)
	assert.Equal(t, avdtp.Sink, st)

	_, a2, err := cfg.Profile.Versions()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0104), a2)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("A2DP_WORKERS", "8")
	t.Setenv("A2DP_L2CAP_MTU", "48")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 48, cfg.L2CAP.MTU)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero mtu", "l2cap:\n  mtu: 0\n"},
		{"bad role", "profile:\n  role: relay\n"},
		{"bad version", "profile:\n  avdtp_version: abc\n"},
		{"bad service", "endpoints:\n  - service: mixer\n"},
		{"bad media", "endpoints:\n  - service: sink\n    media: smell\n"},
		{"bad codec", "endpoints:\n  - service: sink\n    codec: aptx\n"},
		{"no workers", "workers: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	tests := []struct {
		in  string
		out uint16
		ok  bool
	}{
		{"1.3", 0x0103, true},
		{"1.2.0", 0x0102, true},
		{"v1.0", 0x0100, true},
		{"256.0", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		v, err := Version(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.out, v, tt.in)
	}
}
