// Package config loads the a2dpd configuration.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/pkg/errors"
	"github.com/rigado/a2dp/avdtp"
	"github.com/rigado/a2dp/sdp"
	"github.com/spf13/viper"
)

const EnvPrefix = "A2DP"

type Config struct {
	L2CAP     L2CAPConfig      `mapstructure:"l2cap"`
	Exchange  ExchangeConfig   `mapstructure:"exchange"`
	Workers   int              `mapstructure:"workers"`
	Log       LogConfig        `mapstructure:"log"`
	SDP       SDPConfig        `mapstructure:"sdp"`
	Profile   ProfileConfig    `mapstructure:"profile"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
	Cache     CacheConfig      `mapstructure:"cache"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
}

type L2CAPConfig struct {
	MTU int `mapstructure:"mtu"`
}

type ExchangeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string     `mapstructure:"level"`
	File  FileConfig `mapstructure:"file"`
}

// FileConfig enables rotated file logging when Path is set.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

type SDPConfig struct {
	Name        string `mapstructure:"name"`
	Description string `mapstructure:"description"`
	Provider    string `mapstructure:"provider"`
}

type ProfileConfig struct {
	Role         string `mapstructure:"role"`
	AVDTPVersion string `mapstructure:"avdtp_version"`
	A2DPVersion  string `mapstructure:"a2dp_version"`
	Features     uint16 `mapstructure:"features"`
}

type EndpointConfig struct {
	Service        string `mapstructure:"service"`
	Media          string `mapstructure:"media"`
	Codec          string `mapstructure:"codec"`
	DelayReporting bool   `mapstructure:"delay_reporting"`
}

type CacheConfig struct {
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("l2cap.mtu", 672)
	v.SetDefault("exchange.timeout", 2*time.Second)
	v.SetDefault("workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age", 28)
	v.SetDefault("sdp.name", "A2DP Audio")
	v.SetDefault("profile.role", "source")
	v.SetDefault("profile.avdtp_version", "1.3")
	v.SetDefault("profile.a2dp_version", "1.3")
	v.SetDefault("profile.features", 0x0001)
	v.SetDefault("metrics.path", "/metrics")
}

// Load reads the YAML file at path, or only defaults and environment when
// path is empty. A2DP_ prefixed variables override keys, dots becoming
// underscores (A2DP_L2CAP_MTU).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if path != "" {
		filename := filepath.Base(path)
		ext := filepath.Ext(filename)

		v.SetConfigName(strings.TrimSuffix(filename, ext))
		v.SetConfigType(strings.TrimPrefix(ext, "."))
		v.AddConfigPath(filepath.Dir(path))

		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []EndpointConfig{{Service: cfg.Profile.Role, Media: "audio", Codec: "sbc"}}
	}
	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Media == "" {
			cfg.Endpoints[i].Media = "audio"
		}
		if cfg.Endpoints[i].Codec == "" {
			cfg.Endpoints[i].Codec = "sbc"
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.L2CAP.MTU < 48 || c.L2CAP.MTU > 0xffff {
		return errors.Errorf("l2cap.mtu %v out of range", c.L2CAP.MTU)
	}
	if c.Exchange.Timeout <= 0 {
		return errors.Errorf("exchange.timeout %v", c.Exchange.Timeout)
	}
	if c.Workers <= 0 {
		return errors.Errorf("workers %v", c.Workers)
	}
	if _, err := c.Profile.AudioRole(); err != nil {
		return err
	}
	if _, _, err := c.Profile.Versions(); err != nil {
		return err
	}
	if len(c.Endpoints) > avdtp.MaxEndpointID {
		return errors.Errorf("%v endpoints", len(c.Endpoints))
	}
	for i, e := range c.Endpoints {
		if _, err := e.ServiceType(); err != nil {
			return errors.Wrapf(err, "endpoints[%v]", i)
		}
		if _, err := e.MediaType(); err != nil {
			return errors.Wrapf(err, "endpoints[%v]", i)
		}
		if e.Codec != "sbc" {
			return errors.Errorf("endpoints[%v]: unknown codec %q", i, e.Codec)
		}
	}
	return nil
}

func (p ProfileConfig) AudioRole() (sdp.AudioRole, error) {
	switch strings.ToLower(p.Role) {
	case "source":
		return sdp.AudioSourceRole, nil
	case "sink":
		return sdp.AudioSinkRole, nil
	}
	return 0, errors.Errorf("unknown profile.role %q", p.Role)
}

// Versions returns the AVDTP and A2DP versions in the 0xMMmm form SDP carries.
func (p ProfileConfig) Versions() (avdtpVersion, a2dpVersion uint16, err error) {
	if avdtpVersion, err = Version(p.AVDTPVersion); err != nil {
		return 0, 0, errors.Wrap(err, "profile.avdtp_version")
	}
	if a2dpVersion, err = Version(p.A2DPVersion); err != nil {
		return 0, 0, errors.Wrap(err, "profile.a2dp_version")
	}
	return avdtpVersion, a2dpVersion, nil
}

// Version converts "1.3" or "1.3.0" to 0x0103.
func Version(s string) (uint16, error) {
	v, err := semver.ParseTolerant(s)
	if err != nil {
		return 0, errors.Wrapf(err, "version %q", s)
	}
	if v.Major > 0xff || v.Minor > 0xff {
		return 0, errors.Errorf("version %q does not fit 16 bits", s)
	}
	return uint16(v.Major<<8 | v.Minor), nil
}

func (e EndpointConfig) ServiceType() (avdtp.ServiceType, error) {
	switch strings.ToLower(e.Service) {
	case "source":
		return avdtp.Source, nil
	case "sink":
		return avdtp.Sink, nil
	}
	return 0, errors.Errorf("unknown service %q", e.Service)
}

func (e EndpointConfig) MediaType() (avdtp.MediaType, error) {
	switch strings.ToLower(e.Media) {
	case "audio":
		return avdtp.Audio, nil
	case "video":
		return avdtp.Video, nil
	case "multimedia":
		return avdtp.Multimedia, nil
	}
	return 0, errors.Errorf("unknown media %q", e.Media)
}
