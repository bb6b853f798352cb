// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Playback PlaybackConfig          `yaml:"playback"`
	Devices  DevicesConfig           `yaml:"devices"`
	Storage  StorageConfig           `yaml:"storage"`
	Filters  map[string]FilterConfig `yaml:"filters"`
	Spotify  SpotifyConfig           `yaml:"spotify"`
	LastFM   LastFMConfig            `yaml:"lastfm"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr  string      `yaml:"addr" default:":8080"`
	Token string      `yaml:"token" validate:"required"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// PlaybackConfig represents transport configuration.
type PlaybackConfig struct {
	RestartThresholdMs int     `yaml:"restart_threshold_ms" default:"3000" validate:"gte=0,lte=60000"`
	SeekToleranceMs    int     `yaml:"seek_tolerance_ms" default:"1000" validate:"gte=0,lte=10000"`
	CommandTimeoutSec  int     `yaml:"command_timeout_sec" default:"10" validate:"gte=1,lte=120"`
	Volume             float64 `yaml:"volume" default:"1" validate:"gte=0,lte=1"`
	Repeat             string  `yaml:"repeat" default:"off" validate:"oneof=off all one"`
	Shuffle            bool    `yaml:"shuffle"`
}

// RestartThreshold returns the previous-track restart threshold.
func (p PlaybackConfig) RestartThreshold() time.Duration {
	return time.Duration(p.RestartThresholdMs) * time.Millisecond
}

// SeekTolerance returns the seek forwarding tolerance.
func (p PlaybackConfig) SeekTolerance() time.Duration {
	return time.Duration(p.SeekToleranceMs) * time.Millisecond
}

// CommandTimeout returns the backend command timeout.
func (p PlaybackConfig) CommandTimeout() time.Duration {
	return time.Duration(p.CommandTimeoutSec) * time.Second
}

// DevicesConfig represents the playback devices.
type DevicesConfig struct {
	Default string              `yaml:"default"`
	Local   LocalDeviceConfig   `yaml:"local"`
	Spotify SpotifyDeviceConfig `yaml:"spotify"`
}

// LocalDeviceConfig represents the local decode device.
type LocalDeviceConfig struct {
	Name            string `yaml:"name" default:"local" validate:"required"`
	Sink            string `yaml:"sink" default:"discard" validate:"required"` // "discard", "stdout", or a file path
	TickMs          int    `yaml:"tick_ms" default:"500" validate:"gte=50,lte=5000"`
	FetchTimeoutSec int    `yaml:"fetch_timeout_sec" default:"30" validate:"gte=1,lte=300"`
}

// Tick returns the time update interval.
func (l LocalDeviceConfig) Tick() time.Duration {
	return time.Duration(l.TickMs) * time.Millisecond
}

// FetchTimeout returns the media fetch timeout.
func (l LocalDeviceConfig) FetchTimeout() time.Duration {
	return time.Duration(l.FetchTimeoutSec) * time.Second
}

// SpotifyDeviceConfig represents the remote Spotify Connect device.
// The device is registered only when DeviceName is set.
type SpotifyDeviceConfig struct {
	Name              string  `yaml:"name" default:"spotify" validate:"required"`
	DeviceName        string  `yaml:"device_name"`
	PollIntervalMs    int     `yaml:"poll_interval_ms" default:"1000" validate:"gte=200,lte=10000"`
	RequestsPerSecond float64 `yaml:"requests_per_second" default:"5" validate:"gt=0,lte=50"`
}

// Enabled reports whether the remote device is configured.
func (s SpotifyDeviceConfig) Enabled() bool {
	return s.DeviceName != ""
}

// PollInterval returns the player state polling interval.
func (s SpotifyDeviceConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMs) * time.Millisecond
}

// StorageConfig represents the history and playlist store.
type StorageConfig struct {
	Path         string `yaml:"path" default:"data/19player.db" validate:"required"`
	HistoryLimit int    `yaml:"history_limit" default:"20" validate:"gte=1,lte=1000"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents Spotify API configuration.
// Credentials are optional; without them the catalog and remote device are disabled.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RefreshToken string `yaml:"refresh_token"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"JP"`
}

// Enabled reports whether any Spotify credential is set.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" || s.ClientSecret != "" || s.RefreshToken != ""
}

// LastFMConfig represents Last.fm metadata enrichment configuration.
type LastFMConfig struct {
	APIKey     string `yaml:"api_key"`
	CacheSize  int    `yaml:"cache_size" default:"512" validate:"gte=0,lte=100000"`
	TimeoutSec int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=120"`
}

// Enabled reports whether enrichment is configured.
func (l LastFMConfig) Enabled() bool {
	return l.APIKey != ""
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		c.Spotify.RefreshToken = v
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.LastFM.APIKey = v
	}
	if v := os.Getenv("PLAYER_TOKEN"); v != "" {
		c.Server.Token = v
	}
}

// DeviceNames returns the configured device names, local first.
func (c *Config) DeviceNames() []string {
	names := []string{c.Devices.Local.Name}
	if c.Devices.Spotify.Enabled() {
		names = append(names, c.Devices.Spotify.Name)
	}
	return names
}

// DefaultDevice returns the device active at startup.
func (c *Config) DefaultDevice() string {
	if c.Devices.Default != "" {
		return c.Devices.Default
	}
	return c.Devices.Local.Name
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateSpotify(); err != nil {
		return err
	}

	return c.validateDevices()
}

// validateSpotify requires a complete credential set once any part is given,
// and requires credentials for the remote device.
func (c *Config) validateSpotify() error {
	s := c.Spotify
	if s.Enabled() {
		if s.ClientID == "" {
			return errors.New("spotify.client_id is required when spotify is configured")
		}
		if s.ClientSecret == "" {
			return errors.New("spotify.client_secret is required when spotify is configured")
		}
		if s.RefreshToken == "" {
			return errors.New("spotify.refresh_token is required when spotify is configured")
		}
	}
	if c.Devices.Spotify.Enabled() && !s.Enabled() {
		return errors.New("devices.spotify requires spotify credentials")
	}
	return nil
}

func (c *Config) validateDevices() error {
	if c.Devices.Spotify.Enabled() && c.Devices.Spotify.Name == c.Devices.Local.Name {
		return errors.Newf("device name %q is used twice", c.Devices.Local.Name)
	}

	def := c.DefaultDevice()
	for _, name := range c.DeviceNames() {
		if name == def {
			return nil
		}
	}
	return errors.Newf("devices.default %q is not a configured device", def)
}
