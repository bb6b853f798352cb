package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) Config {
	t.Helper()
	cfg := Config{Server: ServerConfig{Token: "test-token"}}
	require.NoError(t, defaults.Set(&cfg))
	return cfg
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  token: secret\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Playback.RestartThreshold())
	assert.Equal(t, time.Second, cfg.Playback.SeekTolerance())
	assert.Equal(t, 10*time.Second, cfg.Playback.CommandTimeout())
	assert.Equal(t, 1.0, cfg.Playback.Volume)
	assert.Equal(t, "off", cfg.Playback.Repeat)
	assert.Equal(t, "local", cfg.Devices.Local.Name)
	assert.Equal(t, "discard", cfg.Devices.Local.Sink)
	assert.Equal(t, 500*time.Millisecond, cfg.Devices.Local.Tick())
	assert.False(t, cfg.Devices.Spotify.Enabled())
	assert.Equal(t, 20, cfg.Storage.HistoryLimit)
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.Equal(t, []string{"local"}, cfg.DeviceNames())
	assert.Equal(t, "local", cfg.DefaultDevice())
}

func TestParse_FullFile(t *testing.T) {
	data := `
server:
  addr: ":9090"
  token: secret
playback:
  restart_threshold_ms: 5000
  volume: 0.5
  repeat: all
  shuffle: true
devices:
  default: speaker
  spotify:
    name: speaker
    device_name: Living Room
    poll_interval_ms: 2000
spotify:
  client_id: id
  client_secret: secret
  refresh_token: refresh
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_duration_sec: 600
`
	cfg, err := Parse([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Playback.RestartThreshold())
	assert.Equal(t, 0.5, cfg.Playback.Volume)
	assert.True(t, cfg.Playback.Shuffle)
	assert.True(t, cfg.Devices.Spotify.Enabled())
	assert.Equal(t, 2*time.Second, cfg.Devices.Spotify.PollInterval())
	assert.Equal(t, []string{"local", "speaker"}, cfg.DeviceNames())
	assert.Equal(t, "speaker", cfg.DefaultDevice())
	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("playable_filter"))
	assert.Equal(t, 600, cfg.Filters["duration_limit_filter"].Settings["max_duration_sec"])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing token",
			mutate:  func(c *Config) { c.Server.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "volume out of range",
			mutate:  func(c *Config) { c.Playback.Volume = 1.5 },
			wantErr: true,
			errMsg:  "Volume",
		},
		{
			name:    "unknown repeat mode",
			mutate:  func(c *Config) { c.Playback.Repeat = "forever" },
			wantErr: true,
			errMsg:  "Repeat",
		},
		{
			name:    "invalid market length",
			mutate:  func(c *Config) { c.Spotify.Market = "JAPAN" },
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name: "partial spotify credentials",
			mutate: func(c *Config) {
				c.Spotify.ClientID = "id"
				c.Spotify.RefreshToken = "refresh"
			},
			wantErr: true,
			errMsg:  "client_secret",
		},
		{
			name:    "remote device without credentials",
			mutate:  func(c *Config) { c.Devices.Spotify.DeviceName = "Kitchen" },
			wantErr: true,
			errMsg:  "credentials",
		},
		{
			name: "duplicate device names",
			mutate: func(c *Config) {
				c.Spotify = SpotifyConfig{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh", Market: "JP"}
				c.Devices.Spotify.DeviceName = "Kitchen"
				c.Devices.Spotify.Name = "local"
			},
			wantErr: true,
			errMsg:  "used twice",
		},
		{
			name:    "unknown default device",
			mutate:  func(c *Config) { c.Devices.Default = "spotify" },
			wantErr: true,
			errMsg:  "not a configured device",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  token: from-file\n"), 0o644))

	t.Setenv("PLAYER_TOKEN", "from-env")
	t.Setenv("LASTFM_API_KEY", "lastfm-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.Token)
	assert.True(t, cfg.LastFM.Enabled())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
