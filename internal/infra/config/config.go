// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Spotify SpotifyConfig `yaml:"spotify"`
	Player  PlayerConfig  `yaml:"player"`
	Library LibraryConfig `yaml:"library"`
	Lyrics  LyricsConfig  `yaml:"lyrics"`
	Token   TokenConfig   `yaml:"token"`
}

// ServerConfig represents the control API server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080"`
}

// SpotifyConfig represents Spotify application credentials. Credentials are
// optional; without them the player runs local-only.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri" default:"http://127.0.0.1:8889/callback"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// PlayerConfig represents playback orchestration configuration.
type PlayerConfig struct {
	InitialVolume float64 `yaml:"initial_volume" default:"0.7" validate:"gte=0,lte=1"`
	// Baseline poll cadence for remote playback state reconciliation.
	PollIntervalMs int `yaml:"poll_interval_ms" default:"5000" validate:"gte=1000,lte=60000"`
	// Tightened cadence while the immersive view is open and the current
	// track is remote.
	ImmersivePollIntervalMs int `yaml:"immersive_poll_interval_ms" default:"800" validate:"gte=100,lte=5000"`
	// Delay after a state-changing remote command before the next poll is
	// allowed to reconcile, giving Spotify time to apply the change.
	CommandSettleMs int `yaml:"command_settle_ms" default:"500" validate:"gte=0,lte=5000"`
	// Previous rewinds to the start of the current track once this much has
	// elapsed, instead of moving to the prior queue entry.
	RestartThresholdSec int `yaml:"restart_threshold_sec" default:"3" validate:"gte=0,lte=30"`
	// Catalog entries without any playable media normally "play" as
	// UI-only conceptual tracks. Set to refuse them instead.
	DisableConceptual bool `yaml:"disable_conceptual"`
}

// LibraryConfig represents the sample-content catalog configuration.
type LibraryConfig struct {
	Manifest string `yaml:"manifest" default:"library.yaml"`
	MusicDir string `yaml:"music_dir" default:"music"`
}

// LyricsConfig represents the lyrics lookup provider configuration.
type LyricsConfig struct {
	Provider string         `yaml:"provider" default:"lrclib"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// TokenConfig represents session token persistence configuration.
type TokenConfig struct {
	Path string `yaml:"path"`
}

// Load loads configuration from a YAML file. Environment variables take
// precedence over file values for credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

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
	if v := os.Getenv("HARMONIA_TOKEN_PATH"); v != "" {
		c.Token.Path = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	// Credentials come as a pair or not at all.
	if (c.Spotify.ClientID == "") != (c.Spotify.ClientSecret == "") {
		return errors.New("spotify client_id and client_secret must be set together")
	}
	return nil
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// TokenPath returns the session token file path, defaulting to the user
// config directory.
func (c *Config) TokenPath() (string, error) {
	if c.Token.Path != "" {
		return c.Token.Path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve user config dir")
	}
	return filepath.Join(dir, "harmonia", "token.json"), nil
}
