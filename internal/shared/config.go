package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Environment string          `toml:"environment"`
	Database    DatabaseConfig  `toml:"database"`
	Slskd       SlskdConfig     `toml:"slskd"`
	Spotify     SpotifyConfig   `toml:"spotify"`
	Library     LibraryConfig   `toml:"library"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Tasks       map[string]int  `toml:"tasks"` // per-task interval overrides in minutes; 0 disables
}

// DatabaseConfig contains database connection settings.
//
// Dir is a directory; the database file name is derived from the environment
// so test/stage/prod never share a store.
type DatabaseConfig struct {
	Dir          string `toml:"dir"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// SlskdConfig contains connection settings for the slskd daemon.
type SlskdConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimit      float64 `toml:"rate_limit"` // requests per second against the daemon API
}

// SpotifyConfig contains Spotify API credentials for playlist scraping.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	PlaylistsCSV string `toml:"playlists_csv"`
}

// LibraryConfig controls where downloaded files and exports land.
type LibraryConfig struct {
	DownloadsRoot     string `toml:"downloads_root"`
	M3U8Dir           string `toml:"m3u8_dir"`
	XMLPath           string `toml:"xml_path"`
	QualityPreference string `toml:"quality_preference"` // "prefer-lossless" or "prefer-compressed"
}

// SchedulerConfig controls the daemon loop.
type SchedulerConfig struct {
	TickSeconds int `toml:"tick_seconds"`
	MaxWorkers  int `toml:"max_workers"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: config file already exists at %s", ErrInvalidConfig, path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks settings that would make the process misbehave.
// Configuration errors are fatal: the scheduler must not start on a bad config.
func (c *Config) Validate() error {
	switch c.Environment {
	case "test", "stage", "prod":
	case "":
		return fmt.Errorf("%w: environment is not set", ErrInvalidConfig)
	default:
		return fmt.Errorf("%w: unknown environment %q", ErrInvalidConfig, c.Environment)
	}

	switch c.Library.QualityPreference {
	case "prefer-lossless", "prefer-compressed":
	default:
		return fmt.Errorf("%w: unknown quality_preference %q", ErrInvalidConfig, c.Library.QualityPreference)
	}

	for name, minutes := range c.Tasks {
		if minutes < 0 {
			return fmt.Errorf("%w: negative interval for task %q", ErrInvalidConfig, name)
		}
	}

	return nil
}

// SlskdTimeout returns the configured per-call timeout for daemon requests.
func (c *Config) SlskdTimeout() time.Duration {
	if c.Slskd.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Slskd.TimeoutSeconds) * time.Second
}

// TaskInterval returns the interval override for a task, or the given default.
// An override of 0 disables the task.
func (c *Config) TaskInterval(name string, fallback time.Duration) time.Duration {
	if minutes, ok := c.Tasks[name]; ok {
		return time.Duration(minutes) * time.Minute
	}
	return fallback
}
