package adapter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const appName = "reelcache"

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Store     StoreConfig     `mapstructure:"store"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Network   NetworkConfig   `mapstructure:"network"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Player    PlayerConfig    `mapstructure:"player"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the local listener configuration
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// URL is where clients reach a running proxy (send, monitor).
	URL string `mapstructure:"url"`
}

// APIConfig describes the media backend
type APIConfig struct {
	Base        string        `mapstructure:"base"`
	ManifestURL string        `mapstructure:"manifest_url"` // relative values resolve against base
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// StoreConfig holds the persistent store limits
type StoreConfig struct {
	Dir          string `mapstructure:"dir"`
	MaxBytes     int64  `mapstructure:"max_bytes"`
	MaxItems     int    `mapstructure:"max_items"`
	EnforceBytes bool   `mapstructure:"enforce_bytes"`
	HandlePrefix string `mapstructure:"handle_prefix"`
}

// ProxyConfig holds the interception layer configuration
type ProxyConfig struct {
	Upstream      string   `mapstructure:"upstream"`
	MediaOrigin   string   `mapstructure:"media_origin"`
	CacheVersion  int      `mapstructure:"cache_version"`
	Shell         []string `mapstructure:"shell"`
	SkipWaiting   bool     `mapstructure:"skip_waiting"` // activate right after install
	BackgroundTag string   `mapstructure:"background_sync_tag"`
}

// ResolverConfig tunes the fallback chain
type ResolverConfig struct {
	ManifestTTL     time.Duration `mapstructure:"manifest_ttl"`
	TierTimeout     time.Duration `mapstructure:"tier_timeout"`
	FeaturedLimit   int           `mapstructure:"featured_limit"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// SyncConfig tunes the store sync
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// NetworkConfig holds network hardening settings
type NetworkConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeURL      string        `mapstructure:"probe_url"` // defaults to the manifest URL
}

// TelemetryConfig holds view tracking configuration
type TelemetryConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Rate      float64 `mapstructure:"rate"`
	QueueSize int     `mapstructure:"queue_size"`
}

// PlayerConfig holds media player configuration
type PlayerConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:8787",
			URL:    "http://127.0.0.1:8787",
		},
		API: APIConfig{
			Base:        "http://localhost:3001/api",
			ManifestURL: "/videos/featured/manifest.json",
			MaxRetries:  3,
			RetryDelay:  500 * time.Millisecond,
		},
		Store: StoreConfig{
			Dir:          defaultDataPath(),
			MaxBytes:     500 * 1024 * 1024,
			MaxItems:     10,
			HandlePrefix: "/blob/",
		},
		Proxy: ProxyConfig{
			Upstream:      "http://localhost:3000",
			CacheVersion:  1,
			Shell:         []string{"/", "/manifest.json", "/favicon.ico"},
			SkipWaiting:   true,
			BackgroundTag: "sync-featured-videos",
		},
		Resolver: ResolverConfig{
			ManifestTTL:     5 * time.Minute,
			TierTimeout:     10 * time.Second,
			FeaturedLimit:   3,
			RefreshInterval: 10 * time.Minute,
		},
		Sync: SyncConfig{
			Interval:    5 * time.Minute,
			Concurrency: 3,
		},
		Network: NetworkConfig{
			Timeout:       8 * time.Second,
			ProbeInterval: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:   true,
			Rate:      2,
			QueueSize: 64,
		},
		Player: PlayerConfig{
			Command: "",
			Args:    []string{},
		},
		Logging: LoggingConfig{
			File:       defaultLogPath(),
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// settings flattens cfg into viper keys. Registering every key as a default
// lets AutomaticEnv override nested values during Unmarshal.
func settings(cfg *Config) map[string]any {
	return map[string]any{
		"server.listen": cfg.Server.Listen,
		"server.url":    cfg.Server.URL,

		"api.base":         cfg.API.Base,
		"api.manifest_url": cfg.API.ManifestURL,
		"api.max_retries":  cfg.API.MaxRetries,
		"api.retry_delay":  cfg.API.RetryDelay,

		"store.dir":           cfg.Store.Dir,
		"store.max_bytes":     cfg.Store.MaxBytes,
		"store.max_items":     cfg.Store.MaxItems,
		"store.enforce_bytes": cfg.Store.EnforceBytes,
		"store.handle_prefix": cfg.Store.HandlePrefix,

		"proxy.upstream":            cfg.Proxy.Upstream,
		"proxy.media_origin":        cfg.Proxy.MediaOrigin,
		"proxy.cache_version":       cfg.Proxy.CacheVersion,
		"proxy.shell":               cfg.Proxy.Shell,
		"proxy.skip_waiting":        cfg.Proxy.SkipWaiting,
		"proxy.background_sync_tag": cfg.Proxy.BackgroundTag,

		"resolver.manifest_ttl":     cfg.Resolver.ManifestTTL,
		"resolver.tier_timeout":     cfg.Resolver.TierTimeout,
		"resolver.featured_limit":   cfg.Resolver.FeaturedLimit,
		"resolver.refresh_interval": cfg.Resolver.RefreshInterval,

		"sync.interval":    cfg.Sync.Interval,
		"sync.concurrency": cfg.Sync.Concurrency,

		"network.timeout":        cfg.Network.Timeout,
		"network.probe_interval": cfg.Network.ProbeInterval,
		"network.probe_url":      cfg.Network.ProbeURL,

		"telemetry.enabled":    cfg.Telemetry.Enabled,
		"telemetry.rate":       cfg.Telemetry.Rate,
		"telemetry.queue_size": cfg.Telemetry.QueueSize,

		"player.command": cfg.Player.Command,
		"player.args":    cfg.Player.Args,

		"logging.file":         cfg.Logging.File,
		"logging.level":        cfg.Logging.Level,
		"logging.max_size_mb":  cfg.Logging.MaxSizeMB,
		"logging.max_backups":  cfg.Logging.MaxBackups,
		"logging.max_age_days": cfg.Logging.MaxAgeDays,
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	return filepath.Join(defaultDataPath(), appName+".log")
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", appName)
	}
}

// DefaultConfigDir returns the default config directory for the current OS
func DefaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), appName)
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", appName)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range settings(DefaultConfig()) {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix("REELCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from file and environment. An empty path
// searches the default config directory and the working directory.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, or to the default location when path is empty.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = filepath.Join(DefaultConfigDir(), "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for key, value := range settings(cfg) {
		if d, ok := value.(time.Duration); ok {
			value = d.String()
		}
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports settings no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.API.Base == "":
		return errors.New("api.base is required")
	case c.Proxy.Upstream == "":
		return errors.New("proxy.upstream is required")
	case c.Store.MaxItems <= 0:
		return fmt.Errorf("store.max_items must be positive, got %d", c.Store.MaxItems)
	case c.Store.MaxBytes <= 0:
		return fmt.Errorf("store.max_bytes must be positive, got %d", c.Store.MaxBytes)
	case c.Network.Timeout <= 0:
		return fmt.Errorf("network.timeout must be positive, got %s", c.Network.Timeout)
	}
	return nil
}

// MediaDBPath is the bbolt file backing the media store.
func (c *Config) MediaDBPath() string {
	return filepath.Join(expandHome(c.Store.Dir), "media.db")
}

// ResponsesDBPath is the bbolt file backing the response caches.
func (c *Config) ResponsesDBPath() string {
	return filepath.Join(expandHome(c.Store.Dir), "responses.db")
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
