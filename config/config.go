// Package config loads podcatch settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/robertmeta/podcatch/export"
	"github.com/robertmeta/podcatch/feed"
	"github.com/robertmeta/podcatch/titles"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Store    StoreConfig    `mapstructure:"store" toml:"store"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Overlay  OverlayConfig  `mapstructure:"overlay" toml:"overlay"`
	Export   ExportConfig   `mapstructure:"export" toml:"export"`
	Download DownloadConfig `mapstructure:"download" toml:"download"`
	Titles   TitlesConfig   `mapstructure:"titles" toml:"titles"`
	Logging  LoggingConfig  `mapstructure:"logging" toml:"logging"`
}

// StoreConfig selects the record store backend
type StoreConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // "sqlite" or "bolt"
	Path   string `mapstructure:"path" toml:"path"`
}

// ServerConfig holds listen addresses for `podcatch serve`
type ServerConfig struct {
	ControlAddr string `mapstructure:"control_addr" toml:"control_addr"`
	ProxyAddr   string `mapstructure:"proxy_addr" toml:"proxy_addr"`
}

// OverlayConfig tunes the page overlay
type OverlayConfig struct {
	InferDelayMS   int  `mapstructure:"infer_delay_ms" toml:"infer_delay_ms"`
	AdvanceCursor  bool `mapstructure:"advance_cursor" toml:"advance_cursor"`
	DefaultVisible bool `mapstructure:"default_visible" toml:"default_visible"`
	Render         bool `mapstructure:"render" toml:"render"` // draw overlays on stderr
}

// ExportConfig holds feed sample settings and export targets
type ExportConfig struct {
	Host       string `mapstructure:"host" toml:"host"`
	PubDate    string `mapstructure:"pub_date" toml:"pub_date"`
	CreatorDir string `mapstructure:"creator_dir" toml:"creator_dir"`
	CutDir     string `mapstructure:"cut_dir" toml:"cut_dir"`
}

// DownloadConfig holds download manager settings
type DownloadConfig struct {
	Dir       string `mapstructure:"dir" toml:"dir"`
	Workers   int    `mapstructure:"workers" toml:"workers"`
	QueueSize int    `mapstructure:"queue_size" toml:"queue_size"`
}

// TitlesConfig adds site title rules on top of the built-in ones
type TitlesConfig struct {
	Rules []titles.Rule `mapstructure:"rules" toml:"rules"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File   string `mapstructure:"file" toml:"file"` // empty logs to stderr
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   filepath.Join(defaultDataPath(), "podcatch.db"),
		},
		Server: ServerConfig{
			ControlAddr: "127.0.0.1:7480",
			ProxyAddr:   "127.0.0.1:7481",
		},
		Overlay: OverlayConfig{
			InferDelayMS:   800,
			AdvanceCursor:  true,
			DefaultVisible: true,
		},
		Export: ExportConfig{
			Host:       "podcasts.example.com",
			PubDate:    feed.DefaultPubDate,
			CreatorDir: export.CreatorDir,
			CutDir:     export.CutDir,
		},
		Download: DownloadConfig{
			Dir:       defaultDownloadPath(),
			Workers:   4,
			QueueSize: 256,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// DefaultConfigFile returns where `podcatch config init` writes by default.
func DefaultConfigFile() string {
	return filepath.Join(defaultConfigPath(), "config.toml")
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "podcatch")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "podcatch")
	}
}

// defaultDataPath returns the default data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "podcatch")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "podcatch")
	}
}

func defaultDownloadPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads")
}

// Load reads configuration from file and environment. An explicit path must
// exist; otherwise config.yaml or config.toml is looked up in the config
// directory and the working directory, and a missing file means defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Environment variable overrides, e.g. PODCATCH_STORE_DRIVER
	v.SetEnvPrefix("PODCATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

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

	return cfg, nil
}

// setDefaults registers every key so environment overrides apply to keys
// that are absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)

	v.SetDefault("server.control_addr", cfg.Server.ControlAddr)
	v.SetDefault("server.proxy_addr", cfg.Server.ProxyAddr)

	v.SetDefault("overlay.infer_delay_ms", cfg.Overlay.InferDelayMS)
	v.SetDefault("overlay.advance_cursor", cfg.Overlay.AdvanceCursor)
	v.SetDefault("overlay.default_visible", cfg.Overlay.DefaultVisible)
	v.SetDefault("overlay.render", cfg.Overlay.Render)

	v.SetDefault("export.host", cfg.Export.Host)
	v.SetDefault("export.pub_date", cfg.Export.PubDate)
	v.SetDefault("export.creator_dir", cfg.Export.CreatorDir)
	v.SetDefault("export.cut_dir", cfg.Export.CutDir)

	v.SetDefault("download.dir", cfg.Download.Dir)
	v.SetDefault("download.workers", cfg.Download.Workers)
	v.SetDefault("download.queue_size", cfg.Download.QueueSize)

	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// InferDelay is the wait between a detection and title inference.
func (o OverlayConfig) InferDelay() time.Duration {
	return time.Duration(o.InferDelayMS) * time.Millisecond
}

// TitleTable builds the site rule table: built-in rules first, then the
// configured ones, which may override them.
func (c *Config) TitleTable() *titles.Table {
	return titles.NewTable(titles.DefaultRules, c.Titles.Rules)
}

// SampleOptions returns the feed sample settings.
func (c *Config) SampleOptions() feed.SampleOptions {
	return feed.SampleOptions{Host: c.Export.Host, PubDate: c.Export.PubDate}
}
