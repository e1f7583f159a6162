// Package config handles process configuration loading and management.
package config

import "time"

// Config holds all process settings.
type Config struct {
	Producer ProducerConfig `yaml:"producer"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Host     HostConfig     `yaml:"host"`
	Settings SettingsConfig `yaml:"settings"`
	Viewer   ViewerConfig   `yaml:"viewer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProducerConfig holds the update producer timing and batching settings.
type ProducerConfig struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	ThrottleWindow   time.Duration `yaml:"throttle_window"`
	BatchSize        int           `yaml:"batch_size"` // pixels per batch
	MaxBatchAttempts int           `yaml:"max_batch_attempts"`
	RetryInitial     time.Duration `yaml:"retry_initial"`
	RetryMax         time.Duration `yaml:"retry_max"`
}

// BridgeConfig holds transport settings between producer and consumer.
type BridgeConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	URL        string `yaml:"url"` // consumer side
	OutboxSize int    `yaml:"outbox_size"`
}

// HostConfig holds settings for the reference image host.
type HostConfig struct {
	DocumentsDir string `yaml:"documents_dir"`
	Watch        bool   `yaml:"watch"`
}

// SettingsConfig locates the persisted user settings.
type SettingsConfig struct {
	File string `yaml:"file"`
}

// ViewerConfig holds viewer settings.
type ViewerConfig struct {
	SnapshotDir string       `yaml:"snapshot_dir"`
	Window      WindowConfig `yaml:"window"`
}

// WindowConfig holds the optional on-screen preview window. It needs a build
// with the window tag.
type WindowConfig struct {
	Enabled bool `yaml:"enabled"`
	Width   int  `yaml:"width"`
	Height  int  `yaml:"height"`
	VSync   bool `yaml:"vsync"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Producer: ProducerConfig{
			TickInterval:     16 * time.Millisecond,
			ThrottleWindow:   time.Second,
			BatchSize:        512 * 512,
			MaxBatchAttempts: 5,
			RetryInitial:     16 * time.Millisecond,
			RetryMax:         500 * time.Millisecond,
		},
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:7420",
			Path:       "/bridge",
			URL:        "ws://127.0.0.1:7420/bridge",
			OutboxSize: 64,
		},
		Host: HostConfig{
			DocumentsDir: ".",
			Watch:        true,
		},
		Settings: SettingsConfig{
			File: "",
		},
		Viewer: ViewerConfig{
			SnapshotDir: "snapshots",
			Window: WindowConfig{
				Enabled: false,
				Width:   1024,
				Height:  768,
				VSync:   true,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9420",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
