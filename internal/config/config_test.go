package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Producer.TickInterval != 16*time.Millisecond {
		t.Errorf("expected tick interval 16ms, got %v", cfg.Producer.TickInterval)
	}
	if cfg.Producer.ThrottleWindow != time.Second {
		t.Errorf("expected throttle window 1s, got %v", cfg.Producer.ThrottleWindow)
	}
	if cfg.Producer.BatchSize != 512*512 {
		t.Errorf("expected batch size %d, got %d", 512*512, cfg.Producer.BatchSize)
	}
	if cfg.Producer.MaxBatchAttempts != 5 {
		t.Errorf("expected 5 batch attempts, got %d", cfg.Producer.MaxBatchAttempts)
	}

	if cfg.Bridge.ListenAddr != "127.0.0.1:7420" {
		t.Errorf("expected listen addr 127.0.0.1:7420, got %s", cfg.Bridge.ListenAddr)
	}
	if cfg.Bridge.Path != "/bridge" {
		t.Errorf("expected bridge path /bridge, got %s", cfg.Bridge.Path)
	}

	if cfg.Viewer.Window.Enabled {
		t.Error("expected the window to be disabled by default")
	}
	if cfg.Viewer.Window.Width != 1024 || cfg.Viewer.Window.Height != 768 {
		t.Errorf("expected window 1024x768, got %dx%d", cfg.Viewer.Window.Width, cfg.Viewer.Window.Height)
	}

	if cfg.Metrics.Enabled {
		t.Error("expected metrics to be disabled by default")
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "texlink.yaml")

	yamlContent := `
producer:
  tick_interval: 33ms
  throttle_window: 2s
  batch_size: 65536
  max_batch_attempts: 3

bridge:
  listen_addr: "0.0.0.0:9000"
  path: "/ws"
  outbox_size: 8

host:
  documents_dir: "/tmp/docs"
  watch: false

metrics:
  enabled: true
  addr: ":9100"

logging:
  level: "debug"
  log_file: "texlink.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Producer.TickInterval != 33*time.Millisecond {
		t.Errorf("expected tick interval 33ms, got %v", cfg.Producer.TickInterval)
	}
	if cfg.Producer.ThrottleWindow != 2*time.Second {
		t.Errorf("expected throttle window 2s, got %v", cfg.Producer.ThrottleWindow)
	}
	if cfg.Producer.BatchSize != 65536 {
		t.Errorf("expected batch size 65536, got %d", cfg.Producer.BatchSize)
	}
	if cfg.Producer.MaxBatchAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.Producer.MaxBatchAttempts)
	}
	// Untouched keys keep their defaults.
	if cfg.Producer.RetryMax != 500*time.Millisecond {
		t.Errorf("expected retry max to keep default, got %v", cfg.Producer.RetryMax)
	}

	if cfg.Bridge.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("expected listen addr 0.0.0.0:9000, got %s", cfg.Bridge.ListenAddr)
	}
	if cfg.Bridge.OutboxSize != 8 {
		t.Errorf("expected outbox 8, got %d", cfg.Bridge.OutboxSize)
	}
	if cfg.Host.Watch {
		t.Error("expected watch to be false")
	}
	if !cfg.Metrics.Enabled {
		t.Error("expected metrics to be enabled")
	}
	if cfg.Logging.LogFile != "texlink.log" {
		t.Errorf("expected log file 'texlink.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidYAML := `
producer:
  batch_size: not a number
  invalid syntax here
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	if err := loadFromFile(cfg, "/nonexistent/path/texlink.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "texlink.yaml")

	cfg := Default()
	cfg.Producer.BatchSize = 1024
	cfg.Host.DocumentsDir = "/srv/docs"
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if loaded.Producer.BatchSize != 1024 {
		t.Errorf("expected batch size 1024, got %d", loaded.Producer.BatchSize)
	}
	if loaded.Host.DocumentsDir != "/srv/docs" {
		t.Errorf("expected documents dir /srv/docs, got %s", loaded.Host.DocumentsDir)
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*testing.T, *Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "window flag",
			setup: func() { *flagWindow = true },
			verify: func(t *testing.T, cfg *Config) {
				if !cfg.Viewer.Window.Enabled {
					t.Error("expected the window to be enabled")
				}
			},
			teardown: func() { *flagWindow = false },
		},
		{
			name:  "listen flag",
			setup: func() { *flagListen = ":8000" },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Bridge.ListenAddr != ":8000" {
					t.Errorf("expected listen :8000, got %s", cfg.Bridge.ListenAddr)
				}
			},
			teardown: func() { *flagListen = "" },
		},
		{
			name:  "batch size flag",
			setup: func() { *flagBatchSize = 4096 },
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Producer.BatchSize != 4096 {
					t.Errorf("expected batch size 4096, got %d", cfg.Producer.BatchSize)
				}
			},
			teardown: func() { *flagBatchSize = 0 },
		},
		{
			name:  "metrics flag enables metrics",
			setup: func() { *flagMetrics = ":9999" },
			verify: func(t *testing.T, cfg *Config) {
				if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9999" {
					t.Errorf("expected metrics enabled on :9999, got %+v", cfg.Metrics)
				}
			},
			teardown: func() { *flagMetrics = "" },
		},
		{
			name: "documents and snapshots flags",
			setup: func() {
				*flagDocuments = "/in"
				*flagSnapshots = "/out"
			},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Host.DocumentsDir != "/in" {
					t.Errorf("expected documents /in, got %s", cfg.Host.DocumentsDir)
				}
				if cfg.Viewer.SnapshotDir != "/out" {
					t.Errorf("expected snapshots /out, got %s", cfg.Viewer.SnapshotDir)
				}
			},
			teardown: func() {
				*flagDocuments = ""
				*flagSnapshots = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			applyFlags(cfg)
			tt.verify(t, cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "texlink.yaml")

	yamlContent := `
producer:
  batch_size: 1000
  throttle_window: 3s
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	*flagBatchSize = 2000
	defer func() {
		*flagConfig = ""
		*flagBatchSize = 0
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Producer.BatchSize != 2000 {
		t.Errorf("expected batch size 2000 from flag, got %d", cfg.Producer.BatchSize)
	}
	if cfg.Producer.ThrottleWindow != 3*time.Second {
		t.Errorf("expected throttle window 3s from file, got %v", cfg.Producer.ThrottleWindow)
	}
	if cfg.Settings.File == "" {
		t.Error("expected settings file to default into the config dir")
	}
}
