package config

import "flag"

var (
	flagConfig    = flag.String("config", "", "Path to config file")
	flagDebug     = flag.Bool("debug", false, "Enable debug logging")
	flagListen    = flag.String("listen", "", "Bridge listen address (host side)")
	flagURL       = flag.String("url", "", "Bridge URL (viewer side)")
	flagDocuments = flag.String("documents", "", "Directory of images served as documents")
	flagSnapshots = flag.String("snapshots", "", "Directory for viewer PNG snapshots")
	flagBatchSize = flag.Int("batch-size", 0, "Pixels per partial update batch")
	flagMetrics   = flag.String("metrics", "", "Expose Prometheus metrics on this address")
	flagWindow    = flag.Bool("window", false, "Show the active document in a window (viewer side)")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagListen != "" {
		cfg.Bridge.ListenAddr = *flagListen
	}
	if *flagURL != "" {
		cfg.Bridge.URL = *flagURL
	}
	if *flagDocuments != "" {
		cfg.Host.DocumentsDir = *flagDocuments
	}
	if *flagSnapshots != "" {
		cfg.Viewer.SnapshotDir = *flagSnapshots
	}
	if *flagBatchSize > 0 {
		cfg.Producer.BatchSize = *flagBatchSize
	}
	if *flagWindow {
		cfg.Viewer.Window.Enabled = true
	}
	if *flagMetrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *flagMetrics
	}
}
