// Package localai manages the locally-hosted model's lifecycle.
//
// The Controller owns a state machine over the local model plugin:
// selection, download, installation, enable/disable, and restart. The
// plugin itself is an externally managed process; start, stop, and
// restart are asynchronous operations with observable state, not
// synchronous calls.
//
//	Controller ---> DownloadManager ---> model artifacts on disk
//	    |
//	    +--------> Plugin (model runtime process)
//
// # States
//
// Exactly one State is active at a time:
//
//	uninitialized -> downloading -> installed -> running <-> stopped
//	any state -> error (unrecoverable failure); error -> uninitialized
//	only via re-selection
//
// # Usage
//
//	ctrl, err := localai.NewController(localai.Config{
//	    StorageDir: "/var/lib/chatkit/models",
//	})
//	sel, err := ctrl.SelectModel(ctx, "llama3.2-1b")
package localai

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds local AI configuration.
type Config struct {
	// StorageDir is where model artifacts and the manifest live.
	// Default: $HOME/.chatkit/models
	StorageDir string `toml:"storage_dir"`

	// ManifestURL is where the available-model manifest is fetched from.
	// When empty, the manifest is read from StorageDir/models.yaml.
	ManifestURL string `toml:"manifest_url"`

	// OfflineAppLink is the download link for the offline AI app,
	// returned as-is to callers.
	OfflineAppLink string `toml:"offline_app_link"`

	// PluginPath is the model runtime binary.
	PluginPath string `toml:"plugin_path"`

	// PluginHost is the address the runtime serves on once ready.
	// Default: "localhost:11434"
	PluginHost string `toml:"plugin_host"`

	// DownloadChunkSize is the read size between cancellation checks.
	// Default: 1 MiB.
	DownloadChunkSize int `toml:"download_chunk_size"`

	// StartupTimeout is how long to wait for the plugin to become ready.
	// Default: 30 seconds. Not file-configurable.
	StartupTimeout time.Duration `toml:"-"`

	// StopTimeout is how long to wait for a graceful plugin stop before
	// killing the process. Default: 5 seconds. Not file-configurable.
	StopTimeout time.Duration `toml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PluginHost:        "localhost:11434",
		DownloadChunkSize: 1 << 20,
		StartupTimeout:    30 * time.Second,
		StopTimeout:       5 * time.Second,
	}
}

// LoadConfig reads a TOML config file and applies defaults for unset
// fields.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load local AI config: %w", err)
	}
	return cfg.WithDefaults(), nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir is required")
	}
	if c.DownloadChunkSize < 0 {
		return fmt.Errorf("download_chunk_size must be >= 0")
	}
	if c.StartupTimeout < 0 {
		return fmt.Errorf("startup_timeout must be >= 0")
	}
	return nil
}

// WithDefaults returns a copy of the config with defaults applied for
// unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.StorageDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.StorageDir = filepath.Join(home, ".chatkit", "models")
		}
	}
	if c.PluginHost == "" {
		c.PluginHost = defaults.PluginHost
	}
	if c.DownloadChunkSize == 0 {
		c.DownloadChunkSize = defaults.DownloadChunkSize
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = defaults.StartupTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = defaults.StopTimeout
	}

	return c
}

// manifestPath is the on-disk manifest location inside the storage dir.
func (c Config) manifestPath() string {
	return filepath.Join(c.StorageDir, "models.yaml")
}
