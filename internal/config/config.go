package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Remote sync service
	API APIConfig `json:"api" mapstructure:"api"`

	// Identity passed through to the remote
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	BrokerURL  string        `json:"broker_url,omitempty" mapstructure:"broker_url"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
}

// AuthConfig holds the opaque identity and secret pair.
type AuthConfig struct {
	UserID    string `json:"user_id" mapstructure:"user_id"`
	SecretKey string `json:"secret_key,omitempty" mapstructure:"secret_key"`
}

// StorageConfig for local paths.
type StorageConfig struct {
	VaultDir      string `json:"vault_dir" mapstructure:"vault_dir"`           // Root of the document tree
	StateDir      string `json:"state_dir" mapstructure:"state_dir"`           // Shadow persistence
	ShadowBackend string `json:"shadow_backend" mapstructure:"shadow_backend"` // memory, json, sqlite, bolt
	MaxFileSize   int64  `json:"max_file_size" mapstructure:"max_file_size"`   // Max document size in bytes
}

// ShareConfig maps a local folder to a remote namespace.
type ShareConfig struct {
	Folder string `json:"folder" mapstructure:"folder"`
	Root   string `json:"root" mapstructure:"root"`
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	Shares             []ShareConfig `json:"shares" mapstructure:"shares"`
	LockLease          time.Duration `json:"lock_lease" mapstructure:"lock_lease"`                     // Lock reclaim age
	MinSyncInterval    time.Duration `json:"min_sync_interval" mapstructure:"min_sync_interval"`       // Queue visibility delay
	EnqueueInterval    time.Duration `json:"enqueue_interval" mapstructure:"enqueue_interval"`         // Background enqueue pass
	DrainInterval      time.Duration `json:"drain_interval" mapstructure:"drain_interval"`             // Queue pop frequency
	ReconcileInterval  time.Duration `json:"reconcile_interval" mapstructure:"reconcile_interval"`     // Manifest pass
	ChecksumRetryDelay time.Duration `json:"checksum_retry_delay" mapstructure:"checksum_retry_delay"` // Requeue after divergence
	Jitter             float64       `json:"jitter" mapstructure:"jitter"`                             // Timer jitter factor
	Watch              bool          `json:"watch" mapstructure:"watch"`                               // Watch the vault directory
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stdout)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".diffsync"

	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:8080",
			Timeout:    30 * time.Second,
			MaxRetries: 0,
			UserAgent:  "diffsync/1.0",
		},
		Storage: StorageConfig{
			VaultDir:      ".",
			StateDir:      filepath.Join(dataDir, "state"),
			ShadowBackend: "json",
			MaxFileSize:   10 * 1024 * 1024, // 10MB
		},
		Sync: SyncConfig{
			LockLease:          5 * time.Second,
			MinSyncInterval:    2 * time.Second,
			EnqueueInterval:    10 * time.Second,
			DrainInterval:      500 * time.Millisecond,
			ReconcileInterval:  30 * time.Second,
			ChecksumRetryDelay: time.Second,
			Jitter:             0.1,
			Watch:              true,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}

	if c.Storage.MaxFileSize <= 0 {
		return errors.New("storage.max_file_size must be positive")
	}

	validBackends := map[string]bool{
		"memory": true, "json": true, "sqlite": true, "bolt": true,
	}
	if !validBackends[c.Storage.ShadowBackend] {
		return fmt.Errorf("invalid shadow backend: %s", c.Storage.ShadowBackend)
	}

	if c.Sync.LockLease <= 0 {
		return errors.New("sync.lock_lease must be positive")
	}

	if c.Sync.DrainInterval <= 0 || c.Sync.EnqueueInterval <= 0 || c.Sync.ReconcileInterval <= 0 {
		return errors.New("sync intervals must be positive")
	}

	if c.Sync.Jitter < 0 || c.Sync.Jitter >= 1 {
		return fmt.Errorf("sync.jitter must be in [0, 1): %v", c.Sync.Jitter)
	}

	seen := make(map[string]bool, len(c.Sync.Shares))
	for _, share := range c.Sync.Shares {
		folder := strings.Trim(share.Folder, "/")
		if folder == "" {
			return errors.New("share folder is required")
		}
		if share.Root == "" {
			return fmt.Errorf("share %s: root is required", folder)
		}
		if seen[folder] {
			return fmt.Errorf("duplicate share folder: %s", folder)
		}
		seen[folder] = true
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.VaultDir,
		c.Storage.StateDir,
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
