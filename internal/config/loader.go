package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envKeys are the settings that can be overridden from the environment.
var envKeys = []string{
	"api.base_url",
	"api.broker_url",
	"api.timeout",
	"api.max_retries",
	"auth.user_id",
	"auth.secret_key",
	"storage.vault_dir",
	"storage.state_dir",
	"storage.shadow_backend",
	"sync.lock_lease",
	"sync.min_sync_interval",
	"sync.enqueue_interval",
	"sync.drain_interval",
	"sync.reconcile_interval",
	"sync.watch",
	"log.level",
	"log.format",
	"log.file",
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "DIFFSYNC",
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		v.SetConfigName("diffsync")
		for _, dir := range l.defaultDirs() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("load config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return cfg, nil
}

// ErrInvalid wraps validation failures from Load.
var ErrInvalid = errors.New("invalid config")

// defaultDirs returns default config directories.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "diffsync"),
			filepath.Join(homeDir, ".diffsync"),
		)
	}

	return dirs
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()
	cfg.Auth.UserID = "user-id"
	cfg.Sync.Shares = []ShareConfig{{Folder: "Shared", Root: "root-id"}}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
