package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/tailscale/hujson"
)

const (
	configDirName  = ".jaterm"
	configFileName = "config.json"
)

// ConfigManager handles reading and writing the jaterm configuration.
type ConfigManager struct {
	configDir string
	mu        sync.RWMutex
}

// NewConfigManager creates a ConfigManager using the default config path (~/.jaterm/).
func NewConfigManager() (*ConfigManager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return &ConfigManager{
		configDir: filepath.Join(home, configDirName),
	}, nil
}

// NewConfigManagerWithDir creates a ConfigManager using a custom config directory.
// Useful for testing.
func NewConfigManagerWithDir(dir string) *ConfigManager {
	return &ConfigManager{configDir: dir}
}

// ConfigDir returns the configuration directory path.
func (cm *ConfigManager) ConfigDir() string {
	return cm.configDir
}

// ConfigPath returns the full path to the config file.
func (cm *ConfigManager) ConfigPath() string {
	return filepath.Join(cm.configDir, configFileName)
}

func (cm *ConfigManager) lockPath() string {
	return cm.ConfigPath() + ".lock"
}

// Load reads the config from disk. Returns default config if file doesn't exist.
// Comments and trailing commas are accepted.
func (cm *ConfigManager) Load() (*Config, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.load()
}

func (cm *ConfigManager) load() (*Config, error) {
	data, err := os.ReadFile(cm.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg := defaultConfig()
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Hosts == nil {
		cfg.Hosts = []Host{}
	}
	return cfg, nil
}

// Save writes the config to disk, creating the directory if needed.
func (cm *ConfigManager) Save(cfg *Config) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	unlock, err := cm.lockFile()
	if err != nil {
		return err
	}
	defer unlock()
	return cm.save(cfg)
}

// Update loads the config, applies fn and saves the result while holding the
// config lock, so concurrent jaterm processes cannot lose each other's edits.
// Nothing is written when fn returns an error.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	unlock, err := cm.lockFile()
	if err != nil {
		return err
	}
	defer unlock()

	cfg, err := cm.load()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return cm.save(cfg)
}

func (cm *ConfigManager) lockFile() (func(), error) {
	if err := os.MkdirAll(cm.configDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	fl := flock.New(cm.lockPath())
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("locking config: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (cm *ConfigManager) save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// Write atomically: write to temp file then rename
	tmpPath := cm.ConfigPath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmpPath, cm.ConfigPath()); err != nil {
		_ = os.Remove(tmpPath) // clean up on failure
		return fmt.Errorf("saving config: %w", err)
	}

	return nil
}

func defaultConfig() *Config {
	return &Config{
		Hosts:    []Host{},
		Settings: Settings{},
	}
}
