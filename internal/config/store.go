package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"os"
	"path/filepath"
	"sync"
)

const FileName = "xiaozhi_config.json"

// DefaultPath is <user config dir>/xiaozhi/xiaozhi_config.json.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "xiaozhi", FileName)
}

// Store persists a single DeviceConfig as JSON.
type Store struct {
	mu   sync.Mutex
	path string
}

func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load never fails: a missing or unreadable record yields Default().
func (s *Store) Load() DeviceConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Failed to read config, using defaults", "path", s.path, "err", err)
		}
		return Default()
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		log.Warn("Corrupt config, using defaults", "path", s.path, "err", err)
		return Default()
	}
	return cfg
}

// Save rejects incomplete records and leaves the stored one untouched.
func (s *Store) Save(cfg DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), FileName+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	log.Debug("Config saved", "path", s.path)
	return nil
}
