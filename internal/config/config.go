// Package config reads and writes the TOML configuration file.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level service configuration.
type Config struct {
	ListenAddr string         `toml:"listen_addr"`
	LogLevel   string         `toml:"log_level"`
	Database   DatabaseConfig `toml:"database"`
	Contacts   ContactsConfig `toml:"contacts"`
	Groups     GroupsConfig   `toml:"groups"`
	Moderators []string       `toml:"moderators"`
}

// DatabaseConfig selects the document-store backend. This uses a tagged
// union pattern: the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type"`           // "sqlite" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// ContactsConfig is the static known-contacts table: owner -> accessors the
// owner counts as known.
type ContactsConfig struct {
	Known map[string][]string `toml:"known"`
}

// GroupsConfig is the static group-editors table: group -> accessors with
// edit rights.
type GroupsConfig struct {
	Editors map[string][]string `toml:"editors"`
}

// Default returns the configuration a fresh deployment starts from.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		LogLevel:   "info",
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "ghostmem.db",
		},
		Contacts: ContactsConfig{Known: map[string][]string{}},
		Groups:   GroupsConfig{Editors: map[string][]string{}},
	}
}

// Read decodes a Config from the provided reader.
func Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes a fresh config file at path, refusing to overwrite one that
// already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()
	return Write(f, cfg)
}
