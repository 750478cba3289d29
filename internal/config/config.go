// Package config loads the database configuration consumed by the store.
//
// A configuration names the database file (or the in-memory marker), the
// schema version, and three statement lists:
//   - Pragmas run every time a connection is opened
//   - Create runs once, when the database is first created
//   - Upgrade runs when the stored version is older than Version; when it is
//     empty every registered table is dropped and recreated instead
//
// Files are YAML (.yaml, .yml) or CUE (.cue). CUE files are checked against an
// embedded #Config schema before decoding.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported database/sql driver names.
const (
	// DriverCGo is github.com/mattn/go-sqlite3.
	DriverCGo = "sqlite3"
	// DriverPureGo is modernc.org/sqlite.
	DriverPureGo = "sqlite"
)

// MemoryDatabase is the in-memory database marker.
const MemoryDatabase = ":memory:"

// DefaultAuthority is used in resource identifiers when none is configured.
const DefaultAuthority = "livesql"

// ValidDrivers lists the accepted Driver values.
var ValidDrivers = []string{DriverCGo, DriverPureGo}

// DefaultPragmas mirrors the connection setup of a single-writer SQLite store:
// WAL for concurrent reads, NORMAL sync, a 5s busy timeout and foreign keys.
var DefaultPragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Config is the configuration surface of a database.
type Config struct {
	Driver        string   `yaml:"driver" json:"driver,omitempty"`
	Database      string   `yaml:"database" json:"database,omitempty"`
	Version       int      `yaml:"version" json:"version,omitempty"`
	Authority     string   `yaml:"authority" json:"authority,omitempty"`
	NormalizeText bool     `yaml:"normalize_text,omitempty" json:"normalize_text,omitempty"`
	Pragmas       []string `yaml:"pragmas" json:"pragmas,omitempty"`
	Create        []string `yaml:"create,omitempty" json:"create,omitempty"`
	Upgrade       []string `yaml:"upgrade,omitempty" json:"upgrade,omitempty"`
}

// Default returns an in-memory configuration at version 1.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file, choosing the decoder by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	case ".cue":
		cfg, err = ParseCUE(path, data)
	default:
		return nil, fmt.Errorf("read config: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseYAML decodes, defaults and validates a YAML configuration.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyDefaults fills in missing values. A nil Pragmas list gets the
// defaults; an explicit empty list is kept.
func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverCGo
	}
	if c.Database == "" {
		c.Database = MemoryDatabase
	}
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Authority == "" {
		c.Authority = DefaultAuthority
	}
	if c.Pragmas == nil {
		c.Pragmas = slices.Clone(DefaultPragmas)
	}
}

// Validate checks the configuration for values the store cannot use.
func (c *Config) Validate() error {
	if !slices.Contains(ValidDrivers, c.Driver) {
		return fmt.Errorf("invalid driver %q: must be one of %v", c.Driver, ValidDrivers)
	}
	if c.Version < 1 {
		return fmt.Errorf("invalid version %d: must be >= 1", c.Version)
	}
	if c.Authority == "" {
		return fmt.Errorf("authority must not be empty")
	}
	return nil
}

// InMemory reports whether the database lives only in memory.
func (c *Config) InMemory() bool {
	return c.Database == "" || c.Database == MemoryDatabase
}

// DSN returns the data source name passed to sql.Open.
//
// The cgo driver opens write transactions with BEGIN IMMEDIATE so a
// transaction never has to upgrade its lock halfway through.
func (c *Config) DSN() string {
	name := c.Database
	if c.InMemory() {
		name = MemoryDatabase
	}
	if c.Driver == DriverCGo {
		return name + "?_txlock=immediate"
	}
	return name
}
