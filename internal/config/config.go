// Package config reads and writes the global ~/.parley/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Backend names for the realtime store.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Config is the daemon configuration.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Backend        string `toml:"backend"`

	Mongo MongoConfig `toml:"mongo"`
	S3    S3Config    `toml:"s3"`
}

// MongoConfig configures the mongo backend.
type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// S3Config configures the media blob store.
type S3Config struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Default returns the configuration used when no config file exists: the
// in-memory backend, which needs no external services.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		Backend:        BackendMemory,
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "parley",
		},
		S3: S3Config{
			Endpoint: "localhost:9000",
			Bucket:   "parley-media",
		},
	}
}

// Load reads config from the given path. Returns an error if the file is
// missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backend names early, before anything dials out.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendMongo, "":
		return nil
	}
	return fmt.Errorf("unknown backend %q", c.Backend)
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
