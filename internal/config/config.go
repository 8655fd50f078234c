// Package config loads spooltag's runtime configuration: an optional YAML file
// followed by environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 32146
)

// Environment variables that override the file.
const (
	EnvHost      = "SPOOLTAG_HOST"
	EnvPort      = "SPOOLTAG_PORT"
	EnvLibrary   = "SPOOLTAG_LIBRARY"
	EnvBackupDir = "SPOOLTAG_BACKUP_DIR"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Library LibraryConfig `yaml:"library"`
	Backup  BackupConfig  `yaml:"backup"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LibraryConfig struct {
	Dir          string `yaml:"dir"`
	CreateParsed bool   `yaml:"create_parsed"`
}

type BackupConfig struct {
	Dir     string `yaml:"dir"`
	Enabled *bool  `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: DefaultHost, Port: DefaultPort},
	}
}

// Load reads the YAML file at path, when path is non-empty, and applies the
// environment overrides. Relative paths in the file are resolved against the
// file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
		cfg.resolvePaths(path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile exports the KEY=VALUE pairs of a dotenv file into the process
// environment. Variables that are already set keep their value.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if host := strings.TrimSpace(os.Getenv(EnvHost)); host != "" {
		c.Server.Host = host
	}
	if port := strings.TrimSpace(os.Getenv(EnvPort)); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%s must be a number: %w", EnvPort, err)
		}
		c.Server.Port = p
	}
	if dir := strings.TrimSpace(os.Getenv(EnvLibrary)); dir != "" {
		c.Library.Dir = dir
	}
	if dir := strings.TrimSpace(os.Getenv(EnvBackupDir)); dir != "" {
		c.Backup.Dir = dir
	}
	return nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Host) == "" {
		return fmt.Errorf("config.server.host is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config.server.port must be 1..65535, got %d", c.Server.Port)
	}
	if c.Library.Dir != "" {
		if err := validateDir(c.Library.Dir, "config.library.dir"); err != nil {
			return err
		}
	}
	return nil
}

// Address returns the listen address for the local service.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// BackupsEnabled reports whether repair snapshots are written. Defaults to true.
func (c *Config) BackupsEnabled() bool {
	return c.Backup.Enabled == nil || *c.Backup.Enabled
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Library.Dir = resolvePath(configDir, c.Library.Dir)
	c.Backup.Dir = resolvePath(configDir, c.Backup.Dir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateDir(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s must point to a directory", field)
	}
	return nil
}
