package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RowanDark/autodecode/internal/env"
)

// DefaultMaxInputBytes caps request payloads accepted by the daemon.
const DefaultMaxInputBytes = 8 << 20

// Config captures the autodecode configuration resolved from defaults,
// optional files, and environment overrides.
type Config struct {
	GRPCAddr      string       `yaml:"grpc_addr"`
	HTTPAddr      string       `yaml:"http_addr"`
	AuthToken     string       `yaml:"auth_token"`
	MaxInputBytes int64        `yaml:"max_input_bytes"`
	AuditLog      string       `yaml:"audit_log"`
	AuditStdout   bool         `yaml:"audit_stdout"`
	Update        UpdateConfig `yaml:"update"`
}

// UpdateConfig controls where self-update manifests come from.
type UpdateConfig struct {
	BaseURL   string `yaml:"base_url"`
	Channel   string `yaml:"channel"`
	PublicKey string `yaml:"public_key"`
}

// Default returns the built-in configuration. An empty AuthToken disables
// authentication.
func Default() Config {
	return Config{
		GRPCAddr:      "127.0.0.1:50061",
		HTTPAddr:      "127.0.0.1:8787",
		MaxInputBytes: DefaultMaxInputBytes,
		AuditStdout:   true,
		Update: UpdateConfig{
			Channel: "stable",
		},
	}
}

// Load resolves the configuration using defaults, configuration files, and
// environment overrides. Files are applied in order:
//  1. ~/.autodecode/config.yml
//  2. ./autodecode.yml
//
// AUTODECODE_ environment variables have the highest precedence.
func Load() (Config, error) {
	return LoadWithFile("")
}

// LoadWithFile is Load with an extra file applied after ./autodecode.yml and
// before the environment. Unlike the default locations, an explicit path that
// does not exist is an error.
func LoadWithFile(path string) (Config, error) {
	cfg := Default()

	if err := loadHomeConfig(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadLocalConfig(&cfg); err != nil {
		return Config{}, err
	}
	if path = strings.TrimSpace(path); path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the hosts cannot run with.
func (c Config) Validate() error {
	if c.MaxInputBytes <= 0 {
		return fmt.Errorf("max_input_bytes must be positive, got %d", c.MaxInputBytes)
	}
	switch c.Update.Channel {
	case "stable", "beta":
	default:
		return fmt.Errorf("unknown update channel %q", c.Update.Channel)
	}
	return nil
}

func loadHomeConfig(cfg *Config) error {
	home, err := os.UserHomeDir()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("determine home directory: %w", err)
	}
	return loadFile(cfg, filepath.Join(home, ".autodecode", "config.yml"))
}

func loadLocalConfig(cfg *Config) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("determine working directory: %w", err)
	}
	return loadFile(cfg, filepath.Join(wd, "autodecode.yml"))
}

// LoadFile overlays the YAML file at path onto cfg. A missing file is not an
// error.
func LoadFile(cfg *Config, path string) error {
	return loadFile(cfg, path)
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := applyFileConfig(cfg, data); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// fileConfig mirrors Config with pointers so absent keys keep their current
// value.
type fileConfig struct {
	GRPCAddr      *string           `yaml:"grpc_addr"`
	HTTPAddr      *string           `yaml:"http_addr"`
	AuthToken     *string           `yaml:"auth_token"`
	MaxInputBytes *int64            `yaml:"max_input_bytes"`
	AuditLog      *string           `yaml:"audit_log"`
	AuditStdout   *bool             `yaml:"audit_stdout"`
	Update        *fileUpdateConfig `yaml:"update"`
}

type fileUpdateConfig struct {
	BaseURL   *string `yaml:"base_url"`
	Channel   *string `yaml:"channel"`
	PublicKey *string `yaml:"public_key"`
}

func applyFileConfig(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	setString(&cfg.GRPCAddr, fc.GRPCAddr)
	setString(&cfg.HTTPAddr, fc.HTTPAddr)
	setString(&cfg.AuthToken, fc.AuthToken)
	setString(&cfg.AuditLog, fc.AuditLog)
	if fc.MaxInputBytes != nil {
		cfg.MaxInputBytes = *fc.MaxInputBytes
	}
	if fc.AuditStdout != nil {
		cfg.AuditStdout = *fc.AuditStdout
	}
	if fc.Update != nil {
		setString(&cfg.Update.BaseURL, fc.Update.BaseURL)
		setString(&cfg.Update.PublicKey, fc.Update.PublicKey)
		if fc.Update.Channel != nil {
			cfg.Update.Channel = strings.ToLower(strings.TrimSpace(*fc.Update.Channel))
		}
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func applyEnvOverrides(cfg *Config) error {
	if val := env.Get("GRPC_ADDR"); val != "" {
		cfg.GRPCAddr = val
	}
	if val := env.Get("HTTP_ADDR"); val != "" {
		cfg.HTTPAddr = val
	}
	if val := env.Get("AUTH_TOKEN"); val != "" {
		cfg.AuthToken = val
	}
	if val := env.Get("MAX_INPUT_BYTES"); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %sMAX_INPUT_BYTES: %w", env.Prefix, err)
		}
		cfg.MaxInputBytes = parsed
	}
	if val := env.Get("AUDIT_LOG"); val != "" {
		cfg.AuditLog = val
	}
	if val := env.Get("AUDIT_STDOUT"); val != "" {
		parsed, err := parseBool(val)
		if err != nil {
			return fmt.Errorf("parse %sAUDIT_STDOUT: %w", env.Prefix, err)
		}
		cfg.AuditStdout = parsed
	}
	if val := env.Get("UPDATE_URL"); val != "" {
		cfg.Update.BaseURL = val
	}
	if val := env.Get("UPDATE_CHANNEL"); val != "" {
		cfg.Update.Channel = strings.ToLower(val)
	}
	if val := env.Get("UPDATE_PUBLIC_KEY"); val != "" {
		cfg.Update.PublicKey = val
	}
	return nil
}

func parseBool(val string) (bool, error) {
	v := strings.TrimSpace(strings.ToLower(val))
	switch v {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean: %s", val)
	}
}
