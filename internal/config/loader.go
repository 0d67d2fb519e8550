package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration with the default config file path.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (FIXD_SERVER_PORT, FIXD_ORACLE_API_KEY, ...)
//  2. YAML config file (default ~/.config/fixd/config.yaml)
//  3. Built-in defaults
//
// The config file, when present, must be a regular file no larger than 1MB
// with 0600 permissions; tokens live in it, so world-readable files are
// rejected.
//
// Environment variables are prefixed with FIXD_ and map section_field to
// section.field on the first underscore: FIXD_SERVER_PORT -> server.port,
// FIXD_ENGINE_MAX_RETRIES -> engine.max_retries.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "fixd", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate through the descriptor to avoid a TOCTOU
		// race between the permission check and the read.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFile(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("FIXD_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envTransform maps FIXD_SECTION_FIELD_NAME to section.field_name. The split
// happens on the first underscore only, so compound field names keep their
// underscores.
func envTransform(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, "FIXD_"))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

func validateConfigFile(info os.FileInfo) error {
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("insecure permissions %04o: config may contain tokens, use 0600", perm)
	}
	return nil
}
