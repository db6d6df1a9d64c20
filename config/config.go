// Package config loads ncmdump settings from defaults, an optional YAML file
// and command line overrides, in that order.
package config

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

var (
	errInvalidLogLevel = errors.New("invalid log level")
	errInvalidWorkers  = errors.New("workers must be at least 1")
)

// DefaultNamingTemplate names outputs after the track.
const DefaultNamingTemplate = "{title} - {artist}"

// Config holds every setting of the dump command.
type Config struct {
	LogLevel string `koanf:"log_level"`
	// OutputDir is where files are written; empty means next to each input.
	OutputDir string `koanf:"output_dir"`
	// NamingTemplate accepts {title}, {artist} and {album}. Empty keeps the input name.
	NamingTemplate string `koanf:"naming_template"`
	EmbedTags      bool   `koanf:"embed_tags"`
	WriteCover     bool   `koanf:"write_cover"`
	FetchCover     bool   `koanf:"fetch_cover"`
	Overwrite      bool   `koanf:"overwrite"`
	// Workers is the number of containers processed at once.
	Workers int `koanf:"workers"`
	// DecodeWorkers splits a single payload across goroutines.
	DecodeWorkers int `koanf:"decode_workers"`
}

// Defaults returns the built-in settings.
func Defaults() map[string]any {
	return map[string]any{
		"log_level":       "info",
		"output_dir":      "",
		"naming_template": DefaultNamingTemplate,
		"embed_tags":      true,
		"write_cover":     false,
		"fetch_cover":     false,
		"overwrite":       false,
		"workers":         4,
		"decode_workers":  1,
	}
}

// Load merges defaults, the YAML file at path (skipped when empty) and
// overrides. Keys in overrides use the koanf tag names of Config.
func Load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("loading overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that cannot be expressed by types alone.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, c.LogLevel)
	}

	if c.Workers < 1 || c.DecodeWorkers < 1 {
		return fmt.Errorf("%w: workers=%d decode_workers=%d", errInvalidWorkers, c.Workers, c.DecodeWorkers)
	}

	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}

	return level
}
