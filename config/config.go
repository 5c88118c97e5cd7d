// Package config loads the CLI's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maplestoria/redis-event/replica"
)

// Config holds the CLI configuration
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Target  TargetConfig  `yaml:"target"`
	Capture CaptureConfig `yaml:"capture"`
	Log     LogConfig     `yaml:"log"`

	path string
}

// SourceConfig describes the master to replicate from
type SourceConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	ReplID        string `yaml:"replId"`
	ReplOffset    *int64 `yaml:"replOffset"`
	DiscardRDB    bool   `yaml:"discardRdb"`
	AOF           *bool  `yaml:"aof"`
	ListeningPort int    `yaml:"listeningPort"`
	ReadTimeout   string `yaml:"readTimeout"`
	WriteTimeout  string `yaml:"writeTimeout"`
}

// TargetConfig describes the Redis the replicate subcommand writes to
type TargetConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	MaxOps   int    `yaml:"maxOps"`
}

// CaptureConfig describes optional stream capture
type CaptureConfig struct {
	Path  string `yaml:"path"`
	Codec string `yaml:"codec"`
}

// LogConfig describes the log sink
type LogConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// ValidationError collects configuration issues
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	builder := strings.Builder{}
	builder.WriteString("config validation failed:")
	if e.Path != "" {
		builder.WriteString(" ")
		builder.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		builder.WriteString("\n - ")
		builder.WriteString(err)
	}
	return builder.String()
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}

	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults populates default values
func (c *Config) ApplyDefaults() {
	if c.Source.ReplID == "" {
		c.Source.ReplID = "?"
	}
	if c.Source.ReplOffset == nil {
		offset := int64(-1)
		c.Source.ReplOffset = &offset
	}
	if c.Source.AOF == nil {
		aof := true
		c.Source.AOF = &aof
	}
	if c.Capture.Codec == "" {
		c.Capture.Codec = "zstd"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate ensures the config is usable
func (c *Config) Validate() error {
	var errs []string

	if c.Source.Addr == "" {
		errs = append(errs, "source.addr is required")
	}
	if c.Source.ReplOffset != nil && *c.Source.ReplOffset < -1 {
		errs = append(errs, "source.replOffset must be >= -1")
	}
	if c.Source.ListeningPort < 0 || c.Source.ListeningPort > 65535 {
		errs = append(errs, "source.listeningPort must be within 0-65535")
	}
	for _, field := range []struct{ name, value string }{
		{"source.readTimeout", c.Source.ReadTimeout},
		{"source.writeTimeout", c.Source.WriteTimeout},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s cannot be parsed: %v", field.name, err))
		}
	}
	switch c.Capture.Codec {
	case "raw", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Sprintf("capture.codec %q is not one of raw/lz4/zstd", c.Capture.Codec))
	}
	if c.Target.MaxOps < 0 {
		errs = append(errs, "target.maxOps cannot be negative")
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

// ReplicaConfig maps the source section onto the library config
func (c *Config) ReplicaConfig() replica.Config {
	cfg := replica.Config{
		Addr:          c.Source.Addr,
		Password:      c.Source.Password,
		ReplID:        c.Source.ReplID,
		ReplOffset:    *c.Source.ReplOffset,
		DiscardRDB:    c.Source.DiscardRDB,
		AOF:           *c.Source.AOF,
		ListeningPort: c.Source.ListeningPort,
	}
	if c.Source.ReadTimeout != "" {
		cfg.ReadTimeout, _ = time.ParseDuration(c.Source.ReadTimeout)
	}
	if c.Source.WriteTimeout != "" {
		cfg.WriteTimeout, _ = time.ParseDuration(c.Source.WriteTimeout)
	}
	return cfg
}

// Summary returns a concise overview
func (c *Config) Summary() string {
	return fmt.Sprintf("source=%s replId=%s offset=%d discardRdb=%t aof=%t, target=%s, capture=%s(%s), log=%s/%s",
		c.Source.Addr, c.Source.ReplID, *c.Source.ReplOffset, c.Source.DiscardRDB, *c.Source.AOF,
		c.Target.Addr, c.Capture.Path, c.Capture.Codec, c.Log.Dir, c.Log.Level)
}
