package config

import (
	"bytes"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-embed/engine"
	"github.com/wippyai/wasm-embed/errors"
	"github.com/wippyai/wasm-embed/wasi"
)

// Config is the file form of a runtime setup, as read by the CLI.
type Config struct {
	Engine  Engine  `yaml:"engine"`
	WASI    WASI    `yaml:"wasi"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`

	// World is a WIT file describing the guest's exports.
	World string `yaml:"world"`
}

// Engine mirrors engine.Config. Unset flags keep engine defaults.
type Engine struct {
	ComponentModel   *bool  `yaml:"component_model"`
	Async            *bool  `yaml:"async"`
	CacheDir         string `yaml:"cache_dir"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	Threads          bool   `yaml:"threads"`
}

// WASI mirrors wasi.Config plus a switch for installing it at all.
type WASI struct {
	Enabled      *bool             `yaml:"enabled"`
	Env          map[string]string `yaml:"env"`
	Preopens     map[string]string `yaml:"preopens"`
	Args         []string          `yaml:"args"`
	InheritStdio bool              `yaml:"inherit_stdio"`
}

// Log selects the zap logger.
type Log struct {
	Level       string `yaml:"level"`
	Encoding    string `yaml:"encoding"`
	Development bool   `yaml:"development"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log:     Log{Level: "info", Encoding: "console"},
		Metrics: Metrics{Path: "/metrics"},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ParseFailed("config "+path, err)
	}
	defer f.Close()
	return Read(f)
}

// Parse reads YAML bytes over the defaults.
func Parse(data []byte) (*Config, error) {
	return Read(bytes.NewReader(data))
}

// Read decodes YAML from r over the defaults. Unknown keys are rejected.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.ParseFailed("config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that YAML decoding cannot.
func (c *Config) Validate() error {
	if c.Engine.MemoryLimitPages > engine.MaxMemoryPages {
		return errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Path("engine", "memory_limit_pages").
			Detail("%d exceeds %d pages", c.Engine.MemoryLimitPages, engine.MaxMemoryPages).
			Build()
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Path("log", "level").
			Cause(err).
			Build()
	}
	switch c.Log.Encoding {
	case "", "console", "json":
	default:
		return errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Path("log", "encoding").
			Detail("unknown encoding %q", c.Log.Encoding).
			Build()
	}
	return nil
}

// EngineConfig converts the engine section.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	if c.Engine.ComponentModel != nil {
		cfg.ComponentModel = *c.Engine.ComponentModel
	}
	if c.Engine.Async != nil {
		cfg.Async = *c.Engine.Async
	}
	cfg.CacheDir = c.Engine.CacheDir
	cfg.MemoryLimitPages = c.Engine.MemoryLimitPages
	cfg.Threads = c.Engine.Threads
	return cfg
}

// WASIEnabled reports whether WASI should be installed. Defaults to true.
func (c *Config) WASIEnabled() bool {
	return c.WASI.Enabled == nil || *c.WASI.Enabled
}

// WASIConfig converts the wasi section.
func (c *Config) WASIConfig() wasi.Config {
	return wasi.Config{
		Args:         c.WASI.Args,
		Env:          c.WASI.Env,
		Preopens:     c.WASI.Preopens,
		InheritStdio: c.WASI.InheritStdio,
	}
}

// Logger builds the zap logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, errors.ParseFailed("log level", err)
	}

	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	if c.Log.Encoding != "" {
		zc.Encoding = c.Log.Encoding
	}
	return zc.Build()
}
