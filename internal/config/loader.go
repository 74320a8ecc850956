package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreDir    = "dir"
	StoreSQLite = "sqlite"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr                 = ":8080"
	DefaultSQLitePath           = "~/.livehub/modules.db"
	DefaultSendQueue            = 1024
	DefaultWriteTimeout         = 10 * time.Second
	DefaultBootstrapParallelism = 4
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "console"
)

// Duration is a time.Duration that reads and writes as "10s" in every
// supported format.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Backing store: memory, dir or sqlite. Defaults to dir when ModulesDir
	// is set, memory otherwise.
	Store      string `json:"store" yaml:"store" toml:"store"`
	ModulesDir string `json:"modules_dir" yaml:"modules_dir" toml:"modules_dir"`
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path" toml:"sqlite_path"`

	AmbientModules     []string `json:"ambient_modules" yaml:"ambient_modules" toml:"ambient_modules"`
	LenientPatterns    []string `json:"lenient_patterns" yaml:"lenient_patterns" toml:"lenient_patterns"`
	Target             string   `json:"target" yaml:"target" toml:"target"`
	PreserveWhitespace bool     `json:"preserve_whitespace" yaml:"preserve_whitespace" toml:"preserve_whitespace"`

	SendQueue            int      `json:"send_queue" yaml:"send_queue" toml:"send_queue"`
	WriteTimeout         Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	BootstrapParallelism int      `json:"bootstrap_parallelism" yaml:"bootstrap_parallelism" toml:"bootstrap_parallelism"`
	ModuleTTL            Duration `json:"module_ttl" yaml:"module_ttl" toml:"module_ttl"`
	SweepInterval        Duration `json:"sweep_interval" yaml:"sweep_interval" toml:"sweep_interval"`

	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	CORSEnabled    bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes   int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Store == "" {
		c.Store = StoreMemory
		if c.ModulesDir != "" {
			c.Store = StoreDir
		}
	}
	if c.Store == StoreSQLite && c.SQLitePath == "" {
		c.SQLitePath = DefaultSQLitePath
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.BootstrapParallelism <= 0 {
		c.BootstrapParallelism = DefaultBootstrapParallelism
	}
	if c.SweepInterval <= 0 && c.ModuleTTL > 0 {
		c.SweepInterval = Duration(max(time.Duration(c.ModuleTTL)/4, time.Second))
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StoreDir:
		if c.ModulesDir == "" {
			return fmt.Errorf("store %q requires modules_dir", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q (want memory, dir or sqlite)", c.Store)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want console or json)", c.LogFormat)
	}
	if c.ModuleTTL < 0 {
		return fmt.Errorf("module_ttl must not be negative")
	}
	return nil
}
