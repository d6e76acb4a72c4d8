package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel defines the minimum severity for log output.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server  *ServerConfig  `json:"server,omitempty" toml:"server,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty" toml:"logging,omitempty"`
}

// ServerConfig holds general server settings.
//
// Duration fields are configured as strings (e.g. "30s", "250ms") and parsed
// during validation into the corresponding Duration fields.
type ServerConfig struct {
	Address         *string `json:"address,omitempty" toml:"address,omitempty"`
	QuiesceTimeout  *string `json:"quiesce_timeout,omitempty" toml:"quiesce_timeout,omitempty"`     // e.g. "30s"; absent or empty = wait indefinitely for in-flight work
	IdleReadTimeout *string `json:"idle_read_timeout,omitempty" toml:"idle_read_timeout,omitempty"` // e.g. "75s"; absent or empty = no idle timeout

	// Populated by Validate from the string fields above.
	QuiesceTimeoutDuration  time.Duration `json:"-" toml:"-"`
	IdleReadTimeoutDuration time.Duration `json:"-" toml:"-"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	LogLevel LogLevel `json:"log_level,omitempty" toml:"log_level,omitempty"`
	Target   string   `json:"target,omitempty" toml:"target,omitempty"` // "stdout", "stderr", or an absolute file path
}

// IsFilePath reports whether a log target refers to a file rather than a
// standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr" && target != ""
}

// Load reads, parses and validates a configuration file. The format is
// selected by file extension: ".toml" is parsed as TOML, ".json" as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q (expected .toml or .json)", ext)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills in unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Address == nil {
		addr := "127.0.0.1:8080"
		c.Server.Address = &addr
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.LogLevel == "" {
		c.Logging.LogLevel = LogLevelInfo
	}
	if c.Logging.Target == "" {
		c.Logging.Target = "stderr"
	}
}

// Validate checks the configuration for consistency and parses duration
// strings. It is called by Load but is also safe to call on hand-built
// configurations (tests, embedding).
func (c *Config) Validate() error {
	if c.Server == nil {
		return fmt.Errorf("server configuration section is missing")
	}
	if c.Server.Address == nil || *c.Server.Address == "" {
		return fmt.Errorf("server listen address (server.address) is not configured")
	}

	var err error
	c.Server.QuiesceTimeoutDuration, err = parseOptionalDuration(c.Server.QuiesceTimeout, "server.quiesce_timeout")
	if err != nil {
		return err
	}
	c.Server.IdleReadTimeoutDuration, err = parseOptionalDuration(c.Server.IdleReadTimeout, "server.idle_read_timeout")
	if err != nil {
		return err
	}

	if c.Logging != nil {
		switch c.Logging.LogLevel {
		case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		default:
			return fmt.Errorf("invalid log level %q", c.Logging.LogLevel)
		}
	}
	return nil
}

func parseOptionalDuration(s *string, field string) (time.Duration, error) {
	if s == nil || *s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration for %s must not be negative", field)
	}
	return d, nil
}
