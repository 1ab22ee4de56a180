// ABOUTME: Backend connection settings for mirmod, loaded from JSON, YAML or TOML
// ABOUTME: Layers file settings under proxy token credentials and explicit overrides

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigJSON holds an inline configuration document that takes
// precedence over every file.
const EnvConfigJSON = "MIRANDA_CONFIG_JSON"

// SystemPath is the system-wide configuration file.
const SystemPath = "/etc/miranda/config.json"

// ErrNotFound is returned by LoadDefault when no source exists.
var ErrNotFound = errors.New("config.json not found")

// ErrInvalidProxyToken is returned by FromToken for strings not shaped pxy.<user>.<password>.
var ErrInvalidProxyToken = errors.New("invalid proxy token")

// Config holds the backend connection settings.
type Config struct {
	Host     string        `json:"host" yaml:"host" toml:"host"`
	Port     string        `json:"port" yaml:"port" toml:"port"`
	User     string        `json:"user" yaml:"user" toml:"user"`
	Password string        `json:"password" yaml:"password" toml:"password"`
	Database string        `json:"database" yaml:"database" toml:"database"`
	Logging  LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// UnmarshalJSON accepts the port as either a JSON string or a number.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		Port json.RawMessage `json:"port"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	port, err := decodePort(aux.Port)
	if err != nil {
		return err
	}
	c.Port = port
	return nil
}

func decodePort(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch p := v.(type) {
	case nil:
		return "", nil
	case string:
		return p, nil
	case json.Number:
		return p.String(), nil
	default:
		return "", fmt.Errorf("port must be a string or a number")
	}
}

// Load reads a configuration file. Files ending in .toml are parsed as
// TOML and .yaml/.yml as YAML, both after ${VAR_NAME} expansion. Anything
// else is a JSON document, decoded as written.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return parseTOML(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return Parse(data)
	}
}

// Parse decodes a JSON document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return validated(&cfg)
}

// ParseYAML decodes a YAML document after expanding ${VAR_NAME} references.
func ParseYAML(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return validated(&cfg)
}

func parseTOML(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return validated(&cfg)
}

func validated(cfg *Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// DefaultPaths lists the configuration files LoadDefault tries, in order.
func DefaultPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "config.json"))
	}
	return append(paths, SystemPath)
}

// LoadDefault loads the first configuration found in MIRANDA_CONFIG_JSON,
// ~/config.json or /etc/miranda/config.json.
func LoadDefault() (*Config, error) {
	return loadFirst(os.Getenv(EnvConfigJSON), DefaultPaths())
}

func loadFirst(inline string, paths []string) (*Config, error) {
	logger := slog.Default().With("component", "config")

	if inline != "" {
		logger.Debug("loading config from environment", "var", EnvConfigJSON)
		cfg, err := Parse([]byte(inline))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvConfigJSON, err)
		}
		return cfg, nil
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		logger.Debug("loading config", "path", path)
		return Load(path)
	}

	logger.Debug("no config found", "paths", paths)
	return nil, ErrNotFound
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(re.FindStringSubmatch(match)[1])
	})
}

// Validate checks that the fields needed to reach the backend are present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port %q is not a valid TCP port", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	return nil
}

// Overrides is a partial configuration. Nil fields leave the value
// underneath unchanged.
type Overrides struct {
	Host     *string
	Port     *string
	User     *string
	Password *string
	Database *string
}

// FromUser returns overrides carrying only a credential pair.
func FromUser(user, password string) Overrides {
	return Overrides{User: &user, Password: &password}
}

// FromToken derives proxy account credentials from a "pxy.<user>.<password>"
// string. The principal keeps the pxy. prefix.
func FromToken(token string) (Overrides, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Overrides{}, ErrInvalidProxyToken
	}
	return FromUser("pxy."+parts[1], parts[2]), nil
}

// Merge returns o with every field set in other replacing its own.
func (o Overrides) Merge(other Overrides) Overrides {
	merged := o
	if other.Host != nil {
		merged.Host = other.Host
	}
	if other.Port != nil {
		merged.Port = other.Port
	}
	if other.User != nil {
		merged.User = other.User
	}
	if other.Password != nil {
		merged.Password = other.Password
	}
	if other.Database != nil {
		merged.Database = other.Database
	}
	return merged
}

// Merge applies layers in order on top of c and returns the result.
// c itself is not modified.
func (c Config) Merge(layers ...Overrides) Config {
	merged := c
	for _, l := range layers {
		if l.Host != nil {
			merged.Host = *l.Host
		}
		if l.Port != nil {
			merged.Port = *l.Port
		}
		if l.User != nil {
			merged.User = *l.User
		}
		if l.Password != nil {
			merged.Password = *l.Password
		}
		if l.Database != nil {
			merged.Database = *l.Database
		}
	}
	return merged
}
