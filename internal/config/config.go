// ABOUTME: Configuration loading and parsing for the coven-groups client
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNotConfigured is returned when an operation needs an endpoint that the
// configuration does not provide.
var ErrNotConfigured = errors.New("endpoint not configured")

// Defaults applied when a field is left empty
const (
	DefaultPingInterval     = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultSendQueueSize    = 64
	DefaultReadLimit        = 1 << 20
)

// Config represents the complete client configuration
type Config struct {
	Service    ServiceConfig    `yaml:"service" toml:"service"`
	Connection ConnectionConfig `yaml:"connection" toml:"connection"`
	HTTP       HTTPConfig       `yaml:"http" toml:"http"`
	Storage    StorageConfig    `yaml:"storage" toml:"storage"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// ServiceConfig holds the chat service endpoints and API key
type ServiceConfig struct {
	WebSocketURL   string `yaml:"websocket_url" toml:"websocket_url"`
	LoginURL       string `yaml:"login_url" toml:"login_url"`
	VerifyURL      string `yaml:"verify_url" toml:"verify_url"`
	RegisterURL    string `yaml:"register_url" toml:"register_url"`
	GroupsURL      string `yaml:"groups_url" toml:"groups_url"`
	CreateGroupURL string `yaml:"create_group_url" toml:"create_group_url"`
	MessagesURL    string `yaml:"messages_url" toml:"messages_url"`
	InviteURL      string `yaml:"invite_url" toml:"invite_url"`
	APIKey         string `yaml:"api_key" toml:"api_key"`
}

// ConnectionConfig holds WebSocket timing and sizing
type ConnectionConfig struct {
	PingInterval     time.Duration `yaml:"-" toml:"-"`
	WriteTimeout     time.Duration `yaml:"-" toml:"-"`
	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`

	SendQueueSize int   `yaml:"send_queue_size" toml:"send_queue_size"`
	ReadLimit     int64 `yaml:"read_limit" toml:"read_limit"`

	// Raw string values for unmarshaling
	PingIntervalRaw     string `yaml:"ping_interval" toml:"ping_interval"`
	WriteTimeoutRaw     string `yaml:"write_timeout" toml:"write_timeout"`
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
}

// HTTPConfig holds settings for the REST collaborators
type HTTPConfig struct {
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// StorageConfig holds the local state database location
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Service.WebSocketURL == "" {
		return fmt.Errorf("service.websocket_url is required")
	}
	if err := checkURL("service.websocket_url", c.Service.WebSocketURL, "ws", "wss"); err != nil {
		return err
	}

	httpEndpoints := []struct {
		name  string
		value string
	}{
		{"service.login_url", c.Service.LoginURL},
		{"service.verify_url", c.Service.VerifyURL},
		{"service.register_url", c.Service.RegisterURL},
		{"service.groups_url", c.Service.GroupsURL},
		{"service.create_group_url", c.Service.CreateGroupURL},
		{"service.messages_url", c.Service.MessagesURL},
		{"service.invite_url", c.Service.InviteURL},
	}
	for _, ep := range httpEndpoints {
		if ep.value == "" {
			continue
		}
		if err := checkURL(ep.name, ep.value, "http", "https"); err != nil {
			return err
		}
	}

	if c.Service.MessagesURL == "" {
		return fmt.Errorf("service.messages_url is required")
	}

	if c.Connection.SendQueueSize < 0 {
		return fmt.Errorf("connection.send_queue_size must not be negative")
	}
	if c.Connection.ReadLimit < 0 {
		return fmt.Errorf("connection.read_limit must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func checkURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use %s scheme", name, strings.Join(schemes, " or "))
}

func (c *Config) applyDefaults() {
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.HandshakeTimeout == 0 {
		c.Connection.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connection.SendQueueSize == 0 {
		c.Connection.SendQueueSize = DefaultSendQueueSize
	}
	if c.Connection.ReadLimit == 0 {
		c.Connection.ReadLimit = DefaultReadLimit
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = DefaultHTTPTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"ping_interval", cfg.Connection.PingIntervalRaw, &cfg.Connection.PingInterval},
		{"write_timeout", cfg.Connection.WriteTimeoutRaw, &cfg.Connection.WriteTimeout},
		{"handshake_timeout", cfg.Connection.HandshakeTimeoutRaw, &cfg.Connection.HandshakeTimeout},
		{"timeout", cfg.HTTP.TimeoutRaw, &cfg.HTTP.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
