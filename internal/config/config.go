// ABOUTME: Configuration loading and parsing for wa-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by the loader.
const (
	EnvConfigPath = "WA_GATEWAY_CONFIG"
	EnvAPIKey     = "WA_GATEWAY_API_KEY"
	EnvDBPath     = "WA_GATEWAY_DB_PATH"
)

// Defaults applied after validation.
const (
	DefaultClientID        = "whatsapp-crm"
	DefaultConnectWait     = 2 * time.Second
	DefaultWebhookTimeout  = 10 * time.Second
	DefaultWebhookQueue    = 256
	DefaultReconnectDelay  = 3 * time.Second
	DefaultReconnectFactor = 2.0
	DefaultReconnectMax    = 2 * time.Minute
	DefaultReconnectTries  = 10
	DefaultQRFormat        = "data_url"
	DefaultQRSize          = 300
	DefaultOSName          = "wa-gateway"
)

// Config represents the complete wa-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	WhatsApp    WhatsAppConfig    `yaml:"whatsapp" toml:"whatsapp"`
	Credentials CredentialsConfig `yaml:"credentials" toml:"credentials"`
	Webhook     WebhookConfig     `yaml:"webhook" toml:"webhook"`
	Reconnect   ReconnectConfig   `yaml:"reconnect" toml:"reconnect"`
	API         APIConfig         `yaml:"api" toml:"api"`
	QR          QRConfig          `yaml:"qr" toml:"qr"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// CORSOrigins lists browser origins allowed to call the API. Unset means
	// any origin; an explicit empty list turns CORS off.
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve TLS on :443 with a Tailscale cert
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Expose publicly via Funnel (implies HTTPS)
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	// APIKey authenticates API callers and is sent to webhooks as the bearer token.
	APIKey string `yaml:"api_key" toml:"api_key"`
	// JWTSecret enables HS256 bearer tokens when set.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// DatabaseConfig holds the credential store location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// WhatsAppConfig holds transport configuration
type WhatsAppConfig struct {
	// DeviceStore is the whatsmeow SQLite file. Defaults next to database.path.
	DeviceStore string `yaml:"device_store" toml:"device_store"`
	OSName      string `yaml:"os_name" toml:"os_name"`
}

// CredentialsConfig holds credential-at-rest protection
type CredentialsConfig struct {
	// EncryptionKey seals stored credentials when set. Changing it makes
	// existing credentials unreadable.
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

// WebhookConfig holds outbound webhook delivery settings
type WebhookConfig struct {
	Timeout   time.Duration `yaml:"-" toml:"-"`
	QueueSize int           `yaml:"queue_size" toml:"queue_size"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ReconnectConfig holds the reconnect backoff policy
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"-" toml:"-"`
	MaxDelay     time.Duration `yaml:"-" toml:"-"`
	Multiplier   float64       `yaml:"multiplier" toml:"multiplier"`
	// MaxAttempts of 0 means unlimited. Unset means DefaultReconnectTries.
	MaxAttempts *int `yaml:"max_attempts" toml:"max_attempts"`

	// Raw string values for unmarshaling
	InitialDelayRaw string `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelayRaw     string `yaml:"max_delay" toml:"max_delay"`
}

// APIConfig holds HTTP API behaviour
type APIConfig struct {
	DefaultClientID string        `yaml:"default_client_id" toml:"default_client_id"`
	ConnectWait     time.Duration `yaml:"-" toml:"-"`

	ConnectWaitRaw string `yaml:"connect_wait" toml:"connect_wait"`
}

// QRConfig holds pairing code rendering settings
type QRConfig struct {
	Format string `yaml:"format" toml:"format"` // "data_url" or "raw"
	Size   int    `yaml:"size" toml:"size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the config path to use when none is given on the command line.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "wa-gateway", "gateway.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "gateway.yaml"
	}
	return filepath.Join(home, ".config", "wa-gateway", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, validates and defaults raw configuration content.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Database.Path = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required (or set %s)", EnvAPIKey)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.QR.Format {
	case "", "data_url", "raw":
	default:
		return fmt.Errorf("qr.format must be data_url or raw, got %q", c.QR.Format)
	}
	if c.QR.Size < 0 {
		return fmt.Errorf("qr.size must not be negative")
	}

	if c.Reconnect.Multiplier != 0 && c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1, got %v", c.Reconnect.Multiplier)
	}
	if c.Reconnect.MaxAttempts != nil && *c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	if c.Reconnect.MaxDelay != 0 && c.Reconnect.InitialDelay > c.Reconnect.MaxDelay {
		return fmt.Errorf("reconnect.initial_delay must not exceed reconnect.max_delay")
	}

	if c.Webhook.QueueSize < 0 {
		return fmt.Errorf("webhook.queue_size must not be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.CORSOrigins == nil {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.WhatsApp.DeviceStore == "" {
		c.WhatsApp.DeviceStore = filepath.Join(filepath.Dir(c.Database.Path), "whatsmeow.db")
	}
	if c.WhatsApp.OSName == "" {
		c.WhatsApp.OSName = DefaultOSName
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = DefaultWebhookTimeout
	}
	if c.Webhook.QueueSize == 0 {
		c.Webhook.QueueSize = DefaultWebhookQueue
	}
	if c.Reconnect.InitialDelay == 0 {
		c.Reconnect.InitialDelay = DefaultReconnectDelay
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = DefaultReconnectFactor
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = max(DefaultReconnectMax, c.Reconnect.InitialDelay)
	}
	if c.Reconnect.MaxAttempts == nil {
		n := DefaultReconnectTries
		c.Reconnect.MaxAttempts = &n
	}
	if c.API.DefaultClientID == "" {
		c.API.DefaultClientID = DefaultClientID
	}
	if c.API.ConnectWait == 0 {
		c.API.ConnectWait = DefaultConnectWait
	}
	if c.QR.Format == "" {
		c.QR.Format = DefaultQRFormat
	}
	if c.QR.Size == 0 {
		c.QR.Size = DefaultQRSize
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
		{"webhook.timeout", cfg.Webhook.TimeoutRaw, &cfg.Webhook.Timeout},
		{"reconnect.initial_delay", cfg.Reconnect.InitialDelayRaw, &cfg.Reconnect.InitialDelay},
		{"reconnect.max_delay", cfg.Reconnect.MaxDelayRaw, &cfg.Reconnect.MaxDelay},
		{"api.connect_wait", cfg.API.ConnectWaitRaw, &cfg.API.ConnectWait},
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
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
