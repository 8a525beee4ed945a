// ABOUTME: Configuration loading and parsing for gamevault
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gamevault configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Keys      KeysConfig      `yaml:"keys"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"` // serve on :443 with a tailnet certificate
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// KeysConfig locates the server key pair.
type KeysConfig struct {
	Dir  string `yaml:"dir"`
	Bits int    `yaml:"bits"`
}

// AuthConfig holds request verification settings
type AuthConfig struct {
	MaxBodyBytes       int64         `yaml:"max_body_bytes"`
	SessionIdleTimeout time.Duration `yaml:"-"`
	Lockout            LockoutConfig `yaml:"lockout"`

	SessionIdleTimeoutRaw string `yaml:"session_idle_timeout"`
}

// LockoutConfig bounds failed verification attempts per client address.
// MaxFailures of zero disables lockout.
type LockoutConfig struct {
	MaxFailures int           `yaml:"max_failures"`
	Window      time.Duration `yaml:"-"`

	WindowRaw string `yaml:"window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Load when a field is left empty.
const (
	DefaultHTTPAddr           = "localhost:8420"
	DefaultKeyBits            = 4096
	MinKeyBits                = 2048
	DefaultMaxBodyBytes       = 10 << 20
	DefaultSessionIdleTimeout = 30 * 24 * time.Hour
	DefaultLockoutFailures    = 10
	DefaultLockoutWindow      = 15 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Keys.Bits == 0 {
		c.Keys.Bits = DefaultKeyBits
	}
	if c.Keys.Dir == "" && c.Database.Path != "" {
		c.Keys.Dir = filepath.Join(filepath.Dir(c.Database.Path), "keys")
	}
	if c.Auth.MaxBodyBytes == 0 {
		c.Auth.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Auth.SessionIdleTimeout == 0 {
		c.Auth.SessionIdleTimeout = DefaultSessionIdleTimeout
	}
	if c.Auth.Lockout.MaxFailures > 0 && c.Auth.Lockout.Window == 0 {
		c.Auth.Lockout.Window = DefaultLockoutWindow
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
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

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Keys.Dir == "" {
		return fmt.Errorf("keys.dir is required")
	}
	if c.Keys.Bits < MinKeyBits {
		return fmt.Errorf("keys.bits must be at least %d, got %d", MinKeyBits, c.Keys.Bits)
	}

	if c.Auth.MaxBodyBytes < 0 {
		return fmt.Errorf("auth.max_body_bytes must not be negative")
	}
	if c.Auth.SessionIdleTimeout < 0 {
		return fmt.Errorf("auth.session_idle_timeout must not be negative")
	}
	if c.Auth.Lockout.MaxFailures < 0 {
		return fmt.Errorf("auth.lockout.max_failures must not be negative")
	}
	if c.Auth.Lockout.MaxFailures > 0 && c.Auth.Lockout.Window <= 0 {
		return fmt.Errorf("auth.lockout.window must be positive when lockout is enabled")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionIdleTimeoutRaw != "" {
		cfg.Auth.SessionIdleTimeout, err = time.ParseDuration(cfg.Auth.SessionIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing session_idle_timeout %q: %w", cfg.Auth.SessionIdleTimeoutRaw, err)
		}
	}

	if cfg.Auth.Lockout.WindowRaw != "" {
		cfg.Auth.Lockout.Window, err = time.ParseDuration(cfg.Auth.Lockout.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing lockout.window %q: %w", cfg.Auth.Lockout.WindowRaw, err)
		}
	}

	return nil
}

// Default returns a config rooted at dataDir with every default filled in.
func Default(dataDir string) *Config {
	cfg := &Config{
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "gamevault.db")},
		Keys:     KeysConfig{Dir: filepath.Join(dataDir, "keys")},
		Auth: AuthConfig{
			Lockout: LockoutConfig{MaxFailures: DefaultLockoutFailures},
		},
		Tailscale: TailscaleConfig{Hostname: "gamevault", StateDir: filepath.Join(dataDir, "tsnet")},
	}
	cfg.applyDefaults()
	cfg.Auth.SessionIdleTimeoutRaw = cfg.Auth.SessionIdleTimeout.String()
	cfg.Auth.Lockout.WindowRaw = cfg.Auth.Lockout.Window.String()
	return cfg
}

// Write marshals cfg to path with 0600 permissions, creating parent directories.
// It refuses to overwrite an existing file.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	header := "# gamevault configuration\n# Generated by gamevault init\n\n"
	if _, err := f.WriteString(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}

// Path returns the config file location.
// Priority: GAMEVAULT_CONFIG env var > XDG_CONFIG_HOME/gamevault/config.yaml > ~/.config/gamevault/config.yaml
func Path() string {
	if envPath := os.Getenv("GAMEVAULT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gamevault", "config.yaml")
}

// DataDir returns the data directory.
// Priority: XDG_DATA_HOME/gamevault > ~/.local/share/gamevault
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "gamevault")
}
