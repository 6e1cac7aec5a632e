// Package config provides Viper-based configuration loading for the
// gamekeeper runtime.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the two bridge listen endpoints.
type ServerConfig struct {
	// AgentHost is the bind address for the game-server agent listener.
	AgentHost string `mapstructure:"agent_host"`
	// AgentPort is the TCP port for the game-server agent listener.
	AgentPort int `mapstructure:"agent_port"`
	// PlayerHost is the bind address for the player listener.
	PlayerHost string `mapstructure:"player_host"`
	// PlayerPort is the TCP port for the player listener.
	PlayerPort int `mapstructure:"player_port"`
}

// AgentAddr returns the "host:port" agent listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) AgentAddr() string {
	return fmt.Sprintf("%s:%d", s.AgentHost, s.AgentPort)
}

// PlayerAddr returns the "host:port" player listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) PlayerAddr() string {
	return fmt.Sprintf("%s:%d", s.PlayerHost, s.PlayerPort)
}

// ConsoleConfig holds remote-console connection settings.
type ConsoleConfig struct {
	// Host is the game server's remote-console address.
	Host string `mapstructure:"host"`
	// Port is the remote-console TCP port.
	Port int `mapstructure:"port"`
	// Password is the remote-console password.
	Password string `mapstructure:"password"`
	// MaxAttempts is the connection retry budget.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryDelay is the fixed delay between connection attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// DialTimeout is the per-attempt TCP dial timeout.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// ReadTimeout is the per-response read deadline.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// Addr returns the "host:port" remote-console address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (c ConsoleConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds token signing and identity settings.
type AuthConfig struct {
	// SessionSecret signs player session tokens.
	SessionSecret string `mapstructure:"session_secret"`
	// ServiceSecret signs trusted service tokens. Must differ from SessionSecret.
	ServiceSecret string `mapstructure:"service_secret"`
	// SessionTTL is the default session token lifetime.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// ServiceTTL is the default service token lifetime.
	ServiceTTL time.Duration `mapstructure:"service_ttl"`
	// OperatorsFile is an optional YAML file listing player names granted
	// the operator role at login. Empty disables the override.
	OperatorsFile string `mapstructure:"operators_file"`
}

// RateLimitConfig holds per-connection token bucket settings.
type RateLimitConfig struct {
	// Tokens is the number of frames refilled per Interval.
	Tokens int `mapstructure:"tokens"`
	// Interval is the refill period.
	Interval time.Duration `mapstructure:"interval"`
	// Burst is the bucket capacity.
	Burst int `mapstructure:"burst"`
}

// DatabaseConfig holds PostgreSQL connection settings for the
// persistent store. When Enabled is false the runtime falls back to the
// in-memory store.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// Addr returns the "host:port" metrics listen address.
func (m MetricsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Console   ConsoleConfig   `mapstructure:"console"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateConsole(c.Console); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAuth(c.Auth); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRateLimit(c.RateLimit); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	var errs []string
	if s.AgentPort < 1 || s.AgentPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.agent_port must be 1-65535, got %d", s.AgentPort))
	}
	if s.PlayerPort < 1 || s.PlayerPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.player_port must be 1-65535, got %d", s.PlayerPort))
	}
	if s.AgentHost == s.PlayerHost && s.AgentPort == s.PlayerPort {
		errs = append(errs, "server.agent and server.player endpoints must differ")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateConsole(c ConsoleConfig) error {
	var errs []string
	if c.Host == "" {
		errs = append(errs, "console.host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("console.port must be 1-65535, got %d", c.Port))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("console.max_attempts must be >= 1, got %d", c.MaxAttempts))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, "console.retry_delay must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAuth(a AuthConfig) error {
	var errs []string
	if a.SessionSecret == "" {
		errs = append(errs, "auth.session_secret must not be empty")
	}
	if a.ServiceSecret == "" {
		errs = append(errs, "auth.service_secret must not be empty")
	}
	if a.SessionSecret != "" && a.SessionSecret == a.ServiceSecret {
		errs = append(errs, "auth.session_secret and auth.service_secret must differ")
	}
	if a.SessionTTL <= 0 {
		errs = append(errs, "auth.session_ttl must be positive")
	}
	if a.ServiceTTL <= 0 {
		errs = append(errs, "auth.service_ttl must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRateLimit(r RateLimitConfig) error {
	var errs []string
	if r.Tokens < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.tokens must be >= 1, got %d", r.Tokens))
	}
	if r.Interval <= 0 {
		errs = append(errs, "ratelimit.interval must be positive")
	}
	if r.Burst < 1 {
		errs = append(errs, fmt.Sprintf("ratelimit.burst must be >= 1, got %d", r.Burst))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with GAMEKEEPER_ prefix
	v.SetEnvPrefix("GAMEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, errors.New("nil viper instance")
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.agent_host", "127.0.0.1")
	v.SetDefault("server.agent_port", 8100)
	v.SetDefault("server.player_host", "0.0.0.0")
	v.SetDefault("server.player_port", 8101)

	v.SetDefault("console.host", "127.0.0.1")
	v.SetDefault("console.port", 28016)
	v.SetDefault("console.max_attempts", 10)
	v.SetDefault("console.retry_delay", "5s")
	v.SetDefault("console.dial_timeout", "10s")
	v.SetDefault("console.read_timeout", "30s")

	v.SetDefault("auth.session_ttl", "24h")
	v.SetDefault("auth.service_ttl", "720h")
	v.SetDefault("auth.operators_file", "")

	v.SetDefault("ratelimit.tokens", 10)
	v.SetDefault("ratelimit.interval", "1s")
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "gamekeeper")
	v.SetDefault("database.password", "gamekeeper")
	v.SetDefault("database.name", "gamekeeper")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.host", "127.0.0.1")
	v.SetDefault("metrics.port", 9100)
}
