// Package config provides Viper-based configuration loading for the relay server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the WebSocket listener settings.
type ServerConfig struct {
	// Host is the bind address for the HTTP/WebSocket listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP/WebSocket listener. Zero picks a random port.
	Port int `mapstructure:"port"`
	// WSPath is the HTTP path upgraded to WebSocket.
	WSPath string `mapstructure:"ws_path"`
	// AllowedOrigins lists the browser origins accepted during the handshake.
	// A single "*" entry accepts every origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AllowsAnyOrigin reports whether the wildcard origin is configured.
func (s ServerConfig) AllowsAnyOrigin() bool {
	for _, o := range s.AllowedOrigins {
		if o == "*" {
			return true
		}
	}
	return false
}

// RelayConfig holds room relay tuning.
type RelayConfig struct {
	// DefaultRoom is used when a join omits the room identifier.
	DefaultRoom string `mapstructure:"default_room"`
	// SendBuffer is the per-session outbound frame queue length.
	SendBuffer int `mapstructure:"send_buffer"`
	// InboxBuffer is the relay event queue length shared by all connections.
	InboxBuffer int `mapstructure:"inbox_buffer"`
	// ReadLimit is the maximum inbound frame size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the WebSocket ping period. Zero disables pings.
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

// AdminConfig holds the gRPC health endpoint settings.
type AdminConfig struct {
	// GRPCHost is the bind address for the admin gRPC server.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the admin gRPC server. Zero disables it.
	GRPCPort int `mapstructure:"grpc_port"`
}

// Enabled reports whether the admin gRPC server should be started.
func (a AdminConfig) Enabled() bool {
	return a.GRPCPort != 0
}

// Addr returns the "host:port" gRPC address.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRelay(c.Relay); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAdmin(c.Admin); err != nil {
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
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 0-65535, got %d", s.Port))
	}
	if !strings.HasPrefix(s.WSPath, "/") {
		errs = append(errs, fmt.Sprintf("server.ws_path must start with '/', got %q", s.WSPath))
	}
	if len(s.AllowedOrigins) == 0 {
		errs = append(errs, "server.allowed_origins must not be empty")
	}
	for _, o := range s.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			errs = append(errs, "server.allowed_origins must not contain empty entries")
			break
		}
	}
	if s.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRelay(r RelayConfig) error {
	var errs []string
	if r.DefaultRoom == "" {
		errs = append(errs, "relay.default_room must not be empty")
	}
	if r.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("relay.send_buffer must be >= 1, got %d", r.SendBuffer))
	}
	if r.InboxBuffer < 1 {
		errs = append(errs, fmt.Sprintf("relay.inbox_buffer must be >= 1, got %d", r.InboxBuffer))
	}
	if r.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("relay.read_limit must be >= 1, got %d", r.ReadLimit))
	}
	if r.WriteTimeout <= 0 {
		errs = append(errs, "relay.write_timeout must be positive")
	}
	if r.PingInterval < 0 {
		errs = append(errs, "relay.ping_interval must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	if a.GRPCPort < 0 || a.GRPCPort > 65535 {
		return fmt.Errorf("admin.grpc_port must be 0-65535, got %d", a.GRPCPort)
	}
	if a.Enabled() && a.GRPCHost == "" {
		return errors.New("admin.grpc_host must not be empty when admin.grpc_port is set")
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
// overrides, and validates the result. An empty path skips the file and uses
// defaults plus environment only.
//
// Precondition: path must be empty or a valid path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and environment bindings applied.
//
// Environment variables use the RELAY_ prefix with "." replaced by "_"
// (RELAY_SERVER_PORT, RELAY_LOGGING_LEVEL, ...). PORT and FRONTEND_URL are
// also honoured for hosting platforms that inject them.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// BindEnv only errors when called without a key.
	_ = v.BindEnv("server.port", "RELAY_SERVER_PORT", "PORT")
	_ = v.BindEnv("server.allowed_origins", "RELAY_SERVER_ALLOWED_ORIGINS", "FRONTEND_URL")

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Server.AllowedOrigins = splitOrigins(cfg.Server.AllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitOrigins expands comma-separated entries, which is how a list arrives
// from a single environment variable.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("relay.default_room", "main")
	v.SetDefault("relay.send_buffer", 64)
	v.SetDefault("relay.inbox_buffer", 1024)
	v.SetDefault("relay.read_limit", 65536)
	v.SetDefault("relay.write_timeout", "10s")
	v.SetDefault("relay.ping_interval", "25s")

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
