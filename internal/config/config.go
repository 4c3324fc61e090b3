// Package config loads server settings from defaults, an optional config
// file, SEALEDCHAT_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SEALEDCHAT"

// fan-out drivers
const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
)

type Server struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type Database struct {
	Path string `mapstructure:"path"`
}

// Auth configures token signing. Strict rejects requests carrying an
// invalid token instead of letting them continue anonymously.
type Auth struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	Strict   bool          `mapstructure:"strict"`
}

type Fanout struct {
	Driver  string `mapstructure:"driver"`
	NATSURL string `mapstructure:"nats_url"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebSocket struct {
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// trace exporters
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Tracing selects where spans go. With "none" spans are still recorded
// in-process but never exported.
type Tracing struct {
	Exporter string `mapstructure:"exporter"`
}

// Config is loaded once at startup and not modified afterwards.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Auth      Auth      `mapstructure:"auth"`
	Fanout    Fanout    `mapstructure:"fanout"`
	Log       Log       `mapstructure:"log"`
	WebSocket WebSocket `mapstructure:"websocket"`
	Tracing   Tracing   `mapstructure:"tracing"`
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.path", "./chat.db")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.strict", false)
	v.SetDefault("fanout.driver", DriverMemory)
	v.SetDefault("fanout.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("websocket.max_message_bytes", 16384)
	v.SetDefault("tracing.exporter", ExporterNone)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds the server flags in fs to their keys.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	bindings := map[string]string{
		"addr":        "server.addr",
		"db":          "database.path",
		"secret":      "auth.secret",
		"token-ttl":   "auth.token_ttl",
		"strict-auth": "auth.strict",
		"fanout":      "fanout.driver",
		"nats-url":    "fanout.nats_url",
		"log-level":   "log.level",
		"log-format":  "log.format",
		"tracing":     "tracing.exporter",
	}
	for flag, key := range bindings {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// Read reads the optional config file and decodes v without validating it.
// Commands validate the sections they use.
func Read(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Load is Read followed by a full Validate.
func Load(v *viper.Viper, file string) (*Config, error) {
	cfg, err := Read(v, file)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	return errors.Join(
		c.Auth.Validate(),
		c.Fanout.Validate(),
		c.Database.Validate(),
		c.WebSocket.Validate(),
		c.Tracing.Validate(),
	)
}

func (a Auth) Validate() error {
	var errs []error
	if a.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if a.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl must be positive, got %s", a.TokenTTL))
	}
	return errors.Join(errs...)
}

func (f Fanout) Validate() error {
	switch f.Driver {
	case DriverMemory:
	case DriverNATS:
		if f.NATSURL == "" {
			return errors.New("fanout.nats_url is required for the nats driver")
		}
	default:
		return fmt.Errorf("unknown fanout.driver %q", f.Driver)
	}
	return nil
}

func (d Database) Validate() error {
	if d.Path == "" {
		return errors.New("database.path is required")
	}
	return nil
}

func (w WebSocket) Validate() error {
	if w.MaxMessageBytes <= 0 {
		return errors.New("websocket.max_message_bytes must be positive")
	}
	return nil
}

func (t Tracing) Validate() error {
	switch t.Exporter {
	case ExporterNone, ExporterStdout:
		return nil
	default:
		return fmt.Errorf("unknown tracing.exporter %q", t.Exporter)
	}
}
