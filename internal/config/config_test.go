package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("SEALEDCHAT_AUTH_SECRET", "s3cr3t")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./chat.db", cfg.Database.Path)
	assert.Equal(t, "s3cr3t", cfg.Auth.Secret)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Auth.Strict)
	assert.Equal(t, DriverMemory, cfg.Fanout.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.EqualValues(t, 16384, cfg.WebSocket.MaxMessageBytes)
	assert.Equal(t, ExporterNone, cfg.Tracing.Exporter)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SEALEDCHAT_AUTH_SECRET", "s3cr3t")
	t.Setenv("SEALEDCHAT_AUTH_TOKEN_TTL", "30m")
	t.Setenv("SEALEDCHAT_AUTH_STRICT", "true")
	t.Setenv("SEALEDCHAT_FANOUT_DRIVER", "nats")
	t.Setenv("SEALEDCHAT_FANOUT_NATS_URL", "nats://nats:4222")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Auth.Strict)
	assert.Equal(t, DriverNATS, cfg.Fanout.Driver)
	assert.Equal(t, "nats://nats:4222", cfg.Fanout.NATSURL)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealedchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: 127.0.0.1:9000
database:
  path: /var/lib/sealedchat/chat.db
auth:
  secret: from-file
  token_ttl: 2h
log:
  format: json
`), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "/var/lib/sealedchat/chat.db", cfg.Database.Path)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("SEALEDCHAT_AUTH_SECRET", "from-env")

	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("addr", ":8080", "")
	fs.String("secret", "", "")
	fs.Bool("strict-auth", false, "")
	require.NoError(t, fs.Parse([]string{"--addr", ":9999", "--secret", "from-flag", "--strict-auth"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	cfg, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "from-flag", cfg.Auth.Secret)
	assert.True(t, cfg.Auth.Strict)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Database:  Database{Path: "chat.db"},
			Auth:      Auth{Secret: "s3cr3t", TokenTTL: time.Hour},
			Fanout:    Fanout{Driver: DriverMemory},
			WebSocket: WebSocket{MaxMessageBytes: 1024},
			Tracing:   Tracing{Exporter: ExporterStdout},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"no secret":      func(c *Config) { c.Auth.Secret = "" },
		"zero ttl":       func(c *Config) { c.Auth.TokenTTL = 0 },
		"unknown driver": func(c *Config) { c.Fanout.Driver = "kafka" },
		"nats no url":    func(c *Config) { c.Fanout.Driver = DriverNATS },
		"no db path":     func(c *Config) { c.Database.Path = "" },
		"no ws limit":    func(c *Config) { c.WebSocket.MaxMessageBytes = 0 },
		"bad exporter":   func(c *Config) { c.Tracing.Exporter = "zipkin" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	err := (&Config{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")
	assert.Contains(t, err.Error(), "database.path")
	assert.Contains(t, err.Error(), "fanout.driver")
}

func TestReadLeavesValidationToCaller(t *testing.T) {
	t.Setenv("SEALEDCHAT_AUTH_SECRET", "")

	cfg, err := Read(New(), "")
	require.NoError(t, err)

	// migrations only need a database
	assert.NoError(t, cfg.Database.Validate())
	assert.ErrorContains(t, cfg.Auth.Validate(), "auth.secret")
	assert.ErrorContains(t, cfg.Validate(), "auth.secret")

	_, err = Load(New(), "")
	assert.ErrorContains(t, err, "auth.secret")
}

func TestTracingExporterFlag(t *testing.T) {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("tracing", ExporterNone, "")
	require.NoError(t, fs.Parse([]string{"--tracing", "stdout"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	cfg, err := Read(v, "")
	require.NoError(t, err)
	assert.Equal(t, ExporterStdout, cfg.Tracing.Exporter)
	assert.NoError(t, cfg.Tracing.Validate())
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(Log{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = NewLogger(Log{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(Log{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
