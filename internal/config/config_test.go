package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/stocksim/internal/models"
)

const sampleYAML = `
log_level: debug
server:
  addr: ":9090"
  write_timeout: 45s
database:
  host: db.internal
  name: stocksim
  user: stocksim
  password: ${TEST_DB_PASSWORD}
auth:
  jwt_secret: secret
engine:
  settle_timeout: 2s
scheduler:
  interval: 1m
kafka:
  brokers: ["kafka-1:9092", "kafka-2:9092"]
`

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "hunter2")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cfg.Database.Password)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 45*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unterminated"))
	assert.Error(t, err)
}

func TestLoadAndValidate_AppliesDefaults(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := LoadAndValidate(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, DefaultReadTimeout, cfg.Server.ReadTimeout)
	assert.Equal(t, DefaultDriver, cfg.Database.Driver)
	assert.Equal(t, DefaultDBPort, cfg.Database.Port)
	assert.Equal(t, DefaultTokenTTL, cfg.Auth.TokenTTL)
	assert.Equal(t, DefaultLoadTimeout, cfg.Engine.LoadTimeout)
	assert.Equal(t, 2*time.Second, cfg.Engine.SettleTimeout)
	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, DefaultKafkaTopic, cfg.Kafka.Topic)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadAndValidate_SecretsFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("SERVICE_ROLE_KEY", "service-key")
	t.Setenv("LOG_LEVEL", "warn")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: memory\n"), 0o600))

	cfg, err := LoadAndValidate(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "service-key", cfg.Auth.ServiceToken)
	assert.Equal(t, slog.LevelWarn, cfg.SlogLevel())
}

func TestLoadAndValidate_MissingFile(t *testing.T) {
	_, err := LoadAndValidate(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func validConfig() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Name: "stocksim", User: "stocksim"},
		Auth:     AuthConfig{JWTSecret: "secret"},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError string
	}{
		{name: "Valid", mutate: func(c *Config) {}},
		{name: "MemoryNeedsNoDatabase", mutate: func(c *Config) {
			c.Database = DatabaseConfig{Driver: "memory"}
		}},
		{name: "BadLogLevel", mutate: func(c *Config) { c.LogLevel = "verbose" }, expectError: "log_level"},
		{name: "MissingSecret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, expectError: "auth.jwt_secret"},
		{name: "MissingDBName", mutate: func(c *Config) { c.Database.Name = "" }, expectError: "database.name"},
		{name: "UnknownDriver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, expectError: "database.driver"},
		{name: "MinAboveMax", mutate: func(c *Config) { c.Database.MinConns = 20 }, expectError: "min_conns"},
		{name: "NegativeTimeout", mutate: func(c *Config) { c.Engine.SettleTimeout = -time.Second }, expectError: "engine timeouts"},
		{name: "KafkaWithoutTopic", mutate: func(c *Config) {
			c.Kafka = KafkaConfig{Brokers: []string{"localhost:9092"}}
		}, expectError: "kafka.topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, models.ErrConfig)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = ""
	cfg.Database.User = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
	assert.Contains(t, err.Error(), "database.user")
}

func TestValidateScheduler(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	err := cfg.ValidateScheduler()
	require.ErrorIs(t, err, models.ErrConfig)
	assert.Contains(t, err.Error(), "auth.service_token")

	cfg.Auth.ServiceToken = "token"
	assert.NoError(t, cfg.ValidateScheduler())
	assert.Equal(t, DefaultScheduleURL, cfg.Scheduler.URL)
}
