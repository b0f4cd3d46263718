package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel        = "info"
	DefaultAddr            = ":8080"
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultDriver          = "postgres"
	DefaultDBHost          = "localhost"
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultTokenTTL        = 24 * time.Hour
	DefaultLoadTimeout     = 10 * time.Second
	DefaultSettleTimeout   = 5 * time.Second
	DefaultScheduleURL     = "http://localhost:8080/functions/v1/matchOrders"
	DefaultScheduleEvery   = 5 * time.Minute
	DefaultScheduleTimeout = 60 * time.Second
	DefaultKafkaTopic      = "matches"
)

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Database.Host == "" {
		c.Database.Host = DefaultDBHost
	}
	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.Engine.LoadTimeout == 0 {
		c.Engine.LoadTimeout = DefaultLoadTimeout
	}
	if c.Engine.SettleTimeout == 0 {
		c.Engine.SettleTimeout = DefaultSettleTimeout
	}

	if c.Scheduler.URL == "" {
		c.Scheduler.URL = DefaultScheduleURL
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = DefaultScheduleEvery
	}
	if c.Scheduler.Timeout == 0 {
		c.Scheduler.Timeout = DefaultScheduleTimeout
	}

	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}
}
