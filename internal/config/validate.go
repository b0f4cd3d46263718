package config

import (
	"errors"
	"fmt"

	"github.com/xtrntr/stocksim/internal/models"
)

// Validate checks the configuration for missing or inconsistent values.
// Every problem is reported, wrapped in models.ErrConfig.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required"))
		}
		if c.Database.User == "" {
			errs = append(errs, errors.New("database.user is required"))
		}
		if c.Database.MinConns > c.Database.MaxConns {
			errs = append(errs, fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)",
				c.Database.MinConns, c.Database.MaxConns))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver))
	}

	if c.Engine.LoadTimeout < 0 || c.Engine.SettleTimeout < 0 {
		errs = append(errs, errors.New("engine timeouts must not be negative"))
	}
	if c.Scheduler.Interval < 0 {
		errs = append(errs, errors.New("scheduler.interval must not be negative"))
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrConfig, errors.Join(errs...))
	}
	return nil
}

// ValidateScheduler checks the subset of configuration the scheduler uses.
func (c *Config) ValidateScheduler() error {
	var errs []error
	if c.Auth.ServiceToken == "" {
		errs = append(errs, errors.New("auth.service_token is required"))
	}
	if c.Scheduler.URL == "" {
		errs = append(errs, errors.New("scheduler.url is required"))
	}
	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("scheduler.interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrConfig, errors.Join(errs...))
	}
	return nil
}
