package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServerConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.ReadLimit < 1 {
		return errors.New("server.read_limit must be >= 1")
	}
	if c.Server.SendBufferSize < 1 {
		return errors.New("server.send_buffer_size must be >= 1")
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout (%s) must exceed ping_interval (%s)",
			c.Server.PongTimeout, c.Server.PingInterval)
	}

	if c.Channels.PublicCapacity < 1 {
		return errors.New("channels.public_capacity must be >= 1")
	}
	if c.Channels.PaymentCapacity < 1 {
		return errors.New("channels.payment_capacity must be >= 1")
	}

	if c.Feed.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if err := c.Feed.validate(); err != nil {
			return err
		}
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}

func (f *FeedConfig) validate() error {
	names := map[string]string{
		"feed.public_channel":    f.PublicChannel,
		"feed.portfolio_channel": f.PortfolioChannel,
		"feed.payment_channel":   f.PaymentChannel,
	}
	seen := make(map[string]string, len(names))
	for _, field := range []string{"feed.public_channel", "feed.portfolio_channel", "feed.payment_channel"} {
		name := names[field]
		if name == "" {
			return fmt.Errorf("%s is required", field)
		}
		if other, ok := seen[name]; ok {
			return fmt.Errorf("%s duplicates %s (%q)", field, other, name)
		}
		seen[name] = field
	}

	if f.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}
	if f.ReconnectMaxDelay < f.ReconnectBaseDelay {
		return fmt.Errorf("feed.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			f.ReconnectMaxDelay, f.ReconnectBaseDelay)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
