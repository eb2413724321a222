package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultListenAddr         = ":8080"
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPingInterval       = 30 * time.Second
	DefaultPongTimeout        = 60 * time.Second
	DefaultReadLimit          = 4096
	DefaultSendBufferSize     = 64
	DefaultPublicCapacity     = 256
	DefaultPaymentCapacity    = 16
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultPublicChannel      = "public_events"
	DefaultPortfolioChannel   = "portfolio_changed"
	DefaultPaymentChannel     = "payment_events"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultFeedBufferSize     = 1024
	DefaultAuthMaxSkew        = 30 * time.Second
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *ServerConfig) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = DefaultPongTimeout
	}
	if c.Server.ReadLimit == 0 {
		c.Server.ReadLimit = DefaultReadLimit
	}
	if c.Server.SendBufferSize == 0 {
		c.Server.SendBufferSize = DefaultSendBufferSize
	}

	// Channel defaults
	if c.Channels.PublicCapacity == 0 {
		c.Channels.PublicCapacity = DefaultPublicCapacity
	}
	if c.Channels.PaymentCapacity == 0 {
		c.Channels.PaymentCapacity = DefaultPaymentCapacity
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Feed defaults
	if c.Feed.PublicChannel == "" {
		c.Feed.PublicChannel = DefaultPublicChannel
	}
	if c.Feed.PortfolioChannel == "" {
		c.Feed.PortfolioChannel = DefaultPortfolioChannel
	}
	if c.Feed.PaymentChannel == "" {
		c.Feed.PaymentChannel = DefaultPaymentChannel
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Auth defaults
	if c.Auth.MaxSkew == 0 {
		c.Auth.MaxSkew = DefaultAuthMaxSkew
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
