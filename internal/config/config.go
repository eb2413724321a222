package config

import "time"

// ServerConfig is the root configuration for a notifyd instance.
type ServerConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   HTTPConfig     `yaml:"server"`
	Channels ChannelsConfig `yaml:"channels"`
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// HTTPConfig holds the client-facing HTTP/WebSocket listener settings.
type HTTPConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // Per-frame write deadline
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	ReadLimit       int64         `yaml:"read_limit"` // Max inbound frame size in bytes
	SendBufferSize  int           `yaml:"send_buffer_size"`
}

// ChannelsConfig holds registry channel capacities.
type ChannelsConfig struct {
	PublicCapacity  int `yaml:"public_capacity"`
	PaymentCapacity int `yaml:"payment_capacity"`
}

// DatabaseConfig holds the PostgreSQL connection used by the feed.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// FeedConfig holds the Postgres LISTEN/NOTIFY feed settings.
type FeedConfig struct {
	Enabled            bool          `yaml:"enabled"`
	PublicChannel      string        `yaml:"public_channel"`
	PortfolioChannel   string        `yaml:"portfolio_channel"`
	PaymentChannel     string        `yaml:"payment_channel"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	BufferSize         int           `yaml:"buffer_size"`
}

// AuthConfig holds user assertion verification settings.
// An empty PublicKeyPath trusts the X-User-Id header as-is.
type AuthConfig struct {
	PublicKeyPath string        `yaml:"public_key_path"`
	MaxSkew       time.Duration `yaml:"max_skew"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
