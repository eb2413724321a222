package server

import (
	"context"
	"time"

	"github.com/rickgao/exchange-notify/internal/broadcast"
	"github.com/rickgao/exchange-notify/internal/subscriptions"
	"github.com/rickgao/exchange-notify/internal/watch"
)

// Subscriber is the registry side of the server. *subscriptions.Registry
// satisfies it.
type Subscriber interface {
	SubscribePortfolio(userID string) *watch.Receiver
	SubscribePublic() *broadcast.Receiver[[]byte]
	SubscribePayments(userID string) *broadcast.Receiver[[]byte]
	Stats() subscriptions.Stats
}

// Pinger checks database reachability. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PortfolioRenderer produces the frame sent when a user's portfolio changed.
type PortfolioRenderer interface {
	RenderPortfolio(ctx context.Context, userID string) ([]byte, error)
}

// PortfolioRendererFunc adapts a function to PortfolioRenderer.
type PortfolioRendererFunc func(ctx context.Context, userID string) ([]byte, error)

// RenderPortfolio calls f.
func (f PortfolioRendererFunc) RenderPortfolio(ctx context.Context, userID string) ([]byte, error) {
	return f(ctx, userID)
}

// PortfolioChangedFrame is the default portfolio frame. Clients refetch on receipt.
var PortfolioChangedFrame = []byte(`{"type":"portfolio_changed"}`)

// StaticPortfolioRenderer always renders PortfolioChangedFrame.
var StaticPortfolioRenderer = PortfolioRendererFunc(func(context.Context, string) ([]byte, error) {
	return PortfolioChangedFrame, nil
})

// Config configures the server.
type Config struct {
	ListenAddr      string        // Default: ":8080"
	ShutdownTimeout time.Duration // Default: 10s
	WriteTimeout    time.Duration // Per-frame write deadline. Default: 5s
	PingInterval    time.Duration // Default: 30s
	PongTimeout     time.Duration // Must exceed PingInterval. Default: 60s
	ReadLimit       int64         // Max inbound frame size. Default: 4096
	SendBufferSize  int           // Frames queued between pumps and the writer. Default: 64
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		ShutdownTimeout: 10 * time.Second,
		WriteTimeout:    5 * time.Second,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		ReadLimit:       4096,
		SendBufferSize:  64,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	return c
}
