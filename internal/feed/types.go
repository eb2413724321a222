package feed

import (
	"encoding/json"
	"time"
)

// Notification is a single Postgres NOTIFY received by the Listener.
type Notification struct {
	Channel    string
	Payload    string
	ReceivedAt time.Time
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Channels           []string
	ReconnectBaseDelay time.Duration // Default: 1s
	ReconnectMaxDelay  time.Duration // Default: 60s
	BufferSize         int           // Default: 1024
}

// DefaultListenerConfig returns default configuration for the given channels.
func DefaultListenerConfig(channels ...string) ListenerConfig {
	return ListenerConfig{
		Channels:           channels,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		BufferSize:         1024,
	}
}

// RouterConfig maps channel names to registry families.
type RouterConfig struct {
	PublicChannel    string
	PortfolioChannel string
	PaymentChannel   string
}

// Channels returns the configured channel names in LISTEN order.
func (c RouterConfig) Channels() []string {
	return []string{c.PublicChannel, c.PortfolioChannel, c.PaymentChannel}
}

// paymentEvent is the wire format on the payment channel.
type paymentEvent struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}
