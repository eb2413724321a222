package client

import (
	"errors"
	"time"

	"github.com/rickgao/exchange-notify/internal/auth"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Message is a single frame received from the server.
type Message struct {
	Binary     bool      // Binary frame (public/payment) vs text frame (portfolio signal)
	Data       []byte    // Raw frame bytes
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Config configures a client.
type Config struct {
	URL          string        // WebSocket URL (e.g., ws://localhost:8080/ws)
	UserID       string        // Sent unsigned as X-User-Id when Signer is nil
	Signer       *auth.Signer  // Signs the user assertion (nil = UserID as-is, or anonymous)
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for control frames
	BufferSize   int           // Message channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}
