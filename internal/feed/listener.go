package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/exchange-notify/internal/metrics"
)

// ErrNoChannels is returned by Start when no channel is configured.
var ErrNoChannels = errors.New("no channels to listen on")

// Conn is the subset of *pgx.Conn the Listener uses.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a connection dedicated to the Listener.
type Dialer func(ctx context.Context) (Conn, error)

// PoolDialer takes a connection out of pool for the Listener's exclusive use.
// The connection is hijacked, so it never returns to the pool.
func PoolDialer(pool *pgxpool.Pool) Dialer {
	return func(ctx context.Context) (Conn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire connection: %w", err)
		}
		return c.Hijack(), nil
	}
}

// Listener receives Postgres notifications on a dedicated connection.
type Listener interface {
	// Start begins listening in the background.
	Start(ctx context.Context) error

	// Stop closes the connection and the notification channel.
	Stop(ctx context.Context) error

	// Notifications returns the channel of received notifications.
	Notifications() <-chan Notification

	// Stats returns current listener statistics.
	Stats() ListenerStats
}

// ListenerStats contains runtime statistics.
type ListenerStats struct {
	Connected  bool
	Received   int64
	Dropped    int64
	Reconnects int64
}

type listener struct {
	cfg    ListenerConfig
	dial   Dialer
	logger *slog.Logger

	out chan Notification

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected  atomic.Bool
	received   atomic.Int64
	dropped    atomic.Int64
	reconnects atomic.Int64
}

// NewListener creates a Listener that opens connections with dial.
func NewListener(cfg ListenerConfig, dial Dialer, logger *slog.Logger) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		cfg.ReconnectMaxDelay = cfg.ReconnectBaseDelay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}

	return &listener{
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		out:    make(chan Notification, cfg.BufferSize),
	}
}

// Start begins the listen loop. Connection failures are retried in the
// background and never returned.
func (l *listener) Start(ctx context.Context) error {
	if len(l.cfg.Channels) == 0 {
		return ErrNoChannels
	}

	l.ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run()

	l.logger.Info("feed listener started",
		"channels", l.cfg.Channels,
		"buffer", l.cfg.BufferSize,
	)

	return nil
}

// Stop gracefully shuts down.
func (l *listener) Stop(ctx context.Context) error {
	l.logger.Info("stopping feed listener")

	if l.cancel != nil {
		l.cancel()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(l.out)
		l.logger.Info("feed listener stopped")
		return nil
	case <-ctx.Done():
		l.logger.Warn("feed listener stop timed out")
		return ctx.Err()
	}
}

// Notifications returns the output channel. It is closed by Stop.
func (l *listener) Notifications() <-chan Notification {
	return l.out
}

// Stats returns current statistics.
func (l *listener) Stats() ListenerStats {
	return ListenerStats{
		Connected:  l.connected.Load(),
		Received:   l.received.Load(),
		Dropped:    l.dropped.Load(),
		Reconnects: l.reconnects.Load(),
	}
}

// run keeps a listening connection open until the context is cancelled.
func (l *listener) run() {
	defer l.wg.Done()

	wait := l.cfg.ReconnectBaseDelay

	for {
		established, err := l.listen(l.ctx)
		if l.ctx.Err() != nil {
			return
		}

		// A connection that got as far as LISTEN resets the backoff.
		if established {
			wait = l.cfg.ReconnectBaseDelay
		}

		l.logger.Warn("feed connection lost",
			"error", err,
			"retry_in", wait,
		)

		select {
		case <-l.ctx.Done():
			return
		case <-time.After(wait):
		}

		l.reconnects.Add(1)
		metrics.FeedReconnects.Inc()

		// Exponential backoff
		wait *= 2
		if wait > l.cfg.ReconnectMaxDelay {
			wait = l.cfg.ReconnectMaxDelay
		}
	}
}

// listen runs one connection until it fails. established reports whether
// every LISTEN succeeded before the failure.
func (l *listener) listen(ctx context.Context) (established bool, err error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := conn.Close(closeCtx); cerr != nil {
			l.logger.Debug("close feed connection", "error", cerr)
		}
	}()

	for _, ch := range l.cfg.Channels {
		if _, err := conn.Exec(ctx, listenSQL(ch)); err != nil {
			return false, fmt.Errorf("listen %s: %w", ch, err)
		}
	}

	l.connected.Store(true)
	metrics.FeedConnected.Set(1)
	defer func() {
		l.connected.Store(false)
		metrics.FeedConnected.Set(0)
	}()

	l.logger.Info("feed connected", "channels", l.cfg.Channels)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait for notification: %w", err)
		}

		l.forward(Notification{
			Channel:    n.Channel,
			Payload:    n.Payload,
			ReceivedAt: time.Now(),
		})
	}
}

// forward hands n to the router without blocking the connection.
func (l *listener) forward(n Notification) {
	l.received.Add(1)

	select {
	case l.out <- n:
	default:
		l.dropped.Add(1)
		metrics.FeedNotifications.WithLabelValues(n.Channel, metrics.OutcomeDropped).Inc()
		l.logger.Warn("feed buffer full, dropping notification",
			"channel", n.Channel,
			"buffer", l.cfg.BufferSize,
		)
	}
}

func listenSQL(channel string) string {
	return "LISTEN " + pgx.Identifier{channel}.Sanitize()
}
