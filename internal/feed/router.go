package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rickgao/exchange-notify/internal/metrics"
)

// Parse errors.
var (
	ErrEmptyUserID  = errors.New("empty user id")
	ErrEmptyPayload = errors.New("empty payload")
)

// Publisher is the registry side of the router. *subscriptions.Registry
// satisfies it.
type Publisher interface {
	SendPublic(payload []byte)
	NotifyUserPortfolio(userID string)
	SendPayment(userID string, payload []byte)
}

// Router dispatches notifications to a Publisher.
type Router interface {
	// Start begins routing notifications from the input channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router.
	Stop(ctx context.Context) error

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	Received    int64
	Routed      int64
	ParseErrors int64
	Unknown     int64
}

type router struct {
	cfg    RouterConfig
	pub    Publisher
	logger *slog.Logger

	input <-chan Notification

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	received    int64
	routed      int64
	parseErrors int64
	unknown     int64
}

// NewRouter creates a Router reading from input.
func NewRouter(cfg RouterConfig, input <-chan Notification, pub Publisher, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:    cfg,
		pub:    pub,
		logger: logger,
		input:  input,
	}
}

// Start begins routing.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("feed router started",
		"public_channel", r.cfg.PublicChannel,
		"portfolio_channel", r.cfg.PortfolioChannel,
		"payment_channel", r.cfg.PaymentChannel,
	)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping feed router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("feed router stopped")
	case <-ctx.Done():
		r.logger.Warn("feed router stop timed out")
	}

	return nil
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		Received:    r.received,
		Routed:      r.routed,
		ParseErrors: r.parseErrors,
		Unknown:     r.unknown,
	}
}

func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case n, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.route(n)
		}
	}
}

// route dispatches a single notification.
func (r *router) route(n Notification) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	var err error

	switch n.Channel {
	case r.cfg.PublicChannel:
		r.pub.SendPublic([]byte(n.Payload))

	case r.cfg.PortfolioChannel:
		err = r.routePortfolio(n.Payload)

	case r.cfg.PaymentChannel:
		err = r.routePayment(n.Payload)

	default:
		r.logger.Debug("skipping notification on unknown channel", "channel", n.Channel)
		r.mu.Lock()
		r.unknown++
		r.mu.Unlock()
		metrics.FeedNotifications.WithLabelValues(n.Channel, metrics.OutcomeUnknown).Inc()
		return
	}

	if err != nil {
		r.logger.Warn("failed to parse notification",
			"channel", n.Channel,
			"error", err,
		)
		r.mu.Lock()
		r.parseErrors++
		r.mu.Unlock()
		metrics.FeedNotifications.WithLabelValues(n.Channel, metrics.OutcomeParseError).Inc()
		return
	}

	r.mu.Lock()
	r.routed++
	r.mu.Unlock()
	metrics.FeedNotifications.WithLabelValues(n.Channel, metrics.OutcomeRouted).Inc()
}

func (r *router) routePortfolio(payload string) error {
	userID := strings.TrimSpace(payload)
	if userID == "" {
		return ErrEmptyUserID
	}

	r.pub.NotifyUserPortfolio(userID)
	return nil
}

func (r *router) routePayment(payload string) error {
	var ev paymentEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fmt.Errorf("decode payment event: %w", err)
	}

	if ev.UserID == "" {
		return ErrEmptyUserID
	}
	if len(ev.Payload) == 0 || bytes.Equal(ev.Payload, []byte("null")) {
		return ErrEmptyPayload
	}

	r.pub.SendPayment(ev.UserID, ev.Payload)
	return nil
}
