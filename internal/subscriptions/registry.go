package subscriptions

import (
	"log/slog"

	"github.com/rickgao/exchange-notify/internal/broadcast"
	"github.com/rickgao/exchange-notify/internal/metrics"
	"github.com/rickgao/exchange-notify/internal/watch"
)

// Default channel capacities.
const (
	DefaultPublicCapacity  = 256
	DefaultPaymentCapacity = 16
)

// Options configures a Registry.
type Options struct {
	PublicCapacity  int // Default: 256
	PaymentCapacity int // Default: 16
	Logger          *slog.Logger
}

// DefaultOptions returns default options.
func DefaultOptions() Options {
	return Options{
		PublicCapacity:  DefaultPublicCapacity,
		PaymentCapacity: DefaultPaymentCapacity,
		Logger:          slog.Default(),
	}
}

// Registry fans notifications out to subscribers. A *Registry is safe for
// concurrent use and is meant to be created once and shared by every caller.
type Registry struct {
	logger *slog.Logger

	// user id -> change signal
	portfolio *family[*watch.Sender]

	// serialized market, market-settled, order-created and order-canceled events
	public *broadcast.Channel[[]byte]

	// user id -> serialized payment events
	payments *family[*broadcast.Channel[[]byte]]
}

// Stats is a point-in-time view of the registry size.
type Stats struct {
	PortfolioEntries int `json:"portfolio_entries"`
	PaymentEntries   int `json:"payment_entries"`
	PublicReceivers  int `json:"public_receivers"`
}

// New creates a Registry. Zero capacities fall back to the defaults.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PublicCapacity <= 0 {
		opts.PublicCapacity = DefaultPublicCapacity
	}
	if opts.PaymentCapacity <= 0 {
		opts.PaymentCapacity = DefaultPaymentCapacity
	}

	paymentCapacity := opts.PaymentCapacity

	return &Registry{
		logger:    opts.Logger,
		portfolio: newFamily(watch.NewSender),
		public:    broadcast.New[[]byte](opts.PublicCapacity),
		payments: newFamily(func() *broadcast.Channel[[]byte] {
			return broadcast.New[[]byte](paymentCapacity)
		}),
	}
}

// SubscribePortfolio returns a receiver that is signalled whenever the user's
// portfolio may have changed.
func (r *Registry) SubscribePortfolio(userID string) *watch.Receiver {
	sender, created := r.portfolio.getOrCreate(userID)
	if created {
		r.entryCreated(metrics.FamilyPortfolio, userID)
	}
	return sender.Subscribe()
}

// NotifyUserPortfolio signals the user's portfolio subscribers. Unread
// signals are coalesced. Users that never subscribed are ignored.
func (r *Registry) NotifyUserPortfolio(userID string) {
	sender, ok := r.portfolio.get(userID)
	if !ok {
		metrics.MessagesDiscarded.WithLabelValues(metrics.FamilyPortfolio, metrics.ReasonNoEntry).Inc()
		return
	}
	r.delivered(metrics.FamilyPortfolio, sender.Notify())
}

// SubscribePublic returns a receiver for the global public channel.
func (r *Registry) SubscribePublic() *broadcast.Receiver[[]byte] {
	return r.public.Subscribe()
}

// SendPublic broadcasts payload to every public receiver.
func (r *Registry) SendPublic(payload []byte) {
	r.delivered(metrics.FamilyPublic, r.public.Send(payload))
}

// SubscribePayments returns a receiver for the user's payment events.
func (r *Registry) SubscribePayments(userID string) *broadcast.Receiver[[]byte] {
	ch, created := r.payments.getOrCreate(userID)
	if created {
		r.entryCreated(metrics.FamilyPayments, userID)
	}
	return ch.Subscribe()
}

// SendPayment broadcasts payload to the user's payment receivers. Users that
// never subscribed are ignored.
func (r *Registry) SendPayment(userID string, payload []byte) {
	ch, ok := r.payments.get(userID)
	if !ok {
		metrics.MessagesDiscarded.WithLabelValues(metrics.FamilyPayments, metrics.ReasonNoEntry).Inc()
		return
	}
	r.delivered(metrics.FamilyPayments, ch.Send(payload))
}

// Stats returns current registry sizes.
func (r *Registry) Stats() Stats {
	return Stats{
		PortfolioEntries: r.portfolio.len(),
		PaymentEntries:   r.payments.len(),
		PublicReceivers:  r.public.ReceiverCount(),
	}
}

func (r *Registry) entryCreated(family, userID string) {
	metrics.RegistryEntries.WithLabelValues(family).Inc()
	r.logger.Debug("registry entry created", "family", family, "user_id", userID)
}

func (r *Registry) delivered(family string, receivers int) {
	if receivers == 0 {
		metrics.MessagesDiscarded.WithLabelValues(family, metrics.ReasonNoReceivers).Inc()
		return
	}
	metrics.MessagesPublished.WithLabelValues(family).Inc()
}
