package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/exchange-notify/internal/broadcast"
	"github.com/rickgao/exchange-notify/internal/metrics"
	"github.com/rickgao/exchange-notify/internal/watch"
)

// frame is one outbound WebSocket message.
type frame struct {
	family      string
	messageType int
	data        []byte
}

// session serves a single WebSocket connection.
type session struct {
	id       string
	userID   string // Empty for anonymous sessions
	conn     *websocket.Conn
	cfg      Config
	renderer PortfolioRenderer
	logger   *slog.Logger

	// Pumps feed the writer through out.
	out chan frame
}

func newSession(id, userID string, conn *websocket.Conn, cfg Config, renderer PortfolioRenderer, logger *slog.Logger) *session {
	return &session{
		id:       id,
		userID:   userID,
		conn:     conn,
		cfg:      cfg,
		renderer: renderer,
		logger:   logger.With("session_id", id, "user_id", userID),
		out:      make(chan frame, cfg.SendBufferSize),
	}
}

func (s *session) kind() string {
	if s.userID == "" {
		return "anonymous"
	}
	return "user"
}

// run subscribes, pumps until the first goroutine fails, then closes
// every receiver and the connection.
func (s *session) run(ctx context.Context, subs Subscriber) {
	metrics.WebSocketSessionsTotal.Inc()
	metrics.WebSocketSessionsCurrent.WithLabelValues(s.kind()).Inc()
	defer metrics.WebSocketSessionsCurrent.WithLabelValues(s.kind()).Dec()

	s.logger.Info("session started", "remote_addr", s.conn.RemoteAddr().String())
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)

	public := subs.SubscribePublic()
	defer public.Close()
	g.Go(func() error {
		return s.pumpBroadcast(ctx, metrics.FamilyPublic, public)
	})

	if s.userID != "" {
		portfolio := subs.SubscribePortfolio(s.userID)
		defer portfolio.Close()
		g.Go(func() error {
			return s.pumpPortfolio(ctx, portfolio)
		})

		payments := subs.SubscribePayments(s.userID)
		defer payments.Close()
		g.Go(func() error {
			return s.pumpBroadcast(ctx, metrics.FamilyPayments, payments)
		})
	}

	g.Go(s.readLoop)
	g.Go(func() error {
		return s.writeLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		s.close()
		return nil
	})

	err := g.Wait()

	attrs := []any{"duration", time.Since(start)}
	if isNormalClose(err) {
		s.logger.Info("session ended", attrs...)
	} else {
		s.logger.Warn("session ended", append(attrs, "error", err)...)
	}
}

// pumpBroadcast forwards rx to the writer. A lagged receiver skips ahead
// and keeps going.
func (s *session) pumpBroadcast(ctx context.Context, family string, rx *broadcast.Receiver[[]byte]) error {
	for {
		msg, err := rx.Recv(ctx)

		var lagged *broadcast.LaggedError
		if errors.As(err, &lagged) {
			metrics.ReceiverLagged.WithLabelValues(family).Add(float64(lagged.Missed))
			s.logger.Warn("receiver lagged",
				"family", family,
				"missed", lagged.Missed,
			)
			continue
		}
		if err != nil {
			return err
		}

		if err := s.enqueue(ctx, frame{family: family, messageType: websocket.BinaryMessage, data: msg}); err != nil {
			return err
		}
	}
}

// pumpPortfolio renders one frame per observed change. Changes that arrive
// while a frame is queued collapse into the next one.
func (s *session) pumpPortfolio(ctx context.Context, rx *watch.Receiver) error {
	for {
		if err := rx.Changed(ctx); err != nil {
			return err
		}

		data, err := s.renderer.RenderPortfolio(ctx, s.userID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to render portfolio", "error", err)
			continue
		}

		if err := s.enqueue(ctx, frame{family: metrics.FamilyPortfolio, messageType: websocket.TextMessage, data: data}); err != nil {
			return err
		}
	}
}

func (s *session) enqueue(ctx context.Context, f frame) error {
	select {
	case s.out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop is the only goroutine that writes data frames.
func (s *session) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case f := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(f.messageType, f.data); err != nil {
				metrics.WebSocketWriteFailures.Inc()
				return err
			}
			metrics.WebSocketFramesSent.WithLabelValues(f.family).Inc()

		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				metrics.WebSocketWriteFailures.Inc()
				return err
			}
		}
	}
}

// readLoop discards client frames and keeps the read deadline moving on pongs.
// It returns when the client goes away or the connection is closed.
func (s *session) readLoop() error {
	s.conn.SetReadLimit(s.cfg.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return err
		}
	}
}

// close sends a close frame and closes the connection, which unblocks readLoop.
func (s *session) close() {
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second),
	)
	s.conn.Close()
}

func isNormalClose(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
