package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/exchange-notify/internal/auth"
	"github.com/rickgao/exchange-notify/internal/broadcast"
	"github.com/rickgao/exchange-notify/internal/client"
	"github.com/rickgao/exchange-notify/internal/metrics"
	"github.com/rickgao/exchange-notify/internal/subscriptions"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	registry *subscriptions.Registry
	server   *Server
	http     *httptest.Server
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	registry := subscriptions.New(subscriptions.Options{Logger: quietLogger()})
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}

	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 500 * time.Millisecond

	s := New(cfg, registry, opts)
	ts := httptest.NewServer(s.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
		ts.Close()
	})

	return &testEnv{registry: registry, server: s, http: ts}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
}

func (e *testEnv) connect(t *testing.T, cfg client.Config) client.Client {
	t.Helper()
	cfg.URL = e.wsURL()
	cfg.BufferSize = 100
	c := client.New(cfg, quietLogger())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func nextMessage(t *testing.T, c client.Client) client.Message {
	t.Helper()
	select {
	case msg := <-c.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return client.Message{}
	}
}

func expectNoMessage(t *testing.T, c client.Client) {
	t.Helper()
	select {
	case msg := <-c.Messages():
		t.Fatalf("unexpected message: binary=%v %q", msg.Binary, msg.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServer_AnonymousGetsPublicOnly(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.connect(t, client.DefaultConfig())

	waitFor(t, "public subscription", func() bool { return env.registry.Stats().PublicReceivers == 1 })

	env.registry.SendPublic([]byte(`{"type":"market_settled"}`))

	msg := nextMessage(t, c)
	if !msg.Binary {
		t.Error("public payload was not sent as a binary frame")
	}
	if string(msg.Data) != `{"type":"market_settled"}` {
		t.Errorf("Data = %q", msg.Data)
	}

	stats := env.registry.Stats()
	if stats.PortfolioEntries != 0 || stats.PaymentEntries != 0 {
		t.Errorf("anonymous session created per-user entries: %+v", stats)
	}
}

func TestServer_UserSession(t *testing.T) {
	env := newTestEnv(t, Options{})

	cfg := client.DefaultConfig()
	cfg.UserID = "u1"
	c := env.connect(t, cfg)

	waitFor(t, "user subscriptions", func() bool {
		s := env.registry.Stats()
		return s.PortfolioEntries == 1 && s.PaymentEntries == 1 && s.PublicReceivers == 1
	})

	env.registry.SendPayment("u1", []byte(`{"amount":100}`))
	msg := nextMessage(t, c)
	if !msg.Binary || string(msg.Data) != `{"amount":100}` {
		t.Errorf("payment frame = binary=%v %q", msg.Binary, msg.Data)
	}

	env.registry.NotifyUserPortfolio("u1")
	msg = nextMessage(t, c)
	if msg.Binary || string(msg.Data) != string(PortfolioChangedFrame) {
		t.Errorf("portfolio frame = binary=%v %q", msg.Binary, msg.Data)
	}

	// Another user's events never reach this session.
	env.registry.SendPayment("u2", []byte("other"))
	env.registry.NotifyUserPortfolio("u2")
	expectNoMessage(t, c)
}

func TestServer_CustomRenderer(t *testing.T) {
	renderer := PortfolioRendererFunc(func(_ context.Context, userID string) ([]byte, error) {
		return []byte(`{"user":"` + userID + `"}`), nil
	})
	env := newTestEnv(t, Options{Renderer: renderer})

	cfg := client.DefaultConfig()
	cfg.UserID = "u7"
	c := env.connect(t, cfg)

	waitFor(t, "portfolio subscription", func() bool { return env.registry.Stats().PortfolioEntries == 1 })

	env.registry.NotifyUserPortfolio("u7")
	if msg := nextMessage(t, c); string(msg.Data) != `{"user":"u7"}` {
		t.Errorf("Data = %q", msg.Data)
	}
}

func TestServer_Verifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	env := newTestEnv(t, Options{Verifier: auth.NewVerifier(&key.PublicKey, time.Minute)})

	t.Run("unsigned user rejected", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.WebSocketAuthFailures)

		cfg := client.DefaultConfig()
		cfg.URL = env.wsURL()
		cfg.UserID = "u1"
		c := client.New(cfg, quietLogger())
		defer c.Close()

		err := c.Connect(context.Background())
		if err == nil || !strings.Contains(err.Error(), "status 401") {
			t.Fatalf("Connect() error = %v, want status 401", err)
		}
		if got := testutil.ToFloat64(metrics.WebSocketAuthFailures) - before; got != 1 {
			t.Errorf("auth failures delta = %v, want 1", got)
		}
	})

	t.Run("signed user accepted", func(t *testing.T) {
		cfg := client.DefaultConfig()
		cfg.Signer = &auth.Signer{UserID: "u1", PrivateKey: key}
		c := env.connect(t, cfg)

		waitFor(t, "payment subscription", func() bool { return env.registry.Stats().PaymentEntries == 1 })

		env.registry.SendPayment("u1", []byte("paid"))
		if msg := nextMessage(t, c); string(msg.Data) != "paid" {
			t.Errorf("Data = %q, want paid", msg.Data)
		}
	})

	t.Run("anonymous accepted", func(t *testing.T) {
		env.connect(t, client.DefaultConfig())
	})
}

func TestServer_DisconnectClosesReceivers(t *testing.T) {
	env := newTestEnv(t, Options{})

	cfg := client.DefaultConfig()
	cfg.UserID = "u1"
	c := env.connect(t, cfg)

	waitFor(t, "public subscription", func() bool { return env.registry.Stats().PublicReceivers == 1 })

	c.Close()

	waitFor(t, "receivers closed", func() bool { return env.registry.Stats().PublicReceivers == 0 })

	// Entries outlive their receivers.
	if got := env.registry.Stats().PaymentEntries; got != 1 {
		t.Errorf("PaymentEntries = %d, want 1", got)
	}
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.connect(t, client.DefaultConfig())

	waitFor(t, "public subscription", func() bool { return env.registry.Stats().PublicReceivers == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := env.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	select {
	case err := <-c.Errors():
		if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Errorf("client error = %v, want close going away", err)
		}
	case <-time.After(time.Second):
		t.Fatal("client was not disconnected by Shutdown")
	}

	if got := env.registry.Stats().PublicReceivers; got != 0 {
		t.Errorf("PublicReceivers = %d, want 0", got)
	}

	resp, err := http.Get(env.http.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after Shutdown = %d, want 503", resp.StatusCode)
	}
}

func TestServer_Pings(t *testing.T) {
	env := newTestEnv(t, Options{})

	// Bypass the client package to observe pings directly.
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	pings := make(chan struct{}, 1)
	conn.SetPingHandler(func(string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pings:
	case <-time.After(time.Second):
		t.Fatal("no ping received")
	}
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name         string
		db           Pinger
		wantStatus   int
		wantBody     string
		wantDatabase string
	}{
		{"no database", nil, http.StatusOK, "ok", ""},
		{"database up", fakePinger{}, http.StatusOK, "ok", "ok"},
		{"database down", fakePinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "degraded", "unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{Database: tt.db})
			rx := env.registry.SubscribePayments("u1")
			defer rx.Close()

			resp, err := http.Get(env.http.URL + "/health")
			if err != nil {
				t.Fatalf("GET /health: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body healthResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("Status = %q, want %q", body.Status, tt.wantBody)
			}
			if body.Database != tt.wantDatabase {
				t.Errorf("Database = %q, want %q", body.Database, tt.wantDatabase)
			}
			if body.Registry.PaymentEntries != 1 {
				t.Errorf("Registry.PaymentEntries = %d, want 1", body.Registry.PaymentEntries)
			}
		})
	}
}

func TestSession_PumpSkipsLaggedMessages(t *testing.T) {
	ch := broadcast.New[[]byte](2)
	rx := ch.Subscribe()
	defer rx.Close()

	for i := 0; i < 5; i++ {
		ch.Send([]byte{byte(i)})
	}

	cfg := DefaultConfig()
	cfg.SendBufferSize = 10
	s := newSession("test", "", nil, cfg, StaticPortfolioRenderer, quietLogger())

	before := testutil.ToFloat64(metrics.ReceiverLagged.WithLabelValues(metrics.FamilyPublic))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.pumpBroadcast(ctx, metrics.FamilyPublic, rx)
	}()

	for _, want := range []byte{3, 4} {
		select {
		case f := <-s.out:
			if f.data[0] != want || f.messageType != websocket.BinaryMessage {
				t.Errorf("frame = %v type %d, want %d binary", f.data, f.messageType, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %d", want)
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("pumpBroadcast() error = %v, want context.Canceled", err)
	}

	if got := testutil.ToFloat64(metrics.ReceiverLagged.WithLabelValues(metrics.FamilyPublic)) - before; got != 3 {
		t.Errorf("lagged delta = %v, want 3", got)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{PingInterval: 10 * time.Second, PongTimeout: 5 * time.Second}.withDefaults()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.PongTimeout != 20*time.Second {
		t.Errorf("PongTimeout = %v, want 20s", cfg.PongTimeout)
	}
	if cfg.SendBufferSize != 64 {
		t.Errorf("SendBufferSize = %d, want 64", cfg.SendBufferSize)
	}
}
