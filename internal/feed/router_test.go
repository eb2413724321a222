package feed

import (
	"context"
	"sync"
	"testing"
	"time"
)

type published struct {
	family  string
	userID  string
	payload string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) SendPublic(payload []byte) {
	p.record(published{family: "public", payload: string(payload)})
}

func (p *fakePublisher) NotifyUserPortfolio(userID string) {
	p.record(published{family: "portfolio", userID: userID})
}

func (p *fakePublisher) SendPayment(userID string, payload []byte) {
	p.record(published{family: "payments", userID: userID, payload: string(payload)})
}

func (p *fakePublisher) record(e published) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *fakePublisher) snapshot() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

func testRouterConfig() RouterConfig {
	return RouterConfig{
		PublicChannel:    "public_events",
		PortfolioChannel: "portfolio_changed",
		PaymentChannel:   "payment_events",
	}
}

func TestRouter_Route(t *testing.T) {
	tests := []struct {
		name    string
		n       Notification
		want    []published
		wantErr bool
		unknown bool
	}{
		{
			name: "public",
			n:    Notification{Channel: "public_events", Payload: `{"type":"market_settled","market":"m1"}`},
			want: []published{{family: "public", payload: `{"type":"market_settled","market":"m1"}`}},
		},
		{
			name: "portfolio",
			n:    Notification{Channel: "portfolio_changed", Payload: "user-1"},
			want: []published{{family: "portfolio", userID: "user-1"}},
		},
		{
			name: "portfolio trims whitespace",
			n:    Notification{Channel: "portfolio_changed", Payload: " user-1\n"},
			want: []published{{family: "portfolio", userID: "user-1"}},
		},
		{
			name:    "portfolio empty",
			n:       Notification{Channel: "portfolio_changed", Payload: "  "},
			wantErr: true,
		},
		{
			name: "payment",
			n:    Notification{Channel: "payment_events", Payload: `{"user_id":"user-2","payload":{"amount":100}}`},
			want: []published{{family: "payments", userID: "user-2", payload: `{"amount":100}`}},
		},
		{
			name:    "payment missing user",
			n:       Notification{Channel: "payment_events", Payload: `{"payload":{"amount":100}}`},
			wantErr: true,
		},
		{
			name:    "payment missing payload",
			n:       Notification{Channel: "payment_events", Payload: `{"user_id":"user-2"}`},
			wantErr: true,
		},
		{
			name:    "payment null payload",
			n:       Notification{Channel: "payment_events", Payload: `{"user_id":"user-2","payload":null}`},
			wantErr: true,
		},
		{
			name:    "payment invalid json",
			n:       Notification{Channel: "payment_events", Payload: `not json`},
			wantErr: true,
		},
		{
			name:    "unknown channel",
			n:       Notification{Channel: "something_else", Payload: "x"},
			unknown: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			r := NewRouter(testRouterConfig(), nil, pub, nil).(*router)

			r.route(tt.n)

			got := pub.snapshot()
			if len(got) != len(tt.want) {
				t.Fatalf("published %d events, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}

			stats := r.Stats()
			if stats.Received != 1 {
				t.Errorf("Received = %d, want 1", stats.Received)
			}

			var wantRouted, wantParse, wantUnknown int64
			switch {
			case tt.wantErr:
				wantParse = 1
			case tt.unknown:
				wantUnknown = 1
			default:
				wantRouted = 1
			}
			if stats.Routed != wantRouted || stats.ParseErrors != wantParse || stats.Unknown != wantUnknown {
				t.Errorf("Stats() = %+v, want routed=%d parse=%d unknown=%d",
					stats, wantRouted, wantParse, wantUnknown)
			}
		})
	}
}

func TestRouter_StartStop(t *testing.T) {
	input := make(chan Notification, 10)
	pub := &fakePublisher{}
	r := NewRouter(testRouterConfig(), input, pub, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	input <- Notification{Channel: "public_events", Payload: "a"}
	input <- Notification{Channel: "portfolio_changed", Payload: "u1"}
	input <- Notification{Channel: "public_events", Payload: "b"}

	deadline := time.After(time.Second)
	for r.Stats().Routed < 3 {
		select {
		case <-deadline:
			t.Fatalf("routed %d notifications, want 3", r.Stats().Routed)
		case <-time.After(5 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error: %v", err)
	}

	got := pub.snapshot()
	want := []published{
		{family: "public", payload: "a"},
		{family: "portfolio", userID: "u1"},
		{family: "public", payload: "b"},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRouter_InputClosed(t *testing.T) {
	input := make(chan Notification)
	r := NewRouter(testRouterConfig(), input, &fakePublisher{}, nil).(*router)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	close(input)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not exit after input closed")
	}
}

func TestRouterConfig_Channels(t *testing.T) {
	got := testRouterConfig().Channels()
	want := []string{"public_events", "portfolio_changed", "payment_events"}
	if len(got) != len(want) {
		t.Fatalf("Channels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Channels()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
