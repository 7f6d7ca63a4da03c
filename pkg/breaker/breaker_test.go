package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/commerce-engine/pkg/config"
	pkgerrors "github.com/angelmondragon/commerce-engine/pkg/errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	states   []int
	rejected int
}

func (o *recordingObserver) SetState(_ string, state int) { o.states = append(o.states, state) }
func (o *recordingObserver) IncRejected(string)          { o.rejected++ }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *fakeClock, *recordingObserver) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	obs := &recordingObserver{}
	b := New("stripe", Settings{FailureThreshold: threshold, ResetTimeout: reset}, obs)
	b.now = clock.Now
	return b, clock, obs
}

var errBoom = errors.New("boom")

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, _, obs := newTestBreaker(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	called := false
	err := b.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not call the dependency")
	}
	if obs.rejected != 1 {
		t.Fatalf("expected one rejection, got %d", obs.rejected)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _, _ := newTestBreaker(2, time.Minute)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	_ = b.Execute(ctx, succeed)
	_ = b.Execute(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("non-consecutive failures must not open the breaker, got %s", b.State())
	}
}

func TestBreakerHalfOpenClosesOnSuccess(t *testing.T) {
	b, clock, obs := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(31 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after timeout, got %s", b.State())
	}
	if err := b.Execute(ctx, succeed); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}

	want := []int{int(StateClosed), int(StateOpen), int(StateHalfOpen), int(StateClosed)}
	if len(obs.states) != len(want) {
		t.Fatalf("unexpected state reports %v", obs.states)
	}
	for i := range want {
		if obs.states[i] != want[i] {
			t.Fatalf("unexpected state reports %v", obs.states)
		}
	}
}

func TestBreakerHalfOpenReopensOnFailure(t *testing.T) {
	b, clock, _ := newTestBreaker(1, 30*time.Second)
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(30 * time.Second)
	_ = b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("expected re-open after failed probe, got %s", b.State())
	}
	if err := b.Execute(ctx, succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fail fast after re-open, got %v", err)
	}
}

func TestBreakerCallTimeoutCountsAsFailure(t *testing.T) {
	b := New("courier", Settings{FailureThreshold: 1, ResetTimeout: time.Minute, CallTimeout: 10 * time.Millisecond}, nil)
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if b.State() != StateOpen {
		t.Fatalf("timeout should open a threshold-1 breaker, got %s", b.State())
	}
}

func TestSettingsFromConfigIgnoresRejections(t *testing.T) {
	settings := SettingsFromConfig(config.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	b := New("sslcommerz", settings, nil)

	err := b.Execute(context.Background(), func(context.Context) error {
		return pkgerrors.New(pkgerrors.CodeGatewayRejected, "card declined")
	})
	if err == nil {
		t.Fatal("expected the rejection to surface")
	}
	if b.State() != StateClosed {
		t.Fatalf("rejections must not trip the breaker, got %s", b.State())
	}

	_ = b.Execute(context.Background(), func(context.Context) error {
		return pkgerrors.New(pkgerrors.CodeDependency, "502 from provider")
	})
	if b.State() != StateOpen {
		t.Fatalf("dependency errors must trip the breaker, got %s", b.State())
	}
}

func TestRegistryReturnsSameBreakerPerName(t *testing.T) {
	reg := NewRegistry(Settings{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)
	if reg.Get("stripe") != reg.Get("stripe") {
		t.Fatal("expected the same breaker instance")
	}
	if reg.Get("stripe") == reg.Get("paypal") {
		t.Fatal("expected distinct breakers per name")
	}
}
