// Package breaker guards outbound calls to payment and shipping providers.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned without calling the dependency while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Settings configures one breaker.
type Settings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// CallTimeout bounds each guarded call; zero leaves the caller's deadline alone.
	CallTimeout time.Duration
	// IsFailure decides which errors count against the breaker. Defaults to any non-nil error.
	IsFailure func(error) bool
}

// Observer receives state changes and fail-fast rejections.
type Observer interface {
	SetState(name string, state int)
	IncRejected(name string)
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name     string
	settings Settings
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New builds a closed breaker.
func New(name string, settings Settings, observer Observer) *Breaker {
	if settings.FailureThreshold <= 0 {
		settings.FailureThreshold = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}
	b := &Breaker{
		name:     name,
		settings: settings,
		observer: observer,
		now:      time.Now,
	}
	b.report()
	return b
}

// Name returns the guarded dependency name.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current position, moving Open to HalfOpen once the reset timeout elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

// Execute runs fn unless the breaker is open. Only one probe runs while half-open.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	callCtx := ctx
	if b.settings.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.settings.CallTimeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err == nil && callCtx.Err() != nil && ctx.Err() == nil {
		err = callCtx.Err()
	}
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	switch b.state {
	case StateOpen:
		b.reject()
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	case StateHalfOpen:
		if b.probing {
			b.reject()
			return fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasHalfOpen := b.state == StateHalfOpen
	b.probing = false

	if err == nil || !b.settings.IsFailure(err) {
		if wasHalfOpen || b.failures > 0 {
			b.failures = 0
			b.setStateLocked(StateClosed)
		}
		return
	}

	b.failures++
	if wasHalfOpen || b.failures >= b.settings.FailureThreshold {
		b.openedAt = b.now()
		b.setStateLocked(StateOpen)
	}
}

func (b *Breaker) advanceLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		b.setStateLocked(StateHalfOpen)
	}
}

func (b *Breaker) setStateLocked(state State) {
	if b.state == state {
		return
	}
	b.state = state
	b.report()
}

func (b *Breaker) report() {
	if b.observer != nil {
		b.observer.SetState(b.name, int(b.state))
	}
}

func (b *Breaker) reject() {
	if b.observer != nil {
		b.observer.IncRejected(b.name)
	}
}
