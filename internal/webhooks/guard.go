// Package webhooks holds the Redis fast path for provider event replays. The
// webhook_events table stays the durable guard; the cache only short-circuits
// redeliveries that are already committed.
package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/commerce-engine/pkg/enums"
	"github.com/angelmondragon/commerce-engine/pkg/redis"
)

const scope = "webhook"

type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

func (g *IdempotencyGuard) key(gateway enums.PaymentGateway, eventID string) string {
	return g.store.IdempotencyKey(scope, string(gateway)+":"+eventID)
}

// Seen reports whether the event was marked after a committed apply.
func (g *IdempotencyGuard) Seen(ctx context.Context, gateway enums.PaymentGateway, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	_, err := g.store.Get(ctx, g.key(gateway, eventID))
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get idempotency key: %w", err)
	}
	return true, nil
}

// Mark records the event once its transaction committed.
func (g *IdempotencyGuard) Mark(ctx context.Context, gateway enums.PaymentGateway, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if _, err := g.store.SetNX(ctx, g.key(gateway, eventID), "1", g.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}
