package outbox

import (
	"encoding/json"
	"time"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

// Common actors for engine-originated events.
var (
	ActorSystem   = &ActorRef{Kind: "system"}
	ActorOperator = &ActorRef{Kind: "operator"}
)

// WebhookActor attributes an event to a provider callback.
func WebhookActor(gateway string) *ActorRef {
	return &ActorRef{Kind: "webhook", ID: gateway}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
