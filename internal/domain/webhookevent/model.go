package webhookevent

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/types"
)

// ProcessedEvent records that a provider event id has been applied
type ProcessedEvent struct {
	Provider   types.PaymentProvider `db:"provider" json:"provider"`
	EventID    string                `db:"event_id" json:"event_id"`
	EventType  string                `db:"event_type" json:"event_type"`
	TenantID   string                `db:"tenant_id" json:"tenant_id"`
	ReceivedAt time.Time             `db:"received_at" json:"received_at"`
}

// Repository is the dedup ledger for inbound provider events
type Repository interface {
	// MarkProcessed records the event and reports false when it was already recorded
	MarkProcessed(ctx context.Context, event *ProcessedEvent) (bool, error)
	Exists(ctx context.Context, provider types.PaymentProvider, eventID string) (bool, error)
}
