package audit

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/types"
)

// Log is an append-only record of a billing state change
type Log struct {
	ID         string            `db:"id" json:"id"`
	TenantID   string            `db:"tenant_id" json:"tenant_id"`
	ActorType  types.ActorType   `db:"actor_type" json:"actor_type"`
	ActorID    string            `db:"actor_id" json:"actor_id"`
	Action     types.AuditAction `db:"action" json:"action"`
	EntityType string            `db:"entity_type" json:"entity_type"`
	EntityID   string            `db:"entity_id" json:"entity_id"`
	Reason     string            `db:"reason" json:"reason"`
	Metadata   types.JSONMap     `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
}

// New builds a log entry attributed to the actor on ctx
func New(ctx context.Context, tenantID string, action types.AuditAction, entityType, entityID, reason string, metadata map[string]any) *Log {
	return &Log{
		ID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_AUDIT),
		TenantID:   tenantID,
		ActorType:  types.GetActorType(ctx),
		ActorID:    types.GetUserID(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
}

// Repository persists audit records
type Repository interface {
	Create(ctx context.Context, log *Log) error
	List(ctx context.Context, filter *types.AuditFilter) ([]*Log, error)
	Count(ctx context.Context, filter *types.AuditFilter) (int, error)
}
