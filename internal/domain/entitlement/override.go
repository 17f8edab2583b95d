package entitlement

import (
	"context"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
)

// Override pins a feature value for one tenant regardless of plan
type Override struct {
	ID       string `db:"id" json:"id"`
	TenantID string `db:"tenant_id" json:"tenant_id"`
	Key      string `db:"key" json:"key"`
	Enabled  bool   `db:"enabled" json:"enabled"`
	Limit    *int   `db:"limit_value" json:"limit,omitempty"`
	Reason   string `db:"reason" json:"reason"`

	types.BaseModel
}

func (o *Override) Validate() error {
	if o.TenantID == "" || o.Key == "" {
		return ierr.NewError("tenant and key are required").
			WithHint("An override needs a tenant and a feature key").
			Mark(ierr.ErrValidation)
	}
	if o.Limit != nil && *o.Limit < 0 {
		return ierr.NewError("negative override limit").
			WithHint("Limit cannot be negative").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// OverrideRepository persists tenant overrides
type OverrideRepository interface {
	// Upsert creates or replaces the override for (tenant, key)
	Upsert(ctx context.Context, override *Override) error
	Delete(ctx context.Context, tenantID, key string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*Override, error)
}
