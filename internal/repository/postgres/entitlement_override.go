package postgres

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/domain/entitlement"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
)

type entitlementOverrideRepository struct {
	db  *postgres.DB
	log *logger.Logger
}

func NewEntitlementOverrideRepository(db *postgres.DB, log *logger.Logger) entitlement.OverrideRepository {
	return &entitlementOverrideRepository{db: db, log: log}
}

func (r *entitlementOverrideRepository) Upsert(ctx context.Context, o *entitlement.Override) error {
	query := `
		INSERT INTO tenant_entitlement_overrides (
			id, tenant_id, key, enabled, limit_value, reason, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :tenant_id, :key, :enabled, :limit_value, :reason, :created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (tenant_id, key) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			limit_value = EXCLUDED.limit_value,
			reason = EXCLUDED.reason,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, o); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to save entitlement override").
			WithReportableDetails(map[string]any{
				"tenant_id": o.TenantID,
				"key":       o.Key,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *entitlementOverrideRepository) Delete(ctx context.Context, tenantID, key string) error {
	result, err := r.db.GetQuerier(ctx).ExecContext(ctx,
		`DELETE FROM tenant_entitlement_overrides WHERE tenant_id = $1 AND key = $2`, tenantID, key)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete entitlement override").
			Mark(ierr.ErrDatabase)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ierr.NewError("override not found").
			WithHintf("No override for %q exists on this tenant", key).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *entitlementOverrideRepository) ListByTenant(ctx context.Context, tenantID string) ([]*entitlement.Override, error) {
	var overrides []*entitlement.Override
	query := `
		SELECT id, tenant_id, key, enabled, limit_value, reason, created_at, updated_at, created_by, updated_by
		FROM tenant_entitlement_overrides
		WHERE tenant_id = $1
		ORDER BY key`
	if err := r.db.GetQuerier(ctx).SelectContext(ctx, &overrides, query, tenantID); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list entitlement overrides").
			Mark(ierr.ErrDatabase)
	}
	return overrides, nil
}
