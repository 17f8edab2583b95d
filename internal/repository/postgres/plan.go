package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	domainPlan "github.com/pewsoft/subscriptions/internal/domain/plan"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

const planColumns = `id, code, name, description, currency, interval, price_minor, is_active, is_default,
	metadata, created_at, updated_at, created_by, updated_by`

type planRepository struct {
	db  *postgres.DB
	log *logger.Logger
}

const singleDefaultIndex = "idx_subscription_plans_single_default"

// defaultConflict means another plan became default concurrently
func defaultConflict(err error, p *domainPlan.Plan) error {
	return ierr.WithError(err).
		WithHint("Another plan became the default, retry the request").
		WithReportableDetails(map[string]any{"code": p.Code}).
		Mark(ierr.ErrVersionConflict)
}

func NewPlanRepository(db *postgres.DB, log *logger.Logger) domainPlan.Repository {
	return &planRepository{db: db, log: log}
}

func (r *planRepository) Create(ctx context.Context, p *domainPlan.Plan) error {
	span := StartRepositorySpan(ctx, "plan", "create", map[string]interface{}{
		"plan_id": p.ID,
		"code":    p.Code,
	})
	defer FinishSpan(span)

	r.log.Debugw("creating plan", "plan_id", p.ID, "code", p.Code)

	query := `
		INSERT INTO subscription_plans (` + planColumns + `)
		VALUES (
			:id, :code, :name, :description, :currency, :interval, :price_minor, :is_active, :is_default,
			:metadata, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, p); err != nil {
		SetSpanError(span, err)
		if constraintViolated(err, singleDefaultIndex) {
			return defaultConflict(err, p)
		}
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHintf("A plan with code %q already exists", p.Code).
				WithReportableDetails(map[string]any{"code": p.Code}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create plan").
			WithReportableDetails(map[string]any{"code": p.Code}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *planRepository) Get(ctx context.Context, id string) (*domainPlan.Plan, error) {
	span := StartRepositorySpan(ctx, "plan", "get", map[string]interface{}{"plan_id": id})
	defer FinishSpan(span)

	var p domainPlan.Plan
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &p, query, id); err != nil {
		SetSpanError(span, err)
		if isNoRows(err) {
			return nil, ierr.WithError(err).
				WithHintf("Plan with ID %s was not found", id).
				WithReportableDetails(map[string]any{"plan_id": id}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get plan").
			Mark(ierr.ErrDatabase)
	}
	return &p, nil
}

func (r *planRepository) GetByCode(ctx context.Context, code string) (*domainPlan.Plan, error) {
	span := StartRepositorySpan(ctx, "plan", "get_by_code", map[string]interface{}{"code": code})
	defer FinishSpan(span)

	var p domainPlan.Plan
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE code = $1`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &p, query, code); err != nil {
		SetSpanError(span, err)
		if isNoRows(err) {
			return nil, ierr.WithError(err).
				WithHintf("Plan %q was not found", code).
				WithReportableDetails(map[string]any{"code": code}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get plan").
			Mark(ierr.ErrDatabase)
	}
	return &p, nil
}

func (r *planRepository) List(ctx context.Context, filter *types.PlanFilter) ([]*domainPlan.Plan, error) {
	if filter == nil {
		filter = types.NewPlanFilter()
	}

	span := StartRepositorySpan(ctx, "plan", "list", map[string]interface{}{
		"include_inactive": filter.IncludeInactive,
	})
	defer FinishSpan(span)

	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE 1 = 1`
	args := []interface{}{}
	if !filter.IncludeInactive {
		query += ` AND is_active = TRUE`
	}
	if len(filter.Codes) > 0 {
		query += ` AND code IN (?)`
		args = append(args, filter.Codes)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if !filter.IsUnlimited() {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.GetLimit(), filter.GetOffset())
	}

	q := r.db.GetQuerier(ctx)
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list plans").Mark(ierr.ErrDatabase)
	}

	var plans []*domainPlan.Plan
	if err := q.SelectContext(ctx, &plans, q.Rebind(query), args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list plans").
			Mark(ierr.ErrDatabase)
	}
	return plans, nil
}

func (r *planRepository) Update(ctx context.Context, p *domainPlan.Plan) error {
	span := StartRepositorySpan(ctx, "plan", "update", map[string]interface{}{"plan_id": p.ID})
	defer FinishSpan(span)

	query := `
		UPDATE subscription_plans SET
			name = :name,
			description = :description,
			currency = :currency,
			interval = :interval,
			price_minor = :price_minor,
			is_active = :is_active,
			is_default = :is_default,
			metadata = :metadata,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id`

	result, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, p)
	if err != nil {
		SetSpanError(span, err)
		if constraintViolated(err, singleDefaultIndex) {
			return defaultConflict(err, p)
		}
		return ierr.WithError(err).
			WithHint("Failed to update plan").
			WithReportableDetails(map[string]any{"plan_id": p.ID}).
			Mark(ierr.ErrDatabase)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ierr.NewError("plan not found").
			WithHintf("Plan with ID %s was not found", p.ID).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func (r *planRepository) ClearDefault(ctx context.Context, exceptID string) error {
	query := `
		UPDATE subscription_plans
		SET is_default = FALSE, updated_at = $1, updated_by = $2
		WHERE is_default = TRUE AND id <> $3`

	if _, err := r.db.GetQuerier(ctx).ExecContext(ctx, query, time.Now().UTC(), types.GetUserID(ctx), exceptID); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to demote default plan").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *planRepository) ReplaceFeatures(ctx context.Context, planID string, features []*domainPlan.Feature) error {
	span := StartRepositorySpan(ctx, "plan", "replace_features", map[string]interface{}{
		"plan_id":  planID,
		"features": len(features),
	})
	defer FinishSpan(span)

	q := r.db.GetQuerier(ctx)
	keys := lo.Map(features, func(f *domainPlan.Feature, _ int) string { return f.Key })

	var err error
	if len(keys) == 0 {
		_, err = q.ExecContext(ctx, `DELETE FROM subscription_plan_features WHERE plan_id = $1`, planID)
	} else {
		var query string
		var args []interface{}
		query, args, err = sqlx.In(`DELETE FROM subscription_plan_features WHERE plan_id = ? AND key NOT IN (?)`, planID, keys)
		if err == nil {
			_, err = q.ExecContext(ctx, q.Rebind(query), args...)
		}
	}
	if err != nil {
		SetSpanError(span, err)
		return ierr.WithError(err).
			WithHint("Failed to replace plan features").
			Mark(ierr.ErrDatabase)
	}

	upsert := `
		INSERT INTO subscription_plan_features (
			id, plan_id, key, enabled, limit_value, created_at, updated_at, created_by, updated_by
		) VALUES (
			:id, :plan_id, :key, :enabled, :limit_value, :created_at, :updated_at, :created_by, :updated_by
		)
		ON CONFLICT (plan_id, key) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			limit_value = EXCLUDED.limit_value,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`

	for _, f := range features {
		f.PlanID = planID
		if _, err := q.NamedExecContext(ctx, upsert, f); err != nil {
			SetSpanError(span, err)
			return ierr.WithError(err).
				WithHintf("Failed to save feature %q", f.Key).
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}

func (r *planRepository) ListFeatures(ctx context.Context, planIDs []string) ([]*domainPlan.Feature, error) {
	if len(planIDs) == 0 {
		return []*domainPlan.Feature{}, nil
	}

	q := r.db.GetQuerier(ctx)
	query, args, err := sqlx.In(`
		SELECT id, plan_id, key, enabled, limit_value, created_at, updated_at, created_by, updated_by
		FROM subscription_plan_features
		WHERE plan_id IN (?)
		ORDER BY plan_id, key`, planIDs)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list plan features").Mark(ierr.ErrDatabase)
	}

	var features []*domainPlan.Feature
	if err := q.SelectContext(ctx, &features, q.Rebind(query), args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list plan features").
			Mark(ierr.ErrDatabase)
	}
	return features, nil
}

func (r *planRepository) CountAssignments(ctx context.Context, planIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(planIDs))
	if len(planIDs) == 0 {
		return counts, nil
	}

	q := r.db.GetQuerier(ctx)
	query, args, err := sqlx.In(`
		SELECT plan_id, COUNT(*) AS assignments
		FROM tenant_subscriptions
		WHERE plan_id IN (?)
		GROUP BY plan_id`, planIDs)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to count plan assignments").Mark(ierr.ErrDatabase)
	}

	var rows []struct {
		PlanID      string `db:"plan_id"`
		Assignments int    `db:"assignments"`
	}
	if err := q.SelectContext(ctx, &rows, q.Rebind(query), args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to count plan assignments").
			Mark(ierr.ErrDatabase)
	}
	for _, row := range rows {
		counts[row.PlanID] = row.Assignments
	}
	return counts, nil
}
