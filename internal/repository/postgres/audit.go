package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

type auditRepository struct {
	db  *postgres.DB
	log *logger.Logger
}

func NewAuditRepository(db *postgres.DB, log *logger.Logger) audit.Repository {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) Create(ctx context.Context, l *audit.Log) error {
	query := `
		INSERT INTO subscription_audit_logs (
			id, tenant_id, actor_type, actor_id, action, entity_type, entity_id, reason, metadata, created_at
		) VALUES (
			:id, :tenant_id, :actor_type, :actor_id, :action, :entity_type, :entity_id, :reason, :metadata, :created_at
		)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, l); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write audit record").
			WithReportableDetails(map[string]any{"action": l.Action}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter *types.AuditFilter) ([]*audit.Log, error) {
	if filter == nil {
		filter = types.NewAuditFilter()
	}

	where, args := auditWhere(filter)
	query := fmt.Sprintf(`
		SELECT id, tenant_id, actor_type, actor_id, action, entity_type, entity_id, reason, metadata, created_at
		FROM subscription_audit_logs %s
		ORDER BY created_at %s, id %s`, where, orderClause(filter.GetOrder()), orderClause(filter.GetOrder()))
	if !filter.IsUnlimited() {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.GetLimit(), filter.GetOffset())
	}

	q := r.db.GetQuerier(ctx)
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list audit records").Mark(ierr.ErrDatabase)
	}

	var logs []*audit.Log
	if err := q.SelectContext(ctx, &logs, q.Rebind(query), args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list audit records").
			Mark(ierr.ErrDatabase)
	}
	return logs, nil
}

func (r *auditRepository) Count(ctx context.Context, filter *types.AuditFilter) (int, error) {
	if filter == nil {
		filter = types.NewAuditFilter()
	}

	where, args := auditWhere(filter)
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM subscription_audit_logs `+where, args...)
	if err != nil {
		return 0, ierr.WithError(err).WithHint("Failed to count audit records").Mark(ierr.ErrDatabase)
	}

	q := r.db.GetQuerier(ctx)
	var count int
	if err := q.GetContext(ctx, &count, q.Rebind(query), args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count audit records").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func auditWhere(filter *types.AuditFilter) (string, []interface{}) {
	clauses := []string{"1 = 1"}
	args := []interface{}{}

	if filter.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if len(filter.Actions) > 0 {
		clauses = append(clauses, "action IN (?)")
		args = append(args, lo.Map(filter.Actions, func(a types.AuditAction, _ int) string { return string(a) }))
	}
	if filter.EntityID != "" {
		clauses = append(clauses, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}
