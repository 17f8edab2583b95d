package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	domainSubscription "github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

const subscriptionColumns = `id, tenant_id, plan_id, status, provider, starts_at, trial_ends_at,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at, ended_at, seat_count,
	provider_customer_id, provider_subscription_id, provider_metadata, raw_provider_payload,
	pending_plan_code, pending_effective_at, pending_mode, past_due_since, last_reminder_sent_at,
	ever_paid, version, created_at, updated_at, created_by, updated_by`

var liveStatusValues = lo.Map(types.LiveSubscriptionStatuses, func(s types.SubscriptionStatus, _ int) string {
	return string(s)
})

type subscriptionRepository struct {
	db  *postgres.DB
	log *logger.Logger
}

func NewSubscriptionRepository(db *postgres.DB, log *logger.Logger) domainSubscription.Repository {
	return &subscriptionRepository{db: db, log: log}
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *domainSubscription.Subscription) error {
	span := StartRepositorySpan(ctx, "subscription", "create", map[string]interface{}{
		"subscription_id": sub.ID,
		"tenant_id":       sub.TenantID,
	})
	defer FinishSpan(span)

	r.log.Debugw("creating subscription",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"plan_id", sub.PlanID,
		"status", sub.Status,
	)

	if sub.Version == 0 {
		sub.Version = 1
	}

	query := `
		INSERT INTO tenant_subscriptions (` + subscriptionColumns + `)
		VALUES (
			:id, :tenant_id, :plan_id, :status, :provider, :starts_at, :trial_ends_at,
			:current_period_start, :current_period_end, :cancel_at_period_end, :canceled_at, :ended_at, :seat_count,
			:provider_customer_id, :provider_subscription_id, :provider_metadata, :raw_provider_payload,
			:pending_plan_code, :pending_effective_at, :pending_mode, :past_due_since, :last_reminder_sent_at,
			:ever_paid, :version, :created_at, :updated_at, :created_by, :updated_by
		)`

	if _, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, sub); err != nil {
		SetSpanError(span, err)
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("This tenant already has a live subscription").
				WithReportableDetails(map[string]any{"tenant_id": sub.TenantID}).
				Mark(ierr.ErrVersionConflict)
		}
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*domainSubscription.Subscription, error) {
	return r.getOne(ctx, "get", `SELECT `+subscriptionColumns+` FROM tenant_subscriptions WHERE id = $1`, id)
}

func (r *subscriptionRepository) GetForUpdate(ctx context.Context, id string) (*domainSubscription.Subscription, error) {
	return r.getOne(ctx, "get_for_update", `SELECT `+subscriptionColumns+` FROM tenant_subscriptions WHERE id = $1 FOR UPDATE`, id)
}

func (r *subscriptionRepository) GetCurrent(ctx context.Context, tenantID string) (*domainSubscription.Subscription, error) {
	return r.getCurrent(ctx, tenantID, false)
}

func (r *subscriptionRepository) GetCurrentForUpdate(ctx context.Context, tenantID string) (*domainSubscription.Subscription, error) {
	return r.getCurrent(ctx, tenantID, true)
}

func (r *subscriptionRepository) getCurrent(ctx context.Context, tenantID string, lock bool) (*domainSubscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM tenant_subscriptions
		WHERE tenant_id = ? AND status IN (?)
		ORDER BY starts_at DESC, created_at DESC
		LIMIT 1`
	if lock {
		query += ` FOR UPDATE`
	}

	query, args, err := sqlx.In(query, tenantID, liveStatusValues)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to get current subscription").Mark(ierr.ErrDatabase)
	}
	q := r.db.GetQuerier(ctx)
	return r.getOne(ctx, "get_current", q.Rebind(query), args...)
}

func (r *subscriptionRepository) GetByProviderRef(ctx context.Context, provider types.PaymentProvider, subscriptionRef string) (*domainSubscription.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM tenant_subscriptions
		WHERE provider = $1 AND provider_subscription_id = $2
		ORDER BY starts_at DESC, created_at DESC
		LIMIT 1`
	return r.getOne(ctx, "get_by_provider_ref", query, provider, subscriptionRef)
}

func (r *subscriptionRepository) getOne(ctx context.Context, operation, query string, args ...interface{}) (*domainSubscription.Subscription, error) {
	span := StartRepositorySpan(ctx, "subscription", operation, nil)
	defer FinishSpan(span)

	var sub domainSubscription.Subscription
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &sub, query, args...); err != nil {
		SetSpanError(span, err)
		if isNoRows(err) {
			return nil, ierr.WithError(err).
				WithHint("Subscription not found").
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return &sub, nil
}

func (r *subscriptionRepository) HasHistory(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM tenant_subscriptions WHERE tenant_id = $1)`
	if err := r.db.GetQuerier(ctx).GetContext(ctx, &exists, query, tenantID); err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to load subscription history").
			Mark(ierr.ErrDatabase)
	}
	return exists, nil
}

func (r *subscriptionRepository) List(ctx context.Context, filter *types.SubscriptionFilter) ([]*domainSubscription.Subscription, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}

	span := StartRepositorySpan(ctx, "subscription", "list", map[string]interface{}{
		"tenant_id": filter.TenantID,
		"statuses":  filter.Statuses,
	})
	defer FinishSpan(span)

	where, args := subscriptionWhere(filter)
	sort := lo.Ternary(lo.Contains(subscriptionSortable, filter.GetSort()), filter.GetSort(), types.FILTER_DEFAULT_SORT)
	query := fmt.Sprintf(`SELECT %s FROM tenant_subscriptions %s ORDER BY %s %s, id ASC`,
		subscriptionColumns, where, sort, orderClause(filter.GetOrder()))
	if !filter.IsUnlimited() {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.GetLimit(), filter.GetOffset())
	}

	q := r.db.GetQuerier(ctx)
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, ierr.WithError(err).WithHint("Failed to list subscriptions").Mark(ierr.ErrDatabase)
	}

	var subs []*domainSubscription.Subscription
	if err := q.SelectContext(ctx, &subs, q.Rebind(query), args...); err != nil {
		SetSpanError(span, err)
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) Count(ctx context.Context, filter *types.SubscriptionFilter) (int, error) {
	if filter == nil {
		filter = types.NewSubscriptionFilter()
	}

	where, args := subscriptionWhere(filter)
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM tenant_subscriptions `+where, args...)
	if err != nil {
		return 0, ierr.WithError(err).WithHint("Failed to count subscriptions").Mark(ierr.ErrDatabase)
	}

	q := r.db.GetQuerier(ctx)
	var count int
	if err := q.GetContext(ctx, &count, q.Rebind(query), args...); err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return count, nil
}

func (r *subscriptionRepository) Update(ctx context.Context, sub *domainSubscription.Subscription) error {
	span := StartRepositorySpan(ctx, "subscription", "update", map[string]interface{}{
		"subscription_id": sub.ID,
		"version":         sub.Version,
	})
	defer FinishSpan(span)

	query := `
		UPDATE tenant_subscriptions SET
			plan_id = :plan_id,
			status = :status,
			provider = :provider,
			trial_ends_at = :trial_ends_at,
			current_period_start = :current_period_start,
			current_period_end = :current_period_end,
			cancel_at_period_end = :cancel_at_period_end,
			canceled_at = :canceled_at,
			ended_at = :ended_at,
			seat_count = :seat_count,
			provider_customer_id = :provider_customer_id,
			provider_subscription_id = :provider_subscription_id,
			provider_metadata = :provider_metadata,
			raw_provider_payload = :raw_provider_payload,
			pending_plan_code = :pending_plan_code,
			pending_effective_at = :pending_effective_at,
			pending_mode = :pending_mode,
			past_due_since = :past_due_since,
			last_reminder_sent_at = :last_reminder_sent_at,
			ever_paid = :ever_paid,
			version = version + 1,
			updated_at = :updated_at,
			updated_by = :updated_by
		WHERE id = :id AND version = :version`

	result, err := r.db.GetQuerier(ctx).NamedExecContext(ctx, query, sub)
	if err != nil {
		SetSpanError(span, err)
		if isUniqueViolation(err) {
			return ierr.WithError(err).
				WithHint("This tenant already has a live subscription").
				Mark(ierr.ErrVersionConflict)
		}
		return ierr.WithError(err).
			WithHint("Failed to update subscription").
			Mark(ierr.ErrDatabase)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return ierr.WithError(err).WithHint("Failed to update subscription").Mark(ierr.ErrDatabase)
	}
	if rows == 0 {
		return ierr.NewError("subscription version conflict").
			WithHint("The subscription was changed by someone else. Please reload and try again.").
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"version":         sub.Version,
			}).
			Mark(ierr.ErrVersionConflict)
	}

	sub.Version++
	return nil
}

var subscriptionSortable = []string{"created_at", "updated_at", "starts_at", "current_period_end", "past_due_since"}

// subscriptionWhere renders filter as a WHERE clause with sqlx.In style placeholders
func subscriptionWhere(filter *types.SubscriptionFilter) (string, []interface{}) {
	clauses := []string{"1 = 1"}
	args := []interface{}{}

	if filter.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN (?)")
		args = append(args, lo.Map(filter.Statuses, func(s types.SubscriptionStatus, _ int) string { return string(s) }))
	}
	if len(filter.Providers) > 0 {
		clauses = append(clauses, "provider IN (?)")
		args = append(args, lo.Map(filter.Providers, func(p types.PaymentProvider, _ int) string { return string(p) }))
	}
	if filter.ProviderCustomerRef != "" {
		clauses = append(clauses, "provider_customer_id = ?")
		args = append(args, filter.ProviderCustomerRef)
	}
	if filter.ExcludeManualProviders {
		clauses = append(clauses, "provider <> ?")
		args = append(args, string(types.PaymentProviderManual))
	}
	if filter.PastDueBefore != nil {
		clauses = append(clauses, "past_due_since IS NOT NULL AND past_due_since < ?")
		args = append(args, *filter.PastDueBefore)
	}
	if w := filter.ReminderDue; w != nil {
		clauses = append(clauses, "(last_reminder_sent_at IS NULL OR (last_reminder_sent_at < ? AND "+
			"(past_due_since IS NULL OR last_reminder_sent_at < past_due_since + make_interval(days => ?))))")
		args = append(args, w.DayStart, w.GraceDays)
	}
	if filter.TrialEndsBefore != nil {
		clauses = append(clauses, "trial_ends_at IS NOT NULL AND trial_ends_at <= ?")
		args = append(args, *filter.TrialEndsBefore)
	}
	if filter.PeriodEndsBefore != nil {
		clauses = append(clauses, "current_period_end IS NOT NULL AND current_period_end <= ?")
		args = append(args, *filter.PeriodEndsBefore)
	}
	if filter.PendingChangeDueBefore != nil {
		clauses = append(clauses, "pending_plan_code IS NOT NULL AND pending_effective_at <= ?")
		args = append(args, *filter.PendingChangeDueBefore)
	}
	if filter.CancelAtPeriodEnd != nil {
		clauses = append(clauses, "cancel_at_period_end = ?")
		args = append(args, *filter.CancelAtPeriodEnd)
	}
	if filter.MissingProviderRefs {
		clauses = append(clauses, "(provider_subscription_id IS NULL OR provider_customer_id IS NULL OR provider_metadata IS NULL)")
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}
