package service

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/idempotency"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/metrics"
	"github.com/pewsoft/subscriptions/internal/reminder"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

// Sweep action labels
const (
	sweepTrialExpiry   = "trial_expiry"
	sweepGraceExpiry   = "grace_expiry"
	sweepPendingChange = "pending_change"
	sweepPeriodEnd     = "period_end"
)

const day = 24 * time.Hour

// DunningService drives the time based parts of the lifecycle. Every method takes now
// explicitly so runs are reproducible.
type DunningService interface {
	Preview(ctx context.Context, req dto.DunningRequest, now time.Time) (*dto.DunningPreviewResponse, error)
	// Run queues one reminder per past due subscription outside its grace window
	Run(ctx context.Context, req dto.DunningRequest, now time.Time) (*dto.DunningRunResponse, error)
	// RunSweep expires trials and grace windows, applies due plan changes and ends
	// subscriptions scheduled to cancel
	RunSweep(ctx context.Context, now time.Time) (*dto.SweepResponse, error)
}

type dunningService struct {
	ServiceParams
	subs     *subscriptionService
	idempGen *idempotency.Generator
}

func NewDunningService(params ServiceParams) DunningService {
	return &dunningService{
		ServiceParams: params,
		subs:          newSubscriptionService(params),
		idempGen:      idempotency.NewGenerator(),
	}
}

func (s *dunningService) Preview(ctx context.Context, req dto.DunningRequest, now time.Time) (*dto.DunningPreviewResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	graceDays := s.graceDays(req)

	subs, err := s.pastDue(ctx, graceDays, req.Limit, now, false)
	if err != nil {
		return nil, err
	}
	targets := lo.Map(subs, func(sub *subscription.Subscription, _ int) *dto.DunningTarget {
		return toDunningTarget(sub, graceDays, now)
	})

	return &dto.DunningPreviewResponse{
		GraceDays: graceDays,
		Total:     len(targets),
		Targets:   targets,
	}, nil
}

func (s *dunningService) Run(ctx context.Context, req dto.DunningRequest, now time.Time) (*dto.DunningRunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx = types.SetActorType(ctx, types.ActorTypeSystem)
	if tx, txCtx := s.Sentry.StartTransaction(ctx, "dunning.run"); tx != nil {
		defer tx.Finish()
		ctx = txCtx
	}
	graceDays := s.graceDays(req)

	subs, err := s.pastDue(ctx, graceDays, req.Limit, now, true)
	if err != nil {
		return nil, err
	}

	resp := &dto.DunningRunResponse{
		GraceDays: graceDays,
		DryRun:    req.DryRun,
		Scanned:   len(subs),
		Targets:   make([]*dto.DunningTarget, 0, len(subs)),
	}

	for _, sub := range subs {
		target := toDunningTarget(sub, graceDays, now)
		if target.AlreadyReminded {
			resp.Skipped++
			continue
		}
		resp.Targets = append(resp.Targets, target)
		if req.DryRun {
			resp.Queued++
			continue
		}

		queued, err := s.markReminded(ctx, sub.ID, graceDays, now)
		if err != nil {
			resp.Failed++
			s.Logger.Errorw("failed to record reminder",
				"error", err,
				"subscription_id", sub.ID,
				"tenant_id", sub.TenantID,
			)
			continue
		}
		if !queued {
			resp.Skipped++
			continue
		}

		resp.Queued++
		metrics.RemindersQueuedTotal.Inc()
		s.publish(ctx, sub, target, now)
	}

	s.Logger.Infow("dunning run finished",
		"grace_days", graceDays,
		"dry_run", req.DryRun,
		"scanned", resp.Scanned,
		"queued", resp.Queued,
		"skipped", resp.Skipped,
		"failed", resp.Failed,
	)
	return resp, nil
}

// markReminded stamps the reminder on the locked row. It reports false when the row left
// PAST_DUE or was reminded by a concurrent run.
func (s *dunningService) markReminded(ctx context.Context, id string, graceDays int, now time.Time) (bool, error) {
	queued := false
	err := s.subs.withLocked(ctx, id, func(ctx context.Context, sub *subscription.Subscription) error {
		if sub.Status != types.SubscriptionStatusPastDue || alreadyReminded(sub, graceDays, now) {
			return nil
		}
		sub.LastReminderSentAt = lo.ToPtr(now)
		queued = true
		return s.subs.save(ctx, sub, types.AuditActionReminderQueued, "dunning", map[string]any{
			"grace_days":     graceDays,
			"days_past_due":  daysPastDue(sub, now),
			"past_due_since": sub.PastDueSince,
		})
	})
	return queued, err
}

// publish hands the reminder to the queue. The audit row is already committed, so a
// failure is only logged.
func (s *dunningService) publish(ctx context.Context, sub *subscription.Subscription, target *dto.DunningTarget, now time.Time) {
	r := &reminder.Reminder{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REMINDER),
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID,
		PlanID:         sub.PlanID,
		PastDueSince:   target.PastDueSince,
		DaysPastDue:    target.DaysPastDue,
		IdempotencyKey: s.idempGen.GenerateKey(idempotency.ScopeReminder, map[string]interface{}{
			"subscription_id": sub.ID,
			"date":            now.UTC().Format(time.DateOnly),
		}),
		QueuedAt: now,
	}
	if err := s.ReminderPublisher.Publish(ctx, r); err != nil {
		s.Logger.Errorw("failed to publish reminder",
			"error", err,
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
		)
		s.Sentry.CaptureException(err)
	}
}

func (s *dunningService) graceDays(req dto.DunningRequest) int {
	return lo.FromPtrOr(req.GraceDays, s.Config.Billing.GraceDays)
}

// pastDue lists PAST_DUE rows whose grace window has ended, oldest first. With pending set,
// rows already reminded in their window are left out so they do not use up the limit.
func (s *dunningService) pastDue(ctx context.Context, graceDays, limit int, now time.Time, pending bool) ([]*subscription.Subscription, error) {
	filter := types.NewSubscriptionFilter()
	filter.Statuses = []types.SubscriptionStatus{types.SubscriptionStatusPastDue}
	filter.PastDueBefore = lo.ToPtr(now.Add(-time.Duration(graceDays) * day))
	if pending {
		filter.ReminderDue = &types.ReminderWindow{
			DayStart:  now.UTC().Truncate(day),
			GraceDays: graceDays,
		}
	}
	filter.Limit = lo.ToPtr(lo.Ternary(limit > 0, limit, s.Config.Billing.DunningLimit))
	filter.Sort = lo.ToPtr("past_due_since")
	filter.Order = lo.ToPtr("asc")
	return s.SubRepo.List(ctx, filter)
}

func toDunningTarget(sub *subscription.Subscription, graceDays int, now time.Time) *dto.DunningTarget {
	return &dto.DunningTarget{
		SubscriptionID:     sub.ID,
		TenantID:           sub.TenantID,
		PlanID:             sub.PlanID,
		PastDueSince:       lo.FromPtr(sub.PastDueSince),
		DaysPastDue:        daysPastDue(sub, now),
		LastReminderSentAt: sub.LastReminderSentAt,
		AlreadyReminded:    alreadyReminded(sub, graceDays, now),
	}
}

// alreadyReminded reports whether the row got a reminder today or since its grace window opened
func alreadyReminded(sub *subscription.Subscription, graceDays int, now time.Time) bool {
	last := sub.LastReminderSentAt
	if last == nil {
		return false
	}
	if sameUTCDay(*last, now) {
		return true
	}
	if sub.PastDueSince == nil {
		return false
	}
	windowStart := sub.PastDueSince.Add(time.Duration(graceDays) * day)
	return !last.Before(windowStart)
}

func daysPastDue(sub *subscription.Subscription, now time.Time) int {
	if sub.PastDueSince == nil {
		return 0
	}
	return int(now.Sub(*sub.PastDueSince) / day)
}

func sameUTCDay(a, b time.Time) bool {
	return a.UTC().Format(time.DateOnly) == b.UTC().Format(time.DateOnly)
}

func (s *dunningService) RunSweep(ctx context.Context, now time.Time) (*dto.SweepResponse, error) {
	ctx = types.SetActorType(ctx, types.ActorTypeSystem)
	if tx, txCtx := s.Sentry.StartTransaction(ctx, "subscriptions.sweep"); tx != nil {
		defer tx.Finish()
		ctx = txCtx
	}
	resp := &dto.SweepResponse{Now: now}

	steps := []struct {
		action string
		run    func(ctx context.Context, now time.Time) (int, int, error)
		count  *int
	}{
		{sweepTrialExpiry, s.expireTrials, &resp.TrialsExpired},
		{sweepGraceExpiry, s.expireGrace, &resp.GraceExpired},
		{sweepPendingChange, s.applyPendingChanges, &resp.PlanChangesApplied},
		{sweepPeriodEnd, s.endCanceled, &resp.CancellationsApplied},
	}
	for _, step := range steps {
		applied, failed, err := step.run(ctx, now)
		if err != nil {
			return nil, err
		}
		*step.count = applied
		resp.Failed += failed
	}

	s.Logger.Infow("sweep finished",
		"now", now,
		"trials_expired", resp.TrialsExpired,
		"grace_expired", resp.GraceExpired,
		"plan_changes_applied", resp.PlanChangesApplied,
		"cancellations_applied", resp.CancellationsApplied,
		"failed", resp.Failed,
	)
	return resp, nil
}

// expireTrials closes unpaid trials. Provider managed trials get the grace window so the
// provider's conversion webhook can land first.
func (s *dunningService) expireTrials(ctx context.Context, now time.Time) (int, int, error) {
	filter := types.NewNoLimitSubscriptionFilter()
	filter.Statuses = []types.SubscriptionStatus{types.SubscriptionStatusTrialing}
	filter.TrialEndsBefore = lo.ToPtr(now)

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return 0, 0, err
	}

	grace := time.Duration(s.Config.Billing.GraceDays) * day
	due := func(sub *subscription.Subscription) bool {
		if sub.Status != types.SubscriptionStatusTrialing || sub.EverPaid || sub.TrialEndsAt == nil {
			return false
		}
		end := *sub.TrialEndsAt
		if sub.IsProviderManaged() {
			end = end.Add(grace)
		}
		return !now.Before(end)
	}

	applied, failed := 0, 0
	for _, sub := range subs {
		if !due(sub) {
			continue
		}
		ok, err := s.transitionIf(ctx, sub.ID, subscription.EventTrialExpired, reasonTrialExpired, now, due)
		s.countSweep(sweepTrialExpiry, sub, ok, err, &applied, &failed)
	}
	return applied, failed, nil
}

// expireGrace closes rows past due beyond grace plus the final window: never paid rows
// expire, paid rows are canceled
func (s *dunningService) expireGrace(ctx context.Context, now time.Time) (int, int, error) {
	horizon := now.Add(-time.Duration(s.Config.Billing.GraceDays+s.Config.Billing.GraceExpiryDays) * day)

	filter := types.NewNoLimitSubscriptionFilter()
	filter.Statuses = []types.SubscriptionStatus{types.SubscriptionStatusPastDue}
	filter.PastDueBefore = lo.ToPtr(horizon)

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return 0, 0, err
	}

	due := func(sub *subscription.Subscription) bool {
		return sub.Status == types.SubscriptionStatusPastDue &&
			sub.PastDueSince != nil && sub.PastDueSince.Before(horizon)
	}

	applied, failed := 0, 0
	for _, sub := range subs {
		if !due(sub) {
			continue
		}
		event := lo.Ternary(sub.EverPaid, subscription.EventGraceExpired, subscription.EventTrialExpired)
		ok, err := s.transitionIf(ctx, sub.ID, event, reasonGraceExpired, now, due)
		s.countSweep(sweepGraceExpiry, sub, ok, err, &applied, &failed)
	}
	return applied, failed, nil
}

// endCanceled finishes subscriptions scheduled to cancel once their period is over
func (s *dunningService) endCanceled(ctx context.Context, now time.Time) (int, int, error) {
	filter := types.NewNoLimitSubscriptionFilter()
	filter.Statuses = types.LiveSubscriptionStatuses
	filter.CancelAtPeriodEnd = lo.ToPtr(true)
	filter.PeriodEndsBefore = lo.ToPtr(now)

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return 0, 0, err
	}

	due := func(sub *subscription.Subscription) bool {
		return sub.Status.IsLive() && sub.CancelAtPeriodEnd &&
			sub.CurrentPeriodEnd != nil && !now.Before(*sub.CurrentPeriodEnd)
	}

	applied, failed := 0, 0
	for _, sub := range subs {
		if !due(sub) {
			continue
		}
		event := subscription.EventPeriodEnded
		if !subscription.CanTransition(sub.Status, event) {
			event = subscription.EventCancel
		}
		ok, err := s.transitionIf(ctx, sub.ID, event, reasonPeriodEnded, now, due)
		s.countSweep(sweepPeriodEnd, sub, ok, err, &applied, &failed)
	}
	return applied, failed, nil
}

// transitionIf applies event when still holds for the locked row
func (s *dunningService) transitionIf(ctx context.Context, id string, event subscription.Event, reason string, now time.Time, still func(*subscription.Subscription) bool) (bool, error) {
	applied := false
	err := s.subs.withLocked(ctx, id, func(ctx context.Context, sub *subscription.Subscription) error {
		if !still(sub) {
			return nil
		}
		applied = true
		return s.subs.transition(ctx, sub, event, TransitionOptions{Now: now, Reason: reason})
	})
	return applied, err
}

func (s *dunningService) countSweep(action string, sub *subscription.Subscription, applied bool, err error, appliedCount, failedCount *int) {
	switch {
	case err != nil:
		*failedCount++
		metrics.SweepActionsTotal.WithLabelValues(action, metrics.OutcomeFailure).Inc()
		s.Logger.Errorw("sweep action failed",
			"error", err,
			"action", action,
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
		)
	case applied:
		*appliedCount++
		metrics.SweepActionsTotal.WithLabelValues(action, metrics.OutcomeSuccess).Inc()
	default:
		metrics.SweepActionsTotal.WithLabelValues(action, metrics.OutcomeSkipped).Inc()
	}
}

// applyPendingChanges switches rows to their scheduled plan. Provider managed rows are
// moved at the provider first, without proration.
func (s *dunningService) applyPendingChanges(ctx context.Context, now time.Time) (int, int, error) {
	filter := types.NewNoLimitSubscriptionFilter()
	filter.Statuses = types.LiveSubscriptionStatuses
	filter.PendingChangeDueBefore = lo.ToPtr(now)

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return 0, 0, err
	}

	applied, failed := 0, 0
	for _, sub := range subs {
		if !sub.PendingChangeDue(now) {
			continue
		}
		ok, err := s.applyPendingChange(ctx, sub, now)
		s.countSweep(sweepPendingChange, sub, ok, err, &applied, &failed)
	}
	return applied, failed, nil
}

func (s *dunningService) applyPendingChange(ctx context.Context, sub *subscription.Subscription, now time.Time) (bool, error) {
	code := lo.FromPtr(sub.PendingPlanCode)
	target, err := s.PlanRepo.GetByCode(ctx, code)
	if err != nil {
		return false, err
	}
	if !target.IsActive {
		return false, ierr.NewError("scheduled plan is not active").
			WithHintf("Plan %s is no longer available", code).
			WithReportableDetails(map[string]any{
				"subscription_id": sub.ID,
				"plan_code":       code,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	remote, err := s.changeAtProvider(ctx, sub, target)
	if err != nil {
		return false, err
	}

	applied := false
	err = s.subs.withLocked(ctx, sub.ID, func(ctx context.Context, locked *subscription.Subscription) error {
		if !locked.Status.IsLive() || !locked.PendingChangeDue(now) || lo.FromPtr(locked.PendingPlanCode) != code {
			return nil
		}

		fromPlanID := locked.PlanID
		effectiveAt := lo.FromPtr(locked.PendingEffectiveAt)
		locked.PlanID = target.ID
		locked.ClearPendingChange()
		if remote != nil {
			applyRemote(locked, remote)
		} else {
			locked.CurrentPeriodStart = lo.ToPtr(effectiveAt)
			locked.CurrentPeriodEnd = lo.ToPtr(target.PeriodEnd(effectiveAt))
		}
		applied = true
		return s.subs.save(ctx, locked, types.AuditActionPlanChanged, "scheduled_change", map[string]any{
			"from_plan_id": fromPlanID,
			"to_plan_id":   target.ID,
			"to_plan_code": target.Code,
			"effective":    types.PlanChangeEffectiveNextCycle,
			"effective_at": effectiveAt,
		})
	})
	return applied, err
}

func (s *dunningService) changeAtProvider(ctx context.Context, sub *subscription.Subscription, target *plan.Plan) (*base.RemoteSubscription, error) {
	if !sub.IsProviderManaged() {
		return nil, nil
	}
	if err := requireProviderLink(sub); err != nil {
		return nil, err
	}
	provider, err := s.Integrations.GetProvider(sub.Provider)
	if err != nil {
		return nil, err
	}
	priceRef := target.ProviderPriceRef(sub.Provider)
	if priceRef == "" {
		return nil, ierr.NewError("plan has no provider price").
			WithHintf("Plan %s cannot be billed by %s", target.Code, sub.Provider).
			Mark(ierr.ErrInvalidOperation)
	}

	remote, err := provider.ChangeSubscriptionPlan(ctx, &base.ChangePlanRequest{
		Refs:     refsFor(sub),
		PriceRef: priceRef,
		Prorate:  false,
		IdempotencyKey: s.idempGen.GenerateKey(idempotency.ScopeProviderMutation, map[string]interface{}{
			"subscription_id": sub.ID,
			"operation":       "scheduled_change",
			"price_ref":       priceRef,
			"effective_at":    lo.FromPtr(sub.PendingEffectiveAt).UTC().Format(time.RFC3339),
		}),
	})
	metrics.ObserveProviderCall(sub.Provider.String(), "change_plan", err)
	return remote, err
}
