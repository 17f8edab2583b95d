package service

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/idempotency"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/metrics"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

// Audit reasons recorded on system driven changes
const (
	reasonReplacedByAssignment = "replaced_by_assignment"
	reasonReplacedByCheckout   = "replaced_by_checkout"
	reasonCanceledByTenant     = "canceled_by_tenant"
	reasonResumed              = "resumed"
	reasonTrialExpired         = "trial_expired"
	reasonGraceExpired         = "grace_expired"
	reasonPeriodEnded          = "period_ended"
	reasonProviderSync         = "provider_sync"
)

type SubscriptionService interface {
	// GetCurrentSubscription returns the live subscription, or a nil subscription if there is none
	GetCurrentSubscription(ctx context.Context, tenantID string) (*dto.CurrentSubscriptionResponse, error)
	AssignPlan(ctx context.Context, tenantID string, req dto.AssignPlanRequest) (*dto.SubscriptionResponse, error)
	ChangePlan(ctx context.Context, tenantID string, req dto.ChangePlanRequest) (*dto.ChangePlanResponse, error)
	CancelSubscription(ctx context.Context, tenantID string, req dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error)
	ResumeSubscription(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error)
	StartCheckout(ctx context.Context, tenantID string, req dto.CheckoutRequest) (*dto.CheckoutResponse, error)
	CreatePortalSession(ctx context.Context, tenantID string, req dto.PortalRequest) (*dto.PortalResponse, error)

	// ApplyTransition locks the subscription row and moves it through event
	ApplyTransition(ctx context.Context, subscriptionID string, event subscription.Event, opts TransitionOptions) (*subscription.Subscription, error)
}

// TransitionOptions tune a single state machine transition
type TransitionOptions struct {
	Now      time.Time
	Reason   string
	Metadata map[string]any
	// Mutate runs on the locked row after the status change and before it is saved
	Mutate func(sub *subscription.Subscription)
}

type subscriptionService struct {
	ServiceParams
	idempGen *idempotency.Generator
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return newSubscriptionService(params)
}

func newSubscriptionService(params ServiceParams) *subscriptionService {
	return &subscriptionService{
		ServiceParams: params,
		idempGen:      idempotency.NewGenerator(),
	}
}

func (s *subscriptionService) GetCurrentSubscription(ctx context.Context, tenantID string) (*dto.CurrentSubscriptionResponse, error) {
	sub, err := s.SubRepo.GetCurrent(ctx, tenantID)
	if ierr.IsNotFound(err) {
		return &dto.CurrentSubscriptionResponse{}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.attachPlan(ctx, sub); err != nil {
		return nil, err
	}
	return &dto.CurrentSubscriptionResponse{Subscription: dto.NewSubscriptionResponse(sub)}, nil
}

func (s *subscriptionService) AssignPlan(ctx context.Context, tenantID string, req dto.AssignPlanRequest) (*dto.SubscriptionResponse, error) {
	if tenantID == "" {
		return nil, ierr.NewError("tenant is required").
			WithHint("Please provide a tenant").
			Mark(ierr.ErrValidation)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := getActivePlan(ctx, s.PlanRepo, req.PlanCode)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := lo.Ternary(req.Status != "", req.Status, initialStatus(p))

	var sub *subscription.Subscription
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		replaced, err := s.replaceCurrent(ctx, tenantID, reasonReplacedByAssignment, now)
		if err != nil {
			return err
		}
		if replaced != nil && replaced.IsProviderManaged() {
			s.Logger.Warnw("assignment replaced a provider managed subscription, the provider side is left untouched",
				"tenant_id", tenantID,
				"subscription_id", replaced.ID,
				"provider", replaced.Provider,
				"subscription_ref", replaced.SubscriptionRef(),
			)
		}

		sub = newSubscription(ctx, tenantID, p, status, req.Provider, now)
		sub.SeatCount = req.SeatCount
		if req.CurrentPeriodEnd != nil {
			sub.CurrentPeriodEnd = req.CurrentPeriodEnd
		}
		if err := s.SubRepo.Create(ctx, sub); err != nil {
			return err
		}

		metadata := map[string]any{
			"plan_code":  p.Code,
			"status":     sub.Status,
			"provider":   sub.Provider,
			"seat_count": sub.SeatCount,
		}
		if replaced != nil {
			metadata["replaced_subscription_id"] = replaced.ID
		}
		return s.AuditRepo.Create(ctx, audit.New(ctx, tenantID, types.AuditActionSubscriptionAssigned,
			types.AuditEntitySubscription, sub.ID, req.Reason, metadata))
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("assigned plan",
		"tenant_id", tenantID,
		"subscription_id", sub.ID,
		"plan_code", p.Code,
		"status", sub.Status,
		"provider", sub.Provider,
	)

	if err := s.attachPlan(ctx, sub); err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

func (s *subscriptionService) ChangePlan(ctx context.Context, tenantID string, req dto.ChangePlanRequest) (*dto.ChangePlanResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	target, err := getActivePlan(ctx, s.PlanRepo, req.PlanCode)
	if err != nil {
		return nil, err
	}
	current, err := s.getCurrent(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	currentPlan, err := s.PlanRepo.Get(ctx, current.PlanID)
	if err != nil {
		return nil, err
	}

	if target.ID == current.PlanID {
		if current.HasPendingChange() {
			return s.dropPendingChange(ctx, current, req.Effective)
		}
		return nil, ierr.NewError("already on plan").
			WithHintf("The subscription is already on %s", target.Code).
			WithReportableDetails(map[string]any{
				"plan_code": target.Code,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	if current.CancelAtPeriodEnd {
		return nil, ierr.NewError("subscription is scheduled to cancel").
			WithHint("Resume the subscription before changing plans").
			Mark(ierr.ErrInvalidOperation)
	}

	if req.Effective == types.PlanChangeEffectiveImmediate {
		return s.changePlanNow(ctx, current, currentPlan, target)
	}
	return s.schedulePlanChange(ctx, current, currentPlan, target)
}

// changePlanNow applies an upgrade in the current cycle. Only providers that prorate can do
// this; anything else is rejected without touching the subscription.
func (s *subscriptionService) changePlanNow(ctx context.Context, current *subscription.Subscription, currentPlan, target *plan.Plan) (*dto.ChangePlanResponse, error) {
	details := map[string]any{
		"current_plan": currentPlan.Code,
		"target_plan":  target.Code,
		"provider":     current.Provider,
		"effective":    types.PlanChangeEffectiveImmediate,
	}

	if !target.IsUpgradeFrom(currentPlan) {
		return nil, ierr.NewError("immediate downgrade rejected").
			WithHintf("Moving from %s to %s is not an upgrade. It can only take effect at the next billing cycle.", currentPlan.Code, target.Code).
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidOperation)
	}

	provider, err := s.Integrations.GetProvider(current.Provider)
	if err != nil {
		return nil, err
	}
	if !provider.Capabilities().ImmediateProration {
		return nil, ierr.NewError("provider cannot prorate").
			WithHint("Immediate plan changes are only available for Stripe subscriptions. Choose NEXT_CYCLE instead.").
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidOperation)
	}
	if current.Status != types.SubscriptionStatusActive && current.Status != types.SubscriptionStatusTrialing {
		return nil, ierr.NewErrorf("cannot upgrade a %s subscription", current.Status).
			WithHint("Settle the outstanding payment before upgrading").
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidOperation)
	}
	if err := requireProviderLink(current); err != nil {
		return nil, err
	}
	priceRef := target.ProviderPriceRef(current.Provider)
	if priceRef == "" {
		return nil, ierr.NewError("plan has no provider price").
			WithHintf("Plan %s cannot be billed by %s", target.Code, current.Provider).
			WithReportableDetails(details).
			Mark(ierr.ErrInvalidOperation)
	}

	remote, err := provider.ChangeSubscriptionPlan(ctx, &base.ChangePlanRequest{
		Refs:     refsFor(current),
		PriceRef: priceRef,
		Prorate:  true,
		IdempotencyKey: s.idempGen.GenerateKey(idempotency.ScopeProviderMutation, map[string]interface{}{
			"subscription_id": current.ID,
			"operation":       "change_plan",
			"price_ref":       priceRef,
			"version":         current.Version,
		}),
	})
	metrics.ObserveProviderCall(current.Provider.String(), "change_plan", err)
	if err != nil {
		s.Logger.Errorw("provider rejected plan change",
			"error", err,
			"subscription_id", current.ID,
			"tenant_id", current.TenantID,
			"target_plan", target.Code,
		)
		return nil, err
	}

	var updated *subscription.Subscription
	err = s.withLocked(ctx, current.ID, func(ctx context.Context, sub *subscription.Subscription) error {
		if err := requireLive(sub); err != nil {
			return err
		}
		fromPlanID := sub.PlanID
		sub.PlanID = target.ID
		sub.ClearPendingChange()
		if remote != nil {
			applyRemote(sub, remote)
		}
		updated = sub
		return s.save(ctx, sub, types.AuditActionPlanChanged, "", map[string]any{
			"from_plan_id":   fromPlanID,
			"to_plan_id":     target.ID,
			"from_plan_code": currentPlan.Code,
			"to_plan_code":   target.Code,
			"effective":      types.PlanChangeEffectiveImmediate,
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("changed plan immediately",
		"subscription_id", updated.ID,
		"tenant_id", updated.TenantID,
		"from_plan", currentPlan.Code,
		"to_plan", target.Code,
	)

	if err := s.attachPlan(ctx, updated); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &dto.ChangePlanResponse{
		Subscription: dto.NewSubscriptionResponse(updated),
		Effective:    types.PlanChangeEffectiveImmediate,
		Applied:      true,
		EffectiveAt:  &now,
	}, nil
}

func (s *subscriptionService) schedulePlanChange(ctx context.Context, current *subscription.Subscription, currentPlan, target *plan.Plan) (*dto.ChangePlanResponse, error) {
	effectiveAt := periodEnd(current, currentPlan)

	var updated *subscription.Subscription
	err := s.withLocked(ctx, current.ID, func(ctx context.Context, sub *subscription.Subscription) error {
		if err := requireLive(sub); err != nil {
			return err
		}
		sub.SchedulePlanChange(target.Code, effectiveAt)
		updated = sub
		return s.save(ctx, sub, types.AuditActionPlanChangeScheduled, "", map[string]any{
			"from_plan_code": currentPlan.Code,
			"to_plan_code":   target.Code,
			"effective_at":   effectiveAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("scheduled plan change",
		"subscription_id", updated.ID,
		"tenant_id", updated.TenantID,
		"to_plan", target.Code,
		"effective_at", effectiveAt,
	)

	if err := s.attachPlan(ctx, updated); err != nil {
		return nil, err
	}
	return &dto.ChangePlanResponse{
		Subscription: dto.NewSubscriptionResponse(updated),
		Effective:    types.PlanChangeEffectiveNextCycle,
		Applied:      false,
		EffectiveAt:  &effectiveAt,
	}, nil
}

// dropPendingChange handles re-selecting the current plan while a change is scheduled
func (s *subscriptionService) dropPendingChange(ctx context.Context, current *subscription.Subscription, effective types.PlanChangeEffective) (*dto.ChangePlanResponse, error) {
	var updated *subscription.Subscription
	err := s.withLocked(ctx, current.ID, func(ctx context.Context, sub *subscription.Subscription) error {
		if err := requireLive(sub); err != nil {
			return err
		}
		dropped := lo.FromPtr(sub.PendingPlanCode)
		sub.ClearPendingChange()
		updated = sub
		return s.save(ctx, sub, types.AuditActionPlanChangeScheduled, "pending_change_dropped", map[string]any{
			"dropped_plan_code": dropped,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachPlan(ctx, updated); err != nil {
		return nil, err
	}
	return &dto.ChangePlanResponse{
		Subscription: dto.NewSubscriptionResponse(updated),
		Effective:    effective,
		Applied:      true,
	}, nil
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, tenantID string, req dto.CancelSubscriptionRequest) (*dto.SubscriptionResponse, error) {
	current, err := s.getCurrent(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if _, err := subscription.NextStatus(current.Status, subscription.EventCancel); err != nil {
		return nil, err
	}

	if req.AtPeriodEnd {
		if current.CancelAtPeriodEnd {
			return s.respond(ctx, current)
		}
		if current.CurrentPeriodEnd == nil && current.TrialEndsAt == nil {
			return nil, ierr.NewError("subscription has no period end").
				WithHint("This subscription has no billing period to cancel at. Cancel it immediately instead.").
				Mark(ierr.ErrInvalidOperation)
		}
	}

	if current.IsProviderManaged() {
		provider, err := s.Integrations.GetProvider(current.Provider)
		if err != nil {
			return nil, err
		}
		if err := requireProviderLink(current); err != nil {
			return nil, err
		}
		err = provider.CancelSubscription(ctx, &base.CancelRequest{
			Refs:        refsFor(current),
			AtPeriodEnd: req.AtPeriodEnd,
			IdempotencyKey: s.idempGen.GenerateKey(idempotency.ScopeProviderMutation, map[string]interface{}{
				"subscription_id": current.ID,
				"operation":       "cancel",
				"at_period_end":   req.AtPeriodEnd,
				"version":         current.Version,
			}),
		})
		metrics.ObserveProviderCall(current.Provider.String(), "cancel", err)
		if err != nil {
			s.Logger.Errorw("provider cancellation failed",
				"error", err,
				"subscription_id", current.ID,
				"tenant_id", tenantID,
			)
			return nil, err
		}
	}

	reason := lo.Ternary(req.Reason != "", req.Reason, reasonCanceledByTenant)

	var updated *subscription.Subscription
	err = s.withLocked(ctx, current.ID, func(ctx context.Context, sub *subscription.Subscription) error {
		if err := requireLive(sub); err != nil {
			return err
		}
		updated = sub
		if !req.AtPeriodEnd {
			return s.transition(ctx, sub, subscription.EventCancel, TransitionOptions{Reason: reason})
		}

		if sub.CurrentPeriodEnd == nil {
			sub.CurrentPeriodEnd = sub.TrialEndsAt
		}
		sub.CancelAtPeriodEnd = true
		sub.ClearPendingChange()
		return s.save(ctx, sub, types.AuditActionCancelScheduled, reason, map[string]any{
			"current_period_end": sub.CurrentPeriodEnd,
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("canceled subscription",
		"subscription_id", updated.ID,
		"tenant_id", tenantID,
		"at_period_end", req.AtPeriodEnd,
		"status", updated.Status,
	)
	return s.respond(ctx, updated)
}

func (s *subscriptionService) ResumeSubscription(ctx context.Context, tenantID string) (*dto.SubscriptionResponse, error) {
	current, err := s.getCurrent(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case current.CancelAtPeriodEnd:
		if current.CurrentPeriodEnd != nil && !now.Before(*current.CurrentPeriodEnd) {
			return nil, ierr.NewError("billing period already ended").
				WithHint("The subscription can no longer be resumed. Start a new subscription instead.").
				Mark(ierr.ErrInvalidOperation)
		}
	case current.Status == types.SubscriptionStatusPaused:
	default:
		return nil, ierr.NewError("nothing to resume").
			WithHint("This subscription is not paused or scheduled to cancel").
			Mark(ierr.ErrInvalidOperation)
	}

	if current.IsProviderManaged() {
		provider, err := s.Integrations.GetProvider(current.Provider)
		if err != nil {
			return nil, err
		}
		if err := requireProviderLink(current); err != nil {
			return nil, err
		}
		err = provider.ResumeSubscription(ctx, &base.ResumeRequest{
			Refs: refsFor(current),
			IdempotencyKey: s.idempGen.GenerateKey(idempotency.ScopeProviderMutation, map[string]interface{}{
				"subscription_id": current.ID,
				"operation":       "resume",
				"version":         current.Version,
			}),
		})
		metrics.ObserveProviderCall(current.Provider.String(), "resume", err)
		if err != nil {
			return nil, err
		}
	}

	var updated *subscription.Subscription
	err = s.withLocked(ctx, current.ID, func(ctx context.Context, sub *subscription.Subscription) error {
		if err := requireLive(sub); err != nil {
			return err
		}
		updated = sub
		if sub.Status == types.SubscriptionStatusPaused {
			return s.transition(ctx, sub, subscription.EventUnpause, TransitionOptions{
				Now:    now,
				Reason: reasonResumed,
				Mutate: func(sub *subscription.Subscription) { sub.CancelAtPeriodEnd = false },
			})
		}
		if !sub.CancelAtPeriodEnd {
			return nil
		}
		sub.CancelAtPeriodEnd = false
		return s.save(ctx, sub, types.AuditActionCancelReverted, reasonResumed, nil)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("resumed subscription",
		"subscription_id", updated.ID,
		"tenant_id", tenantID,
		"status", updated.Status,
	)
	return s.respond(ctx, updated)
}

// StartCheckout asks the provider for a hosted checkout. Nothing is written locally: the
// subscription is created by the provider's checkout webhook.
func (s *subscriptionService) StartCheckout(ctx context.Context, tenantID string, req dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p, err := getActivePlan(ctx, s.PlanRepo, req.PlanCode)
	if err != nil {
		return nil, err
	}
	provider, err := s.Integrations.GetProvider(req.Provider)
	if err != nil {
		return nil, err
	}
	if !provider.Capabilities().HostedCheckout {
		return nil, ierr.NewError("provider has no checkout").
			WithHintf("Checkout is not available for %s", req.Provider).
			Mark(ierr.ErrInvalidOperation)
	}
	priceRef := p.ProviderPriceRef(req.Provider)
	if priceRef == "" {
		return nil, ierr.NewError("plan has no provider price").
			WithHintf("Plan %s cannot be purchased with %s", p.Code, req.Provider).
			WithReportableDetails(map[string]any{
				"plan_code": p.Code,
				"provider":  req.Provider,
			}).
			Mark(ierr.ErrInvalidOperation)
	}

	customerRef := ""
	current, err := s.SubRepo.GetCurrent(ctx, tenantID)
	switch {
	case ierr.IsNotFound(err):
	case err != nil:
		return nil, err
	default:
		if current.IsProviderManaged() && current.SubscriptionRef() != "" {
			return nil, ierr.NewError("tenant already has a provider subscription").
				WithHintf("You already have a %s subscription. Change your plan instead.", current.Provider).
				Mark(ierr.ErrInvalidOperation)
		}
		if current.Provider == req.Provider {
			customerRef = current.CustomerRef()
		}
	}

	hasHistory, err := s.SubRepo.HasHistory(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	trialDays := lo.Ternary(hasHistory, 0, p.TrialDays())

	session, err := provider.CreateCheckout(ctx, &base.CheckoutRequest{
		TenantID:      tenantID,
		PlanCode:      p.Code,
		PriceRef:      priceRef,
		CustomerEmail: req.CustomerEmail,
		CustomerRef:   customerRef,
		AmountMinor:   p.PriceMinor,
		Currency:      p.Currency,
		TrialDays:     trialDays,
		IdempotencyKey: s.idempGen.GenerateKey(idempotency.ScopeCheckout, map[string]interface{}{
			"tenant_id": tenantID,
			"plan_code": p.Code,
			"provider":  req.Provider,
			"email":     req.CustomerEmail,
			"day":       time.Now().UTC().Format(time.DateOnly),
		}),
	})
	metrics.ObserveProviderCall(req.Provider.String(), "checkout", err)
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("started checkout",
		"tenant_id", tenantID,
		"plan_code", p.Code,
		"provider", req.Provider,
		"reference", session.Reference,
	)

	return &dto.CheckoutResponse{
		Provider:  req.Provider,
		URL:       session.URL,
		Reference: session.Reference,
	}, nil
}

func (s *subscriptionService) CreatePortalSession(ctx context.Context, tenantID string, req dto.PortalRequest) (*dto.PortalResponse, error) {
	current, err := s.getCurrent(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	provider, err := s.Integrations.GetProvider(current.Provider)
	if err != nil {
		return nil, err
	}
	if !provider.Capabilities().BillingPortal {
		return nil, ierr.NewError("provider has no billing portal").
			WithHint("The billing portal is only available for Stripe subscriptions").
			WithReportableDetails(map[string]any{
				"provider": current.Provider,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	if current.CustomerRef() == "" {
		return nil, ierr.NewError("no provider customer").
			WithHint("This subscription is not linked to a billing account yet").
			Mark(ierr.ErrInvalidOperation)
	}

	returnURL := lo.Ternary(req.ReturnURL != "", req.ReturnURL, s.Config.Stripe.PortalReturnURL)
	session, err := provider.CreatePortalSession(ctx, &base.PortalRequest{
		CustomerRef: current.CustomerRef(),
		ReturnURL:   returnURL,
	})
	metrics.ObserveProviderCall(current.Provider.String(), "portal", err)
	if err != nil {
		return nil, err
	}
	return &dto.PortalResponse{URL: session.URL}, nil
}

func (s *subscriptionService) ApplyTransition(ctx context.Context, subscriptionID string, event subscription.Event, opts TransitionOptions) (*subscription.Subscription, error) {
	var out *subscription.Subscription
	err := s.withLocked(ctx, subscriptionID, func(ctx context.Context, sub *subscription.Subscription) error {
		if err := s.transition(ctx, sub, event, opts); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

// withLocked runs fn on the subscription row locked until the transaction ends
func (s *subscriptionService) withLocked(ctx context.Context, id string, fn func(ctx context.Context, sub *subscription.Subscription) error) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		sub, err := s.SubRepo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		return fn(ctx, sub)
	})
}

// transition applies event to a locked row, saves it and audits status changes.
// Must run inside a transaction holding the row lock.
func (s *subscriptionService) transition(ctx context.Context, sub *subscription.Subscription, event subscription.Event, opts TransitionOptions) error {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	from, err := sub.Apply(event, now)
	if err != nil {
		return err
	}
	if opts.Mutate != nil {
		opts.Mutate(sub)
	}

	sub.Touch(ctx)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}
	metrics.SubscriptionTransitionsTotal.WithLabelValues(string(from), string(sub.Status), string(event)).Inc()

	if from == sub.Status {
		return nil
	}

	metadata := map[string]any{
		"from":  from,
		"to":    sub.Status,
		"event": event,
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	s.Logger.Infow("subscription transitioned",
		"subscription_id", sub.ID,
		"tenant_id", sub.TenantID,
		"from", from,
		"to", sub.Status,
		"event", event,
		"reason", opts.Reason,
	)

	return s.AuditRepo.Create(ctx, audit.New(ctx, sub.TenantID, types.AuditActionSubscriptionTransitioned,
		types.AuditEntitySubscription, sub.ID, opts.Reason, metadata))
}

// save persists a locked row without a status change and records action when set
func (s *subscriptionService) save(ctx context.Context, sub *subscription.Subscription, action types.AuditAction, reason string, metadata map[string]any) error {
	sub.Touch(ctx)
	if err := s.SubRepo.Update(ctx, sub); err != nil {
		return err
	}
	if action == "" {
		return nil
	}
	return s.AuditRepo.Create(ctx, audit.New(ctx, sub.TenantID, action,
		types.AuditEntitySubscription, sub.ID, reason, metadata))
}

// replaceCurrent cancels the tenant's live row, if any, so a new one can be created.
// Must run inside a transaction.
func (s *subscriptionService) replaceCurrent(ctx context.Context, tenantID, reason string, now time.Time) (*subscription.Subscription, error) {
	current, err := s.SubRepo.GetCurrentForUpdate(ctx, tenantID)
	if ierr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, current, subscription.EventCancel, TransitionOptions{Now: now, Reason: reason}); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *subscriptionService) getCurrent(ctx context.Context, tenantID string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.GetCurrent(ctx, tenantID)
	if ierr.IsNotFound(err) {
		return nil, ierr.WithError(err).
			WithHint("There is no active subscription for this account").
			WithReportableDetails(map[string]any{
				"tenant_id": tenantID,
			}).
			Mark(ierr.ErrNotFound)
	}
	return sub, err
}

func (s *subscriptionService) attachPlan(ctx context.Context, sub *subscription.Subscription) error {
	p, err := getPlanWithFeatures(ctx, s.PlanRepo, sub.PlanID)
	if ierr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	sub.Plan = p
	return nil
}

func (s *subscriptionService) respond(ctx context.Context, sub *subscription.Subscription) (*dto.SubscriptionResponse, error) {
	if err := s.attachPlan(ctx, sub); err != nil {
		return nil, err
	}
	return dto.NewSubscriptionResponse(sub), nil
}

// newSubscription builds a row starting at now in the given status
func newSubscription(ctx context.Context, tenantID string, p *plan.Plan, status types.SubscriptionStatus, provider types.PaymentProvider, now time.Time) *subscription.Subscription {
	sub := &subscription.Subscription{
		ID:                 types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		TenantID:           tenantID,
		PlanID:             p.ID,
		Status:             status,
		Provider:           provider,
		StartsAt:           now,
		CurrentPeriodStart: lo.ToPtr(now),
		ProviderMetadata:   &subscription.ProviderRefs{Provider: provider},
		EverPaid:           status == types.SubscriptionStatusActive,
		Version:            1,
		BaseModel:          types.GetDefaultBaseModel(ctx),
	}

	switch status {
	case types.SubscriptionStatusTrialing:
		trialEnd := p.PeriodEnd(now)
		if days := p.TrialDays(); days > 0 {
			trialEnd = now.AddDate(0, 0, days)
		}
		sub.TrialEndsAt = &trialEnd
		sub.CurrentPeriodEnd = &trialEnd
	case types.SubscriptionStatusPastDue:
		sub.PastDueSince = lo.ToPtr(now)
		sub.CurrentPeriodEnd = lo.ToPtr(p.PeriodEnd(now))
	default:
		sub.CurrentPeriodEnd = lo.ToPtr(p.PeriodEnd(now))
	}
	return sub
}

func initialStatus(p *plan.Plan) types.SubscriptionStatus {
	if p.TrialDays() > 0 {
		return types.SubscriptionStatusTrialing
	}
	return types.SubscriptionStatusActive
}

// periodEnd is when the current cycle of sub ends
func periodEnd(sub *subscription.Subscription, p *plan.Plan) time.Time {
	if sub.CurrentPeriodEnd != nil {
		return *sub.CurrentPeriodEnd
	}
	if sub.TrialEndsAt != nil {
		return *sub.TrialEndsAt
	}
	return p.PeriodEnd(lo.FromPtrOr(sub.CurrentPeriodStart, sub.StartsAt))
}

// refsFor returns the normalized provider references of sub
func refsFor(sub *subscription.Subscription) subscription.ProviderRefs {
	refs := subscription.ProviderRefs{}
	if sub.ProviderMetadata != nil {
		refs = *sub.ProviderMetadata
	}
	refs.Provider = sub.Provider
	refs.CustomerRef = sub.CustomerRef()
	refs.SubscriptionRef = sub.SubscriptionRef()
	return refs
}

// applyRemote copies the provider's view of refs and billing period onto sub
func applyRemote(sub *subscription.Subscription, remote *base.RemoteSubscription) {
	sub.SetProviderRefs(remote.Refs)
	if remote.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = remote.CurrentPeriodStart
	}
	if remote.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	if remote.TrialEndsAt != nil {
		sub.TrialEndsAt = remote.TrialEndsAt
	}
}

func requireLive(sub *subscription.Subscription) error {
	if sub.Status.IsLive() {
		return nil
	}
	return ierr.NewErrorf("subscription is %s", sub.Status).
		WithHint("The subscription changed while processing your request. Please reload and try again.").
		WithReportableDetails(map[string]any{
			"subscription_id": sub.ID,
			"status":          sub.Status,
		}).
		Mark(ierr.ErrVersionConflict)
}

func requireProviderLink(sub *subscription.Subscription) error {
	if sub.SubscriptionRef() != "" {
		return nil
	}
	return ierr.NewError("subscription is not linked to the provider").
		WithHintf("The %s subscription is still being set up. Please try again shortly.", sub.Provider).
		WithReportableDetails(map[string]any{
			"subscription_id": sub.ID,
			"provider":        sub.Provider,
		}).
		Mark(ierr.ErrInvalidOperation)
}
