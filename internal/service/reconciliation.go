package service

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/domain/drift"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	"github.com/pewsoft/subscriptions/internal/domain/webhookevent"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/metrics"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// Webhook outcomes recorded on the audit row
const (
	outcomeApplied           = "applied"
	outcomeCreated           = "created"
	outcomeMirrored          = "mirrored"
	outcomeUnchanged         = "unchanged"
	outcomeUnresolvedTenant  = "unresolved_tenant"
	outcomeUnknownPlan       = "unknown_plan"
	outcomeNotLive           = "not_live"
	outcomeTerminalRow       = "terminal_row"
	outcomeIllegalTransition = "illegal_transition"
	outcomeNotFound          = "not_found"
)

const (
	defaultBackfillLimit = 100
	defaultPullSyncLimit = 200
	defaultDriftLimit    = 100
)

type ReconciliationService interface {
	// HandleWebhook verifies, dedups and applies one provider event
	HandleWebhook(ctx context.Context, provider types.PaymentProvider, payload []byte, headers http.Header) (*dto.WebhookResponse, error)
	BackfillMetadata(ctx context.Context, req dto.BackfillRequest) (*dto.BackfillResponse, error)
	GetDrift(ctx context.Context, req dto.DriftRequest) (*dto.DriftResponse, error)
	// PullSync fetches the provider's view of live subscriptions and applies it like a webhook
	PullSync(ctx context.Context, provider types.PaymentProvider, req dto.PullSyncRequest) (*dto.PullSyncResponse, error)
}

type reconciliationService struct {
	ServiceParams
	subs *subscriptionService
}

func NewReconciliationService(params ServiceParams) ReconciliationService {
	return &reconciliationService{
		ServiceParams: params,
		subs:          newSubscriptionService(params),
	}
}

// applyResult describes what an event did to local state
type applyResult struct {
	outcome        string
	tenantID       string
	subscriptionID string
}

func (s *reconciliationService) HandleWebhook(ctx context.Context, provider types.PaymentProvider, payload []byte, headers http.Header) (*dto.WebhookResponse, error) {
	start := time.Now()
	defer func() {
		metrics.WebhookDuration.WithLabelValues(provider.String()).Observe(time.Since(start).Seconds())
	}()

	p, err := s.Integrations.GetProvider(provider)
	if err != nil {
		return nil, err
	}

	event, err := p.ParseWebhook(ctx, payload, headers)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(provider.String(), "unknown", metrics.OutcomeFailure).Inc()
		s.Logger.Warnw("rejected webhook",
			"provider", provider,
			"error", err,
		)
		return nil, err
	}

	if event.Provider == "" {
		event.Provider = provider
	}
	ctx = types.SetActorType(ctx, types.ActorTypeWebhook)
	resp := &dto.WebhookResponse{EventID: event.ID, Kind: event.Kind}

	if event.Kind == types.ProviderEventIgnored {
		metrics.WebhookEventsTotal.WithLabelValues(provider.String(), string(event.Kind), metrics.OutcomeIgnored).Inc()
		s.Logger.Debugw("ignoring webhook",
			"provider", provider,
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return resp, nil
	}

	s.enrich(ctx, p, event)

	var result applyResult
	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		created, err := s.WebhookEventRepo.MarkProcessed(ctx, &webhookevent.ProcessedEvent{
			Provider:   provider,
			EventID:    event.ID,
			EventType:  event.Type,
			TenantID:   event.TenantID,
			ReceivedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !created {
			resp.Duplicate = true
			return nil
		}

		result, err = s.applyEvent(ctx, event)
		if err != nil {
			return err
		}

		tenantID := lo.Ternary(result.tenantID != "", result.tenantID, event.TenantID)
		return s.AuditRepo.Create(ctx, audit.New(ctx, tenantID, types.AuditActionWebhookProcessed,
			types.AuditEntityWebhookEvent, event.ID, string(event.Kind), map[string]any{
				"provider":        provider,
				"event_type":      event.Type,
				"outcome":         result.outcome,
				"subscription_id": result.subscriptionID,
			}))
	})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(provider.String(), string(event.Kind), metrics.OutcomeFailure).Inc()
		s.Logger.Errorw("failed to process webhook",
			"error", err,
			"provider", provider,
			"event_id", event.ID,
			"kind", event.Kind,
		)
		return nil, err
	}

	if resp.Duplicate {
		metrics.WebhookEventsTotal.WithLabelValues(provider.String(), string(event.Kind), metrics.OutcomeDuplicate).Inc()
		s.Logger.Infow("duplicate webhook",
			"provider", provider,
			"event_id", event.ID,
			"kind", event.Kind,
		)
		return resp, nil
	}

	metrics.WebhookEventsTotal.WithLabelValues(provider.String(), string(event.Kind), metrics.OutcomeSuccess).Inc()
	s.Logger.Infow("processed webhook",
		"provider", provider,
		"event_id", event.ID,
		"kind", event.Kind,
		"outcome", result.outcome,
		"tenant_id", result.tenantID,
		"subscription_id", result.subscriptionID,
	)
	return resp, nil
}

// enrich fills the billing period of a completed checkout from the provider. It runs
// outside the transaction and failures leave the event as parsed.
func (s *reconciliationService) enrich(ctx context.Context, p base.Provider, event *base.Event) {
	remote := event.Subscription
	if event.Kind != types.ProviderEventCheckoutCompleted || remote == nil {
		return
	}
	if remote.Refs.SubscriptionRef == "" || remote.CurrentPeriodEnd != nil {
		return
	}

	seen, err := s.WebhookEventRepo.Exists(ctx, event.Provider, event.ID)
	if err != nil || seen {
		return
	}

	fetched, err := p.GetSubscription(ctx, remote.Refs)
	metrics.ObserveProviderCall(event.Provider.String(), "get_subscription", err)
	if err != nil {
		s.Logger.Warnw("could not fetch subscription for checkout",
			"error", err,
			"provider", event.Provider,
			"event_id", event.ID,
			"subscription_ref", remote.Refs.SubscriptionRef,
		)
		return
	}

	fetched.TenantID = lo.Ternary(fetched.TenantID != "", fetched.TenantID, remote.TenantID)
	fetched.PlanCode = lo.Ternary(remote.PlanCode != "", remote.PlanCode, fetched.PlanCode)
	fetched.Refs.CustomerRef = lo.Ternary(fetched.Refs.CustomerRef != "", fetched.Refs.CustomerRef, remote.Refs.CustomerRef)
	fetched.Raw = remote.Raw
	event.Subscription = fetched
}

func (s *reconciliationService) applyEvent(ctx context.Context, event *base.Event) (applyResult, error) {
	switch event.Kind {
	case types.ProviderEventCheckoutCompleted, types.ProviderEventSubscriptionUpdated:
		return s.applySubscriptionUpdate(ctx, event, true)
	case types.ProviderEventSubscriptionCanceled:
		return s.applySubscriptionUpdate(ctx, event, false)
	case types.ProviderEventPaymentSucceeded, types.ProviderEventPaymentFailed:
		return s.applyPayment(ctx, event)
	case types.ProviderEventInvoiceSynced:
		return s.mirrorInvoice(ctx, event, nil)
	case types.ProviderEventPayoutSynced, types.ProviderEventRefundSynced, types.ProviderEventDisputeSynced:
		return s.mirror(ctx, event)
	}
	return applyResult{outcome: outcomeUnchanged, tenantID: event.TenantID}, nil
}

// applySubscriptionUpdate merges the provider view into the local row. A missing row is
// created when allowed, which lets update and checkout events arrive in any order.
func (s *reconciliationService) applySubscriptionUpdate(ctx context.Context, event *base.Event, allowCreate bool) (applyResult, error) {
	remote := event.Subscription
	if remote == nil {
		return applyResult{outcome: outcomeUnchanged, tenantID: event.TenantID}, nil
	}
	if event.Kind == types.ProviderEventSubscriptionCanceled {
		remote.Status = types.SubscriptionStatusCanceled
	}

	tenantID := lo.Ternary(remote.TenantID != "", remote.TenantID, event.TenantID)
	sub, err := s.findLocal(ctx, event.Provider, remote, tenantID)
	if err != nil {
		return applyResult{}, err
	}

	if sub == nil {
		if !allowCreate {
			return applyResult{outcome: outcomeNotFound, tenantID: tenantID}, nil
		}
		return s.createFromRemote(ctx, event, remote, tenantID)
	}

	outcome, err := s.syncRemote(ctx, sub, remote, event.ID)
	if err != nil {
		return applyResult{}, err
	}
	return applyResult{outcome: outcome, tenantID: sub.TenantID, subscriptionID: sub.ID}, nil
}

// syncRemote applies the provider view to a locked local row
func (s *reconciliationService) syncRemote(ctx context.Context, sub *subscription.Subscription, remote *base.RemoteSubscription, eventID string) (string, error) {
	if sub.Status.IsTerminal() {
		s.Logger.Infow("provider update for a closed subscription, skipping",
			"subscription_id", sub.ID,
			"status", sub.Status,
			"provider_status", remote.RawStatus,
		)
		return outcomeTerminalRow, nil
	}

	if err := s.mergeRemote(ctx, sub, remote); err != nil {
		return "", err
	}

	event, ok := eventForStatus(sub.Status, remote.Status)
	if ok && subscription.CanTransition(sub.Status, event) {
		err := s.subs.transition(ctx, sub, event, TransitionOptions{
			Reason: reasonProviderSync,
			Metadata: map[string]any{
				"event_id":        eventID,
				"provider_status": remote.RawStatus,
			},
		})
		if err != nil {
			return "", err
		}
		return outcomeApplied, nil
	}

	outcome := outcomeApplied
	if ok {
		s.Logger.Warnw("provider status has no legal transition, keeping local status",
			"subscription_id", sub.ID,
			"status", sub.Status,
			"provider_status", remote.Status,
			"event", event,
		)
		outcome = outcomeIllegalTransition
	}
	if err := s.subs.save(ctx, sub, "", "", nil); err != nil {
		return "", err
	}
	return outcome, nil
}

// mergeRemote copies refs, period and plan from the provider onto sub without changing status
func (s *reconciliationService) mergeRemote(ctx context.Context, sub *subscription.Subscription, remote *base.RemoteSubscription) error {
	applyRemote(sub, remote)
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
	if remote.Raw != nil {
		sub.RawProviderPayload = remote.Raw
	}

	if remote.Refs.PriceRef == "" {
		return nil
	}
	p, err := s.planByPriceRef(ctx, sub.Provider, remote.Refs.PriceRef)
	if ierr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.ID == sub.PlanID {
		return nil
	}

	s.Logger.Infow("provider moved subscription to another plan",
		"subscription_id", sub.ID,
		"from_plan_id", sub.PlanID,
		"to_plan", p.Code,
	)
	sub.PlanID = p.ID
	if lo.FromPtr(sub.PendingPlanCode) == p.Code {
		sub.ClearPendingChange()
	}
	return nil
}

// createFromRemote opens a local row for a provider subscription, closing any other live row
func (s *reconciliationService) createFromRemote(ctx context.Context, event *base.Event, remote *base.RemoteSubscription, tenantID string) (applyResult, error) {
	if tenantID == "" {
		s.Logger.Warnw("provider subscription carries no tenant",
			"provider", event.Provider,
			"event_id", event.ID,
			"subscription_ref", remote.Refs.SubscriptionRef,
		)
		return applyResult{outcome: outcomeUnresolvedTenant}, nil
	}

	planCode := lo.Ternary(remote.PlanCode != "", remote.PlanCode, event.PlanCode)
	p, err := s.resolvePlan(ctx, event.Provider, planCode, remote.Refs.PriceRef)
	if ierr.IsNotFound(err) {
		s.Logger.Warnw("provider subscription references an unknown plan",
			"provider", event.Provider,
			"event_id", event.ID,
			"plan_code", planCode,
			"price_ref", remote.Refs.PriceRef,
		)
		return applyResult{outcome: outcomeUnknownPlan, tenantID: tenantID}, nil
	}
	if err != nil {
		return applyResult{}, err
	}

	now := time.Now().UTC()
	status := remote.Status
	if status == "" {
		status = types.SubscriptionStatusActive
		if remote.TrialEndsAt != nil && remote.TrialEndsAt.After(now) {
			status = types.SubscriptionStatusTrialing
		}
	}
	if !status.IsLive() {
		return applyResult{outcome: outcomeNotLive, tenantID: tenantID}, nil
	}

	replaced, err := s.subs.replaceCurrent(ctx, tenantID, reasonReplacedByCheckout, now)
	if err != nil {
		return applyResult{}, err
	}

	sub := newSubscription(ctx, tenantID, p, status, event.Provider, now)
	if err := s.mergeRemote(ctx, sub, remote); err != nil {
		return applyResult{}, err
	}
	if err := s.SubRepo.Create(ctx, sub); err != nil {
		return applyResult{}, err
	}

	metadata := map[string]any{
		"plan_code":        p.Code,
		"status":           sub.Status,
		"provider":         sub.Provider,
		"subscription_ref": sub.SubscriptionRef(),
		"event_id":         event.ID,
	}
	if replaced != nil {
		metadata["replaced_subscription_id"] = replaced.ID
	}
	err = s.AuditRepo.Create(ctx, audit.New(ctx, tenantID, types.AuditActionSubscriptionCreated,
		types.AuditEntitySubscription, sub.ID, string(event.Kind), metadata))
	if err != nil {
		return applyResult{}, err
	}

	return applyResult{outcome: outcomeCreated, tenantID: tenantID, subscriptionID: sub.ID}, nil
}

// applyPayment mirrors the invoice and moves the linked subscription through the payment event
func (s *reconciliationService) applyPayment(ctx context.Context, event *base.Event) (applyResult, error) {
	var sub *subscription.Subscription
	if event.Subscription != nil {
		var err error
		sub, err = s.findLocal(ctx, event.Provider, event.Subscription, event.TenantID)
		if err != nil {
			return applyResult{}, err
		}
	}

	result, err := s.mirrorInvoice(ctx, event, sub)
	if err != nil {
		return applyResult{}, err
	}
	if sub == nil {
		return result, nil
	}

	result.subscriptionID = sub.ID
	if !sub.Status.IsLive() {
		result.outcome = outcomeTerminalRow
		return result, nil
	}

	ev := lo.Ternary(event.Kind == types.ProviderEventPaymentSucceeded, subscription.EventPaymentSucceeded, subscription.EventPaymentFailed)
	if !subscription.CanTransition(sub.Status, ev) {
		s.Logger.Warnw("payment event has no legal transition",
			"subscription_id", sub.ID,
			"status", sub.Status,
			"event", ev,
		)
		result.outcome = outcomeIllegalTransition
		return result, nil
	}

	err = s.subs.transition(ctx, sub, ev, TransitionOptions{
		Reason: string(event.Kind),
		Metadata: map[string]any{
			"event_id":    event.ID,
			"invoice_ref": lo.Ternary(event.Invoice != nil, lo.FromPtr(event.Invoice).ProviderRef, ""),
		},
	})
	if err != nil {
		return applyResult{}, err
	}
	result.outcome = outcomeApplied
	return result, nil
}

func (s *reconciliationService) mirrorInvoice(ctx context.Context, event *base.Event, sub *subscription.Subscription) (applyResult, error) {
	inv := event.Invoice
	if inv == nil {
		return applyResult{outcome: outcomeUnchanged, tenantID: event.TenantID}, nil
	}

	if sub != nil {
		inv.SubscriptionID = lo.ToPtr(sub.ID)
		if inv.TenantID == "" {
			inv.TenantID = sub.TenantID
		}
	}
	if inv.TenantID == "" {
		return applyResult{outcome: outcomeUnresolvedTenant}, nil
	}

	inv.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE)
	inv.BaseModel = types.GetDefaultBaseModel(ctx)
	if _, err := s.BillingRepo.UpsertInvoice(ctx, inv); err != nil {
		return applyResult{}, err
	}
	return applyResult{outcome: outcomeMirrored, tenantID: inv.TenantID}, nil
}

// mirror upserts payouts, refunds and disputes. Refunds and disputes without tenant
// metadata inherit the tenant of the invoice they reverse.
func (s *reconciliationService) mirror(ctx context.Context, event *base.Event) (applyResult, error) {
	switch {
	case event.Payout != nil:
		payout := event.Payout
		if payout.TenantID == "" {
			return applyResult{outcome: outcomeUnresolvedTenant}, nil
		}
		payout.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYOUT)
		payout.BaseModel = types.GetDefaultBaseModel(ctx)
		if _, err := s.BillingRepo.UpsertPayout(ctx, payout); err != nil {
			return applyResult{}, err
		}
		return applyResult{outcome: outcomeMirrored, tenantID: payout.TenantID}, nil

	case event.Refund != nil:
		refund := event.Refund
		tenantID, err := s.tenantForPayment(ctx, event.Provider, refund.TenantID, refund.PaymentRef)
		if err != nil {
			return applyResult{}, err
		}
		if tenantID == "" {
			return applyResult{outcome: outcomeUnresolvedTenant}, nil
		}
		refund.TenantID = tenantID
		refund.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_REFUND)
		refund.BaseModel = types.GetDefaultBaseModel(ctx)
		if _, err := s.BillingRepo.UpsertRefund(ctx, refund); err != nil {
			return applyResult{}, err
		}
		return applyResult{outcome: outcomeMirrored, tenantID: tenantID}, nil

	case event.Dispute != nil:
		dispute := event.Dispute
		tenantID, err := s.tenantForPayment(ctx, event.Provider, dispute.TenantID, dispute.PaymentRef)
		if err != nil {
			return applyResult{}, err
		}
		if tenantID == "" {
			return applyResult{outcome: outcomeUnresolvedTenant}, nil
		}
		dispute.TenantID = tenantID
		dispute.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_DISPUTE)
		dispute.BaseModel = types.GetDefaultBaseModel(ctx)
		if _, err := s.BillingRepo.UpsertDispute(ctx, dispute); err != nil {
			return applyResult{}, err
		}
		return applyResult{outcome: outcomeMirrored, tenantID: tenantID}, nil
	}
	return applyResult{outcome: outcomeUnchanged, tenantID: event.TenantID}, nil
}

func (s *reconciliationService) tenantForPayment(ctx context.Context, provider types.PaymentProvider, tenantID, paymentRef string) (string, error) {
	if tenantID != "" || paymentRef == "" {
		return tenantID, nil
	}
	inv, err := s.BillingRepo.GetInvoiceByRef(ctx, provider, paymentRef)
	if ierr.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return inv.TenantID, nil
}

// findLocal locks the local row a provider subscription maps to, nil when there is none.
// Rows are matched by subscription ref, then by a live row of the same customer that is
// not linked to another subscription, then by the tenant's unlinked live row.
func (s *reconciliationService) findLocal(ctx context.Context, provider types.PaymentProvider, remote *base.RemoteSubscription, tenantID string) (*subscription.Subscription, error) {
	ref := remote.Refs.SubscriptionRef
	if ref != "" {
		sub, err := s.SubRepo.GetByProviderRef(ctx, provider, ref)
		if err == nil {
			return s.SubRepo.GetForUpdate(ctx, sub.ID)
		}
		if !ierr.IsNotFound(err) {
			return nil, err
		}
	}

	if customerRef := remote.Refs.CustomerRef; customerRef != "" {
		filter := types.NewSubscriptionFilter()
		filter.Providers = []types.PaymentProvider{provider}
		filter.Statuses = types.LiveSubscriptionStatuses
		filter.ProviderCustomerRef = customerRef
		filter.Sort = lo.ToPtr("starts_at")
		filter.Order = lo.ToPtr("desc")

		subs, err := s.SubRepo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		candidate, ok := lo.Find(subs, func(sub *subscription.Subscription) bool {
			return sub.SubscriptionRef() == "" || ref == "" || sub.SubscriptionRef() == ref
		})
		if ok {
			return s.SubRepo.GetForUpdate(ctx, candidate.ID)
		}
	}

	if tenantID == "" {
		return nil, nil
	}
	current, err := s.SubRepo.GetCurrentForUpdate(ctx, tenantID)
	if ierr.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if current.Provider == provider && current.SubscriptionRef() == "" {
		return current, nil
	}
	return nil, nil
}

func (s *reconciliationService) resolvePlan(ctx context.Context, provider types.PaymentProvider, code, priceRef string) (*plan.Plan, error) {
	if code != "" {
		p, err := s.PlanRepo.GetByCode(ctx, code)
		if err == nil || !ierr.IsNotFound(err) || priceRef == "" {
			return p, err
		}
	}
	return s.planByPriceRef(ctx, provider, priceRef)
}

func (s *reconciliationService) planByPriceRef(ctx context.Context, provider types.PaymentProvider, priceRef string) (*plan.Plan, error) {
	filter := types.NewPlanFilter()
	filter.IncludeInactive = true

	plans, err := s.PlanRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	p, ok := lo.Find(plans, func(p *plan.Plan) bool {
		return priceRef != "" && p.ProviderPriceRef(provider) == priceRef
	})
	if !ok {
		return nil, ierr.NewError("no plan for provider price").
			WithHintf("No plan is mapped to %s price %s", provider, priceRef).
			WithReportableDetails(map[string]any{
				"provider":  provider,
				"price_ref": priceRef,
			}).
			Mark(ierr.ErrNotFound)
	}
	return p, nil
}

// eventForStatus maps a provider status onto the state machine event that reaches it
func eventForStatus(current, remote types.SubscriptionStatus) (subscription.Event, bool) {
	if remote == "" || remote == current {
		return "", false
	}
	switch remote {
	case types.SubscriptionStatusActive:
		if current == types.SubscriptionStatusPaused {
			return subscription.EventUnpause, true
		}
		return subscription.EventActivate, true
	case types.SubscriptionStatusPastDue:
		return subscription.EventPaymentFailed, true
	case types.SubscriptionStatusPaused:
		return subscription.EventPause, true
	case types.SubscriptionStatusCanceled:
		return subscription.EventCancel, true
	case types.SubscriptionStatusExpired:
		return subscription.EventTrialExpired, true
	}
	return "", false
}

func (s *reconciliationService) BackfillMetadata(ctx context.Context, req dto.BackfillRequest) (*dto.BackfillResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx = types.SetActorType(ctx, types.ActorTypeSystem)

	filter := types.NewSubscriptionFilter()
	filter.Limit = lo.ToPtr(lo.Ternary(req.Limit > 0, req.Limit, defaultBackfillLimit))
	filter.MissingProviderRefs = true
	filter.ExcludeManualProviders = true

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := &dto.BackfillResponse{DryRun: req.DryRun, Scanned: len(subs)}
	for _, sub := range subs {
		refs, ok := refsFromPayload(sub.Provider, sub.RawProviderPayload)
		if !ok || !refsChange(sub, refs) {
			resp.Skipped++
			continue
		}
		if req.DryRun {
			resp.Updated++
			continue
		}

		changed := false
		err := s.subs.withLocked(ctx, sub.ID, func(ctx context.Context, locked *subscription.Subscription) error {
			if !refsChange(locked, refs) {
				return nil
			}
			changed = true
			locked.SetProviderRefs(refs)
			return s.subs.save(ctx, locked, types.AuditActionMetadataBackfilled, "metadata_backfill", map[string]any{
				"customer_ref":     refs.CustomerRef,
				"subscription_ref": refs.SubscriptionRef,
				"price_ref":        refs.PriceRef,
			})
		})
		if err != nil {
			resp.Failed++
			s.Logger.Errorw("failed to backfill subscription metadata",
				"error", err,
				"subscription_id", sub.ID,
			)
			continue
		}
		if !changed {
			resp.Skipped++
			continue
		}
		resp.Updated++
	}

	s.Logger.Infow("metadata backfill finished",
		"dry_run", resp.DryRun,
		"scanned", resp.Scanned,
		"updated", resp.Updated,
		"skipped", resp.Skipped,
		"failed", resp.Failed,
	)
	return resp, nil
}

// refsChange reports whether merging refs into sub would change any stored ref
func refsChange(sub *subscription.Subscription, refs subscription.ProviderRefs) bool {
	merged := *sub
	merged.SetProviderRefs(refs)
	return sub.ProviderMetadata == nil ||
		*merged.ProviderMetadata != *sub.ProviderMetadata ||
		lo.FromPtr(merged.ProviderCustomerID) != lo.FromPtr(sub.ProviderCustomerID) ||
		lo.FromPtr(merged.ProviderSubscriptionID) != lo.FromPtr(sub.ProviderSubscriptionID)
}

// refsFromPayload derives normalized refs from a raw provider payload. Both flat ids and
// expanded objects are accepted.
func refsFromPayload(provider types.PaymentProvider, raw types.JSONMap) (subscription.ProviderRefs, bool) {
	refs := subscription.ProviderRefs{
		Provider:        provider,
		CustomerRef:     payloadRef(raw, []string{"customer", "customer_id", "customer_code"}, "id", "customer_code"),
		SubscriptionRef: payloadRef(raw, []string{"subscription", "subscription_id", "subscription_code"}, "id", "subscription_code"),
		PriceRef:        payloadRef(raw, []string{"price", "price_id", "plan", "plan_code"}, "id", "plan_code"),
		EmailToken:      payloadRef(raw, []string{"email_token"}),
	}
	if provider == types.PaymentProviderStripe && refs.SubscriptionRef == "" {
		if id := payloadRef(raw, []string{"id"}); len(id) > 4 && id[:4] == "sub_" {
			refs.SubscriptionRef = id
		}
	}
	return refs, refs.CustomerRef != "" || refs.SubscriptionRef != ""
}

func payloadRef(raw types.JSONMap, keys []string, nested ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]interface{}:
			for _, n := range nested {
				if s, ok := v[n].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func (s *reconciliationService) GetDrift(ctx context.Context, req dto.DriftRequest) (*dto.DriftResponse, error) {
	filter := drift.Filter{
		TenantID: req.TenantID,
		Limit:    lo.Ternary(req.Limit > 0, req.Limit, defaultDriftLimit),
	}

	intents, err := s.DriftRepo.IntentsWithoutDonation(ctx, filter)
	if err != nil {
		return nil, err
	}
	donations, err := s.DriftRepo.DonationsWithoutIntent(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &dto.DriftResponse{
		IntentsWithoutDonation: lo.Ternary(intents != nil, intents, []*drift.IntentWithoutDonation{}),
		DonationsWithoutIntent: lo.Ternary(donations != nil, donations, []*drift.DonationWithoutIntent{}),
	}, nil
}

func (s *reconciliationService) PullSync(ctx context.Context, provider types.PaymentProvider, req dto.PullSyncRequest) (*dto.PullSyncResponse, error) {
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	p, err := s.Integrations.GetProvider(provider)
	if err != nil {
		return nil, err
	}
	ctx = types.SetActorType(ctx, types.ActorTypeSystem)

	filter := types.NewSubscriptionFilter()
	filter.Limit = lo.ToPtr(lo.Ternary(req.Limit > 0, req.Limit, defaultPullSyncLimit))
	filter.Providers = []types.PaymentProvider{provider}
	filter.Statuses = types.LiveSubscriptionStatuses

	subs, err := s.SubRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	subs = lo.Filter(subs, func(sub *subscription.Subscription, _ int) bool {
		return sub.SubscriptionRef() != ""
	})

	var updated, unchanged, failed atomic.Int64
	workers := pool.New().WithMaxGoroutines(max(s.Config.Billing.PullSyncConcurrency, 1))
	for _, sub := range subs {
		workers.Go(func() {
			changed, err := s.pullOne(ctx, p, sub)
			switch {
			case err != nil:
				failed.Add(1)
				s.Logger.Errorw("pull sync failed",
					"error", err,
					"provider", provider,
					"subscription_id", sub.ID,
				)
			case changed:
				updated.Add(1)
			default:
				unchanged.Add(1)
			}
		})
	}
	workers.Wait()

	resp := &dto.PullSyncResponse{
		Provider:  provider,
		Scanned:   len(subs),
		Updated:   int(updated.Load()),
		Unchanged: int(unchanged.Load()),
		Failed:    int(failed.Load()),
	}
	s.Logger.Infow("pull sync finished",
		"provider", provider,
		"scanned", resp.Scanned,
		"updated", resp.Updated,
		"unchanged", resp.Unchanged,
		"failed", resp.Failed,
	)
	return resp, nil
}

// pullOne fetches one subscription from the provider, retrying transient failures, and
// applies it under the row lock
func (s *reconciliationService) pullOne(ctx context.Context, p base.Provider, sub *subscription.Subscription) (bool, error) {
	var remote *base.RemoteSubscription
	op := func() error {
		var err error
		remote, err = p.GetSubscription(ctx, refsFor(sub))
		metrics.ObserveProviderCall(p.Name().String(), "get_subscription", err)
		if ierr.IsNotFound(err) || ierr.IsValidation(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return false, err
	}

	changed := false
	err := s.subs.withLocked(ctx, sub.ID, func(ctx context.Context, locked *subscription.Subscription) error {
		before := snapshotOf(locked)
		outcome, err := s.syncRemote(ctx, locked, remote, "pull_sync")
		if err != nil {
			return err
		}
		changed = outcome != outcomeTerminalRow && before != snapshotOf(locked)
		return nil
	})
	return changed, err
}

// syncSnapshot is the part of a row pull sync can change
type syncSnapshot struct {
	status            types.SubscriptionStatus
	planID            string
	periodEnd         time.Time
	cancelAtPeriodEnd bool
	subscriptionRef   string
	customerRef       string
}

func snapshotOf(sub *subscription.Subscription) syncSnapshot {
	return syncSnapshot{
		status:            sub.Status,
		planID:            sub.PlanID,
		periodEnd:         lo.FromPtr(sub.CurrentPeriodEnd),
		cancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		subscriptionRef:   sub.SubscriptionRef(),
		customerRef:       sub.CustomerRef(),
	}
}
