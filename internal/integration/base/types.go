package base

import (
	"context"
	"net/http"
	"time"

	"github.com/pewsoft/subscriptions/internal/domain/billing"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	"github.com/pewsoft/subscriptions/internal/types"
)

// Metadata keys written on every provider object we create, so inbound events can be
// routed back to the owning tenant.
const (
	MetadataTenantID = "tenant_id"
	MetadataPlanCode = "plan_code"
	MetadataCheckout = "checkout"
)

// Capabilities describes what a provider can do, checked before an action is offered
type Capabilities struct {
	// ImmediateProration allows an in-cycle upgrade billed with proration
	ImmediateProration bool `json:"immediate_proration"`
	// BillingPortal allows a hosted self-service portal session
	BillingPortal bool `json:"billing_portal"`
	// HostedCheckout allows starting a subscription through a provider-hosted page
	HostedCheckout bool `json:"hosted_checkout"`
}

// CheckoutRequest starts a provider-hosted subscription checkout
type CheckoutRequest struct {
	TenantID       string
	PlanCode       string
	PriceRef       string
	CustomerEmail  string
	CustomerRef    string
	AmountMinor    int64
	Currency       string
	TrialDays      int
	IdempotencyKey string
}

// CheckoutSession is the redirect target returned to the tenant
type CheckoutSession struct {
	URL       string `json:"url"`
	Reference string `json:"reference"`
}

// PortalRequest opens a self-service billing portal
type PortalRequest struct {
	CustomerRef string
	ReturnURL   string
}

// PortalSession is the portal redirect target
type PortalSession struct {
	URL string `json:"url"`
}

// ChangePlanRequest moves a provider subscription to a different price
type ChangePlanRequest struct {
	Refs           subscription.ProviderRefs
	PriceRef       string
	Prorate        bool
	IdempotencyKey string
}

// CancelRequest stops a provider subscription now or at the end of the paid period
type CancelRequest struct {
	Refs           subscription.ProviderRefs
	AtPeriodEnd    bool
	IdempotencyKey string
}

// ResumeRequest undoes a pending cancellation
type ResumeRequest struct {
	Refs           subscription.ProviderRefs
	IdempotencyKey string
}

// RemoteSubscription is the provider's view of a subscription, normalized
type RemoteSubscription struct {
	Refs      subscription.ProviderRefs
	TenantID  string
	PlanCode  string
	RawStatus string
	// Status is empty when the provider status has no local equivalent
	Status             types.SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialEndsAt        *time.Time
	CancelAtPeriodEnd  bool
	Raw                types.JSONMap
}

// Event is an inbound provider signal normalized into one shape for both providers
type Event struct {
	ID       string
	Provider types.PaymentProvider
	Type     string
	Kind     types.ProviderEventKind
	TenantID string
	PlanCode string

	Subscription *RemoteSubscription
	Invoice      *billing.Invoice
	Payout       *billing.Payout
	Refund       *billing.Refund
	Dispute      *billing.Dispute

	Raw types.JSONMap
}

// SubscriptionRef returns the provider subscription id the event refers to, if any
func (e *Event) SubscriptionRef() string {
	if e.Subscription != nil {
		return e.Subscription.Refs.SubscriptionRef
	}
	return ""
}

// Provider is implemented by every billing provider adapter
type Provider interface {
	Name() types.PaymentProvider
	Capabilities() Capabilities
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, req *PortalRequest) (*PortalSession, error)
	GetSubscription(ctx context.Context, refs subscription.ProviderRefs) (*RemoteSubscription, error)
	// ChangeSubscriptionPlan returns the provider's view after the change; refs may differ
	// when the provider replaces the subscription
	ChangeSubscriptionPlan(ctx context.Context, req *ChangePlanRequest) (*RemoteSubscription, error)
	CancelSubscription(ctx context.Context, req *CancelRequest) error
	ResumeSubscription(ctx context.Context, req *ResumeRequest) error
	// ParseWebhook verifies and normalizes an inbound webhook
	ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*Event, error)
}
