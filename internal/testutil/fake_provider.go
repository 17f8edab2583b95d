package testutil

import (
	"context"
	"net/http"
	"sync"

	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/types"
)

var _ base.Provider = (*FakeProvider)(nil)

// Provider operation names recorded by FakeProvider
const (
	OpCheckout        = "checkout"
	OpPortal          = "portal"
	OpGetSubscription = "get_subscription"
	OpChangePlan      = "change_plan"
	OpCancel          = "cancel"
	OpResume          = "resume"
	OpParseWebhook    = "parse_webhook"
)

// FakeProvider is a scriptable billing provider that records every call
type FakeProvider struct {
	mu   sync.Mutex
	name types.PaymentProvider
	caps base.Capabilities

	calls  []string
	errors map[string]error

	// Event is returned by ParseWebhook, copied per call
	Event *base.Event
	// Remote holds GetSubscription results by subscription ref
	Remote map[string]*base.RemoteSubscription
	// ChangeResult is returned by ChangeSubscriptionPlan when set
	ChangeResult *base.RemoteSubscription

	LastCheckout *base.CheckoutRequest
	LastPortal   *base.PortalRequest
	LastChange   *base.ChangePlanRequest
	LastCancel   *base.CancelRequest
	LastResume   *base.ResumeRequest
}

func NewFakeProvider(name types.PaymentProvider, caps base.Capabilities) *FakeProvider {
	return &FakeProvider{
		name:   name,
		caps:   caps,
		errors: make(map[string]error),
		Remote: make(map[string]*base.RemoteSubscription),
	}
}

// NewFakeStripeProvider advertises Stripe's capabilities
func NewFakeStripeProvider() *FakeProvider {
	return NewFakeProvider(types.PaymentProviderStripe, base.Capabilities{
		ImmediateProration: true,
		BillingPortal:      true,
		HostedCheckout:     true,
	})
}

// NewFakePaystackProvider advertises Paystack's capabilities
func NewFakePaystackProvider() *FakeProvider {
	return NewFakeProvider(types.PaymentProviderPaystack, base.Capabilities{
		HostedCheckout: true,
	})
}

// FailWith makes operation return err until cleared with a nil err
func (p *FakeProvider) FailWith(operation string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errors, operation)
		return
	}
	p.errors[operation] = err
}

// Calls returns the operations invoked so far
func (p *FakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CallCount returns how often operation was invoked
func (p *FakeProvider) CallCount(operation string) int {
	count := 0
	for _, c := range p.Calls() {
		if c == operation {
			count++
		}
	}
	return count
}

func (p *FakeProvider) record(operation string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, operation)
	return p.errors[operation]
}

func (p *FakeProvider) Name() types.PaymentProvider {
	return p.name
}

func (p *FakeProvider) Capabilities() base.Capabilities {
	return p.caps
}

func (p *FakeProvider) CreateCheckout(ctx context.Context, req *base.CheckoutRequest) (*base.CheckoutSession, error) {
	if err := p.record(OpCheckout); err != nil {
		return nil, err
	}
	p.LastCheckout = req
	return &base.CheckoutSession{
		URL:       "https://checkout.example.com/" + req.TenantID,
		Reference: "cs_" + req.IdempotencyKey,
	}, nil
}

func (p *FakeProvider) CreatePortalSession(ctx context.Context, req *base.PortalRequest) (*base.PortalSession, error) {
	if err := p.record(OpPortal); err != nil {
		return nil, err
	}
	p.LastPortal = req
	return &base.PortalSession{URL: "https://portal.example.com/" + req.CustomerRef}, nil
}

func (p *FakeProvider) GetSubscription(ctx context.Context, refs subscription.ProviderRefs) (*base.RemoteSubscription, error) {
	if err := p.record(OpGetSubscription); err != nil {
		return nil, err
	}
	p.mu.Lock()
	remote, ok := p.Remote[refs.SubscriptionRef]
	p.mu.Unlock()
	if !ok {
		return nil, ierr.NewError("subscription not found at provider").
			WithHintf("No subscription %s", refs.SubscriptionRef).
			Mark(ierr.ErrNotFound)
	}
	c := *remote
	return &c, nil
}

func (p *FakeProvider) ChangeSubscriptionPlan(ctx context.Context, req *base.ChangePlanRequest) (*base.RemoteSubscription, error) {
	if err := p.record(OpChangePlan); err != nil {
		return nil, err
	}
	p.LastChange = req
	if p.ChangeResult != nil {
		c := *p.ChangeResult
		return &c, nil
	}
	refs := req.Refs
	refs.PriceRef = req.PriceRef
	return &base.RemoteSubscription{Refs: refs}, nil
}

func (p *FakeProvider) CancelSubscription(ctx context.Context, req *base.CancelRequest) error {
	if err := p.record(OpCancel); err != nil {
		return err
	}
	p.LastCancel = req
	return nil
}

func (p *FakeProvider) ResumeSubscription(ctx context.Context, req *base.ResumeRequest) error {
	if err := p.record(OpResume); err != nil {
		return err
	}
	p.LastResume = req
	return nil
}

func (p *FakeProvider) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*base.Event, error) {
	if err := p.record(OpParseWebhook); err != nil {
		return nil, err
	}
	if p.Event == nil {
		return nil, ierr.NewError("no event scripted").
			WithHint("Invalid webhook payload").
			Mark(ierr.ErrValidation)
	}

	event := *p.Event
	if p.Event.Subscription != nil {
		remote := *p.Event.Subscription
		event.Subscription = &remote
	}
	if p.Event.Invoice != nil {
		inv := *p.Event.Invoice
		event.Invoice = &inv
	}
	if p.Event.Refund != nil {
		refund := *p.Event.Refund
		event.Refund = &refund
	}
	if p.Event.Dispute != nil {
		dispute := *p.Event.Dispute
		event.Dispute = &dispute
	}
	if p.Event.Payout != nil {
		payout := *p.Event.Payout
		event.Payout = &payout
	}
	return &event, nil
}
