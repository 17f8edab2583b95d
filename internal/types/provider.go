package types

import (
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/samber/lo"
)

// PaymentProvider identifies who bills a subscription
type PaymentProvider string

const (
	PaymentProviderManual   PaymentProvider = "MANUAL"
	PaymentProviderStripe   PaymentProvider = "STRIPE"
	PaymentProviderPaystack PaymentProvider = "PAYSTACK"
)

func (p PaymentProvider) String() string {
	return string(p)
}

func (p PaymentProvider) Validate() error {
	allowed := []PaymentProvider{
		PaymentProviderManual,
		PaymentProviderStripe,
		PaymentProviderPaystack,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid payment provider").
			WithHint("Provider must be MANUAL, STRIPE or PAYSTACK").
			WithReportableDetails(map[string]any{
				"provider":       p,
				"allowed_values": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ProviderEventKind is the provider-agnostic meaning of an inbound provider signal
type ProviderEventKind string

const (
	ProviderEventCheckoutCompleted    ProviderEventKind = "checkout_completed"
	ProviderEventSubscriptionUpdated  ProviderEventKind = "subscription_updated"
	ProviderEventSubscriptionCanceled ProviderEventKind = "subscription_canceled"
	ProviderEventPaymentSucceeded     ProviderEventKind = "payment_succeeded"
	ProviderEventPaymentFailed        ProviderEventKind = "payment_failed"
	ProviderEventInvoiceSynced        ProviderEventKind = "invoice_synced"
	ProviderEventPayoutSynced         ProviderEventKind = "payout_synced"
	ProviderEventRefundSynced         ProviderEventKind = "refund_synced"
	ProviderEventDisputeSynced        ProviderEventKind = "dispute_synced"
	ProviderEventIgnored              ProviderEventKind = "ignored"
)
