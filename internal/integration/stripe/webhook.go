package stripe

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pewsoft/subscriptions/internal/domain/billing"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const signatureHeader = "Stripe-Signature"

// ParseWebhook verifies the Stripe signature and normalizes the event.
// Event types we do not act on come back with Kind ignored.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*base.Event, error) {
	if c.cfg.WebhookSecret == "" {
		return nil, ierr.NewError("stripe webhook secret is not configured").
			WithHint("Stripe webhooks are not enabled").
			Mark(ierr.ErrInvalidOperation)
	}

	options := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}
	event, err := webhook.ConstructEventWithOptions(payload, headers.Get(signatureHeader), c.cfg.WebhookSecret, options)
	if err != nil {
		c.logger.Errorw("stripe webhook verification failed", "error", err)
		return nil, ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}

	out := &base.Event{
		ID:       event.ID,
		Provider: types.PaymentProviderStripe,
		Type:     string(event.Type),
		Kind:     types.ProviderEventIgnored,
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	raw := types.JSONMap{}
	if err := json.Unmarshal(event.Data.Raw, &raw); err == nil {
		out.Raw = raw
	}

	switch out.Type {
	case "checkout.session.completed":
		err = parseCheckoutSession(event.Data.Raw, out)
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		err = parseSubscription(event.Data.Raw, out, types.ProviderEventSubscriptionUpdated)
	case "customer.subscription.deleted":
		err = parseSubscription(event.Data.Raw, out, types.ProviderEventSubscriptionCanceled)
	case "invoice.paid", "invoice.payment_succeeded":
		err = parseInvoice(event.Data.Raw, out, types.ProviderEventPaymentSucceeded)
	case "invoice.payment_failed":
		err = parseInvoice(event.Data.Raw, out, types.ProviderEventPaymentFailed)
	case "invoice.created",
		"invoice.finalized",
		"invoice.updated",
		"invoice.voided",
		"invoice.marked_uncollectible":
		err = parseInvoice(event.Data.Raw, out, types.ProviderEventInvoiceSynced)
	case "payout.created",
		"payout.updated",
		"payout.paid",
		"payout.failed",
		"payout.canceled":
		err = parsePayout(event.Data.Raw, out)
	case "refund.created", "refund.updated", "refund.failed":
		err = parseRefund(event.Data.Raw, out)
	case "charge.dispute.created",
		"charge.dispute.updated",
		"charge.dispute.closed",
		"charge.dispute.funds_withdrawn",
		"charge.dispute.funds_reinstated":
		err = parseDispute(event.Data.Raw, out)
	default:
		c.logger.Debugw("unhandled stripe webhook event type", "type", out.Type, "event_id", out.ID)
	}
	if err != nil {
		c.logger.Errorw("failed to parse stripe webhook payload",
			"error", err,
			"event_id", out.ID,
			"event_type", out.Type,
		)
		return nil, ierr.WithError(err).
			WithHint("Invalid Stripe webhook payload").
			WithReportableDetails(map[string]any{
				"event_id":   out.ID,
				"event_type": out.Type,
			}).
			Mark(ierr.ErrValidation)
	}

	return out, nil
}

func parseCheckoutSession(raw json.RawMessage, out *base.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return err
	}
	if string(session.Mode) != "subscription" {
		return nil
	}

	tenantID := session.Metadata[base.MetadataTenantID]
	if tenantID == "" {
		tenantID = session.ClientReferenceID
	}

	refs := subscription.ProviderRefs{Provider: types.PaymentProviderStripe}
	if session.Customer != nil {
		refs.CustomerRef = session.Customer.ID
	}
	if session.Subscription != nil {
		refs.SubscriptionRef = session.Subscription.ID
	}

	out.Kind = types.ProviderEventCheckoutCompleted
	out.TenantID = tenantID
	out.PlanCode = session.Metadata[base.MetadataPlanCode]
	out.Subscription = &base.RemoteSubscription{
		Refs:     refs,
		TenantID: tenantID,
		PlanCode: out.PlanCode,
		Raw:      out.Raw,
	}
	return nil
}

func parseSubscription(raw json.RawMessage, out *base.Event, kind types.ProviderEventKind) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return err
	}

	remote := toRemoteSubscription(&sub)
	remote.Raw = out.Raw

	out.Kind = kind
	out.TenantID = remote.TenantID
	out.PlanCode = remote.PlanCode
	out.Subscription = remote
	return nil
}

func parseInvoice(raw json.RawMessage, out *base.Event, kind types.ProviderEventKind) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	refs := subscription.ProviderRefs{Provider: types.PaymentProviderStripe}
	if inv.Customer != nil {
		refs.CustomerRef = inv.Customer.ID
	}
	tenantID := inv.Metadata[base.MetadataTenantID]
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		details := inv.Parent.SubscriptionDetails
		if details.Subscription != nil {
			refs.SubscriptionRef = details.Subscription.ID
		}
		if tenantID == "" {
			tenantID = details.Metadata[base.MetadataTenantID]
		}
	}

	invoice := &billing.Invoice{
		TenantID:        tenantID,
		Provider:        types.PaymentProviderStripe,
		ProviderRef:     inv.ID,
		AmountMinor:     inv.AmountDue,
		AmountPaidMinor: inv.AmountPaid,
		Currency:        strings.ToUpper(string(inv.Currency)),
		Status:          mapInvoiceStatus(inv.Status),
		PeriodStart:     unixTime(inv.PeriodStart),
		PeriodEnd:       unixTime(inv.PeriodEnd),
	}
	if inv.StatusTransitions != nil {
		invoice.PaidAt = unixTime(inv.StatusTransitions.PaidAt)
	}

	out.Kind = kind
	out.TenantID = tenantID
	out.Invoice = invoice
	if refs.SubscriptionRef != "" {
		out.Subscription = &base.RemoteSubscription{
			Refs:     refs,
			TenantID: tenantID,
			Raw:      out.Raw,
		}
	}
	return nil
}

func parsePayout(raw json.RawMessage, out *base.Event) error {
	var p stripe.Payout
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}

	tenantID := p.Metadata[base.MetadataTenantID]
	out.Kind = types.ProviderEventPayoutSynced
	out.TenantID = tenantID
	out.Payout = &billing.Payout{
		TenantID:    tenantID,
		Provider:    types.PaymentProviderStripe,
		ProviderRef: p.ID,
		AmountMinor: p.Amount,
		Currency:    strings.ToUpper(string(p.Currency)),
		Status:      mapPayoutStatus(string(p.Status)),
		ArrivalDate: unixTime(p.ArrivalDate),
	}
	return nil
}

func parseRefund(raw json.RawMessage, out *base.Event) error {
	var r stripe.Refund
	if err := json.Unmarshal(raw, &r); err != nil {
		return err
	}

	paymentRef := ""
	if r.PaymentIntent != nil {
		paymentRef = r.PaymentIntent.ID
	} else if r.Charge != nil {
		paymentRef = r.Charge.ID
	}

	tenantID := r.Metadata[base.MetadataTenantID]
	out.Kind = types.ProviderEventRefundSynced
	out.TenantID = tenantID
	out.Refund = &billing.Refund{
		TenantID:    tenantID,
		Provider:    types.PaymentProviderStripe,
		ProviderRef: r.ID,
		PaymentRef:  paymentRef,
		AmountMinor: r.Amount,
		Currency:    strings.ToUpper(string(r.Currency)),
		Status:      mapRefundStatus(string(r.Status)),
		Reason:      string(r.Reason),
	}
	return nil
}

func parseDispute(raw json.RawMessage, out *base.Event) error {
	var d stripe.Dispute
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}

	paymentRef := ""
	if d.PaymentIntent != nil {
		paymentRef = d.PaymentIntent.ID
	} else if d.Charge != nil {
		paymentRef = d.Charge.ID
	}

	tenantID := d.Metadata[base.MetadataTenantID]
	dispute := &billing.Dispute{
		TenantID:    tenantID,
		Provider:    types.PaymentProviderStripe,
		ProviderRef: d.ID,
		PaymentRef:  paymentRef,
		AmountMinor: d.Amount,
		Currency:    strings.ToUpper(string(d.Currency)),
		Status:      mapDisputeStatus(string(d.Status)),
		Reason:      string(d.Reason),
	}
	if d.EvidenceDetails != nil {
		dispute.EvidenceDueBy = unixTime(d.EvidenceDetails.DueBy)
	}

	out.Kind = types.ProviderEventDisputeSynced
	out.TenantID = tenantID
	out.Dispute = dispute
	return nil
}

func mapInvoiceStatus(status stripe.InvoiceStatus) string {
	switch status {
	case "draft":
		return types.InvoiceStatusDraft
	case "paid":
		return types.InvoiceStatusPaid
	case "uncollectible":
		return types.InvoiceStatusUncollectible
	case "void":
		return types.InvoiceStatusVoid
	default:
		return types.InvoiceStatusOpen
	}
}

func mapPayoutStatus(status string) string {
	switch status {
	case "paid":
		return types.PayoutStatusPaid
	case "failed", "canceled":
		return types.PayoutStatusFailed
	default:
		return types.PayoutStatusPending
	}
}

func mapRefundStatus(status string) string {
	switch status {
	case "succeeded":
		return types.RefundStatusSucceeded
	case "failed", "canceled":
		return types.RefundStatusFailed
	default:
		return types.RefundStatusPending
	}
}

func mapDisputeStatus(status string) string {
	switch status {
	case "won":
		return types.DisputeStatusWon
	case "lost":
		return types.DisputeStatusLost
	default:
		return types.DisputeStatusOpen
	}
}
