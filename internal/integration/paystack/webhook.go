package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/pewsoft/subscriptions/internal/domain/billing"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/idempotency"
	"github.com/pewsoft/subscriptions/internal/integration/base"
	"github.com/pewsoft/subscriptions/internal/types"
)

const signatureHeader = "x-paystack-signature"

// ParseWebhook verifies the HMAC-SHA512 signature and normalizes the event. Paystack events
// carry no event id, so one is derived from the event name and the identifying data fields.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, headers http.Header) (*base.Event, error) {
	if c.cfg.SecretKey == "" {
		return nil, ierr.NewError("paystack secret key is not configured").
			WithHint("Paystack webhooks are not enabled").
			Mark(ierr.ErrInvalidOperation)
	}
	if !VerifySignature(payload, headers.Get(signatureHeader), c.cfg.SecretKey) {
		c.logger.Errorw("paystack webhook verification failed")
		return nil, ierr.NewError("failed to verify webhook signature").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}

	var body webhookPayload
	if err := json.Unmarshal(payload, &body); err != nil || body.Event == "" {
		return nil, ierr.NewError("invalid paystack webhook payload").
			WithHint("Invalid webhook signature or payload").
			Mark(ierr.ErrValidation)
	}

	raw := types.JSONMap{}
	if len(body.Data) > 0 {
		_ = json.Unmarshal(body.Data, &raw)
	}

	out := &base.Event{
		ID:       c.eventID(body.Event, raw),
		Provider: types.PaymentProviderPaystack,
		Type:     body.Event,
		Kind:     types.ProviderEventIgnored,
		Raw:      raw,
	}

	var err error
	switch body.Event {
	case "charge.success":
		err = parseCharge(body.Data, out)
	case "subscription.create", "subscription.enable":
		err = parseSubscription(body.Data, out, types.ProviderEventSubscriptionUpdated, false)
	case "subscription.not_renew":
		err = parseSubscription(body.Data, out, types.ProviderEventSubscriptionUpdated, true)
	case "subscription.disable":
		err = parseSubscription(body.Data, out, types.ProviderEventSubscriptionCanceled, false)
	case "invoice.create":
		err = parseInvoice(body.Data, out, types.ProviderEventInvoiceSynced)
	case "invoice.update":
		err = parseInvoice(body.Data, out, "")
	case "invoice.payment_failed":
		err = parseInvoice(body.Data, out, types.ProviderEventPaymentFailed)
	case "transfer.success", "transfer.failed", "transfer.reversed":
		err = parseTransfer(body.Data, out)
	case "refund.pending", "refund.processing", "refund.processed", "refund.failed":
		err = parseRefund(body.Data, out)
	case "charge.dispute.create", "charge.dispute.remind", "charge.dispute.resolve":
		err = parseDispute(body.Data, out)
	default:
		c.logger.Debugw("unhandled paystack webhook event type", "type", body.Event)
	}
	if err != nil {
		c.logger.Errorw("failed to parse paystack webhook payload",
			"error", err,
			"event_type", body.Event,
		)
		return nil, ierr.WithError(err).
			WithHint("Invalid Paystack webhook payload").
			WithReportableDetails(map[string]any{
				"event_type": body.Event,
			}).
			Mark(ierr.ErrValidation)
	}

	return out, nil
}

// VerifySignature checks the hex HMAC-SHA512 of the raw body keyed by the secret key
func VerifySignature(payload []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// Sign returns the signature Paystack would send for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) eventID(event string, raw types.JSONMap) string {
	params := map[string]interface{}{"event": event}
	for _, key := range []string{
		"id",
		"reference",
		"subscription_code",
		"invoice_code",
		"transfer_code",
		"refund_reference",
		"status",
		"paid_at",
	} {
		if v, ok := raw[key]; ok && v != nil {
			params[key] = v
		}
	}
	return c.idempGen.GenerateKey(idempotency.ScopeWebhookEvent, params)
}

func parseCharge(raw json.RawMessage, out *base.Event) error {
	var charge chargeData
	if err := json.Unmarshal(raw, &charge); err != nil {
		return err
	}

	tenantID := charge.Metadata.String(base.MetadataTenantID)
	if tenantID == "" {
		tenantID = charge.Customer.Metadata.String(base.MetadataTenantID)
	}

	out.TenantID = tenantID
	out.Invoice = &billing.Invoice{
		TenantID:        tenantID,
		Provider:        types.PaymentProviderPaystack,
		ProviderRef:     charge.Reference,
		AmountMinor:     charge.Amount,
		AmountPaidMinor: charge.Amount,
		Currency:        strings.ToUpper(charge.Currency),
		Status:          types.InvoiceStatusPaid,
		PaidAt:          charge.PaidAt,
	}

	// the first charge of a checkout creates the local subscription, later charges only mirror
	if charge.Metadata.String(base.MetadataCheckout) != "true" {
		out.Kind = types.ProviderEventInvoiceSynced
		return nil
	}

	out.Kind = types.ProviderEventCheckoutCompleted
	out.PlanCode = charge.Metadata.String(base.MetadataPlanCode)
	out.Subscription = &base.RemoteSubscription{
		Refs: subscription.ProviderRefs{
			Provider:    types.PaymentProviderPaystack,
			CustomerRef: charge.Customer.CustomerCode,
			PriceRef:    charge.Plan.PlanCode,
		},
		TenantID: tenantID,
		PlanCode: out.PlanCode,
		Status:   types.SubscriptionStatusActive,
		Raw:      out.Raw,
	}
	return nil
}

func parseSubscription(raw json.RawMessage, out *base.Event, kind types.ProviderEventKind, notRenewing bool) error {
	var data subscriptionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}

	remote := toRemoteSubscription(&data)
	remote.Raw = out.Raw
	if notRenewing {
		remote.CancelAtPeriodEnd = true
	}

	out.Kind = kind
	out.TenantID = remote.TenantID
	out.Subscription = remote
	return nil
}

// parseInvoice maps invoice events; an empty kind is decided by whether the invoice got paid
func parseInvoice(raw json.RawMessage, out *base.Event, kind types.ProviderEventKind) error {
	var inv invoiceData
	if err := json.Unmarshal(raw, &inv); err != nil {
		return err
	}

	paid := inv.Paid || strings.EqualFold(inv.Status, "success")
	if kind == "" {
		kind = types.ProviderEventInvoiceSynced
		if paid {
			kind = types.ProviderEventPaymentSucceeded
		}
	}

	status := types.InvoiceStatusOpen
	var paidAmount int64
	if paid {
		status = types.InvoiceStatusPaid
		paidAmount = inv.Amount
	}

	tenantID := inv.Customer.Metadata.String(base.MetadataTenantID)
	out.Kind = kind
	out.TenantID = tenantID
	out.Invoice = &billing.Invoice{
		TenantID:        tenantID,
		Provider:        types.PaymentProviderPaystack,
		ProviderRef:     inv.InvoiceCode,
		AmountMinor:     inv.Amount,
		AmountPaidMinor: paidAmount,
		Currency:        strings.ToUpper(inv.Transaction.Currency),
		Status:          status,
		PeriodStart:     inv.PeriodStart,
		PeriodEnd:       inv.PeriodEnd,
		PaidAt:          inv.PaidAt,
	}

	if inv.Subscription.SubscriptionCode != "" {
		customerRef := inv.Subscription.Customer.CustomerCode
		if customerRef == "" {
			customerRef = inv.Customer.CustomerCode
		}
		out.Subscription = &base.RemoteSubscription{
			Refs: subscription.ProviderRefs{
				Provider:        types.PaymentProviderPaystack,
				CustomerRef:     customerRef,
				SubscriptionRef: inv.Subscription.SubscriptionCode,
				EmailToken:      inv.Subscription.EmailToken,
			},
			TenantID:         tenantID,
			CurrentPeriodEnd: inv.Subscription.NextPaymentDate,
			Raw:              out.Raw,
		}
	}
	return nil
}

func parseTransfer(raw json.RawMessage, out *base.Event) error {
	var t transferData
	if err := json.Unmarshal(raw, &t); err != nil {
		return err
	}

	status := types.PayoutStatusPending
	switch strings.ToLower(t.Status) {
	case "success":
		status = types.PayoutStatusPaid
	case "failed", "reversed":
		status = types.PayoutStatusFailed
	}

	ref := t.TransferCode
	if ref == "" {
		ref = t.Reference
	}

	tenantID := t.Recipient.Metadata.String(base.MetadataTenantID)
	out.Kind = types.ProviderEventPayoutSynced
	out.TenantID = tenantID
	out.Payout = &billing.Payout{
		TenantID:    tenantID,
		Provider:    types.PaymentProviderPaystack,
		ProviderRef: ref,
		AmountMinor: t.Amount,
		Currency:    strings.ToUpper(t.Currency),
		Status:      status,
		ArrivalDate: t.TransferredAt,
	}
	return nil
}

func parseRefund(raw json.RawMessage, out *base.Event) error {
	var r refundData
	if err := json.Unmarshal(raw, &r); err != nil {
		return err
	}

	status := types.RefundStatusPending
	switch strings.ToLower(r.Status) {
	case "processed":
		status = types.RefundStatusSucceeded
	case "failed":
		status = types.RefundStatusFailed
	}

	ref := r.RefundReference
	if ref == "" {
		ref = r.TransactionReference
	}

	tenantID := r.Customer.Metadata.String(base.MetadataTenantID)
	out.Kind = types.ProviderEventRefundSynced
	out.TenantID = tenantID
	out.Refund = &billing.Refund{
		TenantID:    tenantID,
		Provider:    types.PaymentProviderPaystack,
		ProviderRef: ref,
		PaymentRef:  r.TransactionReference,
		AmountMinor: r.Amount,
		Currency:    strings.ToUpper(r.Currency),
		Status:      status,
	}
	return nil
}

func parseDispute(raw json.RawMessage, out *base.Event) error {
	var d disputeData
	if err := json.Unmarshal(raw, &d); err != nil {
		return err
	}

	status := types.DisputeStatusOpen
	if strings.EqualFold(d.Status, "resolved") {
		// merchant-accepted means the customer kept the money
		if strings.EqualFold(d.Resolution, "merchant-accepted") {
			status = types.DisputeStatusLost
		} else {
			status = types.DisputeStatusWon
		}
	}

	amount := d.Transaction.Amount
	if d.RefundAmount > 0 {
		amount = d.RefundAmount
	}
	currency := d.Currency
	if currency == "" {
		currency = d.Transaction.Currency
	}

	tenantID := d.Transaction.Metadata.String(base.MetadataTenantID)
	if tenantID == "" {
		tenantID = d.Customer.Metadata.String(base.MetadataTenantID)
	}

	out.Kind = types.ProviderEventDisputeSynced
	out.TenantID = tenantID
	out.Dispute = &billing.Dispute{
		TenantID:      tenantID,
		Provider:      types.PaymentProviderPaystack,
		ProviderRef:   strconv.FormatInt(d.ID, 10),
		PaymentRef:    d.Transaction.Reference,
		AmountMinor:   amount,
		Currency:      strings.ToUpper(currency),
		Status:        status,
		Reason:        d.Category,
		EvidenceDueBy: d.DueAt,
	}
	return nil
}
