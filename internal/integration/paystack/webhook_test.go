package paystack

import (
	"context"
	"net/http"
	"testing"

	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/stretchr/testify/suite"
)

const testSecret = "sk_test_paystack"

type WebhookSuite struct {
	suite.Suite
	ctx    context.Context
	client *Client
}

func TestPaystackWebhook(t *testing.T) {
	suite.Run(t, new(WebhookSuite))
}

func (s *WebhookSuite) SetupTest() {
	s.ctx = context.Background()
	cfg := &config.Configuration{
		Paystack: config.PaystackConfig{
			Enabled:   true,
			SecretKey: testSecret,
			BaseURL:   "http://localhost",
		},
	}
	s.client = NewClient(cfg, nil, logger.NewNopLogger())
}

func (s *WebhookSuite) signed(payload string) http.Header {
	h := http.Header{}
	h.Set(signatureHeader, Sign([]byte(payload), testSecret))
	return h
}

func (s *WebhookSuite) TestCheckoutCharge() {
	payload := `{"event":"charge.success","data":{"id":302961,"reference":"ref_1","amount":500000,"currency":"ngn","status":"success","paid_at":"2024-05-01T10:00:00.000Z","metadata":{"tenant_id":"tenant_1","plan_code":"pro","checkout":"true"},"customer":{"id":1,"customer_code":"CUS_1","email":"pastor@example.com","metadata":null},"plan":{"plan_code":"PLN_pro","name":"Pro","interval":"monthly","amount":500000}}}`

	event, err := s.client.ParseWebhook(s.ctx, []byte(payload), s.signed(payload))
	s.Require().NoError(err)

	s.Equal(types.ProviderEventCheckoutCompleted, event.Kind)
	s.Equal("tenant_1", event.TenantID)
	s.Equal("pro", event.PlanCode)
	s.Require().NotNil(event.Subscription)
	s.Equal("CUS_1", event.Subscription.Refs.CustomerRef)
	s.Equal("PLN_pro", event.Subscription.Refs.PriceRef)
	s.Require().NotNil(event.Invoice)
	s.Equal("ref_1", event.Invoice.ProviderRef)
	s.Equal("NGN", event.Invoice.Currency)
	s.Equal(types.InvoiceStatusPaid, event.Invoice.Status)
	s.NotEmpty(event.ID)

	again, err := s.client.ParseWebhook(s.ctx, []byte(payload), s.signed(payload))
	s.Require().NoError(err)
	s.Equal(event.ID, again.ID, "replayed payloads must derive the same event id")
}

func (s *WebhookSuite) TestRenewalChargeOnlyMirrors() {
	payload := `{"event":"charge.success","data":{"id":302962,"reference":"ref_2","amount":500000,"currency":"NGN","status":"success","metadata":"","customer":{"customer_code":"CUS_1","metadata":"{\"tenant_id\":\"tenant_1\"}"},"plan":"PLN_pro"}}`

	event, err := s.client.ParseWebhook(s.ctx, []byte(payload), s.signed(payload))
	s.Require().NoError(err)
	s.Equal(types.ProviderEventInvoiceSynced, event.Kind)
	s.Equal("tenant_1", event.TenantID)
	s.Nil(event.Subscription)
}

func (s *WebhookSuite) TestSubscriptionNotRenew() {
	payload := `{"event":"subscription.not_renew","data":{"id":77,"subscription_code":"SUB_1","email_token":"tok_1","status":"non-renewing","next_payment_date":null,"plan":{"plan_code":"PLN_pro"},"customer":{"customer_code":"CUS_1","metadata":{"tenant_id":"tenant_1"}}}}`

	event, err := s.client.ParseWebhook(s.ctx, []byte(payload), s.signed(payload))
	s.Require().NoError(err)
	s.Equal(types.ProviderEventSubscriptionUpdated, event.Kind)
	s.Require().NotNil(event.Subscription)
	s.True(event.Subscription.CancelAtPeriodEnd)
	s.Equal(types.SubscriptionStatusActive, event.Subscription.Status)
	s.Equal("SUB_1", event.SubscriptionRef())
	s.Equal("tok_1", event.Subscription.Refs.EmailToken)
}

func (s *WebhookSuite) TestInvoiceUpdatePaid() {
	payload := `{"event":"invoice.update","data":{"id":9,"invoice_code":"INV_1","amount":500000,"status":"success","paid":true,"period_start":"2024-05-01T00:00:00.000Z","period_end":"2024-06-01T00:00:00.000Z","subscription":{"subscription_code":"SUB_1","email_token":"tok_1","status":"active","next_payment_date":"2024-06-01T00:00:00.000Z"},"customer":{"customer_code":"CUS_1"},"transaction":{"reference":"ref_3","currency":"NGN"}}}`

	event, err := s.client.ParseWebhook(s.ctx, []byte(payload), s.signed(payload))
	s.Require().NoError(err)
	s.Equal(types.ProviderEventPaymentSucceeded, event.Kind)
	s.Require().NotNil(event.Invoice)
	s.Equal(int64(500000), event.Invoice.AmountPaidMinor)
	s.Equal("SUB_1", event.SubscriptionRef())
	s.Require().NotNil(event.Subscription.CurrentPeriodEnd)
}

func (s *WebhookSuite) TestDisputeResolved() {
	payload := `{"event":"charge.dispute.resolve","data":{"id":41,"refund_amount":0,"currency":"NGN","status":"resolved","resolution":"merchant-accepted","category":"fraud","transaction":{"reference":"ref_1","amount":500000,"currency":"NGN","metadata":{"tenant_id":"tenant_1"}}}}`

	event, err := s.client.ParseWebhook(s.ctx, []byte(payload), s.signed(payload))
	s.Require().NoError(err)
	s.Equal(types.ProviderEventDisputeSynced, event.Kind)
	s.Require().NotNil(event.Dispute)
	s.Equal("41", event.Dispute.ProviderRef)
	s.Equal(types.DisputeStatusLost, event.Dispute.Status)
	s.Equal(int64(500000), event.Dispute.AmountMinor)
}

func (s *WebhookSuite) TestUnknownEventIgnored() {
	payload := `{"event":"customeridentification.success","data":{"customer_code":"CUS_1"}}`

	event, err := s.client.ParseWebhook(s.ctx, []byte(payload), s.signed(payload))
	s.Require().NoError(err)
	s.Equal(types.ProviderEventIgnored, event.Kind)
}

func (s *WebhookSuite) TestBadSignature() {
	payload := `{"event":"charge.success","data":{}}`
	h := http.Header{}
	h.Set(signatureHeader, "deadbeef")

	_, err := s.client.ParseWebhook(s.ctx, []byte(payload), h)
	s.Error(err)
	s.True(ierr.IsValidation(err))

	_, err = s.client.ParseWebhook(s.ctx, []byte(payload), http.Header{})
	s.True(ierr.IsValidation(err))
}
