package v1

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/service"
	"github.com/pewsoft/subscriptions/internal/types"
)

// maxWebhookBody bounds inbound provider payloads
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	service service.ReconciliationService
	log     *logger.Logger
}

func NewWebhookHandler(service service.ReconciliationService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		log:     log,
	}
}

// @Summary Stripe webhook
// @Description Verify and apply a Stripe event. The raw body is required for signature checks.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param Stripe-Signature header string true "Stripe signature"
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	h.handle(c, types.PaymentProviderStripe)
}

// @Summary Paystack webhook
// @Description Verify and apply a Paystack event signed with x-paystack-signature
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param x-paystack-signature header string true "Paystack signature"
// @Success 200 {object} dto.WebhookResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /webhooks/paystack [post]
func (h *WebhookHandler) HandlePaystackWebhook(c *gin.Context) {
	h.handle(c, types.PaymentProviderPaystack)
}

func (h *WebhookHandler) handle(c *gin.Context, provider types.PaymentProvider) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		h.log.Warnw("failed to read webhook body", "provider", provider, "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Unable to read request body").
			Mark(ierr.ErrValidation))
		return
	}

	ctx := types.SetActorType(c.Request.Context(), types.ActorTypeWebhook)
	resp, err := h.service.HandleWebhook(ctx, provider, body, c.Request.Header)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
