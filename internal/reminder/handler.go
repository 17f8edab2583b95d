package reminder

import (
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/httpclient"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/metrics"
	"github.com/pewsoft/subscriptions/internal/pubsub"
	"github.com/pewsoft/subscriptions/internal/pubsub/router"
)

const handlerName = "reminder_delivery"

// Handler delivers queued reminders to the communications service
type Handler struct {
	client httpclient.Client
	config *config.RemindersConfig
	logger *logger.Logger
}

func NewHandler(client httpclient.Client, cfg *config.Configuration, logger *logger.Logger) *Handler {
	return &Handler{
		client: client,
		config: &cfg.Reminders,
		logger: logger,
	}
}

// RegisterHandler subscribes the handler to the reminder topic
func (h *Handler) RegisterHandler(r *router.Router, sub pubsub.Subscriber) {
	if !h.config.Enabled {
		h.logger.Infow("reminder delivery disabled")
		return
	}
	r.AddNoPublishHandler(handlerName, h.config.Topic, sub, h.processMessage)
}

func (h *Handler) processMessage(msg *message.Message) error {
	var reminder Reminder
	if err := pubsub.DecodeJSON(msg, &reminder); err != nil {
		return err
	}

	if h.config.Endpoint == "" {
		h.logger.Warnw("no reminder endpoint configured, dropping reminder",
			"reminder_id", reminder.ID,
			"tenant_id", reminder.TenantID,
		)
		metrics.RemindersDeliveredTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return nil
	}

	headers := map[string]string{
		"Idempotency-Key": reminder.IdempotencyKey,
	}
	if h.config.APIKey != "" {
		headers["x-api-key"] = h.config.APIKey
	}

	_, err := h.client.Send(msg.Context(), &httpclient.Request{
		Method:  http.MethodPost,
		URL:     h.config.Endpoint,
		Headers: headers,
		Body:    msg.Payload,
	})
	if err != nil {
		metrics.RemindersDeliveredTotal.WithLabelValues(metrics.OutcomeFailure).Inc()
		return err
	}

	metrics.RemindersDeliveredTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	h.logger.Infow("delivered reminder",
		"reminder_id", reminder.ID,
		"tenant_id", reminder.TenantID,
		"subscription_id", reminder.SubscriptionID,
	)
	return nil
}
