package reminder

import (
	"context"
	"time"

	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/pubsub"
)

// Reminder asks the communications service to tell a tenant their payment is overdue
type Reminder struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	SubscriptionID string    `json:"subscription_id"`
	PlanID         string    `json:"plan_id"`
	PastDueSince   time.Time `json:"past_due_since"`
	DaysPastDue    int       `json:"days_past_due"`
	// IdempotencyKey is stable for one subscription per UTC day
	IdempotencyKey string    `json:"idempotency_key"`
	QueuedAt       time.Time `json:"queued_at"`
}

// Publisher queues reminders for asynchronous delivery
type Publisher interface {
	Publish(ctx context.Context, r *Reminder) error
}

type publisher struct {
	pubsub pubsub.Publisher
	config *config.RemindersConfig
	logger *logger.Logger
}

func NewPublisher(pubsub pubsub.PubSub, cfg *config.Configuration, logger *logger.Logger) Publisher {
	return &publisher{
		pubsub: pubsub,
		config: &cfg.Reminders,
		logger: logger,
	}
}

func (p *publisher) Publish(ctx context.Context, r *Reminder) error {
	if !p.config.Enabled {
		p.logger.Debugw("reminders disabled, not publishing",
			"reminder_id", r.ID,
			"tenant_id", r.TenantID,
		)
		return nil
	}

	msg, err := pubsub.NewJSONMessage(r.ID, r, map[string]string{
		pubsub.MetadataTenantID:       r.TenantID,
		pubsub.MetadataIdempotencyKey: r.IdempotencyKey,
		"subscription_id":             r.SubscriptionID,
	})
	if err != nil {
		return err
	}

	if err := p.pubsub.Publish(ctx, p.config.Topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to queue reminder").
			Mark(ierr.ErrSystem)
	}

	p.logger.Debugw("published reminder",
		"reminder_id", r.ID,
		"tenant_id", r.TenantID,
		"subscription_id", r.SubscriptionID,
		"topic", p.config.Topic,
	)
	return nil
}
