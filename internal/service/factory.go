package service

import (
	"github.com/pewsoft/subscriptions/internal/cache"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/domain/billing"
	"github.com/pewsoft/subscriptions/internal/domain/drift"
	"github.com/pewsoft/subscriptions/internal/domain/entitlement"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	"github.com/pewsoft/subscriptions/internal/domain/webhookevent"
	"github.com/pewsoft/subscriptions/internal/integration"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/reminder"
	"github.com/pewsoft/subscriptions/internal/sentry"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient
	Cache  cache.Cache
	Sentry *sentry.Service

	// Repositories
	PlanRepo         plan.Repository
	SubRepo          subscription.Repository
	OverrideRepo     entitlement.OverrideRepository
	BillingRepo      billing.Repository
	WebhookEventRepo webhookevent.Repository
	AuditRepo        audit.Repository
	DriftRepo        drift.Repository

	// Billing providers
	Integrations *integration.Factory

	// Publishers
	ReminderPublisher reminder.Publisher
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	cache cache.Cache,
	sentry *sentry.Service,
	planRepo plan.Repository,
	subRepo subscription.Repository,
	overrideRepo entitlement.OverrideRepository,
	billingRepo billing.Repository,
	webhookEventRepo webhookevent.Repository,
	auditRepo audit.Repository,
	driftRepo drift.Repository,
	integrations *integration.Factory,
	reminderPublisher reminder.Publisher,
) ServiceParams {
	return ServiceParams{
		Logger:            logger,
		Config:            config,
		DB:                db,
		Cache:             cache,
		Sentry:            sentry,
		PlanRepo:          planRepo,
		SubRepo:           subRepo,
		OverrideRepo:      overrideRepo,
		BillingRepo:       billingRepo,
		WebhookEventRepo:  webhookEventRepo,
		AuditRepo:         auditRepo,
		DriftRepo:         driftRepo,
		Integrations:      integrations,
		ReminderPublisher: reminderPublisher,
	}
}
