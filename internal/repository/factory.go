package repository

import (
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/domain/billing"
	"github.com/pewsoft/subscriptions/internal/domain/drift"
	"github.com/pewsoft/subscriptions/internal/domain/entitlement"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	"github.com/pewsoft/subscriptions/internal/domain/webhookevent"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	postgresRepo "github.com/pewsoft/subscriptions/internal/repository/postgres"
)

func NewPlanRepository(db *postgres.DB, logger *logger.Logger) plan.Repository {
	return postgresRepo.NewPlanRepository(db, logger)
}

func NewSubscriptionRepository(db *postgres.DB, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(db, logger)
}

func NewEntitlementOverrideRepository(db *postgres.DB, logger *logger.Logger) entitlement.OverrideRepository {
	return postgresRepo.NewEntitlementOverrideRepository(db, logger)
}

func NewBillingRepository(db *postgres.DB, logger *logger.Logger) billing.Repository {
	return postgresRepo.NewBillingRepository(db, logger)
}

func NewWebhookEventRepository(db *postgres.DB, logger *logger.Logger) webhookevent.Repository {
	return postgresRepo.NewWebhookEventRepository(db, logger)
}

func NewAuditRepository(db *postgres.DB, logger *logger.Logger) audit.Repository {
	return postgresRepo.NewAuditRepository(db, logger)
}

func NewDriftRepository(db *postgres.DB, logger *logger.Logger) drift.Repository {
	return postgresRepo.NewDriftRepository(db, logger)
}
