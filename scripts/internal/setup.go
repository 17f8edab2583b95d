package internal

import (
	"fmt"

	"github.com/pewsoft/subscriptions/internal/cache"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/integration"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/pubsub/memory"
	"github.com/pewsoft/subscriptions/internal/reminder"
	"github.com/pewsoft/subscriptions/internal/repository"
	"github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/service"
)

// scriptEnv wires the services a one-off script needs without the fx graph
type scriptEnv struct {
	cfg    *config.Configuration
	log    *logger.Logger
	db     *postgres.DB
	params service.ServiceParams
}

func newScriptEnv() (*scriptEnv, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := postgres.NewDB(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sentrySvc := sentry.NewSentryService(cfg, log)

	// Scripts have no reminder consumer; queued reminders are only logged
	cfg.Reminders.Enabled = false
	publisher := reminder.NewPublisher(memory.NewPubSub(log), cfg, log)

	params := service.NewServiceParams(
		log,
		cfg,
		postgres.NewClient(db, sentrySvc, log),
		cache.NewInMemoryCache(cfg, log),
		sentrySvc,
		repository.NewPlanRepository(db, log),
		repository.NewSubscriptionRepository(db, log),
		repository.NewEntitlementOverrideRepository(db, log),
		repository.NewBillingRepository(db, log),
		repository.NewWebhookEventRepository(db, log),
		repository.NewAuditRepository(db, log),
		repository.NewDriftRepository(db, log),
		integration.NewFactory(cfg, sentrySvc, log),
		publisher,
	)

	return &scriptEnv{cfg: cfg, log: log, db: db, params: params}, nil
}

func (e *scriptEnv) Close() {
	e.db.Close()
}
