package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/api"
	"github.com/pewsoft/subscriptions/internal/api/cron"
	v1 "github.com/pewsoft/subscriptions/internal/api/v1"
	"github.com/pewsoft/subscriptions/internal/cache"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/httpclient"
	"github.com/pewsoft/subscriptions/internal/integration"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
	"github.com/pewsoft/subscriptions/internal/pubsub"
	"github.com/pewsoft/subscriptions/internal/pubsub/kafka"
	"github.com/pewsoft/subscriptions/internal/pubsub/memory"
	pubsubRouter "github.com/pewsoft/subscriptions/internal/pubsub/router"
	"github.com/pewsoft/subscriptions/internal/pyroscope"
	"github.com/pewsoft/subscriptions/internal/reminder"
	"github.com/pewsoft/subscriptions/internal/repository"
	"github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/service"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/pewsoft/subscriptions/internal/validator"
	"go.uber.org/fx"
)

// @title Pewsoft Subscriptions API
// @version 1.0
// @description Tenant plans, subscriptions and entitlements
// @BasePath /v1
// @schemes http https
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func init() {
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	opts = append(opts,
		fx.Provide(
			// Validator
			validator.NewValidator,

			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Monitoring
			sentry.NewSentryService,
			pyroscope.NewPyroscopeService,

			// Cache
			cache.NewInMemoryCache,

			// Postgres
			postgres.NewDB,
			postgres.NewClient,

			// HTTP Client
			provideHTTPClient,

			// PubSub
			providePubSub,
			pubsubRouter.NewRouter,

			// Repositories
			repository.NewPlanRepository,
			repository.NewSubscriptionRepository,
			repository.NewEntitlementOverrideRepository,
			repository.NewBillingRepository,
			repository.NewWebhookEventRepository,
			repository.NewAuditRepository,
			repository.NewDriftRepository,

			// Payment providers
			integration.NewFactory,

			// Reminders
			reminder.NewPublisher,
			reminder.NewHandler,
		),
	)

	opts = append(opts,
		fx.Provide(
			service.NewServiceParams,

			service.NewPlanService,
			service.NewSubscriptionService,
			service.NewEntitlementService,
			service.NewReconciliationService,
			service.NewDunningService,
			service.NewAuditService,
		),
	)

	opts = append(opts,
		fx.Provide(
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(
			sentry.RegisterHooks,
			pyroscope.RegisterHooks,
			closeDB,
			startServer,
		),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideHTTPClient(log *logger.Logger) httpclient.Client {
	return httpclient.NewDefaultClient(httpclient.DefaultClientConfig(), log)
}

func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var ps pubsub.PubSub
	switch cfg.Reminders.PubSub {
	case types.KafkaPubSub:
		var err error
		if ps, err = kafka.NewPubSub(cfg, log); err != nil {
			return nil, err
		}
	default:
		ps = memory.NewPubSub(log)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func provideHandlers(
	db *postgres.DB,
	logger *logger.Logger,
	planService service.PlanService,
	subscriptionService service.SubscriptionService,
	entitlementService service.EntitlementService,
	reconciliationService service.ReconciliationService,
	dunningService service.DunningService,
	auditService service.AuditService,
) api.Handlers {
	return api.Handlers{
		Health:           v1.NewHealthHandler(db, logger),
		Plan:             v1.NewPlanHandler(planService, logger),
		Subscription:     v1.NewSubscriptionHandler(subscriptionService, logger),
		Entitlement:      v1.NewEntitlementHandler(entitlementService, logger),
		Admin:            v1.NewAdminHandler(subscriptionService, dunningService, reconciliationService, auditService, logger),
		Webhook:          v1.NewWebhookHandler(reconciliationService, logger),
		CronSubscription: cron.NewSubscriptionHandler(dunningService, logger),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration, logger *logger.Logger, sentrySvc *sentry.Service) *gin.Engine {
	return api.NewRouter(handlers, cfg, logger, sentrySvc)
}

func closeDB(lc fx.Lifecycle, db *postgres.DB) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			db.Close()
			return nil
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	router *pubsubRouter.Router,
	ps pubsub.PubSub,
	reminderHandler *reminder.Handler,
	log *logger.Logger,
) {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		startMessageRouter(lc, router, ps, reminderHandler, log)
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
	case types.ModeWorker:
		startMessageRouter(lc, router, ps, reminderHandler, log)
	case types.ModeAWSLambdaAPI:
		startAWSLambdaAPI(lc, r, log)
	default:
		log.Fatalf("Unknown deployment mode: %s", mode)
	}
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	log.Info("Registering API server start hook")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting API server...")
			go func() {
				if err := r.Run(cfg.Server.Address); err != nil {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return nil
		},
	})
}

func startAWSLambdaAPI(lc fx.Lifecycle, r *gin.Engine, log *logger.Logger) {
	ginLambda := ginadapter.New(r)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting lambda API handler...")
			go lambda.Start(ginLambda.ProxyWithContext)
			return nil
		},
	})
}

func startMessageRouter(
	lc fx.Lifecycle,
	router *pubsubRouter.Router,
	ps pubsub.PubSub,
	reminderHandler *reminder.Handler,
	log *logger.Logger,
) {
	// Register handlers before starting the router
	reminderHandler.RegisterHandler(router, ps)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("starting message router")
			go func() {
				if err := router.Run(context.Background()); err != nil {
					log.Errorw("message router failed", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("stopping message router")
			return router.Close()
		},
	})
}
