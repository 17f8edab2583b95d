package api

import (
	"github.com/gin-gonic/gin"
	_ "github.com/pewsoft/subscriptions/docs/swagger"
	"github.com/pewsoft/subscriptions/internal/api/cron"
	v1 "github.com/pewsoft/subscriptions/internal/api/v1"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/rest/middleware"
	"github.com/pewsoft/subscriptions/internal/sentry"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Plan         *v1.PlanHandler
	Subscription *v1.SubscriptionHandler
	Entitlement  *v1.EntitlementHandler
	Admin        *v1.AdminHandler
	Webhook      *v1.WebhookHandler

	CronSubscription *cron.SubscriptionHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger, sentrySvc *sentry.Service) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.SentryMiddleware(cfg),
		middleware.RequestIDMiddleware,
		middleware.MetricsMiddleware,
		middleware.ErrorHandler(logger, sentrySvc),
	)

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1Group := router.Group("/v1")

	// Provider callbacks authenticate by signature
	webhooks := v1Group.Group("/webhooks")
	{
		webhooks.POST("/stripe", handlers.Webhook.HandleStripeWebhook)
		webhooks.POST("/paystack", handlers.Webhook.HandlePaystackWebhook)
	}

	cronGroup := v1Group.Group("/cron")
	cronGroup.Use(middleware.CronAuthMiddleware(cfg, logger), middleware.SentryScopeMiddleware(cfg))
	{
		cronGroup.POST("/subscriptions/sweep", handlers.CronSubscription.RunSweep)
		cronGroup.POST("/dunning/run", handlers.CronSubscription.RunDunning)
	}

	admin := v1Group.Group("/admin")
	admin.Use(middleware.AdminAuthMiddleware(cfg, logger), middleware.SentryScopeMiddleware(cfg))
	registerAdminRoutes(admin, handlers)

	tenant := v1Group.Group("")
	tenant.Use(middleware.AuthenticateMiddleware(cfg, logger), middleware.SentryScopeMiddleware(cfg))
	registerTenantRoutes(tenant, handlers)

	return router
}

func registerTenantRoutes(router *gin.RouterGroup, handlers Handlers) {
	router.GET("/plans", handlers.Plan.ListPlans)

	subscription := router.Group("/subscription")
	{
		subscription.GET("", handlers.Subscription.GetCurrentSubscription)
		subscription.POST("/checkout", handlers.Subscription.StartCheckout)
		subscription.POST("/change", handlers.Subscription.ChangePlan)
		subscription.POST("/cancel", handlers.Subscription.CancelSubscription)
		subscription.POST("/resume", handlers.Subscription.ResumeSubscription)
		subscription.POST("/portal", handlers.Subscription.CreatePortalSession)
	}

	entitlements := router.Group("/entitlements")
	{
		entitlements.GET("", handlers.Entitlement.GetEntitlements)
		entitlements.GET("/:key", handlers.Entitlement.CheckFeature)
	}
}

func registerAdminRoutes(router *gin.RouterGroup, handlers Handlers) {
	plans := router.Group("/plans")
	{
		plans.GET("", handlers.Plan.ListAllPlans)
		plans.GET("/:code", handlers.Plan.GetPlan)
		plans.PUT("/:code", handlers.Plan.UpsertPlan)
	}

	tenants := router.Group("/tenants/:tenant_id")
	{
		tenants.POST("/subscription", handlers.Admin.AssignPlan)
		tenants.PUT("/entitlements/:key", handlers.Entitlement.SetOverride)
		tenants.DELETE("/entitlements/:key", handlers.Entitlement.DeleteOverride)
		tenants.GET("/audit", handlers.Admin.ListTenantAuditLogs)
	}

	dunning := router.Group("/dunning")
	{
		dunning.GET("/preview", handlers.Admin.DunningPreview)
		dunning.POST("/run", handlers.Admin.RunDunning)
	}

	router.POST("/subscriptions/backfill", handlers.Admin.BackfillMetadata)

	reconciliation := router.Group("/reconciliation")
	{
		reconciliation.GET("/drift", handlers.Admin.GetDrift)
		reconciliation.POST("/sync/:provider", handlers.Admin.PullSync)
	}
}
