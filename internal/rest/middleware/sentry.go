package middleware

import (
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/types"
)

func noop(c *gin.Context) {
	c.Next()
}

// SentryMiddleware attaches a sentry hub to each request and recovers panics
func SentryMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return noop
	}

	return sentrygin.New(sentrygin.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
}

// SentryScopeMiddleware tags the request hub with the authenticated caller.
// It must run after the auth middleware of its group.
func SentryScopeMiddleware(cfg *config.Configuration) gin.HandlerFunc {
	if !cfg.Sentry.Enabled {
		return noop
	}

	return func(c *gin.Context) {
		if hub := sentrygin.GetHubFromContext(c); hub != nil {
			ctx := c.Request.Context()
			scope := hub.Scope()
			scope.SetTag("request_id", types.GetRequestID(ctx))
			scope.SetTag("actor_type", string(types.GetActorType(ctx)))
			if tenantID := types.GetTenantID(ctx); tenantID != "" {
				scope.SetTag("tenant_id", tenantID)
			}
			if userID := types.GetUserID(ctx); userID != "" {
				scope.SetTag("user_id", userID)
			}
		}
		c.Next()
	}
}
