package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/auth"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/types"
)

// AuthenticateMiddleware resolves the tenant from a Bearer token. Tenant routes
// never take the tenant id from the request body or path.
func AuthenticateMiddleware(cfg *config.Configuration, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(types.HeaderAuthorization)
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		claims, err := auth.ValidateToken(cfg.Auth.Secret, strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			logger.Debugw("failed to validate token", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = types.SetTenantID(ctx, claims.TenantID)
		ctx = types.SetUserID(ctx, claims.UserID)
		ctx = types.SetActorType(ctx, types.ActorTypeUser)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminAuthMiddleware admits platform admins presenting a configured api key
func AdminAuthMiddleware(cfg *config.Configuration, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.ValidateAdminAPIKey(cfg, c.GetHeader(types.HeaderAPIKey))
		if !ok {
			logger.Debugw("invalid admin api key", "path", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		ctx = types.SetUserID(ctx, userID)
		ctx = types.SetActorType(ctx, types.ActorTypeAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CronAuthMiddleware guards the scheduler triggers with the shared cron secret
func CronAuthMiddleware(cfg *config.Configuration, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.ValidateCronSecret(cfg, c.GetHeader(types.HeaderCronSecret)) {
			logger.Warnw("rejected scheduler trigger", "path", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			c.Abort()
			return
		}

		c.Request = c.Request.WithContext(types.SetActorType(c.Request.Context(), types.ActorTypeSystem))
		c.Next()
	}
}
