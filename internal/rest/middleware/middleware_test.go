package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/auth"
	"github.com/pewsoft/subscriptions/internal/config"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type identity struct {
	TenantID string          `json:"tenant_id"`
	UserID   string          `json:"user_id"`
	Actor    types.ActorType `json:"actor"`
}

func whoami(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, identity{
		TenantID: types.GetTenantID(ctx),
		UserID:   types.GetUserID(ctx),
		Actor:    types.GetActorType(ctx),
	})
}

func testConfig() *config.Configuration {
	cfg := config.GetDefaultConfig()
	cfg.Auth.AdminAPIKeys = map[string]string{auth.HashAPIKey("admin-key"): "admin-1"}
	cfg.Auth.CronSecret = "cron-secret"
	return cfg
}

func serve(t *testing.T, mw gin.HandlerFunc, headers map[string]string) (*httptest.ResponseRecorder, identity) {
	t.Helper()
	r := gin.New()
	r.GET("/", mw, whoami)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var got identity
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	}
	return w, got
}

func TestAuthenticateMiddleware(t *testing.T) {
	cfg := testConfig()
	mw := AuthenticateMiddleware(cfg, logger.NewNopLogger())

	token, err := auth.GenerateToken(cfg.Auth.Secret, "user-1", "tenant-a", time.Hour)
	require.NoError(t, err)

	w, got := serve(t, mw, map[string]string{types.HeaderAuthorization: "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tenant-a", got.TenantID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, types.ActorTypeUser, got.Actor)

	forged, err := auth.GenerateToken("another-secret", "user-1", "tenant-b", time.Hour)
	require.NoError(t, err)
	expired, err := auth.GenerateToken(cfg.Auth.Secret, "user-1", "tenant-a", -time.Minute)
	require.NoError(t, err)
	noTenant, err := auth.GenerateToken(cfg.Auth.Secret, "user-1", "", time.Hour)
	require.NoError(t, err)

	rejected := map[string]string{
		"missing":       "",
		"not bearer":    "Basic abc",
		"wrong secret":  "Bearer " + forged,
		"expired":       "Bearer " + expired,
		"missing claim": "Bearer " + noTenant,
	}
	for name, header := range rejected {
		t.Run(name, func(t *testing.T) {
			headers := map[string]string{}
			if header != "" {
				headers[types.HeaderAuthorization] = header
			}
			w, _ := serve(t, mw, headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAdminAuthMiddleware(t *testing.T) {
	mw := AdminAuthMiddleware(testConfig(), logger.NewNopLogger())

	w, got := serve(t, mw, map[string]string{types.HeaderAPIKey: "admin-key"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin-1", got.UserID)
	assert.Equal(t, types.ActorTypeAdmin, got.Actor)
	assert.Empty(t, got.TenantID)

	w, _ = serve(t, mw, map[string]string{types.HeaderAPIKey: "guess"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve(t, mw, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCronAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	mw := CronAuthMiddleware(cfg, logger.NewNopLogger())

	w, got := serve(t, mw, map[string]string{types.HeaderCronSecret: "cron-secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.ActorTypeSystem, got.Actor)

	w, _ = serve(t, mw, map[string]string{types.HeaderCronSecret: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cfg.Auth.CronSecret = ""
	w, _ = serve(t, CronAuthMiddleware(cfg, logger.NewNopLogger()), map[string]string{types.HeaderCronSecret: ""})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, types.GetRequestID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(types.HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(types.HeaderRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get(types.HeaderRequestID))
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler(logger.NewNopLogger(), nil))
	r.GET("/missing", func(c *gin.Context) {
		c.Error(ierr.NewError("plan not found").
			WithHint("Plan not found").
			WithReportableDetails(map[string]any{"code": "pro"}).
			Mark(ierr.ErrNotFound))
	})
	r.GET("/boom", func(c *gin.Context) {
		c.Error(ierr.NewError("connection reset").Mark(ierr.ErrDatabase))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ierr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "Plan not found", resp.Error.Display)
	assert.Equal(t, "pro", resp.Error.Details["code"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "An unexpected error occurred", resp.Error.Display)
}
