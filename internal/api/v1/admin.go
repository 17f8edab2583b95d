package v1

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/api/dto"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/service"
	"github.com/pewsoft/subscriptions/internal/types"
)

// AdminHandler serves the platform operator endpoints
type AdminHandler struct {
	subscriptionService   service.SubscriptionService
	dunningService        service.DunningService
	reconciliationService service.ReconciliationService
	auditService          service.AuditService
	log                   *logger.Logger
}

func NewAdminHandler(
	subscriptionService service.SubscriptionService,
	dunningService service.DunningService,
	reconciliationService service.ReconciliationService,
	auditService service.AuditService,
	log *logger.Logger,
) *AdminHandler {
	return &AdminHandler{
		subscriptionService:   subscriptionService,
		dunningService:        dunningService,
		reconciliationService: reconciliationService,
		auditService:          auditService,
		log:                   log,
	}
}

// @Summary Assign a plan to a tenant
// @Description Replace the tenant's live subscription with a manually billed one
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param tenant_id path string true "Tenant ID"
// @Param request body dto.AssignPlanRequest true "Assignment"
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /admin/tenants/{tenant_id}/subscription [post]
func (h *AdminHandler) AssignPlan(c *gin.Context) {
	var req dto.AssignPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.subscriptionService.AssignPlan(c.Request.Context(), c.Param("tenant_id"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Preview dunning
// @Description List past due subscriptions beyond the grace window without side effects
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Param grace_days query int false "Grace days override"
// @Param limit query int false "Limit"
// @Success 200 {object} dto.DunningPreviewResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /admin/dunning/preview [get]
func (h *AdminHandler) DunningPreview(c *gin.Context) {
	var req dto.DunningRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.dunningService.Preview(c.Request.Context(), req, time.Now().UTC())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Run dunning
// @Description Queue one reminder per past due window
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body dto.DunningRequest false "Run options"
// @Success 200 {object} dto.DunningRunResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /admin/dunning/run [post]
func (h *AdminHandler) RunDunning(c *gin.Context) {
	var req dto.DunningRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	resp, err := h.dunningService.Run(c.Request.Context(), req, time.Now().UTC())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Backfill subscription metadata
// @Description Push tenant and plan metadata to provider subscriptions missing it
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param request body dto.BackfillRequest false "Backfill options"
// @Success 200 {object} dto.BackfillResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /admin/subscriptions/backfill [post]
func (h *AdminHandler) BackfillMetadata(c *gin.Context) {
	var req dto.BackfillRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	resp, err := h.reconciliationService.BackfillMetadata(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Reconciliation drift
// @Description Read only views of payments and subscriptions that do not line up
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Param tenant_id query string false "Tenant ID"
// @Param limit query int false "Limit"
// @Success 200 {object} dto.DriftResponse
// @Router /admin/reconciliation/drift [get]
func (h *AdminHandler) GetDrift(c *gin.Context) {
	var req dto.DriftRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.reconciliationService.GetDrift(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Pull sync from a provider
// @Description Re-read live provider subscriptions and converge local rows
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param provider path string true "Provider (stripe or paystack)"
// @Param request body dto.PullSyncRequest false "Sync options"
// @Success 200 {object} dto.PullSyncResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /admin/reconciliation/sync/{provider} [post]
func (h *AdminHandler) PullSync(c *gin.Context) {
	var req dto.PullSyncRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(ierr.WithError(err).
				WithHint("Invalid request format").
				Mark(ierr.ErrValidation))
			return
		}
	}

	provider := types.PaymentProvider(strings.ToUpper(c.Param("provider")))
	resp, err := h.reconciliationService.PullSync(c.Request.Context(), provider, req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Tenant audit history
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Param tenant_id path string true "Tenant ID"
// @Param filter query types.AuditFilter false "Filter"
// @Success 200 {object} dto.ListAuditLogsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /admin/tenants/{tenant_id}/audit [get]
func (h *AdminHandler) ListTenantAuditLogs(c *gin.Context) {
	filter := types.NewAuditFilter()
	if err := c.ShouldBindQuery(filter); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid filter parameters").
			Mark(ierr.ErrValidation))
		return
	}
	filter.TenantID = c.Param("tenant_id")

	resp, err := h.auditService.ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
