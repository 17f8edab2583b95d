package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/api/dto"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/service"
	"github.com/pewsoft/subscriptions/internal/types"
)

type EntitlementHandler struct {
	service service.EntitlementService
	log     *logger.Logger
}

func NewEntitlementHandler(service service.EntitlementService, log *logger.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		service: service,
		log:     log,
	}
}

// @Summary Get entitlements
// @Description Resolve the caller tenant's effective feature set
// @Tags Entitlements
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.EntitlementsResponse
// @Router /entitlements [get]
func (h *EntitlementHandler) GetEntitlements(c *gin.Context) {
	ctx := c.Request.Context()
	resp, err := h.service.GetEntitlements(ctx, types.GetTenantID(ctx))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Check a feature
// @Tags Entitlements
// @Produce json
// @Security BearerAuth
// @Param key path string true "Feature key"
// @Success 200 {object} dto.FeatureCheckResponse
// @Router /entitlements/{key} [get]
func (h *EntitlementHandler) CheckFeature(c *gin.Context) {
	ctx := c.Request.Context()
	resp, err := h.service.CheckFeature(ctx, types.GetTenantID(ctx), c.Param("key"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Set an entitlement override
// @Description Override one feature for a tenant regardless of plan
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param tenant_id path string true "Tenant ID"
// @Param key path string true "Feature key"
// @Param request body dto.SetEntitlementOverrideRequest true "Override"
// @Success 200 {object} dto.EntitlementOverrideResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /admin/tenants/{tenant_id}/entitlements/{key} [put]
func (h *EntitlementHandler) SetOverride(c *gin.Context) {
	var req dto.SetEntitlementOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.SetOverride(c.Request.Context(), c.Param("tenant_id"), c.Param("key"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Delete an entitlement override
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Param tenant_id path string true "Tenant ID"
// @Param key path string true "Feature key"
// @Success 204
// @Failure 404 {object} ierr.ErrorResponse
// @Router /admin/tenants/{tenant_id}/entitlements/{key} [delete]
func (h *EntitlementHandler) DeleteOverride(c *gin.Context) {
	if err := h.service.DeleteOverride(c.Request.Context(), c.Param("tenant_id"), c.Param("key")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}
