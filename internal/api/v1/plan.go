package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/api/dto"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/service"
)

type PlanHandler struct {
	service service.PlanService
	log     *logger.Logger
}

func NewPlanHandler(service service.PlanService, log *logger.Logger) *PlanHandler {
	return &PlanHandler{
		service: service,
		log:     log,
	}
}

// @Summary List plans
// @Description List the active plans tenants can subscribe to
// @Tags Plans
// @Produce json
// @Security BearerAuth
// @Success 200 {object} dto.ListPlansResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /plans [get]
func (h *PlanHandler) ListPlans(c *gin.Context) {
	resp, err := h.service.ListPlans(c.Request.Context(), false)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type listPlansQuery struct {
	IncludeInactive bool `form:"include_inactive"`
}

// @Summary List plans (admin)
// @Description List the catalog, optionally including retired plans
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Param include_inactive query bool false "Include inactive plans"
// @Success 200 {object} dto.ListPlansResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /admin/plans [get]
func (h *PlanHandler) ListAllPlans(c *gin.Context) {
	var query listPlansQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid query parameters").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.ListPlans(c.Request.Context(), query.IncludeInactive)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Get a plan
// @Tags Admin
// @Produce json
// @Security ApiKeyAuth
// @Param code path string true "Plan code"
// @Success 200 {object} dto.PlanResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /admin/plans/{code} [get]
func (h *PlanHandler) GetPlan(c *gin.Context) {
	resp, err := h.service.GetPlanByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// @Summary Upsert a plan
// @Description Create or update a plan by code and replace its feature set
// @Tags Admin
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param code path string true "Plan code"
// @Param plan body dto.UpsertPlanRequest true "Plan definition"
// @Success 200 {object} dto.PlanResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 500 {object} ierr.ErrorResponse
// @Router /admin/plans/{code} [put]
func (h *PlanHandler) UpsertPlan(c *gin.Context) {
	var req dto.UpsertPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	resp, err := h.service.UpsertPlan(c.Request.Context(), c.Param("code"), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
