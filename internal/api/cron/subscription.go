package cron

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/service"
)

// SubscriptionHandler exposes the time based jobs to an external scheduler
type SubscriptionHandler struct {
	dunningService service.DunningService
	logger         *logger.Logger
}

// NewSubscriptionHandler creates a new subscription cron handler
func NewSubscriptionHandler(
	dunningService service.DunningService,
	logger *logger.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		dunningService: dunningService,
		logger:         logger,
	}
}

// RunSweep expires trials and grace windows, applies scheduled plan changes
// and ends subscriptions canceled at period end
func (h *SubscriptionHandler) RunSweep(c *gin.Context) {
	h.logger.Infow("starting subscription sweep cron job")

	resp, err := h.dunningService.RunSweep(c.Request.Context(), time.Now().UTC())
	if err != nil {
		h.logger.Errorw("failed to run subscription sweep", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed subscription sweep cron job",
		"trials_expired", resp.TrialsExpired,
		"grace_expired", resp.GraceExpired,
		"plan_changes_applied", resp.PlanChangesApplied,
		"cancellations_applied", resp.CancellationsApplied,
		"failed", resp.Failed,
	)
	c.JSON(http.StatusOK, resp)
}

// RunDunning queues reminders with the configured grace window
func (h *SubscriptionHandler) RunDunning(c *gin.Context) {
	resp, err := h.dunningService.Run(c.Request.Context(), dto.DunningRequest{}, time.Now().UTC())
	if err != nil {
		h.logger.Errorw("failed to run dunning", "error", err)
		c.Error(err)
		return
	}

	h.logger.Infow("completed dunning cron job",
		"scanned", resp.Scanned,
		"queued", resp.Queued,
		"failed", resp.Failed,
	)
	c.JSON(http.StatusOK, resp)
}
