package dto

import (
	"time"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
)

// DunningRequest selects past due subscriptions. GraceDays falls back to the configured value.
type DunningRequest struct {
	GraceDays *int `json:"grace_days,omitempty" form:"grace_days"`
	Limit     int  `json:"limit,omitempty" form:"limit"`
	DryRun    bool `json:"dry_run,omitempty" form:"dry_run"`
}

func (r *DunningRequest) Validate() error {
	if r.GraceDays != nil && *r.GraceDays < 0 {
		return ierr.NewError("negative grace days").
			WithHint("grace_days cannot be negative").
			Mark(ierr.ErrValidation)
	}
	if r.Limit < 0 || r.Limit > 1000 {
		return ierr.NewError("invalid limit").
			WithHint("Limit must be between 1 and 1000").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type DunningTarget struct {
	SubscriptionID     string     `json:"subscription_id"`
	TenantID           string     `json:"tenant_id"`
	PlanID             string     `json:"plan_id"`
	PastDueSince       time.Time  `json:"past_due_since"`
	DaysPastDue        int        `json:"days_past_due"`
	LastReminderSentAt *time.Time `json:"last_reminder_sent_at,omitempty"`
	// AlreadyReminded is true when this past due window already got its reminder
	AlreadyReminded bool `json:"already_reminded"`
}

type DunningPreviewResponse struct {
	GraceDays int              `json:"grace_days"`
	Total     int              `json:"total"`
	Targets   []*DunningTarget `json:"targets"`
}

type DunningRunResponse struct {
	GraceDays int              `json:"grace_days"`
	DryRun    bool             `json:"dry_run"`
	Scanned   int              `json:"scanned"`
	Queued    int              `json:"queued"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Targets   []*DunningTarget `json:"targets"`
}

// SweepResponse counts the time based transitions of one sweep
type SweepResponse struct {
	Now                  time.Time `json:"now"`
	TrialsExpired        int       `json:"trials_expired"`
	GraceExpired         int       `json:"grace_expired"`
	PlanChangesApplied   int       `json:"plan_changes_applied"`
	CancellationsApplied int       `json:"cancellations_applied"`
	Failed               int       `json:"failed"`
}
