package dto

import (
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/domain/drift"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
)

type BackfillRequest struct {
	Limit  int  `json:"limit,omitempty"`
	DryRun bool `json:"dry_run"`
}

func (r *BackfillRequest) Validate() error {
	if r.Limit < 0 || r.Limit > 1000 {
		return ierr.NewError("invalid limit").
			WithHint("Limit must be between 1 and 1000").
			Mark(ierr.ErrValidation)
	}
	return nil
}

type BackfillResponse struct {
	DryRun  bool `json:"dry_run"`
	Scanned int  `json:"scanned"`
	Updated int  `json:"updated"`
	Skipped int  `json:"skipped"`
	Failed  int  `json:"failed"`
}

type DriftRequest struct {
	TenantID string `form:"tenant_id"`
	Limit    int    `form:"limit"`
}

type DriftResponse struct {
	IntentsWithoutDonation []*drift.IntentWithoutDonation `json:"intents_without_donation"`
	DonationsWithoutIntent []*drift.DonationWithoutIntent `json:"donations_without_intent"`
}

type PullSyncRequest struct {
	Limit int `json:"limit,omitempty"`
}

type PullSyncResponse struct {
	Provider  types.PaymentProvider `json:"provider"`
	Scanned   int                   `json:"scanned"`
	Updated   int                   `json:"updated"`
	Unchanged int                   `json:"unchanged"`
	Failed    int                   `json:"failed"`
}

// WebhookResponse acknowledges an inbound provider event
type WebhookResponse struct {
	EventID   string                  `json:"event_id"`
	Kind      types.ProviderEventKind `json:"kind"`
	Duplicate bool                    `json:"duplicate"`
}

type ListAuditLogsResponse = types.ListResponse[*audit.Log]
