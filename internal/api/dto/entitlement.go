package dto

import (
	"github.com/pewsoft/subscriptions/internal/domain/entitlement"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/pewsoft/subscriptions/internal/validator"
)

type EntitlementsResponse struct {
	*entitlement.Snapshot
}

// FeatureCheckResponse is the gate decision for one feature key
type FeatureCheckResponse struct {
	Key     string                  `json:"key"`
	Enabled bool                    `json:"enabled"`
	Limit   *int                    `json:"limit,omitempty"`
	Access  types.AccessMode        `json:"access"`
	Source  types.EntitlementSource `json:"source"`
}

type SetEntitlementOverrideRequest struct {
	Enabled bool   `json:"enabled"`
	Limit   *int   `json:"limit,omitempty" validate:"omitempty,min=0"`
	Reason  string `json:"reason,omitempty"`
}

func (r *SetEntitlementOverrideRequest) Validate() error {
	return validator.ValidateRequest(r)
}

type EntitlementOverrideResponse struct {
	*entitlement.Override
}
