package service

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/domain/entitlement"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
)

type EntitlementService interface {
	// GetEntitlements resolves the tenant's snapshot from the database on every call
	GetEntitlements(ctx context.Context, tenantID string) (*dto.EntitlementsResponse, error)
	CheckFeature(ctx context.Context, tenantID, key string) (*dto.FeatureCheckResponse, error)
	SetOverride(ctx context.Context, tenantID, key string, req dto.SetEntitlementOverrideRequest) (*dto.EntitlementOverrideResponse, error)
	DeleteOverride(ctx context.Context, tenantID, key string) error
}

type entitlementService struct {
	ServiceParams
}

func NewEntitlementService(params ServiceParams) EntitlementService {
	return &entitlementService{
		ServiceParams: params,
	}
}

func (s *entitlementService) GetEntitlements(ctx context.Context, tenantID string) (*dto.EntitlementsResponse, error) {
	snap, err := s.resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &dto.EntitlementsResponse{Snapshot: snap}, nil
}

func (s *entitlementService) CheckFeature(ctx context.Context, tenantID, key string) (*dto.FeatureCheckResponse, error) {
	if key == "" {
		return nil, ierr.NewError("feature key is required").
			WithHint("Please provide a feature key").
			Mark(ierr.ErrValidation)
	}

	snap, err := s.resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	e := snap.Get(key)
	return &dto.FeatureCheckResponse{
		Key:     key,
		Enabled: e.Enabled,
		Limit:   e.Limit,
		Access:  e.Access,
		Source:  snap.Source,
	}, nil
}

func (s *entitlementService) resolve(ctx context.Context, tenantID string) (*entitlement.Snapshot, error) {
	if tenantID == "" {
		return nil, ierr.NewError("tenant is required").
			WithHint("No tenant in request").
			Mark(ierr.ErrValidation)
	}

	in := entitlement.ResolveInput{
		TenantID: tenantID,
		DenyList: s.Config.Billing.EntitlementDenyList,
	}

	current, err := s.SubRepo.GetCurrent(ctx, tenantID)
	switch {
	case ierr.IsNotFound(err):
		hasHistory, err := s.SubRepo.HasHistory(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		in.HasHistory = hasHistory
	case err != nil:
		return nil, err
	default:
		in.Current = current
		in.HasHistory = true
		in.Plan, err = s.planFor(ctx, current)
		if err != nil {
			return nil, err
		}
	}

	overrides, err := s.OverrideRepo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	in.Overrides = overrides

	return entitlement.Resolve(in), nil
}

// planFor loads the subscription's plan. A plan row that disappeared resolves as a
// plan without features so the tenant keeps access.
func (s *entitlementService) planFor(ctx context.Context, sub *subscription.Subscription) (*plan.Plan, error) {
	p, err := getPlanWithFeatures(ctx, s.PlanRepo, sub.PlanID)
	if ierr.IsNotFound(err) {
		s.Logger.Warnw("subscription references a missing plan",
			"subscription_id", sub.ID,
			"tenant_id", sub.TenantID,
			"plan_id", sub.PlanID,
		)
		return &plan.Plan{ID: sub.PlanID}, nil
	}
	return p, err
}

func (s *entitlementService) SetOverride(ctx context.Context, tenantID, key string, req dto.SetEntitlementOverrideRequest) (*dto.EntitlementOverrideResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	o := &entitlement.Override{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT_OVERRIDE),
		TenantID:  tenantID,
		Key:       key,
		Enabled:   req.Enabled,
		Limit:     req.Limit,
		Reason:    req.Reason,
		BaseModel: types.GetDefaultBaseModel(ctx),
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.OverrideRepo.Upsert(ctx, o); err != nil {
			return err
		}
		return s.AuditRepo.Create(ctx, audit.New(ctx, tenantID, types.AuditActionEntitlementOverrideSet,
			types.AuditEntityEntitlement, key, req.Reason, map[string]any{
				"enabled": o.Enabled,
				"limit":   o.Limit,
			}))
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("set entitlement override",
		"tenant_id", tenantID,
		"key", key,
		"enabled", o.Enabled,
	)
	return &dto.EntitlementOverrideResponse{Override: o}, nil
}

func (s *entitlementService) DeleteOverride(ctx context.Context, tenantID, key string) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.OverrideRepo.Delete(ctx, tenantID, key); err != nil {
			return err
		}
		return s.AuditRepo.Create(ctx, audit.New(ctx, tenantID, types.AuditActionEntitlementOverrideDelete,
			types.AuditEntityEntitlement, key, "", nil))
	})
}
