package service

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/api/dto"
	"github.com/pewsoft/subscriptions/internal/cache"
	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/domain/plan"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

type PlanService interface {
	// UpsertPlan creates the plan with code or updates it when the code already exists
	UpsertPlan(ctx context.Context, code string, req dto.UpsertPlanRequest) (*dto.PlanResponse, error)
	GetPlanByCode(ctx context.Context, code string) (*dto.PlanResponse, error)
	ListPlans(ctx context.Context, includeInactive bool) (*dto.ListPlansResponse, error)
}

type planService struct {
	ServiceParams
}

func NewPlanService(params ServiceParams) PlanService {
	return &planService{
		ServiceParams: params,
	}
}

func (s *planService) UpsertPlan(ctx context.Context, code string, req dto.UpsertPlanRequest) (*dto.PlanResponse, error) {
	if err := types.ValidatePlanCode(code); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p := req.ToPlan(ctx, code)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	created := false
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.PlanRepo.GetByCode(ctx, code)
		switch {
		case ierr.IsNotFound(err):
			created = true
			p.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN)
			if err := s.demoteDefault(ctx, p); err != nil {
				return err
			}
			if err := s.PlanRepo.Create(ctx, p); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			p.CreatedBy = existing.CreatedBy
			p.Touch(ctx)
			if err := s.demoteDefault(ctx, p); err != nil {
				return err
			}
			if err := s.PlanRepo.Update(ctx, p); err != nil {
				return err
			}
		}

		for _, f := range p.Features {
			f.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PLAN_FEATURE)
			f.PlanID = p.ID
		}
		if err := s.PlanRepo.ReplaceFeatures(ctx, p.ID, p.Features); err != nil {
			return err
		}

		return s.AuditRepo.Create(ctx, audit.New(ctx, "", types.AuditActionPlanUpserted,
			types.AuditEntityPlan, p.ID, "", map[string]any{
				"code":       p.Code,
				"created":    created,
				"is_default": p.IsDefault,
				"is_active":  p.IsActive,
				"features":   len(p.Features),
			}))
	})
	if err != nil {
		return nil, err
	}

	s.Cache.DeleteByPrefix(ctx, cache.PrefixPlanCatalog)

	s.Logger.Infow("upserted plan",
		"plan_id", p.ID,
		"code", p.Code,
		"created", created,
		"is_default", p.IsDefault,
	)

	return s.GetPlanByCode(ctx, code)
}

// demoteDefault clears the current default before p is written. The single
// default index is checked per statement, so this must run first.
func (s *planService) demoteDefault(ctx context.Context, p *plan.Plan) error {
	if !p.IsDefault {
		return nil
	}
	return s.PlanRepo.ClearDefault(ctx, p.ID)
}

func (s *planService) GetPlanByCode(ctx context.Context, code string) (*dto.PlanResponse, error) {
	p, err := s.PlanRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.loadDetails(ctx, []*plan.Plan{p}); err != nil {
		return nil, err
	}
	return dto.NewPlanResponse(p), nil
}

// ListPlans returns plans in creation order. The active catalog is cached; entitlement
// resolution never reads through this path.
func (s *planService) ListPlans(ctx context.Context, includeInactive bool) (*dto.ListPlansResponse, error) {
	filter := types.NewPlanFilter()
	filter.IncludeInactive = includeInactive

	plans, err := s.catalog(ctx, filter)
	if err != nil {
		return nil, err
	}

	// counts move with every assignment, so they are never served from the cache
	counts, err := s.countAssignments(ctx, plans)
	if err != nil {
		return nil, err
	}

	items := lo.Map(plans, func(p *plan.Plan, _ int) *dto.PlanResponse {
		c := *p
		c.AssignmentCount = counts[p.ID]
		return dto.NewPlanResponse(&c)
	})
	resp := types.NewListResponse(items, len(items), filter.QueryFilter)
	return &resp, nil
}

// catalog lists plans with their features, through the plan cache when enabled
func (s *planService) catalog(ctx context.Context, filter *types.PlanFilter) ([]*plan.Plan, error) {
	key := cache.GenerateKey(cache.PrefixPlanCatalog, "include_inactive", filter.IncludeInactive)
	if s.Config.Cache.Enabled {
		if cached, ok := s.Cache.Get(ctx, key); ok {
			if plans, ok := cached.([]*plan.Plan); ok {
				return plans, nil
			}
		}
	}

	plans, err := s.PlanRepo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if err := s.loadFeatures(ctx, plans); err != nil {
		return nil, err
	}

	if s.Config.Cache.Enabled {
		s.Cache.Set(ctx, key, plans, s.Config.Cache.TTL)
	}
	return plans, nil
}

// loadDetails attaches features and assignment counts to plans
func (s *planService) loadDetails(ctx context.Context, plans []*plan.Plan) error {
	if err := s.loadFeatures(ctx, plans); err != nil {
		return err
	}
	counts, err := s.countAssignments(ctx, plans)
	if err != nil {
		return err
	}
	for _, p := range plans {
		p.AssignmentCount = counts[p.ID]
	}
	return nil
}

func (s *planService) loadFeatures(ctx context.Context, plans []*plan.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	features, err := s.PlanRepo.ListFeatures(ctx, planIDs(plans))
	if err != nil {
		return err
	}
	byPlan := lo.GroupBy(features, func(f *plan.Feature) string { return f.PlanID })
	for _, p := range plans {
		p.Features = lo.Ternary(byPlan[p.ID] != nil, byPlan[p.ID], []*plan.Feature{})
	}
	return nil
}

func (s *planService) countAssignments(ctx context.Context, plans []*plan.Plan) (map[string]int, error) {
	if len(plans) == 0 {
		return map[string]int{}, nil
	}
	return s.PlanRepo.CountAssignments(ctx, planIDs(plans))
}

func planIDs(plans []*plan.Plan) []string {
	return lo.Map(plans, func(p *plan.Plan, _ int) string { return p.ID })
}

// getPlanWithFeatures loads a plan by id with its features
func getPlanWithFeatures(ctx context.Context, repo plan.Repository, id string) (*plan.Plan, error) {
	p, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	features, err := repo.ListFeatures(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	p.Features = features
	return p, nil
}

// getActivePlan resolves a purchasable plan by code
func getActivePlan(ctx context.Context, repo plan.Repository, code string) (*plan.Plan, error) {
	p, err := repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, ierr.NewError("plan is not active").
			WithHintf("Plan %s is no longer available", code).
			WithReportableDetails(map[string]any{
				"plan_code": code,
			}).
			Mark(ierr.ErrInvalidOperation)
	}
	return p, nil
}
