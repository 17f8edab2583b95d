package testutil

import (
	"context"
	"fmt"

	"github.com/pewsoft/subscriptions/internal/domain/plan"
	"github.com/pewsoft/subscriptions/internal/domain/subscription"
	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

// InMemoryPlanStore implements plan.Repository
type InMemoryPlanStore struct {
	*InMemoryStore[*plan.Plan]
	features *InMemoryStore[*plan.Feature]
	subs     subscription.Repository
}

// NewInMemoryPlanStore creates a plan store that counts assignments in subs
func NewInMemoryPlanStore(subs subscription.Repository) *InMemoryPlanStore {
	return &InMemoryPlanStore{
		InMemoryStore: NewInMemoryStore[*plan.Plan](),
		features:      NewInMemoryStore[*plan.Feature](),
		subs:          subs,
	}
}

func copyPlan(p *plan.Plan) *plan.Plan {
	c := *p
	c.Metadata = lo.Assign(p.Metadata)
	c.Features = nil
	c.AssignmentCount = 0
	return &c
}

func planFilterFn(ctx context.Context, p *plan.Plan, filter interface{}) bool {
	if p == nil {
		return false
	}
	f, ok := filter.(*types.PlanFilter)
	if !ok || f == nil {
		return true
	}
	if !f.IncludeInactive && !p.IsActive {
		return false
	}
	if len(f.Codes) > 0 && !lo.Contains(f.Codes, p.Code) {
		return false
	}
	return true
}

func planSortFn(i, j *plan.Plan) bool {
	if i.CreatedAt.Equal(j.CreatedAt) {
		return i.ID < j.ID
	}
	return i.CreatedAt.Before(j.CreatedAt)
}

func (s *InMemoryPlanStore) Create(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return fmt.Errorf("plan cannot be nil")
	}
	if _, err := s.GetByCode(ctx, p.Code); err == nil {
		return ierr.NewError("plan code already exists").
			WithHintf("A plan with code %s already exists", p.Code).
			Mark(ierr.ErrAlreadyExists)
	}
	if err := s.checkSingleDefault(ctx, p); err != nil {
		return err
	}
	return s.InMemoryStore.Create(ctx, p.ID, copyPlan(p))
}

func (s *InMemoryPlanStore) Get(ctx context.Context, id string) (*plan.Plan, error) {
	p, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyPlan(p), nil
}

func (s *InMemoryPlanStore) GetByCode(ctx context.Context, code string) (*plan.Plan, error) {
	p, ok := s.InMemoryStore.Find(ctx, func(p *plan.Plan) bool { return p.Code == code })
	if !ok {
		return nil, ierr.NewError("plan not found").
			WithHintf("Plan %s does not exist", code).
			WithReportableDetails(map[string]any{
				"code": code,
			}).
			Mark(ierr.ErrNotFound)
	}
	return copyPlan(p), nil
}

func (s *InMemoryPlanStore) List(ctx context.Context, filter *types.PlanFilter) ([]*plan.Plan, error) {
	if filter == nil {
		filter = types.NewPlanFilter()
	}
	plans, err := s.InMemoryStore.List(ctx, filter, planFilterFn, planSortFn)
	if err != nil {
		return nil, err
	}
	return lo.Map(plans, func(p *plan.Plan, _ int) *plan.Plan { return copyPlan(p) }), nil
}

func (s *InMemoryPlanStore) Update(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return fmt.Errorf("plan cannot be nil")
	}
	if err := s.checkSingleDefault(ctx, p); err != nil {
		return err
	}
	return s.InMemoryStore.Update(ctx, p.ID, copyPlan(p))
}

// checkSingleDefault behaves like the partial unique index on is_default,
// which postgres checks per statement rather than at commit.
func (s *InMemoryPlanStore) checkSingleDefault(ctx context.Context, p *plan.Plan) error {
	if !p.IsDefault {
		return nil
	}
	if other, ok := s.InMemoryStore.Find(ctx, func(o *plan.Plan) bool {
		return o.IsDefault && o.ID != p.ID
	}); ok {
		return ierr.NewError("duplicate default plan").
			WithHintf("Plan %s is already the default", other.Code).
			Mark(ierr.ErrVersionConflict)
	}
	return nil
}

func (s *InMemoryPlanStore) ClearDefault(ctx context.Context, exceptID string) error {
	plans, err := s.InMemoryStore.List(ctx, nil, nil, nil)
	if err != nil {
		return err
	}
	for _, p := range plans {
		if p.ID == exceptID || !p.IsDefault {
			continue
		}
		c := copyPlan(p)
		c.IsDefault = false
		if err := s.InMemoryStore.Update(ctx, c.ID, c); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryPlanStore) ReplaceFeatures(ctx context.Context, planID string, features []*plan.Feature) error {
	existing, err := s.ListFeatures(ctx, []string{planID})
	if err != nil {
		return err
	}
	for _, f := range existing {
		if err := s.features.Delete(ctx, f.ID); err != nil {
			return err
		}
	}
	for _, f := range features {
		c := *f
		c.PlanID = planID
		if err := s.features.Create(ctx, c.ID, &c); err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemoryPlanStore) ListFeatures(ctx context.Context, planIDs []string) ([]*plan.Feature, error) {
	features, err := s.features.List(ctx, planIDs, func(_ context.Context, f *plan.Feature, filter interface{}) bool {
		return lo.Contains(filter.([]string), f.PlanID)
	}, func(i, j *plan.Feature) bool {
		return i.Key < j.Key
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(features, func(f *plan.Feature, _ int) *plan.Feature {
		c := *f
		return &c
	}), nil
}

func (s *InMemoryPlanStore) CountAssignments(ctx context.Context, planIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(planIDs))
	if s.subs == nil {
		return counts, nil
	}
	subs, err := s.subs.List(ctx, types.NewNoLimitSubscriptionFilter())
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if lo.Contains(planIDs, sub.PlanID) {
			counts[sub.PlanID]++
		}
	}
	return counts, nil
}

// Clear removes plans and features
func (s *InMemoryPlanStore) Clear() {
	s.InMemoryStore.Clear()
	s.features.Clear()
}
