package plan

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/types"
)

// Repository defines the interface for plan persistence
type Repository interface {
	Create(ctx context.Context, plan *Plan) error
	Get(ctx context.Context, id string) (*Plan, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	// List returns plans ordered by creation, without features
	List(ctx context.Context, filter *types.PlanFilter) ([]*Plan, error)
	Update(ctx context.Context, plan *Plan) error

	// ClearDefault demotes every default plan except exceptID
	ClearDefault(ctx context.Context, exceptID string) error

	// ReplaceFeatures makes the stored feature set of planID equal to features
	ReplaceFeatures(ctx context.Context, planID string, features []*Feature) error
	ListFeatures(ctx context.Context, planIDs []string) ([]*Feature, error)

	// CountAssignments returns the number of subscriptions referencing each plan
	CountAssignments(ctx context.Context, planIDs []string) (map[string]int, error)
}
