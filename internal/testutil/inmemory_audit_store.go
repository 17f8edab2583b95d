package testutil

import (
	"context"
	"fmt"

	"github.com/pewsoft/subscriptions/internal/domain/audit"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

// InMemoryAuditStore implements audit.Repository
type InMemoryAuditStore struct {
	*InMemoryStore[*audit.Log]
}

func NewInMemoryAuditStore() *InMemoryAuditStore {
	return &InMemoryAuditStore{
		InMemoryStore: NewInMemoryStore[*audit.Log](),
	}
}

func auditFilterFn(ctx context.Context, l *audit.Log, filter interface{}) bool {
	f, ok := filter.(*types.AuditFilter)
	if !ok || f == nil {
		return true
	}
	if f.TenantID != "" && l.TenantID != f.TenantID {
		return false
	}
	if len(f.Actions) > 0 && !lo.Contains(f.Actions, l.Action) {
		return false
	}
	if f.EntityID != "" && l.EntityID != f.EntityID {
		return false
	}
	if f.Since != nil && l.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

func auditSortFn(i, j *audit.Log) bool {
	if i.CreatedAt.Equal(j.CreatedAt) {
		return i.ID > j.ID
	}
	return i.CreatedAt.After(j.CreatedAt)
}

func (s *InMemoryAuditStore) Create(ctx context.Context, l *audit.Log) error {
	if l == nil {
		return fmt.Errorf("audit log cannot be nil")
	}
	return s.InMemoryStore.Create(ctx, l.ID, l)
}

func (s *InMemoryAuditStore) List(ctx context.Context, filter *types.AuditFilter) ([]*audit.Log, error) {
	return s.InMemoryStore.List(ctx, filter, auditFilterFn, auditSortFn)
}

func (s *InMemoryAuditStore) Count(ctx context.Context, filter *types.AuditFilter) (int, error) {
	return s.InMemoryStore.Count(ctx, filter, auditFilterFn)
}

// ByAction returns every log with action, newest first
func (s *InMemoryAuditStore) ByAction(action types.AuditAction) []*audit.Log {
	filter := &types.AuditFilter{
		QueryFilter: types.NewNoLimitQueryFilter(),
		Actions:     []types.AuditAction{action},
	}
	logs, _ := s.List(context.Background(), filter)
	return logs
}
