package testutil

import (
	"context"
	"sort"
	"sync"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/types"
	"github.com/samber/lo"
)

// FilterFunc reports whether item matches filter
type FilterFunc[T any] func(ctx context.Context, item T, filter interface{}) bool

// SortFunc orders two items the way the postgres repository would
type SortFunc[T any] func(i, j T) bool

// InMemoryStore is the map backing every fake repository in this package
type InMemoryStore[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewInMemoryStore[T any]() *InMemoryStore[T] {
	return &InMemoryStore[T]{
		items: make(map[string]T),
	}
}

func notFound(id string) error {
	return ierr.NewError("item not found").
		WithHintf("No item with id %s", id).
		WithDetail("id", id).
		Mark(ierr.ErrNotFound)
}

// Create fails with ErrAlreadyExists when id is taken, like a unique index
func (s *InMemoryStore[T]) Create(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; exists {
		return ierr.NewError("item already exists").
			WithHintf("An item with id %s already exists", id).
			WithDetail("id", id).
			Mark(ierr.ErrAlreadyExists)
	}
	s.items[id] = item
	return nil
}

func (s *InMemoryStore[T]) Get(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		var zero T
		return zero, notFound(id)
	}
	return item, nil
}

// Find returns the first item match accepts, scanning in key order
func (s *InMemoryStore[T]) Find(_ context.Context, match func(T) bool) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := lo.Keys(s.items)
	sort.Strings(keys)
	for _, k := range keys {
		if match(s.items[k]) {
			return s.items[k], true
		}
	}
	var zero T
	return zero, false
}

// List filters, sorts and then pages with filter when it is a types.BaseFilter
func (s *InMemoryStore[T]) List(ctx context.Context, filter interface{}, filterFn FilterFunc[T], sortFn SortFunc[T]) ([]T, error) {
	result := s.matching(ctx, filter, filterFn)

	if sortFn != nil {
		sort.SliceStable(result, func(i, j int) bool {
			return sortFn(result[i], result[j])
		})
	}

	f, ok := filter.(types.BaseFilter)
	if !ok || f.IsUnlimited() {
		return result, nil
	}
	start := min(f.GetOffset(), len(result))
	end := min(start+f.GetLimit(), len(result))
	return result[start:end], nil
}

func (s *InMemoryStore[T]) Count(ctx context.Context, filter interface{}, filterFn FilterFunc[T]) (int, error) {
	return len(s.matching(ctx, filter, filterFn)), nil
}

func (s *InMemoryStore[T]) matching(ctx context.Context, filter interface{}, filterFn FilterFunc[T]) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Filter(lo.Values(s.items), func(item T, _ int) bool {
		return filterFn == nil || filterFn(ctx, item, filter)
	})
}

func (s *InMemoryStore[T]) Update(_ context.Context, id string, item T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return notFound(id)
	}
	s.items[id] = item
	return nil
}

func (s *InMemoryStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[id]; !exists {
		return notFound(id)
	}
	delete(s.items, id)
	return nil
}

// Clear empties the store between tests
func (s *InMemoryStore[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
}
