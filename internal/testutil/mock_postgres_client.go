package testutil

import (
	"context"
	"sync/atomic"

	"github.com/pewsoft/subscriptions/internal/logger"
	"github.com/pewsoft/subscriptions/internal/postgres"
)

var _ postgres.IClient = (*MockPostgresClient)(nil) // Ensure MockPostgresClient implements IClient

// MockPostgresClient is a mock implementation of postgres client for testing
type MockPostgresClient struct {
	logger       *logger.Logger
	transactions atomic.Int64
}

// NewMockPostgresClient creates a new mock postgres client
func NewMockPostgresClient(logger *logger.Logger) *MockPostgresClient {
	return &MockPostgresClient{
		logger: logger,
	}
}

type txMarker struct{}

// WithTx executes the given function without a real transaction. Writes made before an
// error are not rolled back.
func (c *MockPostgresClient) WithTx(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	c.transactions.Add(1)
	return fn(context.WithValue(ctx, txMarker{}, true))
}

// Transactions counts the outermost WithTx calls
func (c *MockPostgresClient) Transactions() int {
	return int(c.transactions.Load())
}
