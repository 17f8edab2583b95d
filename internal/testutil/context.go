package testutil

import (
	"context"

	"github.com/pewsoft/subscriptions/internal/types"
)

// SetupContext returns a request context for a user of the default tenant.
func SetupContext() context.Context {
	return TenantContext(types.DefaultTenantID)
}

// TenantContext returns a request context for a user of tenantID.
func TenantContext(tenantID string) context.Context {
	ctx := types.SetTenantID(context.Background(), tenantID)
	ctx = types.SetUserID(ctx, types.DefaultUserID)
	ctx = types.SetActorType(ctx, types.ActorTypeUser)
	return context.WithValue(ctx, types.CtxRequestID, types.GenerateUUID())
}

// ActorContext returns ctx with the audit actor replaced
func ActorContext(ctx context.Context, actor types.ActorType) context.Context {
	return types.SetActorType(ctx, actor)
}
