package cache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache holds read-mostly catalog data
type Cache interface {
	// Get returns the cached value and whether it was found
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores value; a zero expiration uses the cache default
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)

	// DeleteByPrefix drops every key under prefix
	DeleteByPrefix(ctx context.Context, prefix string)
}

// Only catalog data is cached. Entitlements and subscriptions are always read from the database.
const (
	PrefixPlanCatalog = "plan_catalog:v1:"
)

// GenerateKey joins the params onto prefix with colons
func GenerateKey(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, param := range params {
		b.WriteString(":")
		b.WriteString(fmt.Sprint(param))
	}
	return b.String()
}
