package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Scope namespaces keys so two operations never share one
type Scope string

const (
	// ScopeWebhookEvent derives event ids for providers that do not send one
	ScopeWebhookEvent Scope = "webhook_event"
	// ScopeCheckout keys outbound checkout creation
	ScopeCheckout Scope = "checkout"
	// ScopeProviderMutation keys outbound subscription mutations (change, cancel, resume)
	ScopeProviderMutation Scope = "provider_mutation"
	// ScopeReminder keys reminder delivery so the receiver can drop redeliveries
	ScopeReminder Scope = "reminder"
)

// digestBytes is how much of the sha256 sum ends up in a key.
// Stripe caps idempotency keys at 255 chars and Paystack references at 100.
const digestBytes = 12

// Generator derives stable keys from a scope and the values identifying one operation
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateKey returns "<scope>-<hex digest>". Param order does not matter and
// nil values are dropped, so a missing and a nil param produce the same key.
func (g *Generator) GenerateKey(scope Scope, params map[string]interface{}) string {
	present := lo.PickBy(params, func(_ string, v interface{}) bool { return v != nil })
	keys := lo.Keys(present)
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(scope))
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, present[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return string(scope) + "-" + hex.EncodeToString(sum[:digestBytes])
}
