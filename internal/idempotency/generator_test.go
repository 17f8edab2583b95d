package idempotency

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateKeyIsStable(t *testing.T) {
	g := NewGenerator()
	a := g.GenerateKey(ScopeReminder, map[string]interface{}{"subscription_id": "sub_1", "date": "2026-03-06"})
	b := g.GenerateKey(ScopeReminder, map[string]interface{}{"date": "2026-03-06", "subscription_id": "sub_1"})

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "reminder-"))
	assert.Len(t, a, len("reminder-")+2*digestBytes)
}

func TestGenerateKeyDiffers(t *testing.T) {
	g := NewGenerator()
	params := map[string]interface{}{"subscription_id": "sub_1"}

	assert.NotEqual(t, g.GenerateKey(ScopeCheckout, params), g.GenerateKey(ScopeProviderMutation, params))
	assert.NotEqual(t,
		g.GenerateKey(ScopeReminder, map[string]interface{}{"subscription_id": "sub_1", "date": "2026-03-06"}),
		g.GenerateKey(ScopeReminder, map[string]interface{}{"subscription_id": "sub_1", "date": "2026-03-07"}),
	)
}

func TestGenerateKeyDropsNilValues(t *testing.T) {
	g := NewGenerator()
	assert.Equal(t,
		g.GenerateKey(ScopeWebhookEvent, map[string]interface{}{"event": "charge.success"}),
		g.GenerateKey(ScopeWebhookEvent, map[string]interface{}{"event": "charge.success", "paid_at": nil}),
	)
}
