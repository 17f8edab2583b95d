package errors

import (
	"net/http"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestBuilderMergesDetails(t *testing.T) {
	err := NewError("plan price missing").
		WithHint("Plan has no price for this provider").
		WithReportableDetails(map[string]any{"plan_code": "pro", "provider": "STRIPE"}).
		WithDetail("provider", "PAYSTACK").
		Mark(ErrValidation)

	assert.True(t, IsValidation(err))
	assert.Equal(t, "Plan has no price for this provider", DisplayMessage(err))
	assert.Equal(t, map[string]any{"plan_code": "pro", "provider": "PAYSTACK"}, SafeDetails(err))
}

func TestWrappedErrorKeepsClassification(t *testing.T) {
	inner := NewError("subscription not found").
		WithHint("Subscription not found").
		Mark(ErrNotFound)
	err := errors.Wrap(inner, "loading current subscription")

	assert.True(t, IsNotFound(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromErr(err))
	assert.Equal(t, "Subscription not found", DisplayMessage(err))
	assert.Empty(t, SafeDetails(err))
}

func TestHTTPStatusFromErr(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatusFromErr(WithError(errors.New("stale")).Mark(ErrVersionConflict)))
	dup := WithError(errors.New("duplicate key")).Mark(ErrAlreadyExists)
	assert.True(t, IsAlreadyExists(dup))
	assert.Equal(t, http.StatusConflict, HTTPStatusFromErr(dup))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusFromErr(WithError(errors.New("stripe down")).Mark(ErrProvider)))
	assert.Equal(t, http.StatusForbidden, HTTPStatusFromErr(WithError(errors.New("no")).Mark(ErrPermissionDenied)))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromErr(errors.New("boom")))
}

func TestNewErrorResponseDefaults(t *testing.T) {
	resp := NewErrorResponse(WithError(errors.New("pq: connection refused")).Mark(ErrDatabase))

	assert.False(t, resp.Success)
	assert.Equal(t, "An unexpected error occurred", resp.Error.Display)
	assert.Empty(t, resp.Error.Details)
}
