package router

import (
	"errors"
	"net"

	ierr "github.com/pewsoft/subscriptions/internal/errors"
	"github.com/pewsoft/subscriptions/internal/httpclient"
)

// classify reports whether redelivering the message can succeed, and why.
func classify(err error) (retry bool, reason string) {
	if httpErr, ok := httpclient.IsHTTPError(err); ok {
		if httpErr.Retryable() {
			return true, "receiver_unavailable"
		}
		return false, "receiver_rejected"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, "network_timeout"
	}

	switch {
	case ierr.IsValidation(err):
		return false, "invalid_message"
	case ierr.IsNotFound(err), ierr.IsPermissionDenied(err):
		return false, "not_deliverable"
	}
	return true, "unknown"
}
