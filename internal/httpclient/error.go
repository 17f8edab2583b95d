package httpclient

import (
	goerrors "errors"
	"fmt"
	"net/http"

	"github.com/pewsoft/subscriptions/internal/errors"
)

const maxBodyInError = 256

// Error is a non-2xx response. It is marked ErrHTTPClient.
type Error struct {
	*errors.InternalError
	StatusCode int
	Response   []byte
}

func NewError(statusCode int, response []byte) *Error {
	return &Error{
		InternalError: errors.New(errors.ErrCodeHTTPClient, http.StatusText(statusCode)),
		StatusCode:    statusCode,
		Response:      response,
	}
}

func (e *Error) Unwrap() error {
	return e.InternalError.Unwrap()
}

func (e *Error) Error() string {
	body := e.Response
	if len(body) > maxBodyInError {
		body = body[:maxBodyInError]
	}
	if len(body) == 0 {
		return fmt.Sprintf("%s (status %d)", e.InternalError.Error(), e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", e.InternalError.Error(), e.StatusCode, body)
}

// Retryable reports whether the receiver may accept the same request later
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsHTTPError unwraps err to an *Error
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if goerrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
