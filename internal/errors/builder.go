package errors

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

const safeDetailsPrefix = "__json__:"

// ErrorBuilder chains hints and reportable details onto an error.
// It is not an error itself: finish every chain with Mark.
type ErrorBuilder struct {
	err     error
	details map[string]any
}

func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.New(msg)}
}

func NewErrorf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: errors.Newf(format, args...)}
}

// WithError starts a chain from an existing error, keeping its stack
func WithError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// WithMessage prefixes the internal message. Callers never see it.
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

func (b *ErrorBuilder) WithMessagef(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithMessagef(b.err, format, args...)
	return b
}

// WithHint sets the message shown to API callers
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// WithReportableDetails merges details returned to API callers. Later keys win.
func (b *ErrorBuilder) WithReportableDetails(details map[string]any) *ErrorBuilder {
	for k, v := range details {
		b.WithDetail(k, v)
	}
	return b
}

// WithDetail adds a single reportable detail
func (b *ErrorBuilder) WithDetail(key string, value any) *ErrorBuilder {
	if b.details == nil {
		b.details = make(map[string]any)
	}
	b.details[key] = value
	return b
}

// Mark classifies the error with a sentinel and returns it
func (b *ErrorBuilder) Mark(reference error) error {
	if len(b.details) > 0 {
		if marshaled, err := json.Marshal(b.details); err == nil {
			b.err = errors.WithSafeDetails(b.err, safeDetailsPrefix+"%s", errors.Safe(string(marshaled)))
		}
	}
	return errors.Mark(b.err, reference)
}
