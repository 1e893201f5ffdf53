package chain

import (
	"errors"
	"fmt"
)

// Kind classifies source failures. Retry policy branches on Kind only.
type Kind int

const (
	// KindUnknown is any failure without a more specific classification.
	KindUnknown Kind = iota
	// KindTransient is a connection or timeout failure on a single call.
	KindTransient
	// KindRateLimit means the provider throttled the request.
	KindRateLimit
	// KindRangeTooLarge means the provider rejected the requested block span
	// or result size.
	KindRangeTooLarge
	// KindDecode means one log entry did not have the expected shape.
	KindDecode
	// KindSourceExhausted means the primary source could not cover its range
	// after all recovery paths.
	KindSourceExhausted
	// KindFatalConfig means missing configuration or a non-recoverable API status.
	KindFatalConfig
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindTransient:       "transient",
	KindRateLimit:       "rate_limit",
	KindRangeTooLarge:   "range_too_large",
	KindDecode:          "decode",
	KindSourceExhausted: "source_exhausted",
	KindFatalConfig:     "fatal_config",
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure of a source operation.
type Error struct {
	Kind   Kind
	Source string
	Op     string
	Err    error
}

// NewError wraps err with a classification.
func NewError(kind Kind, source, op string, err error) *Error {
	return &Error{Kind: kind, Source: source, Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s [%s]", e.Source, e.Op, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindUnknown when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
