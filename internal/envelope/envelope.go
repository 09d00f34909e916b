// Package envelope defines the uniform response shape every
// coordinator operation returns (spec.md §4.L), plus the published
// schema registry backing the CLI's --schema flag.
package envelope

import (
	"errors"

	"github.com/lodestar-dev/lodestar/internal/engineerr"
)

// Intent is a suggested follow-up operation, surfaced in Next so a
// caller (or an agent driving the CLI) can chain actions without
// re-deriving them.
type Intent struct {
	Intent string `json:"intent"`
	Cmd    string `json:"cmd"`
}

// Envelope wraps every coordinator response. T is the operation's
// payload type; Data is omitted (not null) on error.
type Envelope[T any] struct {
	OK       bool             `json:"ok"`
	Data     T                `json:"data,omitempty"`
	Next     []Intent         `json:"next,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
	Error    *engineerr.Error `json:"error,omitempty"`
}

// Ok builds a successful envelope.
func Ok[T any](data T, opts ...Option[T]) Envelope[T] {
	e := Envelope[T]{OK: true, Data: data}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Err builds a failed envelope around err. If err does not wrap an
// *engineerr.Error, it is wrapped as InvalidInput so callers never see
// an untyped error escape the envelope boundary.
func Err[T any](err error) Envelope[T] {
	var ee *engineerr.Error
	if errors.As(err, &ee) {
		return Envelope[T]{OK: false, Error: ee}
	}
	return Envelope[T]{OK: false, Error: engineerr.New(engineerr.InvalidInput, err.Error())}
}

// Option customizes an envelope built by Ok.
type Option[T any] func(*Envelope[T])

// WithNext attaches suggested follow-up intents.
func WithNext[T any](next ...Intent) Option[T] {
	return func(e *Envelope[T]) { e.Next = next }
}

// WithWarnings attaches non-fatal warnings (e.g. a PRD drift notice).
func WithWarnings[T any](warnings ...string) Option[T] {
	return func(e *Envelope[T]) { e.Warnings = warnings }
}
