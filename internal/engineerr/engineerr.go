// Package engineerr defines the closed set of error codes the
// coordination engine surfaces to callers, and the Error type that
// carries them through the envelope layer.
package engineerr

import "fmt"

// Code is one of the closed set of error kinds from spec.md §7.
type Code string

const (
	NotInitialized         Code = "NotInitialized"
	SpecMalformed          Code = "SpecMalformed"
	SpecInvariantViolation Code = "SpecInvariantViolation"
	LockTimeout            Code = "LockTimeout"
	RuntimeBusy            Code = "RuntimeBusy"
	RuntimeCorrupt         Code = "RuntimeCorrupt"
	TaskNotFound           Code = "TaskNotFound"
	TaskNotClaimable       Code = "TaskNotClaimable"
	TaskAlreadyClaimed     Code = "TaskAlreadyClaimed"
	TaskLeaseNotHeld       Code = "TaskLeaseNotHeld"
	TaskStateConflict      Code = "TaskStateConflict"
	AgentNotRegistered     Code = "AgentNotRegistered"
	AgentAlreadyExists     Code = "AgentAlreadyExists"
	MessageTooLarge        Code = "MessageTooLarge"
	MessageRecipientInvalid Code = "MessageRecipientInvalid"
	InvalidInput           Code = "InvalidInput"
)

// SpecInvariantReason further qualifies a SpecInvariantViolation.
type SpecInvariantReason string

const (
	ReasonCycle       SpecInvariantReason = "cycle"
	ReasonMissingDep  SpecInvariantReason = "missing_dep"
	ReasonDuplicateID SpecInvariantReason = "duplicate_id"
	ReasonBadStatus   SpecInvariantReason = "bad_status"
)

// Error is the uniform error shape returned inside every envelope.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with Details set to d.
func (e *Error) WithDetails(d map[string]any) *Error {
	c := *e
	c.Details = d
	return &c
}

// Is enables errors.Is(err, engineerr.New(code, "")) style matching on Code
// alone, by comparing codes when both sides are *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
