package fraud

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports a missing alert/customer/card/transaction. Callers
// surface it as 404; it is never retried.
var ErrNotFound = errors.New("not found")

// NotFoundf wraps ErrNotFound with the entity and key that was missing.
func NotFoundf(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

// ConflictError reports that the operation collides with existing state,
// e.g. an alert that already has an in-flight triage run.
type ConflictError struct {
	Msg        string
	ExistingID string
}

func (e *ConflictError) Error() string {
	if e.ExistingID != "" {
		return fmt.Sprintf("%s (existing %s)", e.Msg, e.ExistingID)
	}
	return e.Msg
}

// ValidationError reports malformed input with the offending fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request fields: %v", e.Fields)
}

// RateLimitedError reports that a client exceeded its request budget.
// RetryAfter tells the client when the window resets.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// PolicyBlockedError reports that a compliance check refused the proposed
// action. BlockedBy names the first failing check.
type PolicyBlockedError struct {
	Action    string
	BlockedBy string
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("action %s blocked by policy check %q", e.Action, e.BlockedBy)
}
