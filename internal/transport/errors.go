package transport

import (
	"fmt"
	"net/http"
)

// FailureClass partitions delivery failures by what it takes to resolve them.
type FailureClass string

const (
	// ClassTransient covers network and server availability failures.
	// Safe to retry automatically; no user action required.
	ClassTransient FailureClass = "transient"
	// ClassAuthExpired means the session is no longer valid.
	// The user must re-authenticate before this record can be delivered.
	ClassAuthExpired FailureClass = "auth_expired"
	// ClassRejected means the server definitively refused the payload.
	// Retrying unchanged would resubmit rejected data; the user must edit.
	ClassRejected FailureClass = "rejected"
	// ClassReferenceMissing means a referenced player or deck no longer
	// exists server-side. The user must edit or remove the record.
	ClassReferenceMissing FailureClass = "reference_missing"
)

// UserAction returns the action required before the record can be delivered,
// or "" when none is needed.
func (c FailureClass) UserAction() string {
	switch c {
	case ClassAuthExpired:
		return "sign in again"
	case ClassRejected:
		return "edit the match before retrying"
	case ClassReferenceMissing:
		return "a player or deck was deleted; edit or remove the match"
	default:
		return ""
	}
}

// DeliveryError is a classified delivery failure. Status is zero for
// failures that never produced an HTTP response.
type DeliveryError struct {
	Class   FailureClass
	Status  int
	Message string
}

func (e *DeliveryError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("deliver match: %s: %s", e.Class, e.Message)
	}
	return fmt.Sprintf("deliver match: %s (HTTP %d): %s", e.Class, e.Status, e.Message)
}

// Retryable reports whether the failure may be retried automatically.
// Only the transient class qualifies; everything else needs the user.
func (e *DeliveryError) Retryable() bool { return e.Class == ClassTransient }

// classify maps an HTTP status to a failure class.
func classify(status int) FailureClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuthExpired
	case status == http.StatusNotFound || status == http.StatusGone:
		return ClassReferenceMissing
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	default:
		// 400, 409, 422 and any other 4xx: the payload was refused.
		return ClassRejected
	}
}

// networkError wraps a failure that never reached the server.
func networkError(err error) *DeliveryError {
	return &DeliveryError{Class: ClassTransient, Message: err.Error()}
}
