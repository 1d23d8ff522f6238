// Package handlers defines HTTP-layer error codes used across all API
// endpoints. Codes are lowercase snake_case and stable: operator dashboards
// and scripts branch on them, messages are for humans.
//
// Domain outcomes from the queue engine (empty queue, rejected transition)
// are mapped here to specific codes rather than generic statuses so that a
// retried operator action failing cleanly is distinguishable from a fault.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeQueueEmpty        = "queue_empty"
	ErrCodeBadSignature      = "bad_signature"
	ErrCodeListFailed        = "list_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)
