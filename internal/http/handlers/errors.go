// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These codes are the stable, machine-readable `error` field of the
// ErrorResponse envelope. Clients branch on them; the accompanying message is
// for humans.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes mirror HTTP status semantics (bad_request, not_found, ...).
//   - validation_failed is reserved for business-rule violations on otherwise
//     well-formed payloads (negative price, non-positive quantity, blank user).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "error": "validation_failed",
//	  "message": "invalid price or quantity for product p1"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeNotImplemented   = "not_implemented"
)
