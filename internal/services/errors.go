// Package services defines the business logic for purchases.
// This file centralizes service-level error values so that they can be
// returned consistently by service methods and checked by callers.
//
// Translation into user-facing messages and HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPurchase is returned when the purchase envelope is unusable:
	// a blank user id, an empty item list or an empty update patch.
	ErrInvalidPurchase = errors.New("invalid purchase")

	// ErrInvalidItem matches every *ValidationError.
	ErrInvalidItem = errors.New("invalid purchase item")

	// ErrPurchaseNotFound indicates that no purchase exists with the given id.
	ErrPurchaseNotFound = errors.New("purchase not found")

	// ErrNotImplemented is returned by operations that are part of the API
	// surface but disabled in this deployment.
	ErrNotImplemented = errors.New("operation not implemented")

	// ErrIdempotencyConflict is returned when an Idempotency-Key is reused
	// with a different request body.
	ErrIdempotencyConflict = errors.New("idempotency key already used with a different request")
)

// ValidationError describes a line item that failed coercion or a business
// rule. ProductID is the (possibly defaulted) product id of the item.
type ValidationError struct {
	ProductID string
	Reason    string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid price or quantity for product %s", e.ProductID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrInvalidItem) true for any *ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidItem }
