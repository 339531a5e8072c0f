package domain

import "errors"

// Sentinel errors for business-rule rejections and lookup failures.
// Callers branch with errors.Is.
var (
	// ErrInvalidQuantity is returned when an exit quantity exceeds the
	// position's remaining quantity.
	ErrInvalidQuantity = errors.New("exit quantity exceeds remaining quantity")

	// ErrAlreadyClosed is returned when an exit is applied to a position
	// that is already CLOSED. This is the backstop against duplicate exit
	// application from racing paths.
	ErrAlreadyClosed = errors.New("position is already closed")

	// ErrLeaseHeld is returned when the per-position exit lease is
	// already held by another flow.
	ErrLeaseHeld = errors.New("exit lease already held")

	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("record not found")

	// ErrRejectedByBroker is returned when the broker rejects an order
	// at placement time.
	ErrRejectedByBroker = errors.New("order rejected by broker")
)
