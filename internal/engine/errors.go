package engine

import "errors"

var (
	// ErrNotAuthenticated guards checkout-adjacent operations; cart and
	// wishlist mutations never raise it because guest operation is always
	// valid.
	ErrNotAuthenticated = errors.New("operation requires an authenticated user")
	ErrLineNotFound     = errors.New("cart line not found")
	ErrNoPendingUndo    = errors.New("no removal is pending restore")
	ErrClosed           = errors.New("engine is closed")
)

// ValidationError rejects bad input before any persistence call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

func validationErr(reason string) error {
	return &ValidationError{Reason: reason}
}
