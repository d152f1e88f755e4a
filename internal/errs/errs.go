package errs

import "errors"

// Sentinel kinds for the chat core. Services wrap these with %w so callers
// branch with errors.Is and handlers map them to HTTP statuses.
var (
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStore            = errors.New("store unavailable")
	ErrSubscriptionLost = errors.New("subscription lost")
)
