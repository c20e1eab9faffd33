package billing

import "errors"

var (
	ErrInvalidRequest            = errors.New("invalid request")
	ErrInvalidPlan               = errors.New("invalid plan")
	ErrGatewayNotConfigured      = errors.New("payment gateway is not configured")
	ErrGatewayUnavailable        = errors.New("payment gateway unavailable")
	ErrResourceMissing           = errors.New("gateway resource missing")
	ErrInvalidSignature          = errors.New("invalid webhook signature")
	ErrNoCancellableSubscription = errors.New("no cancellable subscription")
	ErrUserNotFound              = errors.New("user not found")
	ErrAccountDisabled           = errors.New("account is disabled")
	ErrSessionMismatch           = errors.New("checkout session does not belong to user")
	ErrSessionNotPaid            = errors.New("checkout session is not paid")
	ErrEventNotFound             = errors.New("webhook event not found")
)

// ValidationError is a caller-fixable error whose message is safe to return
// to HTTP clients verbatim.
type ValidationError struct {
	Message string
	// Kind optionally narrows the error, e.g. ErrInvalidPlan.
	Kind error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRequest || (e.Kind != nil && target == e.Kind)
}

func validationError(msg string) error {
	return &ValidationError{Message: msg}
}
