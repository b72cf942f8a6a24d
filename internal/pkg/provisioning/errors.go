package provisioning

import "errors"

// Caller-facing failure modes. Controllers map these onto stable error
// codes; everything else that escapes the service is infrastructure
// trouble.
var (
	ErrTargetNotFound      = errors.New("target not found")
	ErrTargetDisabled      = errors.New("target is disabled")
	ErrCapacityExceeded    = errors.New("target capacity exceeded")
	ErrInvalidSecret       = errors.New("secret must be 3-32 characters without spaces or commas")
	ErrSecretTaken         = errors.New("secret is already in use")
	ErrSecretConflict      = errors.New("secret was claimed concurrently, choose another")
	ErrPriceNotSet         = errors.New("no price configured for this duration")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTrialAlreadyUsed    = errors.New("trial already used")
	ErrTrialNotRenewable   = errors.New("trial accounts cannot be renewed")
	ErrAccountNotActive    = errors.New("account not found or not active")
	ErrNotOwner            = errors.New("account belongs to another user")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
