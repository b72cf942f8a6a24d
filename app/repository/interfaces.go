package repository

import (
	"errors"
	"time"

	"github.com/opalvpn/opald/app/models"
)

// Sentinel errors surfaced by compound repository operations. The service
// layer wraps them into its caller-facing taxonomy.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCapacityReached   = errors.New("target capacity reached")
	ErrTrialAlreadyUsed  = errors.New("trial already used")
	ErrDuplicateSecret   = errors.New("secret already active")
	ErrAccountNotActive  = errors.New("account not active")
	ErrNotOwner          = errors.New("account owned by another user")
	ErrTrialAccount      = errors.New("trial accounts cannot be renewed")
)

// UserRepository is the balance ledger. Debit and Credit are individually
// atomic per user row; concurrent mutations for one user serialize on the
// row lock so the balance never goes negative and no operation is lost.
type UserRepository interface {
	Upsert(externalID, name string) (*models.User, error)
	GetByExternalID(externalID string) (*models.User, error)
	GetByID(id uint) (*models.User, error)
	GetBalance(userID uint) (int64, error)
	// Debit returns (false, nil) without mutating when funds are short.
	Debit(userID uint, amount int64) (bool, error)
	// Credit always succeeds for an existing row.
	Credit(userID uint, amount int64) error
	// CreditByExternalID creates the user row if needed and returns the new
	// balance. Used by the administrative top-up path.
	CreditByExternalID(externalID string, amount int64) (int64, error)
}

// AccountRepository persists provisioned credentials. The compound methods
// encapsulate the transactions whose atomicity the lifecycle rules require.
type AccountRepository interface {
	// InsertActive inserts a new active account, re-validating the capacity
	// ceiling under a lock on the target's active rows and, for trial kind,
	// atomically consuming the user's trial flag. Returns
	// ErrCapacityReached, ErrTrialAlreadyUsed or ErrDuplicateSecret.
	InsertActive(acc *models.Account, capacity int) error
	// ExtendActive renews an active, non-trial account in one transaction:
	// ownership check, price debit and expiry recomputation
	// (max(expiry, now) + days). requireOwner is false for admin callers.
	ExtendActive(secret string, callerID uint, requireOwner bool, days int, price int64) (time.Time, error)
	// MarkInactive transitions active -> status and clears the active-secret
	// slot. Returns false when no active row matched (already swept or
	// revoked), which callers treat as a no-op.
	MarkInactive(secret, status, reason string) (bool, error)

	GetActiveBySecret(secret string) (*models.Account, error)
	ActiveSecretExists(secret string) (bool, error)
	CountActiveByTarget(code string) (int64, error)
	ListActiveByUser(userID uint) ([]models.Account, error)
	ListActive(limit int) ([]models.Account, error)
	ListExpired(now time.Time) ([]models.Account, error)
	CountCreatedSince(userID *uint, since time.Time) (int64, error)
}

// InvoiceRepository persists funding attempts.
type InvoiceRepository interface {
	Create(inv *models.Invoice) error
	GetByOrderID(orderID string) (*models.Invoice, error)
	// MarkPaidAndCredit performs the pending->paid transition and the
	// balance credit as one transaction. credited is false when the invoice
	// was already paid (idempotent replay).
	MarkPaidAndCredit(orderID string) (credited bool, inv *models.Invoice, err error)
}

// Repositories holds all repository instances.
type Repositories struct {
	User    UserRepository
	Account AccountRepository
	Invoice InvoiceRepository
}
