// Package provisioning drives the account lifecycle: issuing credentials
// against a target, renewing them, and revoking them. Money and rows live
// in the local ledger; the credential itself lives in the external shared
// registry. The two stores have no common transaction, so issuance runs as
// a saga: debit, remote add, local insert, with explicit compensation on
// every partial failure.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/opalvpn/opald/app/models"
	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/catalog"
	"github.com/opalvpn/opald/internal/pkg/credstore"
)

// Revocation reasons recorded on the account row.
const (
	RevokeReasonExpired = "expired"
	RevokeReasonAdmin   = "admin"
)

// Service is the lifecycle engine.
type Service struct {
	users    repository.UserRepository
	accounts repository.AccountRepository
	catalog  *catalog.Catalog
	creds    credstore.Store

	paidMode   bool
	trialHours int
}

// Config carries the operating mode of the engine.
type Config struct {
	// PaidMode makes provisioning and renewal debit the catalog price.
	// When false every duration is free (community deployments).
	PaidMode bool
	// TrialHours is the fixed duration of trial accounts.
	TrialHours int
}

// NewService wires a lifecycle engine.
func NewService(users repository.UserRepository, accounts repository.AccountRepository, cat *catalog.Catalog, creds credstore.Store, cfg Config) *Service {
	if cfg.TrialHours <= 0 {
		cfg.TrialHours = 3
	}
	return &Service{
		users:      users,
		accounts:   accounts,
		catalog:    cat,
		creds:      creds,
		paidMode:   cfg.PaidMode,
		trialHours: cfg.TrialHours,
	}
}

// PaidMode reports whether provisioning debits balances.
func (s *Service) PaidMode() bool {
	return s.paidMode
}

// ProvisionParams is one provisioning request, fully explicit: the engine
// keeps no per-user conversational state.
type ProvisionParams struct {
	ExternalID string
	Name       string
	TargetCode string
	Secret     string
	Days       int
	Kind       string
}

// Provision issues a new credential. Precondition order is fixed so each
// failure mode is observable on its own; no store is mutated before every
// check passes, and each mutated store is compensated when a later step
// fails.
func (s *Service) Provision(ctx context.Context, p ProvisionParams) (*models.Account, error) {
	target, ok := s.catalog.Get(p.TargetCode)
	if !ok {
		return nil, ErrTargetNotFound
	}
	if !target.IsEnabled() {
		return nil, ErrTargetDisabled
	}

	// Fast-fail capacity pre-check; the insert transaction re-validates
	// under a lock, so this read may be stale without admitting over
	// capacity.
	if target.Capacity > 0 {
		used, err := s.accounts.CountActiveByTarget(target.Code)
		if err != nil {
			return nil, err
		}
		if used >= int64(target.Capacity) {
			return nil, ErrCapacityExceeded
		}
	}

	if !models.ValidSecret(p.Secret) {
		return nil, ErrInvalidSecret
	}

	user, err := s.users.Upsert(p.ExternalID, p.Name)
	if err != nil {
		return nil, err
	}

	if p.Kind == models.AccountKindTrial && user.TrialUsed {
		return nil, ErrTrialAlreadyUsed
	}

	// The local ledger and the remote registry can diverge transiently;
	// both must be clear of the secret before issuance.
	taken, err := s.accounts.ActiveSecretExists(p.Secret)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrSecretTaken
	}
	remoteExists, err := s.creds.Exists(ctx, p.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if remoteExists {
		return nil, ErrSecretTaken
	}

	price, err := s.resolvePrice(target, p.Days, p.Kind)
	if err != nil {
		return nil, err
	}

	// Step 1: debit. Committed before the slow remote call so no row lock
	// is held across it; refunded on any later failure.
	if price > 0 {
		ok, errDebit := s.users.Debit(user.ID, price)
		if errDebit != nil {
			return nil, errDebit
		}
		if !ok {
			return nil, ErrInsufficientBalance
		}
	}

	// Step 2: claim the secret in the shared registry.
	if errAdd := s.creds.Add(ctx, p.Secret); errAdd != nil {
		s.refund(user.ID, price)
		if errors.Is(errAdd, credstore.ErrAlreadyExists) {
			return nil, ErrSecretTaken
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, errAdd)
	}

	// Step 3: persist the account, re-validating capacity and the trial
	// flag at commit time.
	acc := &models.Account{
		PublicID:   uuid.NewString(),
		UserID:     user.ID,
		TargetCode: target.Code,
		Host:       target.Host,
		Secret:     p.Secret,
		Kind:       p.Kind,
		ExpiresAt:  s.expiry(p.Days, p.Kind),
	}
	if errInsert := s.accounts.InsertActive(acc, target.Capacity); errInsert != nil {
		s.refund(user.ID, price)
		s.removeRemote(ctx, p.Secret)
		switch {
		case errors.Is(errInsert, repository.ErrCapacityReached):
			return nil, ErrCapacityExceeded
		case errors.Is(errInsert, repository.ErrTrialAlreadyUsed):
			return nil, ErrTrialAlreadyUsed
		case errors.Is(errInsert, repository.ErrDuplicateSecret):
			return nil, ErrSecretConflict
		default:
			return nil, errInsert
		}
	}

	return acc, nil
}

// RenewParams is one renewal request.
type RenewParams struct {
	ExternalID string
	Secret     string
	Days       int
	// AsAdmin lifts the ownership requirement.
	AsAdmin bool
}

// Renew extends an active, non-trial account. The debit and the expiry
// recomputation (max(current expiry, now) + days) commit as one unit per
// account row.
func (s *Service) Renew(ctx context.Context, p RenewParams) (time.Time, error) {
	_ = ctx

	acc, err := s.accounts.GetActiveBySecret(p.Secret)
	if err != nil {
		return time.Time{}, ErrAccountNotActive
	}

	target, ok := s.catalog.Get(acc.TargetCode)
	if !ok {
		return time.Time{}, ErrTargetNotFound
	}

	price, err := s.resolvePrice(target, p.Days, models.AccountKindPaid)
	if err != nil {
		return time.Time{}, err
	}

	var callerID uint
	if !p.AsAdmin {
		caller, errUser := s.users.Upsert(p.ExternalID, "")
		if errUser != nil {
			return time.Time{}, errUser
		}
		callerID = caller.ID
	}

	newExpiry, err := s.accounts.ExtendActive(p.Secret, callerID, !p.AsAdmin, p.Days, price)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAccountNotActive):
			return time.Time{}, ErrAccountNotActive
		case errors.Is(err, repository.ErrTrialAccount):
			return time.Time{}, ErrTrialNotRenewable
		case errors.Is(err, repository.ErrNotOwner):
			return time.Time{}, ErrNotOwner
		case errors.Is(err, repository.ErrInsufficientFunds):
			return time.Time{}, ErrInsufficientBalance
		default:
			return time.Time{}, err
		}
	}
	return newExpiry, nil
}

// Revoke removes the credential and closes the account row. The ledger is
// authoritative: a remote deletion failure is logged and the status still
// transitions, leaving the registry to be reconciled later. Returns
// ErrAccountNotActive when no active row held the secret.
func (s *Service) Revoke(ctx context.Context, secret, reason string) error {
	s.removeRemote(ctx, secret)

	status := models.AccountStatusRevoked
	if reason == RevokeReasonExpired {
		status = models.AccountStatusExpired
	}
	changed, err := s.accounts.MarkInactive(secret, status, reason)
	if err != nil {
		return err
	}
	if !changed {
		return ErrAccountNotActive
	}
	return nil
}

func (s *Service) resolvePrice(target *catalog.Target, days int, kind string) (int64, error) {
	if !s.paidMode || kind == models.AccountKindTrial {
		return 0, nil
	}
	price, ok := target.Price(days)
	if !ok {
		return 0, ErrPriceNotSet
	}
	return price, nil
}

func (s *Service) expiry(days int, kind string) time.Time {
	now := time.Now().UTC()
	if kind == models.AccountKindTrial {
		return now.Add(time.Duration(s.trialHours) * time.Hour)
	}
	return now.AddDate(0, 0, days)
}

// refund compensates a committed debit. The credit cannot legitimately
// fail (the row exists, the amount was just debited); if it does the
// operator must reconcile by hand, so it is loud.
func (s *Service) refund(userID uint, price int64) {
	if price <= 0 {
		return
	}
	if err := s.users.Credit(userID, price); err != nil {
		log.Errorf("[Provisioning] refund of %d to user %d failed: %v", price, userID, err)
	}
}

func (s *Service) removeRemote(ctx context.Context, secret string) {
	if err := s.creds.Remove(ctx, secret); err != nil {
		log.Errorf("[Provisioning] remote removal of secret failed: %v", err)
	}
}
