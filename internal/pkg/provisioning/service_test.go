package provisioning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opalvpn/opald/app/models"
	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/catalog"
	"github.com/opalvpn/opald/internal/pkg/credstore"
	"github.com/opalvpn/opald/internal/pkg/database"
)

// fakeStore is an in-memory credential registry with failure injection.
type fakeStore struct {
	mu      sync.Mutex
	secrets map[string]bool

	failAdd    error
	failRemove error
	failExists error
}

func newFakeStore() *fakeStore {
	return &fakeStore{secrets: make(map[string]bool)}
}

func (f *fakeStore) Exists(_ context.Context, secret string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExists != nil {
		return false, f.failExists
	}
	return f.secrets[secret], nil
}

func (f *fakeStore) Add(_ context.Context, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil {
		return f.failAdd
	}
	if f.secrets[secret] {
		return credstore.ErrAlreadyExists
	}
	f.secrets[secret] = true
	return nil
}

func (f *fakeStore) Remove(_ context.Context, secret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemove != nil {
		return f.failRemove
	}
	delete(f.secrets, secret)
	return nil
}

func (f *fakeStore) has(secret string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secrets[secret]
}

const testCatalogJSON = `[
	{"code": "sg1", "name": "Singapore 1", "host": "sg1.example.net", "capacity": 2,
	 "prices": {"30": 10000, "90": 27000}},
	{"code": "de1", "name": "Frankfurt 1", "host": "de1.example.net",
	 "prices": {"30": 8000}},
	{"code": "closed", "name": "Closed", "host": "closed.example.net", "enabled": false,
	 "prices": {"30": 8000}}
]`

type fixture struct {
	repos *repository.Repositories
	store *fakeStore
	svc   *Service
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:provtest_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cat, err := catalog.Parse([]byte(testCatalogJSON))
	require.NoError(t, err)

	repos := repository.NewRepositories(db)
	store := newFakeStore()
	return &fixture{
		repos: repos,
		store: store,
		svc:   NewService(repos.User, repos.Account, cat, store, cfg),
	}
}

func (f *fixture) fund(t *testing.T, externalID string, amount int64) {
	t.Helper()
	_, err := f.repos.User.CreditByExternalID(externalID, amount)
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, externalID string) int64 {
	t.Helper()
	user, err := f.repos.User.GetByExternalID(externalID)
	require.NoError(t, err)
	return user.Balance
}

func paidParams(externalID, secret string) ProvisionParams {
	return ProvisionParams{
		ExternalID: externalID,
		TargetCode: "sg1",
		Secret:     secret,
		Days:       30,
		Kind:       models.AccountKindPaid,
	}
}

func TestProvisionPaid(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 25000)

	acc, err := f.svc.Provision(context.Background(), paidParams("u1", "mysecret"))
	require.NoError(t, err)

	assert.Equal(t, models.AccountStatusActive, acc.Status)
	assert.Equal(t, "sg1.example.net", acc.Host)
	assert.NotEmpty(t, acc.PublicID)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 30), acc.ExpiresAt, 5*time.Second)

	assert.EqualValues(t, 15000, f.balance(t, "u1"))
	assert.True(t, f.store.has("mysecret"))
}

func TestProvisionPreconditions(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 100000)

	p := paidParams("u1", "oksecret")
	p.TargetCode = "nowhere"
	_, err := f.svc.Provision(context.Background(), p)
	assert.ErrorIs(t, err, ErrTargetNotFound)

	p = paidParams("u1", "oksecret")
	p.TargetCode = "closed"
	_, err = f.svc.Provision(context.Background(), p)
	assert.ErrorIs(t, err, ErrTargetDisabled)

	p = paidParams("u1", "has space")
	_, err = f.svc.Provision(context.Background(), p)
	assert.ErrorIs(t, err, ErrInvalidSecret)

	p = paidParams("u1", "oksecret")
	p.Days = 45
	_, err = f.svc.Provision(context.Background(), p)
	assert.ErrorIs(t, err, ErrPriceNotSet)

	// Nothing was debited by any rejected attempt.
	assert.EqualValues(t, 100000, f.balance(t, "u1"))
}

func TestProvisionInsufficientBalance(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "poor", 9999)

	_, err := f.svc.Provision(context.Background(), paidParams("poor", "mysecret"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.EqualValues(t, 9999, f.balance(t, "poor"))
	assert.False(t, f.store.has("mysecret"))
}

func TestProvisionSecretTakenLocally(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 50000)

	_, err := f.svc.Provision(context.Background(), paidParams("u1", "taken"))
	require.NoError(t, err)

	_, err = f.svc.Provision(context.Background(), paidParams("u1", "taken"))
	assert.ErrorIs(t, err, ErrSecretTaken)
	// Only the first issuance was charged.
	assert.EqualValues(t, 40000, f.balance(t, "u1"))
}

func TestProvisionSecretTakenRemotely(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 50000)
	require.NoError(t, f.store.Add(context.Background(), "foreign"))

	_, err := f.svc.Provision(context.Background(), paidParams("u1", "foreign"))
	assert.ErrorIs(t, err, ErrSecretTaken)
	assert.EqualValues(t, 50000, f.balance(t, "u1"))
}

func TestProvisionAddRaceRefunds(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 50000)

	// Both existence pre-checks pass, then another instance claims the
	// secret before our Add lands. The debit must net to zero.
	f.store.failAdd = credstore.ErrAlreadyExists

	_, err := f.svc.Provision(context.Background(), paidParams("u1", "contested"))
	assert.ErrorIs(t, err, ErrSecretTaken)
	assert.EqualValues(t, 50000, f.balance(t, "u1"))

	exists, err := f.repos.Account.ActiveSecretExists("contested")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProvisionStoreAddFailureRefunds(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 50000)
	f.store.failAdd = fmt.Errorf("connection refused")

	_, err := f.svc.Provision(context.Background(), paidParams("u1", "mysecret"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// The debit was compensated and no account row exists.
	assert.EqualValues(t, 50000, f.balance(t, "u1"))
	exists, err := f.repos.Account.ActiveSecretExists("mysecret")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProvisionCapacity(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 100000)

	_, err := f.svc.Provision(context.Background(), paidParams("u1", "cap-one"))
	require.NoError(t, err)
	_, err = f.svc.Provision(context.Background(), paidParams("u1", "cap-two"))
	require.NoError(t, err)

	_, err = f.svc.Provision(context.Background(), paidParams("u1", "cap-three"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	// Full target rejected without touching balance or registry.
	assert.EqualValues(t, 80000, f.balance(t, "u1"))
	assert.False(t, f.store.has("cap-three"))
}

func TestProvisionTrial(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true, TrialHours: 6})

	p := ProvisionParams{
		ExternalID: "trier",
		TargetCode: "de1",
		Secret:     "try-me",
		Kind:       models.AccountKindTrial,
	}
	acc, err := f.svc.Provision(context.Background(), p)
	require.NoError(t, err)

	// Trials are free and fixed-duration regardless of paid mode.
	assert.Equal(t, models.AccountKindTrial, acc.Kind)
	assert.WithinDuration(t, time.Now().UTC().Add(6*time.Hour), acc.ExpiresAt, 5*time.Second)
	assert.EqualValues(t, 0, f.balance(t, "trier"))

	p.Secret = "try-again"
	_, err = f.svc.Provision(context.Background(), p)
	assert.ErrorIs(t, err, ErrTrialAlreadyUsed)
}

func TestProvisionFreeMode(t *testing.T) {
	f := newFixture(t, Config{PaidMode: false})

	// No funding needed, every duration is free.
	acc, err := f.svc.Provision(context.Background(), paidParams("broke", "gratis"))
	require.NoError(t, err)
	assert.Equal(t, models.AccountStatusActive, acc.Status)
	assert.EqualValues(t, 0, f.balance(t, "broke"))
}

func TestRenew(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true})
	f.fund(t, "u1", 50000)

	acc, err := f.svc.Provision(context.Background(), paidParams("u1", "renewable"))
	require.NoError(t, err)

	newExpiry, err := f.svc.Renew(context.Background(), RenewParams{
		ExternalID: "u1",
		Secret:     "renewable",
		Days:       90,
	})
	require.NoError(t, err)

	assert.WithinDuration(t, acc.ExpiresAt.AddDate(0, 0, 90), newExpiry, time.Second)
	// 10000 for issuance, 27000 for the 90 day renewal.
	assert.EqualValues(t, 13000, f.balance(t, "u1"))
}

func TestRenewGuards(t *testing.T) {
	f := newFixture(t, Config{PaidMode: true, TrialHours: 3})
	f.fund(t, "owner", 50000)
	f.fund(t, "stranger", 50000)

	_, err := f.svc.Provision(context.Background(), paidParams("owner", "keepout"))
	require.NoError(t, err)

	_, err = f.svc.Renew(context.Background(), RenewParams{ExternalID: "owner", Secret: "nosuch", Days: 30})
	assert.ErrorIs(t, err, ErrAccountNotActive)

	_, err = f.svc.Renew(context.Background(), RenewParams{ExternalID: "stranger", Secret: "keepout", Days: 30})
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.svc.Renew(context.Background(), RenewParams{ExternalID: "owner", Secret: "keepout", Days: 45})
	assert.ErrorIs(t, err, ErrPriceNotSet)

	trial, err := f.svc.Provision(context.Background(), ProvisionParams{
		ExternalID: "owner",
		TargetCode: "de1",
		Secret:     "temporary",
		Kind:       models.AccountKindTrial,
	})
	require.NoError(t, err)
	require.Equal(t, models.AccountKindTrial, trial.Kind)

	_, err = f.svc.Renew(context.Background(), RenewParams{ExternalID: "owner", Secret: "temporary", Days: 30})
	assert.ErrorIs(t, err, ErrTrialNotRenewable)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, Config{PaidMode: false})

	_, err := f.svc.Provision(context.Background(), paidParams("u1", "shortlived"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(context.Background(), "shortlived", RevokeReasonAdmin))
	assert.False(t, f.store.has("shortlived"))

	_, err = f.repos.Account.GetActiveBySecret("shortlived")
	assert.Error(t, err)

	// The slot is free again.
	_, err = f.svc.Provision(context.Background(), paidParams("u1", "shortlived"))
	assert.NoError(t, err)

	// Revoking a secret nobody holds is reported, not fatal.
	err = f.svc.Revoke(context.Background(), "ghost", RevokeReasonAdmin)
	assert.ErrorIs(t, err, ErrAccountNotActive)
}

func TestRevokeSurvivesStoreOutage(t *testing.T) {
	f := newFixture(t, Config{PaidMode: false})

	_, err := f.svc.Provision(context.Background(), paidParams("u1", "stucksecret"))
	require.NoError(t, err)

	// Ledger wins: the account closes even when the registry is down.
	f.store.failRemove = fmt.Errorf("connection refused")
	require.NoError(t, f.svc.Revoke(context.Background(), "stucksecret", RevokeReasonExpired))

	_, err = f.repos.Account.GetActiveBySecret("stucksecret")
	assert.Error(t, err)
}
