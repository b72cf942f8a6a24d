package repository

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserUpsert(t *testing.T) {
	repos := newTestRepos(t)

	user, err := repos.User.Upsert("tg-1001", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name)
	assert.EqualValues(t, 0, user.Balance)
	assert.False(t, user.TrialUsed)

	// Second contact with a new display name updates the row in place.
	again, err := repos.User.Upsert("tg-1001", "alice2")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "alice2", again.Name)

	// Empty name never clobbers an existing one.
	again, err = repos.User.Upsert("tg-1001", "")
	require.NoError(t, err)
	assert.Equal(t, "alice2", again.Name)
}

func TestUserDebitAndCredit(t *testing.T) {
	repos := newTestRepos(t)

	user, err := repos.User.Upsert("tg-1002", "")
	require.NoError(t, err)

	require.NoError(t, repos.User.Credit(user.ID, 50000))

	ok, err := repos.User.Debit(user.ID, 20000)
	require.NoError(t, err)
	assert.True(t, ok)

	balance, err := repos.User.GetBalance(user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 30000, balance)

	// Shortfall leaves the balance untouched.
	ok, err = repos.User.Debit(user.ID, 30001)
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err = repos.User.GetBalance(user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 30000, balance)
}

func TestUserConcurrentDebits(t *testing.T) {
	repos := newTestRepos(t)

	user, err := repos.User.Upsert("tg-1003", "")
	require.NoError(t, err)
	require.NoError(t, repos.User.Credit(user.ID, 1000))

	// 20 workers race for 100 each against a balance of 1000. At most 10
	// can win; the final balance must equal 1000 minus the winners exactly,
	// with no lost or duplicated debits.
	var wg sync.WaitGroup
	var mu sync.Mutex
	debits := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repos.User.Debit(user.ID, 100)
			if err != nil {
				return
			}
			if ok {
				mu.Lock()
				debits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	balance, err := repos.User.GetBalance(user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000-int64(debits)*100, balance)
	assert.GreaterOrEqual(t, balance, int64(0))
	assert.LessOrEqual(t, debits, 10)
}

func TestCreditByExternalIDCreatesUser(t *testing.T) {
	repos := newTestRepos(t)

	balance, err := repos.User.CreditByExternalID("tg-2001", 75000)
	require.NoError(t, err)
	assert.EqualValues(t, 75000, balance)

	user, err := repos.User.GetByExternalID("tg-2001")
	require.NoError(t, err)
	assert.EqualValues(t, 75000, user.Balance)
}
