package statistics

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opalvpn/opald/app/models"
	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/database"
)

func newStatsFixture(t *testing.T) (*gorm.DB, *repository.Repositories, *Service) {
	t.Helper()

	dsn := fmt.Sprintf("file:statstest_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	repos := repository.NewRepositories(db)
	return db, repos, NewService(repos.Account)
}

func seedAccountAt(t *testing.T, db *gorm.DB, repos *repository.Repositories, userID uint, createdAt time.Time) {
	t.Helper()

	acc := &models.Account{
		PublicID:   uuid.NewString(),
		UserID:     userID,
		TargetCode: "sg1",
		Secret:     uuid.NewString()[:8],
		Kind:       models.AccountKindPaid,
		ExpiresAt:  time.Now().UTC().AddDate(0, 0, 30),
	}
	require.NoError(t, repos.Account.InsertActive(acc, 0))
	// Backdate for windowing; gorm stamps created_at on insert.
	require.NoError(t, db.Model(&models.Account{}).
		Where("id = ?", acc.ID).
		Update("created_at", createdAt).Error)
}

func TestForUserWindows(t *testing.T) {
	db, repos, svc := newStatsFixture(t)

	user, err := repos.User.Upsert("stats-user", "")
	require.NoError(t, err)
	other, err := repos.User.Upsert("stats-other", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	seedAccountAt(t, db, repos, user.ID, now.Add(-time.Second))  // today
	seedAccountAt(t, db, repos, user.ID, now.AddDate(0, 0, -3))  // this week
	seedAccountAt(t, db, repos, user.ID, now.AddDate(0, 0, -20)) // this month
	seedAccountAt(t, db, repos, user.ID, now.AddDate(0, 0, -40)) // outside every window
	seedAccountAt(t, db, repos, other.ID, now.Add(-time.Second)) // someone else

	summary, err := svc.ForUser(user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Today)
	assert.EqualValues(t, 2, summary.Week)
	assert.EqualValues(t, 3, summary.Month)
}

func TestGlobalWindows(t *testing.T) {
	db, repos, svc := newStatsFixture(t)

	user, err := repos.User.Upsert("stats-global", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	seedAccountAt(t, db, repos, user.ID, now.Add(-time.Second))
	seedAccountAt(t, db, repos, user.ID, now.AddDate(0, 0, -10))

	summary, err := svc.Global()
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Today)
	assert.EqualValues(t, 2, summary.Month)
}
