package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opalvpn/opald/internal/pkg/database"
)

// newTestDB opens a fresh in-memory database per test so tests can run in
// parallel without sharing state.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:repotest_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	return NewRepositories(newTestDB(t))
}
