// Package statistics exposes provisioning counts for the admin surface.
// Global counts are read-through cached in Redis; per-user counts are
// cheap indexed queries and always hit the database.
package statistics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/cache"
)

const (
	CacheKeyCreatedDaily   = "statistics:accounts:daily:%s" // date YYYY-MM-DD
	CacheKeyCreatedWeekly  = "statistics:accounts:weekly:%s"
	CacheKeyCreatedMonthly = "statistics:accounts:monthly:%s"
	CacheExpiration        = 5 * time.Minute
)

// Summary holds provisioning counts for one scope (global or one user).
type Summary struct {
	Today int64 `json:"today"`
	Week  int64 `json:"week"`
	Month int64 `json:"month"`
}

// Service computes provisioning statistics.
type Service struct {
	accounts repository.AccountRepository
}

func NewService(accounts repository.AccountRepository) *Service {
	return &Service{accounts: accounts}
}

// Global returns the counts of accounts created today, in the last 7 days
// and in the last 30 days, cached for a few minutes.
func (s *Service) Global() (Summary, error) {
	now := time.Now().UTC()
	day := now.Format("2006-01-02")

	today, err := s.cachedCount(fmt.Sprintf(CacheKeyCreatedDaily, day), startOfDay(now))
	if err != nil {
		return Summary{}, err
	}
	week, err := s.cachedCount(fmt.Sprintf(CacheKeyCreatedWeekly, day), now.AddDate(0, 0, -7))
	if err != nil {
		return Summary{}, err
	}
	month, err := s.cachedCount(fmt.Sprintf(CacheKeyCreatedMonthly, day), now.AddDate(0, 0, -30))
	if err != nil {
		return Summary{}, err
	}
	return Summary{Today: today, Week: week, Month: month}, nil
}

// ForUser returns the same windows scoped to one user, uncached.
func (s *Service) ForUser(userID uint) (Summary, error) {
	now := time.Now().UTC()

	today, err := s.accounts.CountCreatedSince(&userID, startOfDay(now))
	if err != nil {
		return Summary{}, err
	}
	week, err := s.accounts.CountCreatedSince(&userID, now.AddDate(0, 0, -7))
	if err != nil {
		return Summary{}, err
	}
	month, err := s.accounts.CountCreatedSince(&userID, now.AddDate(0, 0, -30))
	if err != nil {
		return Summary{}, err
	}
	return Summary{Today: today, Week: week, Month: month}, nil
}

func (s *Service) cachedCount(key string, since time.Time) (int64, error) {
	if val, err := cache.Get(key); err == nil {
		if count, errParse := strconv.ParseInt(val, 10, 64); errParse == nil {
			return count, nil
		}
	}

	count, err := s.accounts.CountCreatedSince(nil, since)
	if err != nil {
		return 0, err
	}
	if err := cache.Set(key, strconv.FormatInt(count, 10), CacheExpiration); err != nil {
		log.Warnf("[Statistics] Failed to cache %s: %v", key, err)
	}
	return count, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
