// Package sweeper closes out accounts whose expiry has passed. Expiry is
// lazy: nothing fires at the expiry instant, the sweeper finds overdue
// rows on its next pass and pushes them through the regular revocation
// path so the remote registry and the ledger stay aligned.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/opalvpn/opald/app/repository"
	"github.com/opalvpn/opald/internal/pkg/provisioning"
)

const defaultInterval = time.Minute

// Sweeper periodically revokes expired accounts.
type Sweeper struct {
	accounts repository.AccountRepository
	lifecycle *provisioning.Service
	interval time.Duration

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a sweeper. A non-positive interval falls back to one minute.
func New(accounts repository.AccountRepository, lifecycle *provisioning.Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		accounts:  accounts,
		lifecycle: lifecycle,
		interval:  interval,
	}
}

// Start launches the background worker. Safe to call more than once.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	// Recreate the stop channel so the sweeper can be restarted.
	s.stopCh = make(chan struct{})
	s.running = true

	s.ticker = time.NewTicker(s.interval)
	s.wg.Add(1)
	go s.worker()

	log.Infof("[Sweeper] Started (interval: %s)", s.interval)
}

// Stop signals the worker and waits for it to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
	s.running = false

	s.wg.Wait()
	log.Info("[Sweeper] Stopped")
}

func (s *Sweeper) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			log.Info("[Sweeper] Worker stopping")
			return
		case <-s.ticker.C:
			if n, err := s.RunOnce(context.Background()); err != nil {
				log.Errorf("[Sweeper] Sweep failed: %v", err)
			} else if n > 0 {
				log.Infof("[Sweeper] Revoked %d expired account(s)", n)
			}
		}
	}
}

// RunOnce performs a single sweep and returns how many accounts were
// closed. A failure on one account is logged and the sweep continues;
// the row stays active and is retried on the next pass.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	expired, err := s.accounts.ListExpired(time.Now().UTC())
	if err != nil {
		return 0, err
	}

	revoked := 0
	for _, acc := range expired {
		err := s.lifecycle.Revoke(ctx, acc.Secret, provisioning.RevokeReasonExpired)
		if err != nil {
			// Another sweep or an admin got there first.
			if errors.Is(err, provisioning.ErrAccountNotActive) {
				continue
			}
			log.Errorf("[Sweeper] Failed to revoke account %s: %v", acc.PublicID, err)
			continue
		}
		revoked++
	}
	return revoked, nil
}
