package scheduler

import (
	"context"
	"log"
	"time"

	"jobtrail-backend/internal/watch/usecase"
)

// RenewalScheduler periodically renews push subscriptions that are close to
// expiry, so a missed manual renewal never silences notifications.
type RenewalScheduler struct {
	watchManager usecase.WatchManager
	interval     time.Duration
	stopChan     chan struct{}
}

func NewRenewalScheduler(watchManager usecase.WatchManager, interval time.Duration) *RenewalScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RenewalScheduler{
		watchManager: watchManager,
		interval:     interval,
		stopChan:     make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *RenewalScheduler) Start() {
	log.Printf("[WatchScheduler] Starting watch renewal scheduler (interval: %s)", s.interval)

	go func() {
		// Run immediately on start
		s.watchManager.RenewExpiring(context.Background())

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.watchManager.RenewExpiring(context.Background())
			case <-s.stopChan:
				log.Println("[WatchScheduler] Scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *RenewalScheduler) Stop() {
	close(s.stopChan)
}
