package sync

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

type refresher interface {
	Refresh(ctx context.Context, mode Mode, truncateAfter *time.Time) (Summary, error)
}

// Scheduler runs a scheduled refresh on a fixed interval until its context
// is canceled.
type Scheduler struct {
	orchestrator refresher
	interval     time.Duration
}

func NewScheduler(orchestrator refresher, interval time.Duration) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		interval:     interval,
	}
}

// Start launches the refresh loop. Returns immediately, the loop stops
// when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		log.Println("scheduled refresh disabled")
		return
	}

	go func() {
		log.Printf("scheduled refresh every %s", s.interval)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("scheduled refresh loop stopped")
				return
			case <-ticker.C:
				if _, err := s.orchestrator.Refresh(ctx, ModeScheduled, nil); err != nil {
					if errors.Is(err, ErrRefreshInProgress) {
						log.Println("scheduled refresh skipped, another refresh running")
						continue
					}
					log.Errorf("scheduled refresh: %s", err)
				}
			}
		}
	}()
}
