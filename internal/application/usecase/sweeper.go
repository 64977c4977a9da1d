package usecase

import (
	"log"
	"time"

	appdomain "apptrack-backend/internal/application/domain"
	"apptrack-backend/internal/application/repository"
)

// Sweeper reclassifies stale Applied records to Ghosted. It is the only
// mutation path that changes a category after initial classification.
type Sweeper struct {
	appRepo   repository.ApplicationRepository
	threshold time.Duration
	interval  time.Duration
	stop      chan struct{}
}

func NewSweeper(appRepo repository.ApplicationRepository, threshold, interval time.Duration) *Sweeper {
	return &Sweeper{
		appRepo:   appRepo,
		threshold: threshold,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// Start launches the periodic sweep in the background.
func (s *Sweeper) Start() {
	ticker := time.NewTicker(s.interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				s.SweepOnce()
			case <-s.stop:
				ticker.Stop()
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
}

// SweepOnce scans Applied records older than the threshold and moves the
// ones whose thread never advanced to Ghosted. Returns how many records
// transitioned.
func (s *Sweeper) SweepOnce() int {
	cutoff := time.Now().Add(-s.threshold)

	candidates, err := s.appRepo.ListAllGhostCandidates(cutoff)
	if err != nil {
		log.Printf("[Sweeper] Failed to list ghost candidates: %v", err)
		return 0
	}

	ghosted := 0
	for _, record := range candidates {
		advanced, err := s.appRepo.HasLaterAdvancement(record.AccountID, record.ThreadID, record.ReceivedAt)
		if err != nil {
			log.Printf("[Sweeper] Failed to check thread %s: %v", record.ThreadID, err)
			continue
		}
		if advanced {
			continue
		}

		if err := s.appRepo.UpdateCategory(record.ID, appdomain.CategoryGhosted); err != nil {
			log.Printf("[Sweeper] Failed to reclassify record %s: %v", record.ID, err)
			continue
		}
		ghosted++
	}

	if ghosted > 0 {
		log.Printf("[Sweeper] Reclassified %d stale applications to ghosted", ghosted)
	}
	return ghosted
}
