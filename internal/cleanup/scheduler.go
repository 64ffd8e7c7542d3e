package cleanup

import (
	"log"
	"time"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/tasks"
)

// Scheduler expires tasks that workers walked away from, so their locked
// fragments and reserved sentences return to the pool.
type Scheduler struct {
	store           *store.Store
	engine          *tasks.Engine
	intervalMinutes int
	maxAgeMinutes   int
	stopChan        chan struct{}
}

// NewScheduler creates a new expiry scheduler
func NewScheduler(st *store.Store, engine *tasks.Engine, intervalMinutes, maxAgeMinutes int) *Scheduler {
	return &Scheduler{
		store:           st,
		engine:          engine,
		intervalMinutes: intervalMinutes,
		maxAgeMinutes:   maxAgeMinutes,
		stopChan:        make(chan struct{}),
	}
}

// Start begins the expiry scheduler
func (s *Scheduler) Start() {
	// Run initial sweep on startup
	log.Println("Running initial stale task sweep...")
	s.expireStaleTasks()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.expireStaleTasks()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Expiry scheduler started (interval: %dm, max age: %dm)",
		s.intervalMinutes, s.maxAgeMinutes)
}

// Stop stops the expiry scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Expiry scheduler stopped")
}

// expireStaleTasks aborts assigned or presented tasks that have not been
// touched within the max age.
func (s *Scheduler) expireStaleTasks() {
	cutoff := time.Now().Add(-time.Duration(s.maxAgeMinutes) * time.Minute)

	var expiredCount int
	err := s.store.WithTx(func(tx *store.Tx) error {
		stale, err := tx.StaleTasks(cutoff)
		if err != nil {
			return err
		}
		for _, task := range stale {
			if err := s.engine.Expire(tx, task); err != nil {
				log.Printf("Failed to expire task %s: %v", task.ID, err)
				continue
			}
			expiredCount++
			log.Printf("Expired stale task %s (%s, last touched %s)",
				task.ID, task.Kind, task.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	})
	if err != nil {
		log.Printf("Error during stale task sweep: %v", err)
	}

	if expiredCount > 0 {
		log.Printf("Sweep complete: %d tasks expired", expiredCount)
	}
}
