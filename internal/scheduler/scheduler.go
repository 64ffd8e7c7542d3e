// Package scheduler hands workers their next task. It expands a requested
// task type into a priority-ordered category list, filters it by the
// worker's preferences and permissions, and walks the list until a kind
// has work to give out.
package scheduler

import (
	"errors"
	"log"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/tasks"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Authorizer decides whether a worker may perform an action such as
// "add_stitch_review".
type Authorizer interface {
	HasPermission(worker *store.Worker, action string) bool
}

// AllowAll authorizes every action. Used when no permission backend is
// configured.
type AllowAll struct{}

// HasPermission implements Authorizer.
func (AllowAll) HasPermission(*store.Worker, string) bool { return true }

// Scheduler assigns tasks to workers.
type Scheduler struct {
	store   *store.Store
	engine  *tasks.Engine
	authz   Authorizer
	retries int
}

// New creates a scheduler. retries bounds how many times a category is
// retried when its locks are contended before moving on.
func New(st *store.Store, engine *tasks.Engine, authz Authorizer, retries int) *Scheduler {
	if authz == nil {
		authz = AllowAll{}
	}
	if retries < 1 {
		retries = 1
	}
	return &Scheduler{store: st, engine: engine, authz: authz, retries: retries}
}

// Assign returns the worker's next presented task for the transcript. A
// task already presented to the worker is returned again instead of
// creating a new one. Returns ErrNoWorkAvailable when no category the
// worker qualifies for has work.
func (s *Scheduler) Assign(workerID, transcriptID, requested string) (*store.Task, error) {
	var worker *store.Worker
	var resumed *store.Task
	err := s.store.WithTx(func(tx *store.Tx) error {
		var err error
		worker, err = tx.GetWorker(workerID)
		if err != nil {
			return err
		}
		if _, err := tx.GetTranscript(transcriptID); err != nil {
			return err
		}
		resumed, err = tx.PresentedTask(transcriptID, workerID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resumed != nil {
		return resumed, nil
	}

	// An unspecified request falls back to the worker's registered
	// ordering preference.
	if requested == "" {
		requested = types.AnySequential
		if worker.TaskOrder == "eager" {
			requested = types.AnyEager
		}
	}
	categories, err := types.ParseCategory(requested)
	if err != nil {
		return nil, err
	}
	categories = s.eligible(worker, categories)
	if len(categories) == 0 {
		return nil, types.ErrNoWorkAvailable
	}

	for _, category := range categories {
		task, err := s.tryCategory(worker, transcriptID, category)
		if err != nil {
			if errors.Is(err, types.ErrNoWorkAvailable) || errors.Is(err, types.ErrLockContention) {
				continue
			}
			return nil, err
		}
		return task, nil
	}
	return nil, types.ErrNoWorkAvailable
}

// eligible filters the categories down to those the worker prefers and is
// permitted to perform.
func (s *Scheduler) eligible(worker *store.Worker, categories []types.Category) []types.Category {
	out := make([]types.Category, 0, len(categories))
	for _, c := range categories {
		if !worker.Prefers(c.Kind) {
			continue
		}
		if !s.authz.HasPermission(worker, c.Permission()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// tryCategory creates, assigns and presents the next task of one category.
// Lock contention within a transaction rolls the whole attempt back; the
// category is retried a bounded number of times since the contended
// resource is often released quickly.
func (s *Scheduler) tryCategory(worker *store.Worker, transcriptID string, category types.Category) (*store.Task, error) {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		var task *store.Task
		err := s.store.WithTx(func(tx *store.Tx) error {
			// The first presented-task check ran in an earlier
			// transaction; a concurrent call may have presented one
			// since. The worker gets that task, never a second one.
			existing, err := tx.PresentedTask(transcriptID, worker.ID)
			if err == nil {
				task = existing
				return nil
			}
			if !errors.Is(err, types.ErrNotFound) {
				return err
			}
			ok, err := s.engine.CanCreate(tx, category.Kind, transcriptID, category.IsReview)
			if err != nil {
				return err
			}
			if !ok {
				return types.ErrNoWorkAvailable
			}
			task, err = s.engine.CreateNext(tx, worker, category.Kind, transcriptID, category.IsReview)
			if err != nil {
				return err
			}
			return s.engine.Present(tx, task)
		})
		if err == nil {
			return task, nil
		}
		if task != nil {
			// The transaction rolled back after assignment took its
			// advisory locks.
			s.engine.ReleaseLocksFor(task)
		}
		if errors.Is(err, types.ErrLockContention) {
			lastErr = err
			log.Printf("Lock contention on %s for transcript %s, attempt %d/%d",
				category.Name(), transcriptID, attempt+1, s.retries)
			continue
		}
		return nil, err
	}
	return nil, lastErr
}
