// Package tasks implements the generic task lifecycle and its five
// specializations. One state machine drives every kind; a dispatch table
// supplies the per-kind hooks that acquire and release resources and react
// to submissions.
package tasks

import (
	"fmt"
	"log"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/fragments"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// Processor receives submitted task ids for asynchronous post-processing.
type Processor interface {
	Enqueue(taskID string)
}

// Engine drives tasks through their lifecycle.
type Engine struct {
	store *store.Store
	frags *fragments.Engine

	// processor handles submitted tasks; nil means process synchronously,
	// which tests rely on.
	processor Processor
}

// NewEngine creates a task engine.
func NewEngine(st *store.Store, frags *fragments.Engine) *Engine {
	return &Engine{store: st, frags: frags}
}

// SetProcessor installs the asynchronous submission processor.
func (e *Engine) SetProcessor(p Processor) {
	e.processor = p
}

// kindSpec is one row of the task dispatch table: the four lifecycle hooks
// plus the two scheduler predicates. reopen is optional; kinds whose
// invalidation tears down resources use it to rebuild them before a
// resubmission.
type kindSpec struct {
	assign     func(e *Engine, tx *store.Tx, task *store.Task) error
	validate   func(e *Engine, tx *store.Tx, task *store.Task) error
	invalidate func(e *Engine, tx *store.Tx, task *store.Task) error
	reopen     func(e *Engine, tx *store.Tx, task *store.Task) error
	canCreate  func(e *Engine, tx *store.Tx, transcriptID string, isReview bool) (bool, error)
	createNext func(e *Engine, tx *store.Tx, worker *store.Worker, transcriptID string, isReview bool) (*store.Task, error)
	process    func(e *Engine, tx *store.Tx, task *store.Task) (bool, error)
}

// taskModel maps each kind to its behavior. Represented as data so the
// scheduler's priority orderings stay literal lists. Filled in init: the
// hooks call back into the engine, which reads this table, so a static
// initializer would cycle.
var taskModel = map[string]kindSpec{}

func init() {
	taskModel[types.KindTranscribe] = kindSpec{
		assign:     transcribeAssign,
		validate:   transcribeValidate,
		invalidate: transcribeInvalidate,
		reopen:     transcribeReopen,
		canCreate:  transcribeCanCreate,
		createNext: transcribeCreateNext,
		process:    transcribeProcess,
	}
	taskModel[types.KindStitch] = kindSpec{
		assign:     stitchAssign,
		validate:   stitchValidate,
		invalidate: stitchInvalidate,
		reopen:     stitchReopen,
		canCreate:  stitchCanCreate,
		createNext: stitchCreateNext,
		process:    stitchProcess,
	}
	taskModel[types.KindClean] = sentenceKindSpec(store.AxisClean)
	taskModel[types.KindBoundary] = sentenceKindSpec(store.AxisBoundary)
	taskModel[types.KindSpeaker] = sentenceKindSpec(store.AxisSpeaker)
}

// specFor fails loudly on an unknown kind; there is no default behavior.
func specFor(kind string) (kindSpec, error) {
	spec, ok := taskModel[kind]
	if !ok {
		return kindSpec{}, fmt.Errorf("no task model for kind %q", kind)
	}
	return spec, nil
}

// CanCreate reports whether a new task of the kind could be created now.
func (e *Engine) CanCreate(tx *store.Tx, kind, transcriptID string, isReview bool) (bool, error) {
	spec, err := specFor(kind)
	if err != nil {
		return false, err
	}
	return spec.canCreate(e, tx, transcriptID, isReview)
}

// CreateNext creates the next available task of the kind and assigns it to
// the worker, acquiring whatever resources the kind needs. It fails with
// ErrNoWorkAvailable when nothing qualifies and ErrLockContention when a
// required lock is held.
func (e *Engine) CreateNext(tx *store.Tx, worker *store.Worker, kind, transcriptID string, isReview bool) (*store.Task, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	return spec.createNext(e, tx, worker, transcriptID, isReview)
}

// AssignTo moves an unassigned task to assigned and runs the kind's assign
// hook. The whole assignment fails if any required lock cannot be taken.
func (e *Engine) AssignTo(tx *store.Tx, task *store.Task, worker *store.Worker) error {
	if task.State != types.TaskUnassigned {
		return fmt.Errorf("task %s is %s, not unassigned: %w",
			task.ID, task.State, types.ErrPreconditionFailed)
	}
	spec, err := specFor(task.Kind)
	if err != nil {
		return err
	}
	task.Assignee = worker.ID
	if err := spec.assign(e, tx, task); err != nil {
		return err
	}
	task.State = types.TaskAssigned
	return tx.SaveTask(task)
}

// Present moves an assigned task in front of its worker. An invalidated
// task is re-presented for another attempt.
func (e *Engine) Present(tx *store.Tx, task *store.Task) error {
	if task.State != types.TaskAssigned && task.State != types.TaskInvalid {
		return fmt.Errorf("task %s is %s, cannot present: %w",
			task.ID, task.State, types.ErrPreconditionFailed)
	}
	task.State = types.TaskPresented
	return tx.SaveTask(task)
}

// Submit records the worker's payload and hands the task to the
// asynchronous processor. A task invalidated earlier may be resubmitted.
func (e *Engine) Submit(taskID string, payload Payload) (*store.Task, error) {
	var task *store.Task
	err := e.store.WithTx(func(tx *store.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.State == types.TaskInvalid {
			spec, err := specFor(task.Kind)
			if err != nil {
				return err
			}
			if spec.reopen != nil {
				if err := spec.reopen(e, tx, task); err != nil {
					return err
				}
			}
			if err := e.Present(tx, task); err != nil {
				return err
			}
		}
		if task.State != types.TaskPresented {
			return fmt.Errorf("task %s is %s, cannot submit: %w",
				task.ID, task.State, types.ErrPreconditionFailed)
		}
		if err := applyPayload(tx, task, payload); err != nil {
			return err
		}
		task.State = types.TaskSubmitted
		return tx.SaveTask(task)
	})
	if err != nil {
		return nil, err
	}

	if e.processor != nil {
		e.processor.Enqueue(task.ID)
	} else if err := e.Process(task.ID); err != nil {
		return nil, err
	}
	return task, nil
}

// Process applies a submitted task's payload to the pipeline and settles
// it as valid or invalid. Safe to call more than once; only a submitted
// task is acted on.
func (e *Engine) Process(taskID string) error {
	return e.store.WithTx(func(tx *store.Tx) error {
		task, err := tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.State != types.TaskSubmitted {
			log.Printf("Task %s is %s, skipping processing", task.ID, task.State)
			return nil
		}
		spec, err := specFor(task.Kind)
		if err != nil {
			return err
		}

		ok, err := spec.process(e, tx, task)
		if err != nil {
			return err
		}
		if ok {
			return e.validate(tx, spec, task)
		}
		return e.invalidate(tx, spec, task)
	})
}

// Cancel aborts a presented task, rolling back its partial effects.
func (e *Engine) Cancel(taskID string) (*store.Task, error) {
	var task *store.Task
	err := e.store.WithTx(func(tx *store.Tx) error {
		var err error
		task, err = tx.GetTask(taskID)
		if err != nil {
			return err
		}
		if task.State != types.TaskPresented && task.State != types.TaskInvalid {
			return fmt.Errorf("task %s is %s, cannot cancel: %w",
				task.ID, task.State, types.ErrPreconditionFailed)
		}
		spec, err := specFor(task.Kind)
		if err != nil {
			return err
		}
		if err := spec.invalidate(e, tx, task); err != nil {
			return err
		}
		task.State = types.TaskAborted
		return tx.SaveTask(task)
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Expire aborts a stale task, releasing whatever it held. Equivalent to
// invalidation; the task instance is finished and new work must come from
// a fresh task.
func (e *Engine) Expire(tx *store.Tx, task *store.Task) error {
	switch task.State {
	case types.TaskAssigned, types.TaskPresented:
	default:
		return fmt.Errorf("task %s is %s, cannot expire: %w",
			task.ID, task.State, types.ErrPreconditionFailed)
	}
	spec, err := specFor(task.Kind)
	if err != nil {
		return err
	}
	if err := spec.invalidate(e, tx, task); err != nil {
		return err
	}
	if task.State == types.TaskAssigned {
		task.State = types.TaskExpired
		if err := tx.SaveTask(task); err != nil {
			return err
		}
	}
	task.State = types.TaskAborted
	return tx.SaveTask(task)
}

// ReleaseLocksFor unwinds the advisory locks a task's assignment took,
// after the surrounding transaction rolled back.
func (e *Engine) ReleaseLocksFor(task *store.Task) {
	err := e.store.WithTx(func(tx *store.Tx) error {
		for _, revID := range []string{task.RevisionID, task.LeftRevisionID, task.RightRevisionID} {
			if revID == "" {
				continue
			}
			rev, err := tx.GetRevision(revID)
			if err != nil {
				continue
			}
			frag, err := tx.GetFragment(rev.FragmentID)
			if err != nil {
				continue
			}
			if err := e.frags.Unlock(tx, frag); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Printf("Failed to release locks for task %s: %v", task.ID, err)
	}
}

func (e *Engine) validate(tx *store.Tx, spec kindSpec, task *store.Task) error {
	if err := spec.validate(e, tx, task); err != nil {
		return err
	}
	task.State = types.TaskValid
	return tx.SaveTask(task)
}

func (e *Engine) invalidate(tx *store.Tx, spec kindSpec, task *store.Task) error {
	if err := spec.invalidate(e, tx, task); err != nil {
		return err
	}
	task.State = types.TaskInvalid
	return tx.SaveTask(task)
}

// Payload carries a worker's submission. Which fields matter depends on
// the task kind.
type Payload struct {
	Text      string
	StartCS   int64
	EndCS     int64
	SpeakerID string
	NewName   string
	Pairings  []PairingInput
}

// PairingInput is one proposed left/right sentence fragment alignment.
type PairingInput struct {
	LeftID  string
	RightID string
}

func applyPayload(tx *store.Tx, task *store.Task, payload Payload) error {
	switch task.Kind {
	case types.KindTranscribe, types.KindClean:
		task.Text = payload.Text
	case types.KindBoundary:
		task.StartCS = payload.StartCS
		task.EndCS = payload.EndCS
	case types.KindSpeaker:
		task.SpeakerID = payload.SpeakerID
		task.NewName = payload.NewName
	case types.KindStitch:
		if err := tx.DeletePairings(task.ID); err != nil {
			return err
		}
		for _, p := range payload.Pairings {
			if err := tx.InsertPairing(task.ID, p.LeftID, p.RightID); err != nil {
				return err
			}
		}
	}
	return nil
}
