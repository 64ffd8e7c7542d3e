package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/events"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/scheduler"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/tasks"
	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// TaskHandler serves the task assignment and submission endpoints
type TaskHandler struct {
	store     *store.Store
	engine    *tasks.Engine
	scheduler *scheduler.Scheduler
	hub       *events.Hub
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(st *store.Store, engine *tasks.Engine, sched *scheduler.Scheduler, hub *events.Hub) *TaskHandler {
	return &TaskHandler{
		store:     st,
		engine:    engine,
		scheduler: sched,
		hub:       hub,
	}
}

// Assign hands the requesting worker its next task for the transcript
func (h *TaskHandler) Assign(c *fiber.Ctx) error {
	transcriptID := c.Params("id")

	var req struct {
		WorkerID string `json:"worker_id"`
		Type     string `json:"type"`
	}
	if err := c.BodyParser(&req); err != nil || req.WorkerID == "" {
		return badRequest(c, "worker_id is required", "ERR_NO_WORKER")
	}

	// An empty type falls back to the worker's registered ordering.
	task, err := h.scheduler.Assign(req.WorkerID, transcriptID, req.Type)
	if err != nil {
		return fail(c, err)
	}

	log.Printf("Task %s (%s) presented to worker %s", task.ID, task.Kind, req.WorkerID)
	h.hub.Publish(events.Event{
		Type:         events.TypeTaskAssigned,
		TranscriptID: transcriptID,
		TaskID:       task.ID,
		Kind:         task.Kind,
		State:        task.State,
	})

	return h.respondTask(c, task)
}

// Get returns one task with its presentation payload
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	var task *store.Task
	err := h.store.WithTx(func(tx *store.Tx) error {
		var err error
		task, err = tx.GetTask(c.Params("id"))
		return err
	})
	if err != nil {
		return fail(c, err)
	}
	return h.respondTask(c, task)
}

// Submit records the worker's result and queues it for processing
func (h *TaskHandler) Submit(c *fiber.Ctx) error {
	var req struct {
		Text         string `json:"text"`
		StartSeconds string `json:"start_seconds"`
		EndSeconds   string `json:"end_seconds"`
		SpeakerID    string `json:"speaker_id"`
		NewName      string `json:"new_name"`
		Pairings     []struct {
			LeftID  string `json:"left_id"`
			RightID string `json:"right_id"`
		} `json:"pairings"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid submission body", "ERR_BAD_BODY")
	}

	payload := tasks.Payload{
		Text:      req.Text,
		SpeakerID: req.SpeakerID,
		NewName:   req.NewName,
	}
	if req.StartSeconds != "" {
		cs, err := types.ParseSeconds(req.StartSeconds)
		if err != nil {
			return badRequest(c, err.Error(), "ERR_BAD_TIME")
		}
		payload.StartCS = cs
	}
	if req.EndSeconds != "" {
		cs, err := types.ParseSeconds(req.EndSeconds)
		if err != nil {
			return badRequest(c, err.Error(), "ERR_BAD_TIME")
		}
		payload.EndCS = cs
	}
	for _, p := range req.Pairings {
		payload.Pairings = append(payload.Pairings, tasks.PairingInput{
			LeftID:  p.LeftID,
			RightID: p.RightID,
		})
	}

	task, err := h.engine.Submit(c.Params("id"), payload)
	if err != nil {
		return fail(c, err)
	}

	h.hub.Publish(events.Event{
		Type:         events.TypeTaskSubmitted,
		TranscriptID: task.TranscriptID,
		TaskID:       task.ID,
		Kind:         task.Kind,
		State:        task.State,
	})

	return c.JSON(fiber.Map{
		"task_id": task.ID,
		"status":  task.State,
	})
}

// Cancel aborts a presented task and releases whatever it held
func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	task, err := h.engine.Cancel(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}

	log.Printf("Task %s cancelled", task.ID)
	h.hub.Publish(events.Event{
		Type:         events.TypeTaskAborted,
		TranscriptID: task.TranscriptID,
		TaskID:       task.ID,
		Kind:         task.Kind,
		State:        task.State,
	})

	return c.JSON(fiber.Map{
		"task_id": task.ID,
		"status":  task.State,
	})
}

// respondTask renders a task with the payload the worker needs to do it.
func (h *TaskHandler) respondTask(c *fiber.Ctx, task *store.Task) error {
	resp := fiber.Map{
		"id":            task.ID,
		"transcript_id": task.TranscriptID,
		"kind":          task.Kind,
		"is_review":     task.IsReview,
		"state":         task.State,
		"assignee":      task.Assignee,
	}

	err := h.store.WithTx(func(tx *store.Tx) error {
		switch task.Kind {
		case types.KindTranscribe:
			resp["text"] = task.Text
			resp["start"] = types.FormatSeconds(task.StartCS)
			resp["end"] = types.FormatSeconds(task.EndCS)

		case types.KindStitch:
			left, err := stitchSideView(tx, task.LeftRevisionID)
			if err != nil {
				return err
			}
			right, err := stitchSideView(tx, task.RightRevisionID)
			if err != nil {
				return err
			}
			resp["left"] = left
			resp["right"] = right

			pairings, err := tx.PairingsByTask(task.ID)
			if err != nil {
				return err
			}
			views := make([]fiber.Map, 0, len(pairings))
			for _, p := range pairings {
				views = append(views, fiber.Map{
					"left_id":  p.LeftID,
					"right_id": p.RightID,
				})
			}
			resp["pairings"] = views

		case types.KindClean:
			resp["sentence_id"] = task.SentenceID
			resp["text"] = task.Text

		case types.KindBoundary:
			resp["sentence_id"] = task.SentenceID
			resp["start"] = types.FormatSeconds(task.StartCS)
			resp["end"] = types.FormatSeconds(task.EndCS)

		case types.KindSpeaker:
			resp["sentence_id"] = task.SentenceID
			resp["speaker_id"] = task.SpeakerID
		}
		return nil
	})
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(resp)
}

// stitchSideView renders one side of a stitch task: the revision's
// sentence fragments in order.
func stitchSideView(tx *store.Tx, revisionID string) (fiber.Map, error) {
	sfs, err := tx.SentenceFragmentsByRevision(revisionID)
	if err != nil {
		return nil, err
	}
	views := make([]fiber.Map, 0, len(sfs))
	for _, sf := range sfs {
		views = append(views, fiber.Map{
			"id":   sf.ID,
			"text": sf.Text,
		})
	}
	return fiber.Map{
		"revision_id":        revisionID,
		"sentence_fragments": views,
	}, nil
}
