package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/store"
)

// WorkerHandler serves worker registration endpoints
type WorkerHandler struct {
	store *store.Store
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(st *store.Store) *WorkerHandler {
	return &WorkerHandler{store: st}
}

// Create registers a worker with its task preferences
func (h *WorkerHandler) Create(c *fiber.Ctx) error {
	var req struct {
		Name           string   `json:"name"`
		PreferredTasks []string `json:"preferred_tasks"`
		TaskOrder      string   `json:"task_order"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return badRequest(c, "A worker name is required", "ERR_NO_NAME")
	}

	var worker *store.Worker
	err := h.store.WithTx(func(tx *store.Tx) error {
		var err error
		worker, err = tx.CreateWorker(req.Name, req.PreferredTasks, req.TaskOrder)
		return err
	})
	if err != nil {
		return fail(c, err)
	}

	log.Printf("Worker %s registered (name: %s)", worker.ID, worker.Name)
	return c.Status(201).JSON(workerResponse(worker))
}

// Get returns one worker
func (h *WorkerHandler) Get(c *fiber.Ctx) error {
	var worker *store.Worker
	err := h.store.WithTx(func(tx *store.Tx) error {
		var err error
		worker, err = tx.GetWorker(c.Params("id"))
		return err
	})
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(workerResponse(worker))
}

func workerResponse(w *store.Worker) fiber.Map {
	return fiber.Map{
		"id":              w.ID,
		"name":            w.Name,
		"preferred_tasks": w.PreferredTasks,
		"task_order":      w.TaskOrder,
	}
}
