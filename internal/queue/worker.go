package queue

import (
	"log"
	"runtime/debug"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/tasks"
)

// WorkerPool manages a pool of workers processing submitted tasks
type WorkerPool struct {
	taskQueue   chan string
	workerCount int
	engine      *tasks.Engine
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workerCount int, engine *tasks.Engine) *WorkerPool {
	return &WorkerPool{
		taskQueue:   make(chan string, 100), // Buffer of 100 tasks
		workerCount: workerCount,
		engine:      engine,
	}
}

// Start initializes all workers
func (wp *WorkerPool) Start() {
	log.Printf("Starting worker pool with %d workers", wp.workerCount)
	for i := 0; i < wp.workerCount; i++ {
		go wp.worker(i)
	}
}

// Enqueue adds a submitted task to the queue for processing
func (wp *WorkerPool) Enqueue(taskID string) {
	wp.taskQueue <- taskID
	log.Printf("Task %s enqueued for processing", taskID)
}

// worker processes tasks from the queue
func (wp *WorkerPool) worker(id int) {
	log.Printf("Worker %d started", id)

	for taskID := range wp.taskQueue {
		// Panic recovery
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("Worker %d: PANIC processing task %s: %v\n%s",
						id, taskID, r, string(debug.Stack()))
				}
			}()

			if err := wp.engine.Process(taskID); err != nil {
				log.Printf("Worker %d: Failed to process task %s: %v", id, taskID, err)
			}
		}()
	}
}
