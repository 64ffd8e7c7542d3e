package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcript-pipeline/internal/types"
)

// CreateWorker registers an editor. An empty preferred list means every
// task kind is acceptable.
func (t *Tx) CreateWorker(name string, preferred []string, taskOrder string) (*Worker, error) {
	if len(preferred) == 0 {
		preferred = append([]string(nil), types.Kinds...)
	}
	if taskOrder == "" {
		taskOrder = "sequential"
	}
	w := &Worker{
		ID:             uuid.New().String(),
		Name:           name,
		PreferredTasks: preferred,
		TaskOrder:      taskOrder,
	}
	_, err := t.tx.Exec(`
		INSERT INTO workers (id, name, preferred_tasks, task_order)
		VALUES (?, ?, ?, ?)`,
		w.ID, w.Name, strings.Join(preferred, ","), taskOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to insert worker: %v", err)
	}
	return w, nil
}

// GetWorker retrieves a worker by id.
func (t *Tx) GetWorker(id string) (*Worker, error) {
	row := t.tx.QueryRow(`
		SELECT id, name, preferred_tasks, task_order FROM workers WHERE id = ?`, id)
	return scanWorker(row)
}

// GetWorkerByName retrieves a worker by unique name.
func (t *Tx) GetWorkerByName(name string) (*Worker, error) {
	row := t.tx.QueryRow(`
		SELECT id, name, preferred_tasks, task_order FROM workers WHERE name = ?`, name)
	return scanWorker(row)
}

// Prefers reports whether the worker wants to perform the given task kind.
func (w *Worker) Prefers(kind string) bool {
	for _, k := range w.PreferredTasks {
		if k == kind {
			return true
		}
	}
	return false
}

func scanWorker(row rowScanner) (*Worker, error) {
	var w Worker
	var preferred string
	err := row.Scan(&w.ID, &w.Name, &preferred, &w.TaskOrder)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("worker: %w", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan worker: %v", err)
	}
	if preferred != "" {
		w.PreferredTasks = strings.Split(preferred, ",")
	}
	return &w, nil
}
