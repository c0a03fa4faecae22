// Package memory provides in-process store implementations for tests
// and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspider/shopspider/internal/crawler"
)

// TaskStore keeps crawl task metadata in a map.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]crawler.Task
}

// NewTaskStore constructs an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]crawler.Task)}
}

// UpsertPending inserts tasks as pending. Rows past the pending state
// are left untouched, matching the Postgres guarded upsert.
func (s *TaskStore) UpsertPending(_ context.Context, tasks []crawler.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, task := range tasks {
		if existing, ok := s.tasks[task.ID]; ok && existing.Status != crawler.TaskStatusPending {
			continue
		}
		task.Status = crawler.TaskStatusPending
		s.tasks[task.ID] = task
	}
	return nil
}

// MarkRunning transitions a task to running and stamps its start time,
// creating the row when the ingestion sweep has not landed it yet.
func (s *TaskStore) MarkRunning(_ context.Context, taskID, startURL string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	task.ID = taskID
	if task.StartURL == "" {
		task.StartURL = startURL
	}
	task.Status = crawler.TaskStatusRunning
	task.StartTime = &at
	s.tasks[taskID] = task
	return nil
}

// MarkFinished records a terminal status for a task.
func (s *TaskStore) MarkFinished(_ context.Context, taskID string, status crawler.TaskStatus, at time.Time, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[taskID]
	task.ID = taskID
	task.Status = status
	task.EndTime = &at
	task.ErrorMessage = errMsg
	s.tasks[taskID] = task
	return nil
}

// GetTask loads one task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (crawler.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return crawler.Task{}, crawler.ErrNotFound
	}
	return task, nil
}
