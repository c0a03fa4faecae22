// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopspider/shopspider/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

func newPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// TaskStore persists crawl task metadata in the crawl_tasks table.
type TaskStore struct {
	pool querier
}

// NewTaskStore creates a Postgres-backed TaskStore using the provided config.
func NewTaskStore(ctx context.Context, cfg Config) (*TaskStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &TaskStore{pool: pool}, nil
}

// NewTaskStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTaskStoreWithPool(pool querier) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TaskStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertPending inserts the given tasks as pending in one statement.
// A conflicting row is only refreshed while it is still pending, so a
// redelivered task cannot clobber the record of a run in progress.
func (s *TaskStore) UpsertPending(ctx context.Context, tasks []crawler.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO crawl_tasks (task_id, start_url, status) VALUES ")
	args := make([]any, 0, len(tasks)*2)
	for i, task := range tasks {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, 'pending')", len(args)+1, len(args)+2)
		args = append(args, task.ID, task.StartURL)
	}
	sb.WriteString(` ON CONFLICT (task_id) DO UPDATE SET start_url = EXCLUDED.start_url WHERE crawl_tasks.status = 'pending'`)

	if _, err := s.pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("upsert pending tasks: %w", err)
	}
	return nil
}

// MarkRunning transitions a task to running and stamps its start time.
// A fast engine can beat the ingestion sweep here, so a zero-row update
// falls back to inserting the row; the sweep's guarded upsert then
// leaves the running row alone.
func (s *TaskStore) MarkRunning(ctx context.Context, taskID, startURL string, at time.Time) error {
	query := `UPDATE crawl_tasks SET status = 'running', start_time = $2 WHERE task_id = $1`
	tag, err := s.pool.Exec(ctx, query, taskID, at)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	insert := `
INSERT INTO crawl_tasks (task_id, start_url, status, start_time) VALUES ($1, $2, 'running', $3)
ON CONFLICT (task_id) DO UPDATE SET status = 'running', start_time = EXCLUDED.start_time`
	if _, err := s.pool.Exec(ctx, insert, taskID, startURL, at); err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return nil
}

// MarkFinished records a terminal status, end time and optional error
// message for a task. When the row never landed (the task failed before
// MarkRunning could write it), the terminal state is still recorded;
// start_url is unknown on that path.
func (s *TaskStore) MarkFinished(ctx context.Context, taskID string, status crawler.TaskStatus, at time.Time, errMsg string) error {
	query := `UPDATE crawl_tasks SET status = $2, end_time = $3, error_message = NULLIF($4, '') WHERE task_id = $1`
	tag, err := s.pool.Exec(ctx, query, taskID, string(status), at, errMsg)
	if err != nil {
		return fmt.Errorf("mark task finished: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	insert := `
INSERT INTO crawl_tasks (task_id, start_url, status, end_time, error_message)
VALUES ($1, '', $2, $3, NULLIF($4, ''))
ON CONFLICT (task_id) DO UPDATE SET status = EXCLUDED.status, end_time = EXCLUDED.end_time, error_message = EXCLUDED.error_message`
	if _, err := s.pool.Exec(ctx, insert, taskID, string(status), at, errMsg); err != nil {
		return fmt.Errorf("mark task finished: %w", err)
	}
	return nil
}

// GetTask loads one task by ID. Returns crawler.ErrNotFound when no row
// exists.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (crawler.Task, error) {
	query := `
SELECT task_id, start_url, status, start_time, end_time, COALESCE(error_message, '')
FROM crawl_tasks
WHERE task_id = $1`

	var task crawler.Task
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&task.ID,
		&task.StartURL,
		&task.Status,
		&task.StartTime,
		&task.EndTime,
		&task.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Task{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}
