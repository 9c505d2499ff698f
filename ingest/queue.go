// Package ingest feeds the consumption pipeline: a SQLite-backed task
// queue with visibility timeouts, a worker pool draining it, and a
// folder scanner that enqueues files once they stop changing.
//
// The queue needs no external broker. A claimed task is invisible for a
// configurable window; if the worker crashes the task reappears and
// another worker picks it up.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docmill/docmill/consume"
	"github.com/docmill/docmill/idgen"
	"github.com/docmill/docmill/tenant"
)

// Task is one queued consumption request.
type Task struct {
	ID         string
	TenantID   tenant.ID
	Path       string
	Source     consume.Source
	Overrides  *consume.Overrides
	Attempts   int
	EnqueuedAt time.Time
}

type taskPayload struct {
	TenantID  tenant.ID          `json:"tenant_id"`
	Path      string             `json:"path"`
	Source    consume.Source     `json:"source"`
	Overrides *consume.Overrides `json:"overrides,omitempty"`
}

// QueueOptions configures queue behaviour.
type QueueOptions struct {
	// Visibility is how long a claimed task stays invisible. It must
	// exceed the longest expected extraction. Default: 5m.
	Visibility time.Duration
	// MaxAttempts limits redeliveries before a task is dropped with an
	// error log. 0 means unlimited. Default: 3.
	MaxAttempts int
	Logger      *slog.Logger
}

func (o *QueueOptions) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 5 * time.Minute
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 3
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Queue is the task queue handle. Call EnsureTable once at startup.
type Queue struct {
	db   *sql.DB
	opts QueueOptions
}

// NewQueue creates a queue handle over db.
func NewQueue(db *sql.DB, opts QueueOptions) *Queue {
	opts.defaults()
	return &Queue{db: db, opts: opts}
}

// EnsureTable creates the consume_tasks table if it does not exist.
func (q *Queue) EnsureTable(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS consume_tasks (
			id         TEXT PRIMARY KEY,
			payload    BLOB NOT NULL,
			visible_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			attempts   INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_consume_tasks_visible
			ON consume_tasks (visible_at);
	`)
	return err
}

// newTaskID produces handles ordered by enqueue time.
var newTaskID = idgen.Prefixed("task_", idgen.Default)

// Enqueue inserts an immediately visible task and returns its handle.
func (q *Queue) Enqueue(ctx context.Context, tid tenant.ID, path string, source consume.Source, ov *consume.Overrides) (string, error) {
	if !tid.Valid() {
		return "", errors.New("ingest: missing tenant")
	}
	payload, err := json.Marshal(taskPayload{TenantID: tid, Path: path, Source: source, Overrides: ov})
	if err != nil {
		return "", fmt.Errorf("ingest: encode task: %w", err)
	}
	id := newTaskID()
	now := time.Now().UnixMilli()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO consume_tasks (id, payload, visible_at, created_at) VALUES (?,?,?,?)`,
		id, payload, now, now)
	if err != nil {
		return "", fmt.Errorf("ingest: enqueue %s: %w", path, err)
	}
	return id, nil
}

// Claim atomically picks the oldest visible task and hides it for the
// visibility window. Returns nil, nil when nothing is ready.
func (q *Queue) Claim(ctx context.Context) (*Task, error) {
	now := time.Now()
	hideUntil := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE consume_tasks
		SET visible_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM consume_tasks
			WHERE visible_at <= ?
			ORDER BY visible_at ASC
			LIMIT 1
		)
		RETURNING id, payload, created_at, attempts`,
		hideUntil, now.UnixMilli())

	var (
		id       string
		raw      []byte
		created  int64
		attempts int
	)
	err := row.Scan(&id, &raw, &created, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: claim: %w", err)
	}
	var p taskPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("ingest: decode task %s: %w", id, err)
	}
	return &Task{
		ID:         id,
		TenantID:   p.TenantID,
		Path:       p.Path,
		Source:     p.Source,
		Overrides:  p.Overrides,
		Attempts:   attempts,
		EnqueuedAt: time.UnixMilli(created),
	}, nil
}

// Ack deletes a handled task.
func (q *Queue) Ack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM consume_tasks WHERE id = ?`, id)
	return err
}

// Nack makes a task immediately visible again for another worker.
func (q *Queue) Nack(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE consume_tasks SET visible_at = 0 WHERE id = ?`, id)
	return err
}

// Extend pushes the visibility window forward for a long extraction.
func (q *Queue) Extend(ctx context.Context, id string, extra time.Duration) error {
	hideUntil := time.Now().Add(extra).UnixMilli()
	_, err := q.db.ExecContext(ctx,
		`UPDATE consume_tasks SET visible_at = ? WHERE id = ?`, hideUntil, id)
	return err
}

// Len returns the number of tasks, visible or not.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consume_tasks`).Scan(&n)
	return n, err
}

// Purge deletes every task.
func (q *Queue) Purge(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM consume_tasks`)
	return err
}
