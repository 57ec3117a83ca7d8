package explain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Task status constants. Both values appear in the database schema CHECK
// constraint; keep them in sync with the migrations.
const (
	TaskPending = "pending"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// MaxAttempts is how often a task is retried before being marked failed.
const MaxAttempts = 3

// ErrTaskNotFound is returned when an outbox task does not exist.
var ErrTaskNotFound = errors.New("explanation task not found")

// Task is one durable refinement request. The payload is frozen at enqueue
// time so the worker never re-reads live records for a snapshot that must
// stay immutable.
type Task struct {
	ID        string    `json:"id"`
	SearchID  string    `json:"search_id"`
	PersonID  string    `json:"person_id"`
	Payload   Payload   `json:"payload"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// Outbox is the durable queue between search persistence and the refinement
// worker.
type Outbox interface {
	// Enqueue stores tasks for one search. Failures here must not fail the
	// search; callers log and move on.
	Enqueue(ctx context.Context, tasks []Task) error
	// NextPending claims up to limit pending tasks, incrementing their
	// attempt counter.
	NextPending(ctx context.Context, limit int) ([]Task, error)
	// MarkDone finishes a task.
	MarkDone(ctx context.Context, id string) error
	// MarkFailed records a failed attempt. Tasks at MaxAttempts stay
	// failed; younger ones return to pending.
	MarkFailed(ctx context.Context, id string) error
}

// NewTask builds a pending task.
func NewTask(searchID, personID string, payload Payload) Task {
	return Task{
		ID:        uuid.New().String(),
		SearchID:  searchID,
		PersonID:  personID,
		Payload:   payload,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}
}

// InMemoryOutbox implements Outbox with in-memory storage.
type InMemoryOutbox struct {
	mu    sync.Mutex
	tasks map[string]*Task
	order []string
}

// NewInMemoryOutbox creates a new in-memory outbox.
func NewInMemoryOutbox() *InMemoryOutbox {
	return &InMemoryOutbox{tasks: make(map[string]*Task)}
}

// Enqueue implements Outbox.
func (o *InMemoryOutbox) Enqueue(ctx context.Context, tasks []Task) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range tasks {
		copied := tasks[i]
		o.tasks[copied.ID] = &copied
		o.order = append(o.order, copied.ID)
	}
	return nil
}

// NextPending implements Outbox.
func (o *InMemoryOutbox) NextPending(ctx context.Context, limit int) ([]Task, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Task
	for _, id := range o.order {
		t := o.tasks[id]
		if t.Status != TaskPending {
			continue
		}
		t.Attempts++
		out = append(out, *t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkDone implements Outbox.
func (o *InMemoryOutbox) MarkDone(ctx context.Context, id string) error {
	return o.setStatus(id, TaskDone, false)
}

// MarkFailed implements Outbox.
func (o *InMemoryOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.setStatus(id, TaskFailed, true)
}

func (o *InMemoryOutbox) setStatus(id, status string, retryable bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	if retryable && t.Attempts < MaxAttempts {
		t.Status = TaskPending
		return nil
	}
	t.Status = status
	return nil
}

// PostgresOutbox implements Outbox on Postgres.
type PostgresOutbox struct {
	db *sql.DB
}

// NewPostgresOutbox creates a new PostgresOutbox.
func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

// Enqueue implements Outbox.
func (o *PostgresOutbox) Enqueue(ctx context.Context, tasks []Task) error {
	for i := range tasks {
		payload, err := json.Marshal(tasks[i].Payload)
		if err != nil {
			return fmt.Errorf("failed to encode task payload: %w", err)
		}
		if _, err := o.db.ExecContext(ctx, `
			INSERT INTO explanation_outbox (id, search_id, person_id, payload, status, attempts, created_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6)`,
			tasks[i].ID, tasks[i].SearchID, tasks[i].PersonID,
			payload, TaskPending, tasks[i].CreatedAt); err != nil {
			return fmt.Errorf("failed to enqueue explanation task: %w", err)
		}
	}
	return nil
}

// NextPending implements Outbox. The claim uses FOR UPDATE SKIP LOCKED so
// multiple workers never process the same task.
func (o *PostgresOutbox) NextPending(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := o.db.QueryContext(ctx, `
		UPDATE explanation_outbox
		SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM explanation_outbox
			WHERE status = $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, search_id, person_id, payload, status, attempts, created_at`,
		TaskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim explanation tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var t Task
		var payload []byte
		if err := rows.Scan(&t.ID, &t.SearchID, &t.PersonID, &payload,
			&t.Status, &t.Attempts, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan explanation task: %w", err)
		}
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode task payload: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkDone implements Outbox.
func (o *PostgresOutbox) MarkDone(ctx context.Context, id string) error {
	return o.finish(ctx, id, TaskDone, false)
}

// MarkFailed implements Outbox.
func (o *PostgresOutbox) MarkFailed(ctx context.Context, id string) error {
	return o.finish(ctx, id, TaskFailed, true)
}

func (o *PostgresOutbox) finish(ctx context.Context, id, status string, retryable bool) error {
	query := `UPDATE explanation_outbox SET status = $1 WHERE id = $2`
	if retryable {
		// Below the attempt cap the task goes back to pending.
		query = fmt.Sprintf(
			`UPDATE explanation_outbox
			 SET status = CASE WHEN attempts >= %d THEN $1 ELSE '%s' END
			 WHERE id = $2`, MaxAttempts, TaskPending)
	}
	res, err := o.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to finish explanation task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read task update result: %w", err)
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}
