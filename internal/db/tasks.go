package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northhollow/keel/pkg/types"
)

const taskColumns = `id, COALESCE(goal_id, ''), name, description, deadline, source,
	external_id, priority, overridden, status, created_at, updated_at`

// GetTask returns a single task by ID
func (s *Store) GetTask(ctx context.Context, id string) (*types.Task, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// FindTaskByExternalID returns the task synced from the given source item, if any
func (s *Store) FindTaskByExternalID(ctx context.Context, source types.TaskSource, externalID string) (*types.Task, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE source = ? AND external_id = ?`,
		string(source), externalID)
	return scanTask(row)
}

// ListOpenTasks returns all open tasks, oldest first. The stable order matters:
// it is the final tie-break for the prioritization engine.
func (s *Store) ListOpenTasks(ctx context.Context) ([]types.Task, error) {
	return s.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = 'open' ORDER BY created_at, id`)
}

// ListTasksByGoal returns all tasks attached to a goal, oldest first
func (s *Store) ListTasksByGoal(ctx context.Context, goalID string) ([]types.Task, error) {
	return s.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE goal_id = ? ORDER BY created_at, id`, goalID)
}

// ListRanking returns open tasks ordered by descending priority
func (s *Store) ListRanking(ctx context.Context) ([]types.Task, error) {
	return s.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = 'open'
		 ORDER BY priority DESC, COALESCE(deadline, 1<<62), created_at, id`)
}

func (s *Store) listTasks(ctx context.Context, query string, args ...any) ([]types.Task, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// UpsertTask inserts or updates a task
func (s *Store) UpsertTask(ctx context.Context, t *types.Task) error {
	now := time.Now()
	if t.ID == "" {
		t.ID = uuid.New().String()
		t.CreatedAt = now
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.Status == "" {
		t.Status = types.TaskStatusOpen
	}
	t.UpdatedAt = now

	var deadline any
	if t.Deadline != nil {
		deadline = t.Deadline.Unix()
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, goal_id, name, description, deadline, source, external_id,
			priority, overridden, status, created_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			goal_id = excluded.goal_id,
			name = excluded.name,
			description = excluded.description,
			deadline = excluded.deadline,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		t.ID, t.GoalID, t.Name, t.Description, deadline, string(t.Source), t.ExternalID,
		t.Priority, boolToInt(t.Overridden), string(t.Status),
		t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upserting task: %w", err)
	}
	return nil
}

// SetTaskPriority writes a computed priority. It refuses to touch overridden
// tasks so a racing override can never be clobbered by a ranking run.
func (s *Store) SetTaskPriority(ctx context.Context, id string, priority float64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET priority = ?, updated_at = ? WHERE id = ? AND overridden = 0`,
		priority, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("setting task priority: %w", err)
	}
	return nil
}

// SetTaskOverride pins a user-chosen priority. The value persists across
// prioritization runs until ClearTaskOverride is called.
func (s *Store) SetTaskOverride(ctx context.Context, id string, priority float64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET priority = ?, overridden = 1, updated_at = ? WHERE id = ?`,
		priority, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("setting task override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearTaskOverride makes the task eligible for recomputation on the next
// prioritization run. The current priority value is left as-is until then.
func (s *Store) ClearTaskOverride(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET overridden = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("clearing task override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskStatus moves a task between open/done/dismissed
func (s *Store) SetTaskStatus(ctx context.Context, id string, status types.TaskStatus) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("setting task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTask(r rowScanner) (*types.Task, error) {
	var t types.Task
	var source, status string
	var deadline sql.NullInt64
	var overridden int
	var created, updated int64
	err := r.Scan(&t.ID, &t.GoalID, &t.Name, &t.Description, &deadline, &source,
		&t.ExternalID, &t.Priority, &overridden, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning task: %w", err)
	}
	if deadline.Valid {
		d := time.Unix(deadline.Int64, 0)
		t.Deadline = &d
	}
	t.Source = types.TaskSource(source)
	t.Status = types.TaskStatus(status)
	t.Overridden = overridden != 0
	t.CreatedAt = time.Unix(created, 0)
	t.UpdatedAt = time.Unix(updated, 0)
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
