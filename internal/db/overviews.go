package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/northhollow/keel/pkg/types"
)

// GetStatusOverview returns the overview for a goal, or ErrNotFound if the
// goal has never had one generated.
func (s *Store) GetStatusOverview(ctx context.Context, goalID string) (*types.StatusOverview, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT goal_id, summary, progress, obstacles, subtask_ids, generated_at, status
		FROM status_overviews WHERE goal_id = ?`, goalID)
	return scanOverview(row)
}

// LatestOverviewTime returns the most recent successful generation time
// across all goals, or the zero time when none exists. Used to find ingested
// items not yet reflected in any overview.
func (s *Store) LatestOverviewTime(ctx context.Context) (time.Time, error) {
	var generated sql.NullInt64
	err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(generated_at) FROM status_overviews WHERE status = 'ok'`).Scan(&generated)
	if err != nil {
		return time.Time{}, fmt.Errorf("getting latest overview time: %w", err)
	}
	if !generated.Valid {
		return time.Time{}, nil
	}
	return time.Unix(generated.Int64, 0), nil
}

// UpsertStatusOverview replaces a goal's overview in place
func (s *Store) UpsertStatusOverview(ctx context.Context, ov *types.StatusOverview) error {
	obstacles, err := json.Marshal(ov.Obstacles)
	if err != nil {
		return fmt.Errorf("encoding obstacles: %w", err)
	}
	subtasks, err := json.Marshal(ov.SubtaskIDs)
	if err != nil {
		return fmt.Errorf("encoding subtask ids: %w", err)
	}
	if ov.GeneratedAt.IsZero() {
		ov.GeneratedAt = time.Now()
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO status_overviews (goal_id, summary, progress, obstacles, subtask_ids, generated_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(goal_id) DO UPDATE SET
			summary = excluded.summary,
			progress = excluded.progress,
			obstacles = excluded.obstacles,
			subtask_ids = excluded.subtask_ids,
			generated_at = excluded.generated_at,
			status = excluded.status`,
		ov.GoalID, ov.Summary, ov.Progress, string(obstacles), string(subtasks),
		ov.GeneratedAt.Unix(), string(ov.Status))
	if err != nil {
		return fmt.Errorf("upserting status overview: %w", err)
	}
	return nil
}

// MarkOverviewStale flags an existing overview as stale without touching its
// content, preserving the last-known-good state for display. Returns
// ErrNotFound when the goal has no overview to mark.
func (s *Store) MarkOverviewStale(ctx context.Context, goalID string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE status_overviews SET status = 'stale' WHERE goal_id = ?`, goalID)
	if err != nil {
		return fmt.Errorf("marking overview stale: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOverview(r rowScanner) (*types.StatusOverview, error) {
	var ov types.StatusOverview
	var obstacles, subtasks, status string
	var generated int64
	err := r.Scan(&ov.GoalID, &ov.Summary, &ov.Progress, &obstacles, &subtasks, &generated, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning status overview: %w", err)
	}
	if err := json.Unmarshal([]byte(obstacles), &ov.Obstacles); err != nil {
		return nil, fmt.Errorf("decoding obstacles: %w", err)
	}
	if err := json.Unmarshal([]byte(subtasks), &ov.SubtaskIDs); err != nil {
		return nil, fmt.Errorf("decoding subtask ids: %w", err)
	}
	ov.GeneratedAt = time.Unix(generated, 0)
	ov.Status = types.OverviewStatus(status)
	return &ov, nil
}

// InsertReasoningAudit records one reasoning engine call for the audit trail
func (s *Store) InsertReasoningAudit(ctx context.Context, id, template string, contextRunes int, outcome string, attempts int, latency time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reasoning_audit (id, template, context_runes, outcome, attempts, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, template, contextRunes, outcome, attempts, latency.Milliseconds(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("inserting reasoning audit: %w", err)
	}
	return nil
}
