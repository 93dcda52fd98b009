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

// GetGoal returns a single goal by ID
func (s *Store) GetGoal(ctx context.Context, id string) (*types.Goal, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, level, COALESCE(parent_id, ''), priority, description, created_at, updated_at
		FROM goals WHERE id = ?`, id)
	return scanGoal(row)
}

// ListGoals returns all goals, high-level first, then by descending priority
func (s *Store) ListGoals(ctx context.Context) ([]types.Goal, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, level, COALESCE(parent_id, ''), priority, description, created_at, updated_at
		FROM goals
		ORDER BY CASE level WHEN 'high' THEN 0 ELSE 1 END, priority DESC, created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing goals: %w", err)
	}
	defer rows.Close()

	var goals []types.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

// UpsertGoal inserts or updates a goal. A project-level goal must reference
// an existing high-level goal; high-level goals must not have a parent.
func (s *Store) UpsertGoal(ctx context.Context, g *types.Goal) error {
	switch g.Level {
	case types.GoalLevelHigh:
		if g.ParentID != "" {
			return fmt.Errorf("high-level goal %q must not have a parent", g.Name)
		}
	case types.GoalLevelProject:
		if g.ParentID == "" {
			return fmt.Errorf("project goal %q requires a parent goal", g.Name)
		}
		parent, err := s.GetGoal(ctx, g.ParentID)
		if err != nil {
			return fmt.Errorf("resolving parent of %q: %w", g.Name, err)
		}
		if parent.Level != types.GoalLevelHigh {
			return fmt.Errorf("parent of project goal %q must be high-level", g.Name)
		}
	default:
		return fmt.Errorf("unknown goal level %q", g.Level)
	}

	now := time.Now()
	if g.ID == "" {
		g.ID = uuid.New().String()
		g.CreatedAt = now
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO goals (id, name, level, parent_id, priority, description, created_at, updated_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			level = excluded.level,
			parent_id = excluded.parent_id,
			priority = excluded.priority,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		g.ID, g.Name, string(g.Level), g.ParentID, g.Priority, g.Description,
		g.CreatedAt.Unix(), g.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upserting goal: %w", err)
	}
	return nil
}

// SetGoalPriority updates only the priority of a goal
func (s *Store) SetGoalPriority(ctx context.Context, id string, priority float64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE goals SET priority = ?, updated_at = ? WHERE id = ?`,
		priority, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("setting goal priority: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(r rowScanner) (*types.Goal, error) {
	var g types.Goal
	var level string
	var created, updated int64
	err := r.Scan(&g.ID, &g.Name, &level, &g.ParentID, &g.Priority, &g.Description, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning goal: %w", err)
	}
	g.Level = types.GoalLevel(level)
	g.CreatedAt = time.Unix(created, 0)
	g.UpdatedAt = time.Unix(updated, 0)
	return &g, nil
}
