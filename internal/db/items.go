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

// GetWatermark returns the ingestion cursor for a source. A source that has
// never been ingested gets a zero-value watermark, not an error.
func (s *Store) GetWatermark(ctx context.Context, source types.Source) (types.Watermark, error) {
	wm := types.Watermark{Source: source}
	var updated int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT cursor, updated_at FROM watermarks WHERE source = ?`,
		string(source)).Scan(&wm.Cursor, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return wm, nil
	}
	if err != nil {
		return wm, fmt.Errorf("getting watermark: %w", err)
	}
	wm.UpdatedAt = time.Unix(updated, 0)
	return wm, nil
}

// AdvanceWatermark stores a batch of normalized items and moves the source's
// cursor past it, all in one transaction. Duplicate items (same source and
// external id) are ignored, so a crash mid-batch is safely retried: the rerun
// re-inserts nothing and the cursor only advances once the whole batch is
// durable. Returns the number of items actually inserted.
func (s *Store) AdvanceWatermark(ctx context.Context, source types.Source, cursor string, batch []types.IngestedItem) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning ingestion transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	now := time.Now()
	for i := range batch {
		item := &batch[i]
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		if item.IngestedAt.IsZero() {
			item.IngestedAt = now
		}
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO ingested_items
				(id, source, external_id, payload, summary, occurred_at, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			item.ID, string(source), item.ExternalID, item.Payload, item.Summary,
			item.OccurredAt.Unix(), item.IngestedAt.Unix())
		if err != nil {
			return 0, fmt.Errorf("inserting ingested item: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if cursor != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO watermarks (source, cursor, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(source) DO UPDATE SET
				cursor = excluded.cursor,
				updated_at = excluded.updated_at`,
			string(source), cursor, now.Unix())
		if err != nil {
			return 0, fmt.Errorf("advancing watermark: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing ingestion batch: %w", err)
	}
	return inserted, nil
}

// ListItemsSince returns items ingested after the given time, oldest first
func (s *Store) ListItemsSince(ctx context.Context, since time.Time, limit int) ([]types.IngestedItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, source, external_id, payload, summary, occurred_at, ingested_at
		FROM ingested_items
		WHERE ingested_at > ?
		ORDER BY ingested_at, id
		LIMIT ?`, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing ingested items: %w", err)
	}
	defer rows.Close()

	var items []types.IngestedItem
	for rows.Next() {
		var it types.IngestedItem
		var source string
		var occurred, ingested int64
		if err := rows.Scan(&it.ID, &source, &it.ExternalID, &it.Payload, &it.Summary, &occurred, &ingested); err != nil {
			return nil, fmt.Errorf("scanning ingested item: %w", err)
		}
		it.Source = types.Source(source)
		it.OccurredAt = time.Unix(occurred, 0)
		it.IngestedAt = time.Unix(ingested, 0)
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetContextDocument returns a user-maintained context document by kind.
// Missing documents are returned empty rather than as errors; they are
// optional context, not required state.
func (s *Store) GetContextDocument(ctx context.Context, kind string) (types.ContextDocument, error) {
	doc := types.ContextDocument{Kind: kind}
	var updated int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT content, updated_at FROM context_documents WHERE kind = ?`,
		kind).Scan(&doc.Content, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("getting context document: %w", err)
	}
	doc.UpdatedAt = time.Unix(updated, 0)
	return doc, nil
}

// PutContextDocument stores or replaces a context document
func (s *Store) PutContextDocument(ctx context.Context, kind, content string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO context_documents (kind, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		kind, content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("putting context document: %w", err)
	}
	return nil
}
