package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
)

// ErrSnapshotNotFound is returned when no snapshot matches a lookup.
var ErrSnapshotNotFound = errors.New("snapshot not found")

const snapshotColumns = `id, project_id, label, short_term_count, long_term_count, created_at`

// SnapshotRepository stores and loads memory.Snapshot values.
type SnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

func newSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

func scanInfo(scanner interface{ Scan(...any) error }) (SnapshotInfo, error) {
	var (
		info      SnapshotInfo
		createdAt int64
	)
	err := scanner.Scan(&info.ID, &info.ProjectID, &info.Label, &info.ShortTermCount, &info.LongTermCount, &createdAt)
	info.CreatedAt = time.Unix(0, createdAt)
	return info, err
}

// Save writes snap for projectID in a single transaction and returns its id.
func (r *SnapshotRepository) Save(ctx context.Context, projectID, label string, snap memory.Snapshot) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (project_id, label, short_term_count, long_term_count, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		projectID, label, len(snap.ShortTerm), len(snap.LongTerm), r.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshot_entries (
			snapshot_id, position, tier, entry_id, entry_type, entry_key, value, metadata,
			access_count, created_at, accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	tiers := []struct {
		tier    memory.Tier
		entries []memory.Entry
	}{
		{memory.TierShortTerm, snap.ShortTerm},
		{memory.TierLongTerm, snap.LongTerm},
	}
	for _, t := range tiers {
		for pos, e := range t.entries {
			m, err := toEntryModel(id, t.tier, pos, e)
			if err != nil {
				return 0, err
			}
			if _, err := stmt.ExecContext(ctx,
				m.SnapshotID, m.Position, m.Tier, m.EntryID, m.Type, m.Key, m.Value, m.Metadata,
				m.AccessCount, m.CreatedAt, m.AccessedAt,
			); err != nil {
				return 0, fmt.Errorf("failed to insert entry %s: %w", e.FullKey(), err)
			}
		}
	}

	for key, value := range snap.Context {
		encoded, err := json.Marshal(value)
		if err != nil {
			return 0, fmt.Errorf("failed to encode context %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_context (snapshot_id, context_key, value) VALUES (?, ?, ?)`,
			id, key, string(encoded),
		); err != nil {
			return 0, fmt.Errorf("failed to insert context %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshot: %w", err)
	}

	log.Debug(log.CatDB, "Saved snapshot", "id", id, "project", projectID, "entries", snap.Len())
	return id, nil
}

// Load returns the snapshot with the given id.
func (r *SnapshotRepository) Load(ctx context.Context, id int64) (memory.Snapshot, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM snapshots WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to find snapshot: %w", err)
	}

	snap := memory.Snapshot{
		ShortTerm: []memory.Entry{},
		LongTerm:  []memory.Entry{},
		Context:   map[string]any{},
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT snapshot_id, position, tier, entry_id, entry_type, entry_key, value, metadata,
			access_count, created_at, accessed_at
		 FROM snapshot_entries WHERE snapshot_id = ? ORDER BY tier DESC, position`,
		id,
	)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var m EntryModel
		if err := rows.Scan(
			&m.SnapshotID, &m.Position, &m.Tier, &m.EntryID, &m.Type, &m.Key, &m.Value, &m.Metadata,
			&m.AccessCount, &m.CreatedAt, &m.AccessedAt,
		); err != nil {
			return memory.Snapshot{}, fmt.Errorf("failed to scan entry: %w", err)
		}
		e, err := m.toEntry()
		if err != nil {
			return memory.Snapshot{}, err
		}
		if memory.Tier(m.Tier) == memory.TierLongTerm {
			snap.LongTerm = append(snap.LongTerm, e)
		} else {
			snap.ShortTerm = append(snap.ShortTerm, e)
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to iterate entries: %w", err)
	}

	ctxRows, err := r.db.QueryContext(ctx,
		`SELECT context_key, value FROM snapshot_context WHERE snapshot_id = ?`, id)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to query context: %w", err)
	}
	defer func() { _ = ctxRows.Close() }()

	for ctxRows.Next() {
		var key, raw string
		if err := ctxRows.Scan(&key, &raw); err != nil {
			return memory.Snapshot{}, fmt.Errorf("failed to scan context: %w", err)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return memory.Snapshot{}, fmt.Errorf("failed to decode context %q: %w", key, err)
		}
		snap.Context[key] = value
	}
	if err := ctxRows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("failed to iterate context: %w", err)
	}
	return snap, nil
}

// Latest returns the most recently saved snapshot for projectID, or of any
// project when projectID is empty.
func (r *SnapshotRepository) Latest(ctx context.Context, projectID string) (memory.Snapshot, SnapshotInfo, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE (? = '' OR project_id = ?) ORDER BY created_at DESC, id DESC LIMIT 1`,
		projectID, projectID,
	)
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Snapshot{}, SnapshotInfo{}, ErrSnapshotNotFound
	}
	if err != nil {
		return memory.Snapshot{}, SnapshotInfo{}, fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	snap, err := r.Load(ctx, info.ID)
	return snap, info, err
}

// List returns snapshot metadata for projectID, or for every project when
// projectID is empty, newest first.
func (r *SnapshotRepository) List(ctx context.Context, projectID string) ([]SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE (? = '' OR project_id = ?) ORDER BY created_at DESC, id DESC`,
		projectID, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]SnapshotInfo, 0)
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

// Delete removes a snapshot and its contents.
func (r *SnapshotRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_entries WHERE snapshot_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshot_context WHERE snapshot_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete context: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrSnapshotNotFound
	}
	return tx.Commit()
}
