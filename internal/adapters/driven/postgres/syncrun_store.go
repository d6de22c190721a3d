package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncRunStore = (*SyncRunStore)(nil)

// SyncRunStore implements driven.SyncRunStore using PostgreSQL.
type SyncRunStore struct {
	db *DB
}

// NewSyncRunStore creates a new SyncRunStore.
func NewSyncRunStore(db *DB) *SyncRunStore {
	return &SyncRunStore{db: db}
}

// Create inserts a new sync run. idx_sync_runs_one_running_per_source makes
// this the actual point of truth for "is a run already in progress": the
// orchestrator's own ListBySource check is just a fast path to avoid
// needless work, since two concurrent Trigger calls can both pass it before
// either inserts. The second insert here hits the partial unique index and
// is translated to ErrSyncInProgress instead of a raw constraint error.
func (s *SyncRunStore) Create(ctx context.Context, run *domain.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, source_id, trigger, type, status, started_at, last_activity_at,
			completed_at, documents_scanned, documents_updated, error_message, new_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, run.ID, run.SourceID, string(run.Trigger), string(run.Type), string(run.Status),
		run.StartedAt, run.LastActivityAt, NullTime(run.CompletedAt),
		run.DocumentsScanned, run.DocumentsUpdated, nullStringVal(run.ErrorMessage), rawOrNil(run.NewState))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "idx_sync_runs_one_running_per_source" {
			return domain.ErrSyncInProgress
		}
		return err
	}
	return nil
}

func rawOrNil(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// Update persists a sync run's mutable fields.
func (s *SyncRunStore) Update(ctx context.Context, run *domain.SyncRun) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs SET
			status = $1, last_activity_at = $2, completed_at = $3,
			documents_scanned = $4, documents_updated = $5, error_message = $6, new_state = $7
		WHERE id = $8
	`, string(run.Status), run.LastActivityAt, NullTime(run.CompletedAt),
		run.DocumentsScanned, run.DocumentsUpdated, nullStringVal(run.ErrorMessage), rawOrNil(run.NewState), run.ID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanSyncRun(row interface{ Scan(dest ...any) error }) (*domain.SyncRun, error) {
	var run domain.SyncRun
	var trigger, syncType, status string
	var completedAt sql.NullTime
	var errMsg sql.NullString
	var newState []byte

	err := row.Scan(
		&run.ID, &run.SourceID, &trigger, &syncType, &status, &run.StartedAt, &run.LastActivityAt,
		&completedAt, &run.DocumentsScanned, &run.DocumentsUpdated, &errMsg, &newState,
	)
	if err != nil {
		return nil, err
	}
	run.Trigger = domain.SyncTrigger(trigger)
	run.Type = domain.SyncType(syncType)
	run.Status = domain.SyncRunStatus(status)
	run.CompletedAt = TimePtr(completedAt)
	run.ErrorMessage = errMsg.String
	if len(newState) > 0 {
		run.NewState = json.RawMessage(newState)
	}
	return &run, nil
}

const syncRunColumns = `id, source_id, trigger, type, status, started_at, last_activity_at,
	completed_at, documents_scanned, documents_updated, error_message, new_state`

// Get retrieves a sync run by id.
func (s *SyncRunStore) Get(ctx context.Context, id string) (*domain.SyncRun, error) {
	run, err := scanSyncRun(s.db.QueryRowContext(ctx, `SELECT `+syncRunColumns+` FROM sync_runs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return run, err
}

// ListBySource returns the most recent runs for a source.
func (s *SyncRunStore) ListBySource(ctx context.Context, sourceID string, limit int) ([]*domain.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+syncRunColumns+` FROM sync_runs WHERE source_id = $1 ORDER BY started_at DESC LIMIT $2
	`, sourceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListStale returns runs still marked Running whose last heartbeat predates
// cutoff, indicating the connector process died mid-sync.
func (s *SyncRunStore) ListStale(ctx context.Context, cutoff time.Time) ([]*domain.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+syncRunColumns+` FROM sync_runs WHERE status = 'running' AND last_activity_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
