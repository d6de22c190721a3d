package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SourceStore = (*SourceStore)(nil)

// SourceStore implements driven.SourceStore using PostgreSQL
type SourceStore struct {
	db *DB
}

// NewSourceStore creates a new SourceStore
func NewSourceStore(db *DB) *SourceStore {
	return &SourceStore{db: db}
}

// Save creates or updates a source
func (s *SourceStore) Save(ctx context.Context, source *domain.Source) error {
	config := source.Config
	if config == nil {
		config = json.RawMessage("{}")
	}

	query := `
		INSERT INTO sources (id, name, provider_type, config, connector_state, active,
		                      interval_seconds, next_run_at, last_sync_at, sync_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name             = EXCLUDED.name,
			provider_type    = EXCLUDED.provider_type,
			config           = EXCLUDED.config,
			connector_state  = EXCLUDED.connector_state,
			active           = EXCLUDED.active,
			interval_seconds = EXCLUDED.interval_seconds,
			next_run_at      = EXCLUDED.next_run_at,
			last_sync_at     = EXCLUDED.last_sync_at,
			sync_status      = EXCLUDED.sync_status,
			updated_at       = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		source.ID,
		source.Name,
		string(source.ProviderType),
		[]byte(config),
		rawMessageOrNil(source.ConnectorState),
		source.Active,
		source.IntervalSeconds,
		NullTime(source.NextRunAt),
		NullTime(source.LastSyncAt),
		string(source.SyncStatus),
		source.CreatedAt,
		source.UpdatedAt,
	)
	return err
}

const sourceColumns = `id, name, provider_type, config, connector_state, active,
		       interval_seconds, next_run_at, last_sync_at, sync_status, created_at, updated_at`

func scanSource(row rowScanner) (*domain.Source, error) {
	var source domain.Source
	var configJSON, stateJSON []byte
	var nextRunAt, lastSyncAt sql.NullTime
	var status string

	err := row.Scan(
		&source.ID,
		&source.Name,
		&source.ProviderType,
		&configJSON,
		&stateJSON,
		&source.Active,
		&source.IntervalSeconds,
		&nextRunAt,
		&lastSyncAt,
		&status,
		&source.CreatedAt,
		&source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.Config = json.RawMessage(configJSON)
	if len(stateJSON) > 0 {
		source.ConnectorState = json.RawMessage(stateJSON)
	}
	source.NextRunAt = TimePtr(nextRunAt)
	source.LastSyncAt = TimePtr(lastSyncAt)
	source.SyncStatus = domain.SyncStatus(status)

	return &source, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

// Get retrieves a source by ID
func (s *SourceStore) Get(ctx context.Context, id string) (*domain.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`
	source, err := scanSource(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return source, nil
}

// GetByName retrieves a source by name
func (s *SourceStore) GetByName(ctx context.Context, name string) (*domain.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE name = $1`
	source, err := scanSource(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return source, nil
}

// List retrieves all sources
func (s *SourceStore) List(ctx context.Context) ([]*domain.Source, error) {
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC`)
}

// ListActive retrieves all active sources
func (s *SourceStore) ListActive(ctx context.Context) ([]*domain.Source, error) {
	return s.querySources(ctx, `SELECT `+sourceColumns+` FROM sources WHERE active = true ORDER BY created_at DESC`)
}

// ListDue retrieves active sources whose next_run_at has passed. The rows
// are selected FOR UPDATE SKIP LOCKED, but the query runs outside a
// transaction, so the locks are released when it returns; a second trigger
// of the same source is rejected when its sync run is created, by the
// partial unique index on running sync_runs.
func (s *SourceStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Source, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE active = true AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	return s.querySources(ctx, query, now, limit)
}

func (s *SourceStore) querySources(ctx context.Context, query string, args ...any) ([]*domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*domain.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// Delete deletes a source and cascades to its sync runs and documents.
func (s *SourceStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetActive updates the active flag
func (s *SourceStore) SetActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE sources SET active = $1, updated_at = $2 WHERE id = $3`, active, time.Now(), id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateScheduleAndState commits the result of a completed sync run: the new
// connector cursor, the next scheduled run time, and the source-level status.
func (s *SourceStore) UpdateScheduleAndState(ctx context.Context, id string, connectorState json.RawMessage, nextRunAt, lastSyncAt *time.Time, status domain.SyncStatus) error {
	query := `
		UPDATE sources
		SET connector_state = $1, next_run_at = $2, last_sync_at = $3, sync_status = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(ctx, query, rawMessageOrNil(connectorState), NullTime(nextRunAt), NullTime(lastSyncAt), string(status), time.Now(), id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func rawMessageOrNil(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
