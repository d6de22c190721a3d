package postgres

import (
	"context"
	"database/sql"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.CredentialStore = (*CredentialStore)(nil)

// CredentialStore implements driven.CredentialStore using PostgreSQL.
// Values are stored pre-encrypted by the caller with SecretEncryptor; this
// store never sees plaintext.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Save creates or updates a credential.
func (s *CredentialStore) Save(ctx context.Context, cred *domain.ServiceCredential) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_credentials (id, provider_type, name, ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			provider_type = EXCLUDED.provider_type,
			name          = EXCLUDED.name,
			ciphertext    = EXCLUDED.ciphertext,
			updated_at    = EXCLUDED.updated_at
	`, cred.ID, string(cred.ProviderType), cred.Name, cred.Ciphertext, cred.CreatedAt, cred.UpdatedAt)
	return err
}

func scanCredential(row interface{ Scan(dest ...any) error }) (*domain.ServiceCredential, error) {
	var cred domain.ServiceCredential
	var providerType string
	if err := row.Scan(&cred.ID, &providerType, &cred.Name, &cred.Ciphertext, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return nil, err
	}
	cred.ProviderType = domain.ProviderType(providerType)
	return &cred, nil
}

// Get retrieves a credential by id.
func (s *CredentialStore) Get(ctx context.Context, id string) (*domain.ServiceCredential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, provider_type, name, ciphertext, created_at, updated_at
		FROM service_credentials WHERE id = $1
	`, id)
	cred, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	return cred, err
}

// List returns every stored credential.
func (s *CredentialStore) List(ctx context.Context) ([]*domain.ServiceCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_type, name, ciphertext, created_at, updated_at
		FROM service_credentials ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*domain.ServiceCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// GetByProvider returns credentials registered for a provider type.
func (s *CredentialStore) GetByProvider(ctx context.Context, providerType domain.ProviderType) ([]*domain.ServiceCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider_type, name, ciphertext, created_at, updated_at
		FROM service_credentials WHERE provider_type = $1 ORDER BY created_at
	`, string(providerType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*domain.ServiceCredential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// Delete removes a credential.
func (s *CredentialStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM service_credentials WHERE id = $1`, id)
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
