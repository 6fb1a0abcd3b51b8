package signkeyinfra

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/signkey"
	"github.com/jmoiron/sqlx"
)

// PostgresSigningKeyRepository is the PostgreSQL adapter for
// signkey.Repository.
type PostgresSigningKeyRepository struct {
	db *sqlx.DB
}

// NewPostgresSigningKeyRepository creates the signing-key repository.
func NewPostgresSigningKeyRepository(db *sqlx.DB) signkey.Repository {
	return &PostgresSigningKeyRepository{db: db}
}

// List returns every signing key, valid or not. Validity is the caller's
// concern so rotation stays a pure data change.
func (r *PostgresSigningKeyRepository) List(ctx context.Context) ([]*signkey.SigningKey, error) {
	query := `
		SELECT kid, private_key, public_key, created_at, revoked_at
		FROM signing_keys
		ORDER BY created_at DESC`

	var keys []signkey.SigningKey
	if err := r.db.SelectContext(ctx, &keys, query); err != nil {
		return nil, errx.Wrap(err, "failed to list signing keys", errx.TypeInternal)
	}

	result := make([]*signkey.SigningKey, len(keys))
	for i := range keys {
		result[i] = &keys[i]
	}
	return result, nil
}
