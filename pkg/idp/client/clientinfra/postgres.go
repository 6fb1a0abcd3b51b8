package clientinfra

import (
	"context"
	"database/sql"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresClientRepository is the PostgreSQL adapter for client.Repository.
type PostgresClientRepository struct {
	db *sqlx.DB
}

// NewPostgresClientRepository creates the client repository.
func NewPostgresClientRepository(db *sqlx.DB) client.Repository {
	return &PostgresClientRepository{db: db}
}

type clientRow struct {
	ID                string         `db:"id"`
	TenantID          string         `db:"tenant_id"`
	Name              string         `db:"name"`
	Secret            sql.NullString `db:"secret"`
	RedirectURIs      pq.StringArray `db:"redirect_uris"`
	WebOrigins        pq.StringArray `db:"web_origins"`
	OIDCConformant    bool           `db:"oidc_conformant"`
	Auth0Conformant   bool           `db:"auth0_conformant"`
	RequireableOrg    bool           `db:"requireable_org"`
	EmailValidation   string         `db:"email_validation"`
	DefaultConnection sql.NullString `db:"default_connection"`
}

// Get returns a client by id, nil when absent.
func (r *PostgresClientRepository) Get(ctx context.Context, tenantID kernel.TenantID, id kernel.ClientID) (*client.Client, error) {
	query := `
		SELECT
			id, tenant_id, name, secret, redirect_uris, web_origins,
			oidc_conformant, auth0_conformant, requireable_org,
			email_validation, default_connection
		FROM clients
		WHERE tenant_id = $1 AND id = $2`

	var row clientRow
	err := r.db.GetContext(ctx, &row, query, tenantID.String(), id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get client", errx.TypeInternal).
			WithDetail("client_id", id.String())
	}

	return &client.Client{
		ID:                kernel.NewClientID(row.ID),
		TenantID:          kernel.NewTenantID(row.TenantID),
		Name:              row.Name,
		Secret:            row.Secret.String,
		RedirectURIs:      []string(row.RedirectURIs),
		WebOrigins:        []string(row.WebOrigins),
		OIDCConformant:    row.OIDCConformant,
		Auth0Conformant:   row.Auth0Conformant,
		RequireableOrg:    row.RequireableOrg,
		EmailValidation:   client.EmailValidation(row.EmailValidation),
		DefaultConnection: row.DefaultConnection.String,
	}, nil
}
