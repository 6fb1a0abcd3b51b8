package orginfra

import (
	"context"
	"database/sql"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/org"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

// PostgresOrgRepository is the PostgreSQL adapter for org.Repository.
type PostgresOrgRepository struct {
	db *sqlx.DB
}

// NewPostgresOrgRepository creates the organization repository.
func NewPostgresOrgRepository(db *sqlx.DB) org.Repository {
	return &PostgresOrgRepository{db: db}
}

type orgRow struct {
	ID                 string `db:"id"`
	TenantID           string `db:"tenant_id"`
	Name               string `db:"name"`
	DisplayNameInToken bool   `db:"display_name_in_token"`
}

// Get returns an organization by id, nil when absent.
func (r *PostgresOrgRepository) Get(ctx context.Context, tenantID kernel.TenantID, id string) (*org.Organization, error) {
	query := `
		SELECT id, tenant_id, name, display_name_in_token
		FROM organizations
		WHERE tenant_id = $1 AND id = $2`

	var row orgRow
	err := r.db.GetContext(ctx, &row, query, tenantID.String(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get organization", errx.TypeInternal).
			WithDetail("organization_id", id)
	}

	return &org.Organization{
		ID:                 row.ID,
		TenantID:           kernel.NewTenantID(row.TenantID),
		Name:               row.Name,
		DisplayNameInToken: row.DisplayNameInToken,
	}, nil
}

// IsMember reports whether the user belongs to the organization.
func (r *PostgresOrgRepository) IsMember(ctx context.Context, tenantID kernel.TenantID, orgID string, userID kernel.UserID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM organization_members
			WHERE tenant_id = $1 AND organization_id = $2 AND user_id = $3
		)`

	var member bool
	err := r.db.GetContext(ctx, &member, query, tenantID.String(), orgID, userID.String())
	if err != nil {
		return false, errx.Wrap(err, "failed to check organization membership", errx.TypeInternal).
			WithDetail("organization_id", orgID).
			WithDetail("user_id", userID.String())
	}
	return member, nil
}
