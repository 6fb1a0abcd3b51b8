package userinfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

// PostgresUserRepository is the PostgreSQL adapter for user.Repository.
type PostgresUserRepository struct {
	db *sqlx.DB
}

// NewPostgresUserRepository creates the user repository.
func NewPostgresUserRepository(db *sqlx.DB) user.Repository {
	return &PostgresUserRepository{db: db}
}

// userRow maps the users table. Metadata documents live in JSONB columns.
type userRow struct {
	ID            string         `db:"id"`
	TenantID      string         `db:"tenant_id"`
	Email         sql.NullString `db:"email"`
	EmailVerified bool           `db:"email_verified"`
	Username      sql.NullString `db:"username"`
	PhoneNumber   sql.NullString `db:"phone_number"`
	Provider      sql.NullString `db:"provider"`
	Connection    sql.NullString `db:"connection"`
	LinkedTo      sql.NullString `db:"linked_to"`
	Name          sql.NullString `db:"name"`
	Nickname      sql.NullString `db:"nickname"`
	Picture       sql.NullString `db:"picture"`
	GivenName     sql.NullString `db:"given_name"`
	FamilyName    sql.NullString `db:"family_name"`
	Locale        sql.NullString `db:"locale"`
	AppMetadata   []byte         `db:"app_metadata"`
	UserMetadata  []byte         `db:"user_metadata"`
	Address       []byte         `db:"address"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

const userColumns = `
	id, tenant_id, email, email_verified, username, phone_number,
	provider, connection, linked_to, name, nickname, picture,
	given_name, family_name, locale, app_metadata, user_metadata,
	address, created_at, updated_at`

func (row *userRow) toEntity() (*user.User, error) {
	u := &user.User{
		ID:            kernel.NewUserID(row.ID),
		TenantID:      kernel.NewTenantID(row.TenantID),
		Email:         row.Email.String,
		EmailVerified: row.EmailVerified,
		Username:      row.Username.String,
		PhoneNumber:   row.PhoneNumber.String,
		Provider:      row.Provider.String,
		Connection:    row.Connection.String,
		Name:          row.Name.String,
		Nickname:      row.Nickname.String,
		Picture:       row.Picture.String,
		GivenName:     row.GivenName.String,
		FamilyName:    row.FamilyName.String,
		Locale:        row.Locale.String,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.LinkedTo.Valid && row.LinkedTo.String != "" {
		id := kernel.NewUserID(row.LinkedTo.String)
		u.LinkedTo = &id
	}
	if len(row.AppMetadata) > 0 {
		if err := json.Unmarshal(row.AppMetadata, &u.AppMetadata); err != nil {
			return nil, errx.Wrap(err, "failed to decode app_metadata", errx.TypeInternal)
		}
	}
	if len(row.UserMetadata) > 0 {
		if err := json.Unmarshal(row.UserMetadata, &u.UserMetadata); err != nil {
			return nil, errx.Wrap(err, "failed to decode user_metadata", errx.TypeInternal)
		}
	}
	if len(row.Address) > 0 {
		if err := json.Unmarshal(row.Address, &u.Address); err != nil {
			return nil, errx.Wrap(err, "failed to decode address", errx.TypeInternal)
		}
	}
	return u, nil
}

func encodeUser(u *user.User) (appMeta, userMeta, address []byte, err error) {
	if appMeta, err = json.Marshal(u.AppMetadata); err != nil {
		return nil, nil, nil, errx.Wrap(err, "failed to encode app_metadata", errx.TypeInternal)
	}
	if u.UserMetadata != nil {
		if userMeta, err = json.Marshal(u.UserMetadata); err != nil {
			return nil, nil, nil, errx.Wrap(err, "failed to encode user_metadata", errx.TypeInternal)
		}
	}
	if u.Address != nil {
		if address, err = json.Marshal(u.Address); err != nil {
			return nil, nil, nil, errx.Wrap(err, "failed to encode address", errx.TypeInternal)
		}
	}
	return appMeta, userMeta, address, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Get returns a user by id, nil when absent.
func (r *PostgresUserRepository) Get(ctx context.Context, tenantID kernel.TenantID, id kernel.UserID) (*user.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE tenant_id = $1 AND id = $2`

	var row userRow
	err := r.db.GetContext(ctx, &row, query, tenantID.String(), id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get user", errx.TypeInternal).
			WithDetail("user_id", id.String())
	}
	return row.toEntity()
}

// FindByUsername resolves a user by login identifier within one provider.
// Email and username are both accepted as identifiers.
func (r *PostgresUserRepository) FindByUsername(ctx context.Context, tenantID kernel.TenantID, username, provider string) (*user.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE tenant_id = $1
		  AND provider = $2
		  AND (LOWER(email) = LOWER($3) OR username = $3)
		LIMIT 1`

	var row userRow
	err := r.db.GetContext(ctx, &row, query, tenantID.String(), provider, username)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find user by username", errx.TypeInternal).
			WithDetail("username", username)
	}
	return row.toEntity()
}

// FindPrimariesByEmail returns unlinked users whose lower-cased email equals
// the given normalized address, oldest first so link targets are stable.
func (r *PostgresUserRepository) FindPrimariesByEmail(ctx context.Context, tenantID kernel.TenantID, email string) ([]*user.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE tenant_id = $1
		  AND LOWER(email) = $2
		  AND linked_to IS NULL
		ORDER BY created_at ASC`

	var rows []userRow
	err := r.db.SelectContext(ctx, &rows, query, tenantID.String(), email)
	if err != nil {
		return nil, errx.Wrap(err, "failed to find users by email", errx.TypeInternal).
			WithDetail("email", email)
	}

	users := make([]*user.User, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// Create inserts a user.
func (r *PostgresUserRepository) Create(ctx context.Context, u *user.User) error {
	appMeta, userMeta, address, err := encodeUser(u)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (
			id, tenant_id, email, email_verified, username, phone_number,
			provider, connection, linked_to, name, nickname, picture,
			given_name, family_name, locale, app_metadata, user_metadata,
			address, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, NOW(), NOW()
		)`

	var linkedTo interface{}
	if u.LinkedTo != nil {
		linkedTo = u.LinkedTo.String()
	}

	_, err = r.db.ExecContext(ctx, query,
		u.ID.String(), u.TenantID.String(), nullable(u.Email), u.EmailVerified,
		nullable(u.Username), nullable(u.PhoneNumber), nullable(u.Provider),
		nullable(u.Connection), linkedTo, nullable(u.Name), nullable(u.Nickname),
		nullable(u.Picture), nullable(u.GivenName), nullable(u.FamilyName),
		nullable(u.Locale), appMeta, userMeta, address,
	)
	if err != nil {
		return errx.Wrap(err, "failed to create user", errx.TypeInternal).
			WithDetail("user_id", u.ID.String())
	}
	return nil
}

// Update rewrites the full user document, last write wins.
func (r *PostgresUserRepository) Update(ctx context.Context, u *user.User) error {
	appMeta, userMeta, address, err := encodeUser(u)
	if err != nil {
		return err
	}

	query := `
		UPDATE users SET
			email = $3, email_verified = $4, username = $5, phone_number = $6,
			provider = $7, connection = $8, linked_to = $9, name = $10,
			nickname = $11, picture = $12, given_name = $13, family_name = $14,
			locale = $15, app_metadata = $16, user_metadata = $17,
			address = $18, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`

	var linkedTo interface{}
	if u.LinkedTo != nil {
		linkedTo = u.LinkedTo.String()
	}

	_, err = r.db.ExecContext(ctx, query,
		u.TenantID.String(), u.ID.String(), nullable(u.Email), u.EmailVerified,
		nullable(u.Username), nullable(u.PhoneNumber), nullable(u.Provider),
		nullable(u.Connection), linkedTo, nullable(u.Name), nullable(u.Nickname),
		nullable(u.Picture), nullable(u.GivenName), nullable(u.FamilyName),
		nullable(u.Locale), appMeta, userMeta, address,
	)
	if err != nil {
		return errx.Wrap(err, "failed to update user", errx.TypeInternal).
			WithDetail("user_id", u.ID.String())
	}
	return nil
}

// PostgresPasswordRepository stores bcrypt hashes keyed by user.
type PostgresPasswordRepository struct {
	db *sqlx.DB
}

// NewPostgresPasswordRepository creates the password repository.
func NewPostgresPasswordRepository(db *sqlx.DB) user.PasswordRepository {
	return &PostgresPasswordRepository{db: db}
}

// Get returns the stored hash, empty when none is set.
func (r *PostgresPasswordRepository) Get(ctx context.Context, tenantID kernel.TenantID, userID kernel.UserID) (string, error) {
	query := `SELECT password_hash FROM user_passwords WHERE tenant_id = $1 AND user_id = $2`

	var hash string
	err := r.db.GetContext(ctx, &hash, query, tenantID.String(), userID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errx.Wrap(err, "failed to get password hash", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	return hash, nil
}

// Set upserts the hash.
func (r *PostgresPasswordRepository) Set(ctx context.Context, tenantID kernel.TenantID, userID kernel.UserID, hash string) error {
	query := `
		INSERT INTO user_passwords (tenant_id, user_id, password_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = NOW()`

	_, err := r.db.ExecContext(ctx, query, tenantID.String(), userID.String(), hash)
	if err != nil {
		return errx.Wrap(err, "failed to set password hash", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	return nil
}

// PostgresPermissionRepository lists RBAC permissions for token claims.
type PostgresPermissionRepository struct {
	db *sqlx.DB
}

// NewPostgresPermissionRepository creates the permission repository.
func NewPostgresPermissionRepository(db *sqlx.DB) user.PermissionRepository {
	return &PostgresPermissionRepository{db: db}
}

// List returns the permission names granted to the user for an audience,
// through role assignments.
func (r *PostgresPermissionRepository) List(ctx context.Context, tenantID kernel.TenantID, userID kernel.UserID, audience string) ([]string, error) {
	query := `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.tenant_id = $1 AND ur.user_id = $2 AND p.audience = $3
		ORDER BY p.name`

	var permissions []string
	err := r.db.SelectContext(ctx, &permissions, query, tenantID.String(), userID.String(), audience)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list permissions", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	return permissions, nil
}
