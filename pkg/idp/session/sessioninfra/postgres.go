package sessioninfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresSessionRepository is the PostgreSQL adapter for session.Repository.
type PostgresSessionRepository struct {
	db *sqlx.DB
}

// NewPostgresSessionRepository creates the session repository.
func NewPostgresSessionRepository(db *sqlx.DB) session.Repository {
	return &PostgresSessionRepository{db: db}
}

type sessionRow struct {
	ID            string         `db:"id"`
	TenantID      string         `db:"tenant_id"`
	UserID        string         `db:"user_id"`
	Clients       pq.StringArray `db:"clients"`
	Device        []byte         `db:"device"`
	CreatedAt     time.Time      `db:"created_at"`
	UsedAt        time.Time      `db:"used_at"`
	RevokedAt     *time.Time     `db:"revoked_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
	IdleExpiresAt time.Time      `db:"idle_expires_at"`
}

func (row *sessionRow) toEntity() (*session.Session, error) {
	s := &session.Session{
		ID:            kernel.NewSessionID(row.ID),
		TenantID:      kernel.NewTenantID(row.TenantID),
		UserID:        kernel.NewUserID(row.UserID),
		CreatedAt:     row.CreatedAt,
		UsedAt:        row.UsedAt,
		RevokedAt:     row.RevokedAt,
		ExpiresAt:     row.ExpiresAt,
		IdleExpiresAt: row.IdleExpiresAt,
	}
	for _, c := range row.Clients {
		s.Clients = append(s.Clients, kernel.NewClientID(c))
	}
	if len(row.Device) > 0 {
		if err := json.Unmarshal(row.Device, &s.Device); err != nil {
			return nil, errx.Wrap(err, "failed to decode session device", errx.TypeInternal)
		}
	}
	return s, nil
}

func clientStrings(clients []kernel.ClientID) pq.StringArray {
	out := make(pq.StringArray, len(clients))
	for i, c := range clients {
		out[i] = c.String()
	}
	return out
}

// Get returns a session by id, nil when absent.
func (r *PostgresSessionRepository) Get(ctx context.Context, tenantID kernel.TenantID, id kernel.SessionID) (*session.Session, error) {
	query := `
		SELECT id, tenant_id, user_id, clients, device, created_at,
		       used_at, revoked_at, expires_at, idle_expires_at
		FROM sessions
		WHERE tenant_id = $1 AND id = $2`

	var row sessionRow
	err := r.db.GetContext(ctx, &row, query, tenantID.String(), id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get session", errx.TypeInternal).
			WithDetail("session_id", id.String())
	}
	return row.toEntity()
}

// Create inserts a session.
func (r *PostgresSessionRepository) Create(ctx context.Context, s *session.Session) error {
	device, err := json.Marshal(s.Device)
	if err != nil {
		return errx.Wrap(err, "failed to encode session device", errx.TypeInternal)
	}

	query := `
		INSERT INTO sessions (
			id, tenant_id, user_id, clients, device, created_at,
			used_at, revoked_at, expires_at, idle_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.ExecContext(ctx, query,
		s.ID.String(), s.TenantID.String(), s.UserID.String(),
		clientStrings(s.Clients), device, s.CreatedAt,
		s.UsedAt, s.RevokedAt, s.ExpiresAt, s.IdleExpiresAt,
	)
	if err != nil {
		return errx.Wrap(err, "failed to create session", errx.TypeInternal).
			WithDetail("session_id", s.ID.String())
	}
	return nil
}

// Update rewrites the mutable session fields.
func (r *PostgresSessionRepository) Update(ctx context.Context, s *session.Session) error {
	device, err := json.Marshal(s.Device)
	if err != nil {
		return errx.Wrap(err, "failed to encode session device", errx.TypeInternal)
	}

	query := `
		UPDATE sessions SET
			clients = $3, device = $4, used_at = $5, revoked_at = $6,
			expires_at = $7, idle_expires_at = $8
		WHERE tenant_id = $1 AND id = $2`

	_, err = r.db.ExecContext(ctx, query,
		s.TenantID.String(), s.ID.String(), clientStrings(s.Clients),
		device, s.UsedAt, s.RevokedAt, s.ExpiresAt, s.IdleExpiresAt,
	)
	if err != nil {
		return errx.Wrap(err, "failed to update session", errx.TypeInternal).
			WithDetail("session_id", s.ID.String())
	}
	return nil
}

// PostgresLoginSessionRepository is the adapter for LoginSessionRepository.
// The auth params and continuation targets live in JSONB columns so the
// whole attempt survives a process restart.
type PostgresLoginSessionRepository struct {
	db *sqlx.DB
}

// NewPostgresLoginSessionRepository creates the login-session repository.
func NewPostgresLoginSessionRepository(db *sqlx.DB) session.LoginSessionRepository {
	return &PostgresLoginSessionRepository{db: db}
}

type loginSessionRow struct {
	ID             string         `db:"id"`
	TenantID       string         `db:"tenant_id"`
	AuthParams     []byte         `db:"auth_params"`
	CSRFToken      string         `db:"csrf_token"`
	State          string         `db:"state"`
	SessionID      sql.NullString `db:"session_id"`
	LoginCompleted bool           `db:"login_completed"`
	Strategy       sql.NullString `db:"strategy"`
	AllowedTargets pq.StringArray `db:"allowed_targets"`
	ReturnURL      sql.NullString `db:"return_url"`
	CurrentFormID  sql.NullString `db:"current_form_id"`
	CurrentNodeID  sql.NullString `db:"current_node_id"`
	ExpiresAt      time.Time      `db:"expires_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (row *loginSessionRow) toEntity() (*session.LoginSession, error) {
	ls := &session.LoginSession{
		ID:             row.ID,
		TenantID:       kernel.NewTenantID(row.TenantID),
		CSRFToken:      row.CSRFToken,
		State:          session.State(row.State),
		SessionID:      kernel.NewSessionID(row.SessionID.String),
		LoginCompleted: row.LoginCompleted,
		Strategy:       row.Strategy.String,
		ReturnURL:      row.ReturnURL.String,
		CurrentFormID:  row.CurrentFormID.String,
		CurrentNodeID:  row.CurrentNodeID.String,
		ExpiresAt:      row.ExpiresAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if len(row.AuthParams) > 0 {
		if err := json.Unmarshal(row.AuthParams, &ls.AuthParams); err != nil {
			return nil, errx.Wrap(err, "failed to decode auth params", errx.TypeInternal)
		}
	}
	for _, t := range row.AllowedTargets {
		ls.AllowedTargets = append(ls.AllowedTargets, session.ContinuationTarget(t))
	}
	return ls, nil
}

// Get returns a login session by id, nil when absent.
func (r *PostgresLoginSessionRepository) Get(ctx context.Context, tenantID kernel.TenantID, id string) (*session.LoginSession, error) {
	query := `
		SELECT id, tenant_id, auth_params, csrf_token, state, session_id,
		       login_completed, strategy, allowed_targets, return_url,
		       current_form_id, current_node_id, expires_at, created_at,
		       updated_at
		FROM login_sessions
		WHERE tenant_id = $1 AND id = $2`

	var row loginSessionRow
	err := r.db.GetContext(ctx, &row, query, tenantID.String(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get login session", errx.TypeInternal).
			WithDetail("login_session_id", id)
	}
	return row.toEntity()
}

func loginSessionArgs(ls *session.LoginSession) ([]interface{}, error) {
	authParams, err := json.Marshal(ls.AuthParams)
	if err != nil {
		return nil, errx.Wrap(err, "failed to encode auth params", errx.TypeInternal)
	}
	targets := make(pq.StringArray, len(ls.AllowedTargets))
	for i, t := range ls.AllowedTargets {
		targets[i] = string(t)
	}
	var sessionID interface{}
	if !ls.SessionID.IsEmpty() {
		sessionID = ls.SessionID.String()
	}
	return []interface{}{
		ls.TenantID.String(), ls.ID, authParams, ls.CSRFToken, string(ls.State),
		sessionID, ls.LoginCompleted, ls.Strategy, targets, ls.ReturnURL,
		ls.CurrentFormID, ls.CurrentNodeID, ls.ExpiresAt, ls.UpdatedAt,
	}, nil
}

// Create inserts a login session.
func (r *PostgresLoginSessionRepository) Create(ctx context.Context, ls *session.LoginSession) error {
	args, err := loginSessionArgs(ls)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO login_sessions (
			tenant_id, id, auth_params, csrf_token, state, session_id,
			login_completed, strategy, allowed_targets, return_url,
			current_form_id, current_node_id, expires_at, updated_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errx.Wrap(err, "failed to create login session", errx.TypeInternal).
			WithDetail("login_session_id", ls.ID)
	}
	return nil
}

// Update rewrites the mutable login-session fields.
func (r *PostgresLoginSessionRepository) Update(ctx context.Context, ls *session.LoginSession) error {
	args, err := loginSessionArgs(ls)
	if err != nil {
		return err
	}

	query := `
		UPDATE login_sessions SET
			auth_params = $3, csrf_token = $4, state = $5, session_id = $6,
			login_completed = $7, strategy = $8, allowed_targets = $9,
			return_url = $10, current_form_id = $11, current_node_id = $12,
			expires_at = $13, updated_at = $14
		WHERE tenant_id = $1 AND id = $2`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errx.Wrap(err, "failed to update login session", errx.TypeInternal).
			WithDetail("login_session_id", ls.ID)
	}
	return nil
}

// PostgresRefreshTokenRepository is the adapter for RefreshTokenRepository.
type PostgresRefreshTokenRepository struct {
	db *sqlx.DB
}

// NewPostgresRefreshTokenRepository creates the refresh-token repository.
func NewPostgresRefreshTokenRepository(db *sqlx.DB) session.RefreshTokenRepository {
	return &PostgresRefreshTokenRepository{db: db}
}

type refreshTokenRow struct {
	ID            string         `db:"id"`
	TenantID      string         `db:"tenant_id"`
	SessionID     string         `db:"session_id"`
	UserID        string         `db:"user_id"`
	ClientID      string         `db:"client_id"`
	Audience      sql.NullString `db:"audience"`
	Scopes        pq.StringArray `db:"scopes"`
	Device        []byte         `db:"device"`
	CreatedAt     time.Time      `db:"created_at"`
	LastUsedAt    time.Time      `db:"last_used_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
	IdleExpiresAt time.Time      `db:"idle_expires_at"`
}

func (row *refreshTokenRow) toEntity() (*session.RefreshToken, error) {
	t := &session.RefreshToken{
		ID:            row.ID,
		TenantID:      kernel.NewTenantID(row.TenantID),
		SessionID:     kernel.NewSessionID(row.SessionID),
		UserID:        kernel.NewUserID(row.UserID),
		ClientID:      kernel.NewClientID(row.ClientID),
		Audience:      row.Audience.String,
		Scopes:        []string(row.Scopes),
		CreatedAt:     row.CreatedAt,
		LastUsedAt:    row.LastUsedAt,
		ExpiresAt:     row.ExpiresAt,
		IdleExpiresAt: row.IdleExpiresAt,
	}
	if len(row.Device) > 0 {
		if err := json.Unmarshal(row.Device, &t.Device); err != nil {
			return nil, errx.Wrap(err, "failed to decode refresh token device", errx.TypeInternal)
		}
	}
	return t, nil
}

// Get returns a refresh token by id, nil when absent.
func (r *PostgresRefreshTokenRepository) Get(ctx context.Context, tenantID kernel.TenantID, id string) (*session.RefreshToken, error) {
	query := `
		SELECT id, tenant_id, session_id, user_id, client_id, audience,
		       scopes, device, created_at, last_used_at, expires_at,
		       idle_expires_at
		FROM refresh_tokens
		WHERE tenant_id = $1 AND id = $2`

	var row refreshTokenRow
	err := r.db.GetContext(ctx, &row, query, tenantID.String(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get refresh token", errx.TypeInternal)
	}
	return row.toEntity()
}

// Create inserts a refresh token.
func (r *PostgresRefreshTokenRepository) Create(ctx context.Context, t *session.RefreshToken) error {
	device, err := json.Marshal(t.Device)
	if err != nil {
		return errx.Wrap(err, "failed to encode refresh token device", errx.TypeInternal)
	}

	query := `
		INSERT INTO refresh_tokens (
			id, tenant_id, session_id, user_id, client_id, audience,
			scopes, device, created_at, last_used_at, expires_at,
			idle_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.db.ExecContext(ctx, query,
		t.ID, t.TenantID.String(), t.SessionID.String(), t.UserID.String(),
		t.ClientID.String(), nullableString(t.Audience),
		pq.StringArray(t.Scopes), device, t.CreatedAt, t.LastUsedAt,
		t.ExpiresAt, t.IdleExpiresAt,
	)
	if err != nil {
		return errx.Wrap(err, "failed to create refresh token", errx.TypeInternal)
	}
	return nil
}

// Update rewrites the sliding-expiry fields after use.
func (r *PostgresRefreshTokenRepository) Update(ctx context.Context, t *session.RefreshToken) error {
	device, err := json.Marshal(t.Device)
	if err != nil {
		return errx.Wrap(err, "failed to encode refresh token device", errx.TypeInternal)
	}

	query := `
		UPDATE refresh_tokens SET
			device = $3, last_used_at = $4, expires_at = $5, idle_expires_at = $6
		WHERE tenant_id = $1 AND id = $2`

	_, err = r.db.ExecContext(ctx, query,
		t.TenantID.String(), t.ID, device, t.LastUsedAt, t.ExpiresAt, t.IdleExpiresAt,
	)
	if err != nil {
		return errx.Wrap(err, "failed to update refresh token", errx.TypeInternal)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
