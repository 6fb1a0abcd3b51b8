package forminfra

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/form"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/jmoiron/sqlx"
)

// PostgresFormRepository is the PostgreSQL adapter for form.Repository.
// The node graph is stored as one JSONB document per form; forms are edited
// as a unit and read as a unit, so there is nothing to join.
type PostgresFormRepository struct {
	db *sqlx.DB
}

// NewPostgresFormRepository creates the form repository.
func NewPostgresFormRepository(db *sqlx.DB) form.Repository {
	return &PostgresFormRepository{db: db}
}

// Get returns a form with its node graph, nil when absent.
func (r *PostgresFormRepository) Get(ctx context.Context, tenantID kernel.TenantID, id string) (*form.Form, error) {
	query := `SELECT document FROM forms WHERE tenant_id = $1 AND id = $2`

	var document []byte
	err := r.db.GetContext(ctx, &document, query, tenantID.String(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get form", errx.TypeInternal).
			WithDetail("form_id", id)
	}

	var f form.Form
	if err := json.Unmarshal(document, &f); err != nil {
		return nil, errx.Wrap(err, "failed to decode form document", errx.TypeInternal).
			WithDetail("form_id", id)
	}
	f.ID = id
	return &f, nil
}

// PostgresFlowRepository is the PostgreSQL adapter for form.FlowRepository.
type PostgresFlowRepository struct {
	db *sqlx.DB
}

// NewPostgresFlowRepository creates the flow repository.
func NewPostgresFlowRepository(db *sqlx.DB) form.FlowRepository {
	return &PostgresFlowRepository{db: db}
}

// Get returns a flow, nil when absent.
func (r *PostgresFlowRepository) Get(ctx context.Context, tenantID kernel.TenantID, id string) (*form.Flow, error) {
	query := `SELECT document FROM flows WHERE tenant_id = $1 AND id = $2`

	var document []byte
	err := r.db.GetContext(ctx, &document, query, tenantID.String(), id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to get flow", errx.TypeInternal).
			WithDetail("flow_id", id)
	}

	var fl form.Flow
	if err := json.Unmarshal(document, &fl); err != nil {
		return nil, errx.Wrap(err, "failed to decode flow document", errx.TypeInternal).
			WithDetail("flow_id", id)
	}
	fl.ID = id
	return &fl, nil
}

// PostgresHookRepository is the PostgreSQL adapter for form.HookRepository.
type PostgresHookRepository struct {
	db *sqlx.DB
}

// NewPostgresHookRepository creates the hook repository.
func NewPostgresHookRepository(db *sqlx.DB) form.HookRepository {
	return &PostgresHookRepository{db: db}
}

type hookRow struct {
	ID        string         `db:"id"`
	TriggerID string         `db:"trigger_id"`
	Enabled   bool           `db:"enabled"`
	FormID    sql.NullString `db:"form_id"`
}

// List returns the hooks configured for a trigger, in configured order.
func (r *PostgresHookRepository) List(ctx context.Context, tenantID kernel.TenantID, triggerID string) ([]*form.Hook, error) {
	query := `
		SELECT id, trigger_id, enabled, form_id
		FROM hooks
		WHERE tenant_id = $1 AND trigger_id = $2
		ORDER BY position ASC`

	var rows []hookRow
	err := r.db.SelectContext(ctx, &rows, query, tenantID.String(), triggerID)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list hooks", errx.TypeInternal).
			WithDetail("trigger_id", triggerID)
	}

	hooks := make([]*form.Hook, 0, len(rows))
	for _, row := range rows {
		hooks = append(hooks, &form.Hook{
			ID:        row.ID,
			TriggerID: row.TriggerID,
			Enabled:   row.Enabled,
			FormID:    row.FormID.String,
		})
	}
	return hooks, nil
}
