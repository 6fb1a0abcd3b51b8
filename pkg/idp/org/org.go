package org

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Organization groups users under a tenant for org-scoped grants.
type Organization struct {
	ID       string          `db:"id" json:"id"`
	TenantID kernel.TenantID `db:"tenant_id" json:"tenant_id"`
	Name     string          `db:"name" json:"name"`

	// DisplayNameInToken controls whether org_name appears in access tokens
	// minted by the authentication API.
	DisplayNameInToken bool `db:"display_name_in_token" json:"display_name_in_token"`
}

// Repository is the storage contract for organizations.
type Repository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id string) (*Organization, error)
	IsMember(ctx context.Context, tenantID kernel.TenantID, orgID string, userID kernel.UserID) (bool, error)
}
