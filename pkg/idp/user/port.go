package user

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Repository is the storage contract for users. All lookups are
// tenant-scoped.
type Repository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id kernel.UserID) (*User, error)

	// FindByUsername resolves a user by login identifier within one provider
	// (connection). Returns nil, nil when no user matches.
	FindByUsername(ctx context.Context, tenantID kernel.TenantID, username, provider string) (*User, error)

	// FindPrimariesByEmail returns unlinked users whose lower-cased email
	// equals the given (already normalized) address.
	FindPrimariesByEmail(ctx context.Context, tenantID kernel.TenantID, email string) ([]*User, error)

	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
}

// PasswordRepository stores password hashes separately from the user record.
type PasswordRepository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, userID kernel.UserID) (string, error)
	Set(ctx context.Context, tenantID kernel.TenantID, userID kernel.UserID, hash string) error
}

// PermissionRepository lists the RBAC permissions granted to a user for an
// audience.
type PermissionRepository interface {
	List(ctx context.Context, tenantID kernel.TenantID, userID kernel.UserID, audience string) ([]string, error)
}
