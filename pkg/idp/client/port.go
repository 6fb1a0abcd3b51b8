package client

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Repository is the storage contract for clients. All lookups are
// tenant-scoped.
type Repository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id kernel.ClientID) (*Client, error)
}
