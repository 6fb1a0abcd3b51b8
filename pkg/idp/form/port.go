package form

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Repository is the storage contract for forms.
type Repository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id string) (*Form, error)
}

// FlowRepository fetches reusable flows referenced by FLOW nodes.
type FlowRepository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id string) (*Flow, error)
}

// HookRepository lists the hooks configured for a trigger.
type HookRepository interface {
	List(ctx context.Context, tenantID kernel.TenantID, triggerID string) ([]*Hook, error)
}
