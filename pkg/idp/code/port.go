package code

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Repository is the storage contract for single-use codes.
//
// Consume must be effectively atomic (compare-and-delete): two concurrent
// redemptions of the same (tenant, id, type) must never both succeed, or
// duplicate tokens get minted.
type Repository interface {
	// Get returns the code without consuming it, or nil when absent.
	Get(ctx context.Context, tenantID kernel.TenantID, id string, typ Type) (*Code, error)

	// Create stores a new code. Returns ErrCodeCollision when the
	// (tenant, id, type) key already exists.
	Create(ctx context.Context, c *Code) error

	// Consume atomically removes and returns the code, or nil when it was
	// absent or already consumed. Expiry is the caller's concern.
	Consume(ctx context.Context, tenantID kernel.TenantID, id string, typ Type) (*Code, error)
}

// CollisionError signals a key collision on Create. Generation retries
// locally; the condition is never surfaced to callers.
type CollisionError struct{}

func (CollisionError) Error() string { return "code id collision" }

// ErrCodeCollision is the sentinel returned by Create on a collision.
var ErrCodeCollision = CollisionError{}
