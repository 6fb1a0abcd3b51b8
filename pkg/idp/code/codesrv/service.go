package codesrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/google/uuid"
)

// maxIssueAttempts bounds the collision retry loop during code generation.
const maxIssueAttempts = 3

// Service issues and redeems single-use codes on top of the atomic store.
type Service struct {
	codes code.Repository
	now   func() time.Time
}

// NewService creates the code service.
func NewService(codes code.Repository) *Service {
	return &Service{codes: codes, now: time.Now}
}

// Issue stores c with a fresh opaque id, retrying locally on the (extremely
// rare) id collision.
func (s *Service) Issue(ctx context.Context, c *code.Code) (*code.Code, error) {
	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		c.ID = uuid.NewString()
		c.CreatedAt = s.now()

		err := s.codes.Create(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errx.Is(err, code.ErrCodeCollision) {
			return nil, errx.Wrap(err, "failed to store code", errx.TypeInternal).
				WithDetail("code_type", string(c.Type))
		}
		lastErr = err
	}
	return nil, errx.Wrap(lastErr, "exhausted code generation retries", errx.TypeInternal).
		WithDetail("code_type", string(c.Type))
}

// Redeem atomically consumes a code and validates its expiry. A missing code
// is indistinguishable from an already-consumed one at the storage layer, so
// both surface as CODE_NOT_FOUND on first contact and the consumed case only
// shows up on a concurrent double redemption.
func (s *Service) Redeem(ctx context.Context, tenantID kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	c, err := s.codes.Consume(ctx, tenantID, id, typ)
	if err != nil {
		return nil, errx.Wrap(err, "failed to consume code", errx.TypeInternal).
			WithDetail("code_type", string(typ))
	}
	if c == nil {
		// Was it ever there? A stale Get can't answer reliably, so report
		// the not-found/already-used family the caller maps per grant.
		return nil, idp.ErrCodeNotFound().WithDetail("code_type", string(typ))
	}
	if c.UsedAt != nil {
		return nil, idp.ErrCodeAlreadyUsed().WithDetail("code_type", string(typ))
	}
	if c.IsExpired(s.now()) {
		return nil, idp.ErrCodeExpired().WithDetail("code_type", string(typ))
	}
	return c, nil
}

// Peek returns a code without consuming it, applying the same expiry check.
func (s *Service) Peek(ctx context.Context, tenantID kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	c, err := s.codes.Get(ctx, tenantID, id, typ)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load code", errx.TypeInternal).
			WithDetail("code_type", string(typ))
	}
	if c == nil {
		return nil, idp.ErrCodeNotFound().WithDetail("code_type", string(typ))
	}
	if c.IsExpired(s.now()) {
		return nil, idp.ErrCodeExpired().WithDetail("code_type", string(typ))
	}
	return c, nil
}
