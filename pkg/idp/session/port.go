package session

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Repository is the storage contract for authenticated device sessions.
type Repository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id kernel.SessionID) (*Session, error)
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
}

// LoginSessionRepository is the storage contract for in-progress logins.
type LoginSessionRepository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id string) (*LoginSession, error)
	Create(ctx context.Context, ls *LoginSession) error
	Update(ctx context.Context, ls *LoginSession) error
}

// RefreshTokenRepository is the storage contract for refresh tokens.
type RefreshTokenRepository interface {
	Get(ctx context.Context, tenantID kernel.TenantID, id string) (*RefreshToken, error)
	Create(ctx context.Context, t *RefreshToken) error
	Update(ctx context.Context, t *RefreshToken) error
}
