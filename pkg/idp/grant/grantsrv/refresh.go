package grantsrv

import (
	"context"
	"strings"

	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

// handleRefreshToken rotates use of a stored refresh token. The token value
// itself is the opaque id; each use slides the idle window.
func (s *Service) handleRefreshToken(ctx context.Context, tenantID kernel.TenantID, req grant.TokenRequest, meta kernel.RequestMeta) (*grant.Result, error) {
	cl, err := s.loadClient(ctx, tenantID, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.ClientSecret != "" && !cl.SecretMatches(req.ClientSecret) {
		return nil, idp.ErrInvalidClientCredentials()
	}
	if req.RefreshToken == "" {
		return nil, idp.ErrInvalidRequest("refresh_token is required")
	}

	rt, err := s.refreshTokens.Get(ctx, tenantID, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	if rt == nil || rt.ClientID != cl.ID {
		return nil, idp.ErrInvalidRefreshToken()
	}
	if rt.IsExpired(s.now()) {
		return nil, idp.ErrRefreshTokenExpired()
	}

	u, err := s.users.Get(ctx, tenantID, rt.UserID)
	if err != nil || u == nil {
		return nil, idp.ErrInvalidRefreshToken().WithDetail("reason", "user gone")
	}
	u, err = s.linker.ResolvePrimary(ctx, u)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rt.LastUsedAt = now
	rt.IdleExpiresAt = now.Add(s.cfg.RefreshTokenIdleTTL)
	rt.Device = session.Device{IP: meta.IP, UserAgent: meta.UserAgent}
	if err := s.refreshTokens.Update(ctx, rt); err != nil {
		return nil, err
	}

	// A narrowed scope may be requested; an absent one keeps the grant's.
	scope := req.Scope
	if scope == "" {
		scope = strings.Join(rt.Scopes, " ")
	}

	o, err := s.resolveOrganization(ctx, tenantID, req.Organization, u)
	if err != nil {
		return nil, err
	}

	return &grant.Result{
		Client: cl,
		User:   u,
		AuthParams: kernel.AuthParams{
			ClientID: cl.ID,
			Scope:    scope,
			Audience: rt.Audience,
		},
		Organization:   o,
		SessionID:      rt.SessionID,
		RefreshTokenID: rt.ID,
	}, nil
}
