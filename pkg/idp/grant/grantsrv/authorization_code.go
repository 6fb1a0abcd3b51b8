package grantsrv

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

// handleAuthorizationCode redeems an authorization code issued at the end of
// an interactive login. The code is consumed atomically before any check, so
// a failed exchange burns it.
func (s *Service) handleAuthorizationCode(ctx context.Context, tenantID kernel.TenantID, req grant.TokenRequest, meta kernel.RequestMeta) (*grant.Result, error) {
	cl, err := s.loadClient(ctx, tenantID, req.ClientID)
	if err != nil {
		return nil, err
	}

	c, err := s.codes.Redeem(ctx, tenantID, req.Code, code.TypeAuthorizationCode)
	if err != nil {
		return nil, err
	}
	if c.ClientID != cl.ID {
		return nil, idp.ErrCodeNotFound().WithDetail("reason", "client mismatch")
	}

	// Confidential clients present a secret, public clients a PKCE verifier.
	// Exactly one of the two must be present.
	hasSecret := req.ClientSecret != ""
	hasVerifier := req.CodeVerifier != ""
	switch {
	case hasSecret == hasVerifier:
		return nil, idp.ErrInvalidRequest("exactly one of client_secret or code_verifier must be provided")
	case hasSecret:
		if !cl.SecretMatches(req.ClientSecret) {
			return nil, idp.ErrInvalidClientCredentials()
		}
	default:
		if c.CodeChallenge == "" {
			return nil, idp.ErrInvalidRequest("code was not issued with a code_challenge")
		}
		if !grant.VerifyChallenge(c.CodeChallengeMethod, req.CodeVerifier, c.CodeChallenge) {
			return nil, idp.ErrInvalidClientCredentials().WithDetail("reason", "pkce verification failed")
		}
	}

	// The redemption must present the redirect_uri recorded at authorization
	// time, when one was recorded.
	if c.RedirectURI != "" && c.RedirectURI != req.RedirectURI {
		return nil, idp.ErrInvalidRedirectURI()
	}

	ls, err := s.sessions.Load(ctx, tenantID, c.LoginSessionID, "")
	if err != nil {
		return nil, err
	}

	u, err := s.users.Get(ctx, tenantID, c.UserID)
	if err != nil || u == nil {
		return nil, idp.ErrUserNotFound().WithDetail("user_id", c.UserID.String())
	}
	u, err = s.linker.ResolvePrimary(ctx, u)
	if err != nil {
		return nil, err
	}

	o, err := s.resolveOrganization(ctx, tenantID, ls.AuthParams.Organization, u)
	if err != nil {
		return nil, err
	}

	sessionID := ls.SessionID
	if sessionID.IsEmpty() {
		sess, err := s.sessions.CreateSession(ctx, tenantID, u.ID, cl.ID, session.Device{
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
		ls.SessionID = sessionID
	}
	if err := s.sessions.Complete(ctx, ls); err != nil {
		return nil, err
	}

	return &grant.Result{
		Client:       cl,
		User:         u,
		AuthParams:   ls.AuthParams,
		Organization: o,
		SessionID:    sessionID,
		Strategy:     ls.Strategy,
		LoginSession: ls,
	}, nil
}
