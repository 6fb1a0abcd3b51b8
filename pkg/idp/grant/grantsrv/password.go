package grantsrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/Abraxas-365/passport/pkg/logx"
	"github.com/Abraxas-365/passport/pkg/notifx"
	"golang.org/x/crypto/bcrypt"
)

// handlePassword is the resource-owner password grant. The same credential
// check backs the interactive login's password step.
func (s *Service) handlePassword(ctx context.Context, tenantID kernel.TenantID, req grant.TokenRequest, meta kernel.RequestMeta) (*grant.Result, error) {
	cl, err := s.loadClient(ctx, tenantID, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.ClientSecret != "" && !cl.SecretMatches(req.ClientSecret) {
		return nil, idp.ErrInvalidClientCredentials()
	}

	u, err := s.AuthenticatePassword(ctx, tenantID, cl, nil, req.Username, req.Password, req.Realm)
	if err != nil {
		return nil, err
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
			Scope:    req.Scope,
			Audience: req.Audience,
			Username: req.Username,
		},
		Organization: o,
		Strategy:     connectionName(cl, req.Realm),
	}, nil
}

// connectionName resolves the connection a password check runs against:
// the requested realm, the client's default, or the shared database
// connection.
func connectionName(cl *client.Client, realm string) string {
	if realm != "" {
		return realm
	}
	if cl.DefaultConnection != "" {
		return cl.DefaultConnection
	}
	return DefaultConnection
}

// AuthenticatePassword runs the full credential check: user lookup, lockout
// guard, hash comparison, email-verification policy. When ls is non-nil the
// login session is moved alongside: a lockout fails it terminally, a wrong
// password keeps it open for retry.
//
// The lockout guard runs before the password is compared, so a locked
// account gives attackers nothing even with the right password.
func (s *Service) AuthenticatePassword(ctx context.Context, tenantID kernel.TenantID, cl *client.Client, ls *session.LoginSession, username, password, realm string) (*user.User, error) {
	provider := connectionName(cl, realm)

	u, err := s.users.FindByUsername(ctx, tenantID, username, provider)
	if err != nil {
		return nil, err
	}
	if u == nil {
		// No failure is recorded against a nonexistent account.
		if ls != nil {
			if rerr := s.sessions.CredentialRetry(ctx, ls); rerr != nil {
				return nil, rerr
			}
		}
		return nil, idp.ErrUserNotFound().WithDetail("username", username)
	}
	u, err = s.linker.ResolvePrimary(ctx, u)
	if err != nil {
		return nil, err
	}

	if err := s.lockout.Check(u); err != nil {
		if ls != nil {
			if ferr := s.sessions.Fail(ctx, ls); ferr != nil {
				return nil, ferr
			}
		}
		return nil, err
	}

	hash, err := s.passwords.Get(ctx, tenantID, u.ID)
	if err != nil || hash == "" {
		return nil, idp.ErrInvalidPassword().WithDetail("user_id", u.ID.String())
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		if rerr := s.lockout.RecordFailure(ctx, u); rerr != nil {
			return nil, rerr
		}
		if ls != nil {
			if rerr := s.sessions.CredentialRetry(ctx, ls); rerr != nil {
				return nil, rerr
			}
		}
		return nil, idp.ErrInvalidPassword().WithDetail("user_id", u.ID.String())
	}

	if cl.EnforcesEmailVerification() && !u.EmailVerified {
		if verr := s.sendVerificationEmail(ctx, tenantID, cl, u); verr != nil {
			logx.WithError(verr).WithFields(logx.Fields{
				"user_id": u.ID.String(),
			}).Error("failed to send verification email")
		}
		if ls != nil {
			if ferr := s.sessions.Fail(ctx, ls); ferr != nil {
				return nil, ferr
			}
		}
		return nil, idp.ErrEmailNotVerified().WithDetail("user_id", u.ID.String())
	}

	if err := s.lockout.Clear(ctx, u); err != nil {
		return nil, err
	}
	if ls != nil {
		// Persisted with the next transition; the exchange reads it back.
		ls.Strategy = provider
	}
	return u, nil
}

// sendVerificationEmail issues a fresh verification code and mails it.
func (s *Service) sendVerificationEmail(ctx context.Context, tenantID kernel.TenantID, cl *client.Client, u *user.User) error {
	c, err := s.codes.Issue(ctx, &code.Code{
		TenantID:  tenantID,
		Type:      code.TypeEmailVerification,
		ClientID:  cl.ID,
		UserID:    u.ID,
		ExpiresAt: s.now().Add(24 * time.Hour),
	})
	if err != nil {
		return err
	}
	return s.mailer.SendTemplatedEmail(ctx, "email_verification", map[string]interface{}{
		"Name": u.Name,
		"Code": c.ID,
	}, notifx.EmailMessage{
		From:    s.from,
		To:      []string{u.Email},
		Subject: "Verify your email address",
	})
}
