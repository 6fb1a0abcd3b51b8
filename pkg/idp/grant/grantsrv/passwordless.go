package grantsrv

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/Abraxas-365/passport/pkg/logx"
)

// StrategyEmail is the connection strategy recorded for OTP logins.
const StrategyEmail = "email"

// handlePasswordlessOTP exchanges a one-time code delivered out of band.
// Redemption is atomic; a second presentation of the same code fails.
func (s *Service) handlePasswordlessOTP(ctx context.Context, tenantID kernel.TenantID, req grant.TokenRequest, meta kernel.RequestMeta) (*grant.Result, error) {
	cl, err := s.loadClient(ctx, tenantID, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.OTP == "" {
		return nil, idp.ErrInvalidRequest("otp is required")
	}

	u, c, err := s.VerifyOTP(ctx, tenantID, cl, req.OTP)
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
			Nonce:    c.Nonce,
		},
		Organization: o,
		Strategy:     StrategyEmail,
	}, nil
}

// VerifyOTP redeems a one-time code and returns the canonical user behind
// it. The token endpoint and the hosted enter-code page both come through
// here so the two legs behave identically.
func (s *Service) VerifyOTP(ctx context.Context, tenantID kernel.TenantID, cl *client.Client, otp string) (*user.User, *code.Code, error) {
	c, err := s.codes.Redeem(ctx, tenantID, otp, code.TypeOTP)
	if err != nil {
		return nil, nil, err
	}
	if c.ClientID != cl.ID {
		return nil, nil, idp.ErrCodeNotFound().WithDetail("reason", "client mismatch")
	}

	u, err := s.users.Get(ctx, tenantID, c.UserID)
	if err != nil || u == nil {
		return nil, nil, idp.ErrUserNotFound().WithDetail("user_id", c.UserID.String())
	}

	// Completing an emailed OTP proves control of the address.
	if !u.EmailVerified && u.Email != "" {
		prev := *u
		u.EmailVerified = true
		if u, err = s.linker.Update(ctx, u, &prev); err != nil {
			return nil, nil, err
		}
	} else if u, err = s.linker.ResolvePrimary(ctx, u); err != nil {
		return nil, nil, err
	}
	return u, c, nil
}

// handleTicket exchanges a one-time login ticket. Tickets are bound to the
// IP they were minted for; a mismatch invalidates the attempt entirely so
// the caller restarts the login, rather than leaking why.
func (s *Service) handleTicket(ctx context.Context, tenantID kernel.TenantID, req grant.TokenRequest, meta kernel.RequestMeta) (*grant.Result, error) {
	cl, err := s.loadClient(ctx, tenantID, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.Ticket == "" {
		return nil, idp.ErrInvalidRequest("ticket is required")
	}

	c, err := s.codes.Redeem(ctx, tenantID, req.Ticket, code.TypeTicket)
	if err != nil {
		return nil, err
	}
	if c.ClientID != cl.ID {
		return nil, idp.ErrCodeNotFound().WithDetail("reason", "client mismatch")
	}
	if c.IPAddress != "" && c.IPAddress != meta.IP {
		logx.WithFields(logx.Fields{
			"tenant_id": tenantID.String(),
			"user_id":   c.UserID.String(),
		}).Warn("ticket presented from a different address")
		return nil, idp.ErrInvalidSession()
	}

	u, err := s.users.Get(ctx, tenantID, c.UserID)
	if err != nil || u == nil {
		return nil, idp.ErrUserNotFound().WithDetail("user_id", c.UserID.String())
	}
	u, err = s.linker.ResolvePrimary(ctx, u)
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
			Nonce:    c.Nonce,
		},
		Organization: o,
	}, nil
}
