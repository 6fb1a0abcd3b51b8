package grantsrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/passport/pkg/config"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/code/codesrv"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/idp/org"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/session/sessionsrv"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/idp/user/usersrv"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/Abraxas-365/passport/pkg/logx"
	"github.com/Abraxas-365/passport/pkg/notifx"
	"github.com/go-playground/validator/v10"
)

// DefaultConnection is the database connection used when the request does
// not name a realm.
const DefaultConnection = "Username-Password-Authentication"

// Service dispatches token requests to the handler for their grant type.
// Every handler returns a normalized Result the token issuer consumes.
type Service struct {
	clients       client.Repository
	users         user.Repository
	passwords     user.PasswordRepository
	orgs          org.Repository
	refreshTokens session.RefreshTokenRepository

	codes    *codesrv.Service
	sessions *sessionsrv.Manager
	linker   *usersrv.Linker
	lockout  *usersrv.LockoutGuard
	mailer   *notifx.Client

	cfg      config.AuthConfig
	from     string
	validate *validator.Validate
	now      func() time.Time
}

// NewService wires the grant dispatcher.
func NewService(
	clients client.Repository,
	users user.Repository,
	passwords user.PasswordRepository,
	orgs org.Repository,
	refreshTokens session.RefreshTokenRepository,
	codes *codesrv.Service,
	sessions *sessionsrv.Manager,
	linker *usersrv.Linker,
	lockout *usersrv.LockoutGuard,
	mailer *notifx.Client,
	cfg config.AuthConfig,
	from string,
) *Service {
	return &Service{
		clients:       clients,
		users:         users,
		passwords:     passwords,
		orgs:          orgs,
		refreshTokens: refreshTokens,
		codes:         codes,
		sessions:      sessions,
		linker:        linker,
		lockout:       lockout,
		mailer:        mailer,
		cfg:           cfg,
		from:          from,
		validate:      validator.New(),
		now:           time.Now,
	}
}

// Handle validates the request and dispatches on grant_type. Unknown types
// are rejected before any state is touched.
func (s *Service) Handle(ctx context.Context, tenantID kernel.TenantID, req grant.TokenRequest, meta kernel.RequestMeta) (*grant.Result, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, idp.ErrInvalidRequest(err.Error())
	}

	typ, ok := grant.ParseType(req.GrantType)
	if !ok {
		return nil, idp.ErrUnsupportedGrantType().WithDetail("grant_type", req.GrantType)
	}

	logx.WithFields(logx.Fields{
		"tenant_id":  tenantID.String(),
		"client_id":  req.ClientID,
		"grant_type": string(typ),
		"request_id": meta.RequestID,
	}).Debug("dispatching token request")

	switch typ {
	case grant.TypeAuthorizationCode:
		return s.handleAuthorizationCode(ctx, tenantID, req, meta)
	case grant.TypePassword:
		return s.handlePassword(ctx, tenantID, req, meta)
	case grant.TypeRefreshToken:
		return s.handleRefreshToken(ctx, tenantID, req, meta)
	case grant.TypeClientCredentials:
		return s.handleClientCredentials(ctx, tenantID, req)
	case grant.TypePasswordlessOTP:
		return s.handlePasswordlessOTP(ctx, tenantID, req, meta)
	case grant.TypeTicket:
		return s.handleTicket(ctx, tenantID, req, meta)
	default:
		return nil, idp.ErrUnsupportedGrantType().WithDetail("grant_type", req.GrantType)
	}
}

// loadClient resolves the request's client. A missing client is a tenant
// configuration fault, not a caller error.
func (s *Service) loadClient(ctx context.Context, tenantID kernel.TenantID, clientID string) (*client.Client, error) {
	cl, err := s.clients.Get(ctx, tenantID, kernel.NewClientID(clientID))
	if err != nil || cl == nil {
		return nil, idp.ErrClientNotFound().WithDetail("client_id", clientID)
	}
	return cl, nil
}

// resolveOrganization loads and validates an org when the request names one.
// Membership is checked only for grants with a user.
func (s *Service) resolveOrganization(ctx context.Context, tenantID kernel.TenantID, orgID string, u *user.User) (*org.Organization, error) {
	if orgID == "" {
		return nil, nil
	}
	o, err := s.orgs.Get(ctx, tenantID, orgID)
	if err != nil || o == nil {
		return nil, idp.ErrOrganizationNotFound().WithDetail("organization", orgID)
	}
	if u != nil {
		member, err := s.orgs.IsMember(ctx, tenantID, o.ID, u.ID)
		if err != nil {
			return nil, idp.ErrOrganizationNotFound().WithDetail("organization", orgID)
		}
		if !member {
			return nil, idp.ErrNotOrgMember().
				WithDetail("organization", orgID).
				WithDetail("user_id", u.ID.String())
		}
	}
	return o, nil
}
