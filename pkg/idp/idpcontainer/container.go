// Package idpcontainer composes the identity-provider module: repositories,
// services and the protocol handler, wired from shared infrastructure.
package idpcontainer

import (
	"github.com/Abraxas-365/passport/pkg/config"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/client/clientinfra"
	"github.com/Abraxas-365/passport/pkg/idp/code/codeinfra"
	"github.com/Abraxas-365/passport/pkg/idp/code/codesrv"
	"github.com/Abraxas-365/passport/pkg/idp/form"
	"github.com/Abraxas-365/passport/pkg/idp/form/forminfra"
	"github.com/Abraxas-365/passport/pkg/idp/form/formsrv"
	"github.com/Abraxas-365/passport/pkg/idp/grant/grantsrv"
	"github.com/Abraxas-365/passport/pkg/idp/idpapi"
	"github.com/Abraxas-365/passport/pkg/idp/org"
	"github.com/Abraxas-365/passport/pkg/idp/org/orginfra"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/session/sessioninfra"
	"github.com/Abraxas-365/passport/pkg/idp/session/sessionsrv"
	"github.com/Abraxas-365/passport/pkg/idp/signkey"
	"github.com/Abraxas-365/passport/pkg/idp/signkey/signkeyinfra"
	"github.com/Abraxas-365/passport/pkg/idp/token/tokensrv"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/idp/user/userinfra"
	"github.com/Abraxas-365/passport/pkg/idp/user/usersrv"
	"github.com/Abraxas-365/passport/pkg/notifx"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Deps is the shared infrastructure the module builds on.
type Deps struct {
	DB     *sqlx.DB
	Redis  *redis.Client
	Mailer *notifx.Client
	Config *config.Config
}

// Container exposes the module's services and handler.
type Container struct {
	Users         user.Repository
	Clients       client.Repository
	Orgs          org.Repository
	Sessions      session.Repository
	LoginSessions session.LoginSessionRepository
	RefreshTokens session.RefreshTokenRepository
	SigningKeys   signkey.Repository
	Forms         form.Repository
	Flows         form.FlowRepository
	Hooks         form.HookRepository

	Codes    *codesrv.Service
	Linker   *usersrv.Linker
	Lockout  *usersrv.LockoutGuard
	Manager  *sessionsrv.Manager
	Pipeline *sessionsrv.Pipeline
	Grants   *grantsrv.Service
	Issuer   *tokensrv.Issuer

	Handler *idpapi.Handler
}

// New wires the full module.
func New(deps Deps) *Container {
	cfg := deps.Config

	users := userinfra.NewPostgresUserRepository(deps.DB)
	passwords := userinfra.NewPostgresPasswordRepository(deps.DB)
	permissions := userinfra.NewPostgresPermissionRepository(deps.DB)
	clients := clientinfra.NewPostgresClientRepository(deps.DB)
	orgs := orginfra.NewPostgresOrgRepository(deps.DB)
	sessions := sessioninfra.NewPostgresSessionRepository(deps.DB)
	loginSessions := sessioninfra.NewPostgresLoginSessionRepository(deps.DB)
	refreshTokens := sessioninfra.NewPostgresRefreshTokenRepository(deps.DB)
	signingKeys := signkeyinfra.NewPostgresSigningKeyRepository(deps.DB)
	forms := forminfra.NewPostgresFormRepository(deps.DB)
	flows := forminfra.NewPostgresFlowRepository(deps.DB)
	hooks := forminfra.NewPostgresHookRepository(deps.DB)
	codeRepo := codeinfra.NewRedisCodeRepository(deps.Redis)

	codes := codesrv.NewService(codeRepo)
	linker := usersrv.NewLinker(users)
	lockout := usersrv.NewLockoutGuard(users, cfg.Auth.LockoutWindow, cfg.Auth.LockoutThreshold)
	manager := sessionsrv.NewManager(loginSessions, sessions, cfg.Auth.LoginSessionTTL)
	resolver := formsrv.NewResolver(flows)
	pipeline := sessionsrv.NewPipeline(
		manager, sessions, users, forms, hooks, resolver, linker, codes,
		cfg.Server.IssuerURL, cfg.Auth.AuthorizationCodeTTL,
	)
	grants := grantsrv.NewService(
		clients, users, passwords, orgs, refreshTokens,
		codes, manager, linker, lockout, deps.Mailer,
		cfg.Auth, cfg.Email.From,
	)
	issuer := tokensrv.NewIssuer(signingKeys, users, permissions, refreshTokens, tokensrv.Config{
		IssuerURL:        cfg.Server.IssuerURL,
		AccessTokenTTL:   cfg.Auth.AccessTokenTTL,
		ImpersonationTTL: cfg.Auth.ImpersonationTTL,
		RefreshTokenTTL:  cfg.Auth.RefreshTokenTTL,
		RefreshIdleTTL:   cfg.Auth.RefreshTokenIdleTTL,
	})

	handler := idpapi.NewHandler(grants, issuer, manager, pipeline, clients, users, cfg)

	return &Container{
		Users:         users,
		Clients:       clients,
		Orgs:          orgs,
		Sessions:      sessions,
		LoginSessions: loginSessions,
		RefreshTokens: refreshTokens,
		SigningKeys:   signingKeys,
		Forms:         forms,
		Flows:         flows,
		Hooks:         hooks,
		Codes:         codes,
		Linker:        linker,
		Lockout:       lockout,
		Manager:       manager,
		Pipeline:      pipeline,
		Grants:        grants,
		Issuer:        issuer,
		Handler:       handler,
	}
}
