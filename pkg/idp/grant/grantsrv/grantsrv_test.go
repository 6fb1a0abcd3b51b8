package grantsrv_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/passport/pkg/config"
	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/idp/code/codesrv"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/idp/grant/grantsrv"
	"github.com/Abraxas-365/passport/pkg/idp/org"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/session/sessionsrv"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/idp/user/usersrv"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/Abraxas-365/passport/pkg/notifx"
	"golang.org/x/crypto/bcrypt"
)

var tenant = kernel.NewTenantID("acme")

// --- in-memory ports ---

type memClients map[kernel.ClientID]*client.Client

func (m memClients) Get(_ context.Context, _ kernel.TenantID, id kernel.ClientID) (*client.Client, error) {
	return m[id], nil
}

type memUsers struct {
	byID map[kernel.UserID]*user.User
}

func (m *memUsers) Get(_ context.Context, _ kernel.TenantID, id kernel.UserID) (*user.User, error) {
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByUsername(_ context.Context, _ kernel.TenantID, username, provider string) (*user.User, error) {
	for _, u := range m.byID {
		if u.Provider != provider {
			continue
		}
		if strings.EqualFold(u.Email, username) || u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) FindPrimariesByEmail(_ context.Context, _ kernel.TenantID, email string) ([]*user.User, error) {
	var out []*user.User
	for _, u := range m.byID {
		if u.LinkedTo == nil && strings.ToLower(u.Email) == email {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memUsers) Create(_ context.Context, u *user.User) error {
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) Update(_ context.Context, u *user.User) error {
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

type memPasswords map[kernel.UserID]string

func (m memPasswords) Get(_ context.Context, _ kernel.TenantID, id kernel.UserID) (string, error) {
	return m[id], nil
}

func (m memPasswords) Set(_ context.Context, _ kernel.TenantID, id kernel.UserID, hash string) error {
	m[id] = hash
	return nil
}

type memOrgs struct {
	orgs    map[string]*org.Organization
	members map[string]bool // orgID/userID
}

func (m *memOrgs) Get(_ context.Context, _ kernel.TenantID, id string) (*org.Organization, error) {
	return m.orgs[id], nil
}

func (m *memOrgs) IsMember(_ context.Context, _ kernel.TenantID, orgID string, userID kernel.UserID) (bool, error) {
	return m.members[orgID+"/"+userID.String()], nil
}

type memRefreshTokens map[string]*session.RefreshToken

func (m memRefreshTokens) Get(_ context.Context, _ kernel.TenantID, id string) (*session.RefreshToken, error) {
	return m[id], nil
}

func (m memRefreshTokens) Create(_ context.Context, t *session.RefreshToken) error {
	cp := *t
	m[t.ID] = &cp
	return nil
}

func (m memRefreshTokens) Update(_ context.Context, t *session.RefreshToken) error {
	cp := *t
	m[t.ID] = &cp
	return nil
}

type memCodes map[string]*code.Code

func (m memCodes) key(tenantID kernel.TenantID, id string, typ code.Type) string {
	return tenantID.String() + "/" + string(typ) + "/" + id
}

func (m memCodes) Get(_ context.Context, tenantID kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	return m[m.key(tenantID, id, typ)], nil
}

func (m memCodes) Create(_ context.Context, c *code.Code) error {
	k := m.key(c.TenantID, c.ID, c.Type)
	if _, exists := m[k]; exists {
		return code.ErrCodeCollision
	}
	cp := *c
	m[k] = &cp
	return nil
}

func (m memCodes) Consume(_ context.Context, tenantID kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	k := m.key(tenantID, id, typ)
	c, ok := m[k]
	if !ok {
		return nil, nil
	}
	delete(m, k)
	return c, nil
}

type memLoginSessions map[string]*session.LoginSession

func (m memLoginSessions) Get(_ context.Context, _ kernel.TenantID, id string) (*session.LoginSession, error) {
	ls, ok := m[id]
	if !ok {
		return nil, nil
	}
	cp := *ls
	return &cp, nil
}

func (m memLoginSessions) Create(_ context.Context, ls *session.LoginSession) error {
	cp := *ls
	m[ls.ID] = &cp
	return nil
}

func (m memLoginSessions) Update(_ context.Context, ls *session.LoginSession) error {
	cp := *ls
	m[ls.ID] = &cp
	return nil
}

type memSessions map[kernel.SessionID]*session.Session

func (m memSessions) Get(_ context.Context, _ kernel.TenantID, id kernel.SessionID) (*session.Session, error) {
	s, ok := m[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m memSessions) Create(_ context.Context, s *session.Session) error {
	cp := *s
	m[s.ID] = &cp
	return nil
}

func (m memSessions) Update(_ context.Context, s *session.Session) error {
	cp := *s
	m[s.ID] = &cp
	return nil
}

type capturingSender struct {
	sent []notifx.EmailMessage
}

func (c *capturingSender) SendEmail(_ context.Context, msg notifx.EmailMessage) error {
	c.sent = append(c.sent, msg)
	return nil
}

// --- fixture ---

type fixture struct {
	svc           *grantsrv.Service
	clients       memClients
	users         *memUsers
	passwords     memPasswords
	orgs          *memOrgs
	refreshTokens memRefreshTokens
	codes         memCodes
	loginSessions memLoginSessions
	sessions      memSessions
	sender        *capturingSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clients:       memClients{},
		users:         &memUsers{byID: map[kernel.UserID]*user.User{}},
		passwords:     memPasswords{},
		orgs:          &memOrgs{orgs: map[string]*org.Organization{}, members: map[string]bool{}},
		refreshTokens: memRefreshTokens{},
		codes:         memCodes{},
		loginSessions: memLoginSessions{},
		sessions:      memSessions{},
		sender:        &capturingSender{},
	}

	mailer := notifx.NewClient(f.sender)
	if err := mailer.RegisterTemplate("email_verification", "<p>{{.Name}}: {{.Code}}</p>"); err != nil {
		t.Fatalf("register template: %v", err)
	}

	codeSvc := codesrv.NewService(f.codes)
	manager := sessionsrv.NewManager(f.loginSessions, f.sessions, 15*time.Minute)
	linker := usersrv.NewLinker(f.users)
	lockout := usersrv.NewLockoutGuard(f.users, 5*time.Minute, 3)

	f.svc = grantsrv.NewService(
		f.clients,
		f.users,
		f.passwords,
		f.orgs,
		f.refreshTokens,
		codeSvc,
		manager,
		linker,
		lockout,
		mailer,
		config.AuthConfig{RefreshTokenIdleTTL: 72 * time.Hour},
		"no-reply@passport.test",
	)
	return f
}

func (f *fixture) addClient(t *testing.T, cl *client.Client) *client.Client {
	t.Helper()
	f.clients[cl.ID] = cl
	return cl
}

func (f *fixture) addUser(t *testing.T, u *user.User, password string) *user.User {
	t.Helper()
	if u.Provider == "" {
		u.Provider = grantsrv.DefaultConnection
	}
	f.users.byID[u.ID] = u
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("hash password: %v", err)
		}
		f.passwords[u.ID] = string(hash)
	}
	return u
}

func (f *fixture) addLoginSession(ls *session.LoginSession) *session.LoginSession {
	if ls.ExpiresAt.IsZero() {
		ls.ExpiresAt = time.Now().Add(10 * time.Minute)
	}
	f.loginSessions[ls.ID] = ls
	return ls
}

func (f *fixture) addCode(c *code.Code) *code.Code {
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = time.Now().Add(5 * time.Minute)
	}
	f.codes[f.codes.key(c.TenantID, c.ID, c.Type)] = c
	return c
}

func confidentialClient() *client.Client {
	return &client.Client{
		ID:     kernel.NewClientID("web-app"),
		Secret: "s3cret",
	}
}

// --- dispatcher ---

func TestHandleRejectsUnknownGrantType(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: "urn:example:made-up",
		ClientID:  "web-app",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrUnsupportedGrantType()) {
		t.Fatalf("expected unsupported grant type, got %v", err)
	}
}

func TestHandleValidatesRequiredFields(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypeClientCredentials),
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidRequest("")) {
		t.Fatalf("expected invalid request for missing client_id, got %v", err)
	}
}

func TestHandleUnknownClient(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeClientCredentials),
		ClientID:     "ghost",
		ClientSecret: "x",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrClientNotFound()) {
		t.Fatalf("expected client not found, got %v", err)
	}
}

// --- authorization_code ---

func authCodeFixture(t *testing.T, f *fixture, verifier string) (*client.Client, *user.User, *session.LoginSession, *code.Code) {
	t.Helper()
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "")

	ls := f.addLoginSession(&session.LoginSession{
		ID:       "ls-1",
		TenantID: tenant,
		State:    session.StateAuthenticated,
		Strategy: grantsrv.DefaultConnection,
		AuthParams: kernel.AuthParams{
			ClientID:    cl.ID,
			Scope:       "openid",
			RedirectURI: "https://app.example.com/callback",
		},
	})

	challenge := ""
	method := ""
	if verifier != "" {
		var err error
		method = "S256"
		challenge, err = grant.ComputeChallenge(method, verifier)
		if err != nil {
			t.Fatalf("compute challenge: %v", err)
		}
	}

	c := f.addCode(&code.Code{
		ID:                  "code-1",
		TenantID:            tenant,
		Type:                code.TypeAuthorizationCode,
		ClientID:            cl.ID,
		UserID:              u.ID,
		LoginSessionID:      ls.ID,
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
	})
	return cl, u, ls, c
}

func TestAuthorizationCodeExchangeWithPKCE(t *testing.T) {
	f := newFixture(t)
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	cl, u, ls, c := authCodeFixture(t, f, verifier)

	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeAuthorizationCode),
		ClientID:     cl.ID.String(),
		Code:         c.ID,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: verifier,
	}, kernel.RequestMeta{IP: "203.0.113.7", UserAgent: "test"})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if res.User.ID != u.ID {
		t.Fatalf("user = %v", res.User.ID)
	}
	if res.AuthParams.Scope != "openid" {
		t.Fatalf("expected the authorize-time scope, got %q", res.AuthParams.Scope)
	}
	if res.SessionID.IsEmpty() {
		t.Fatal("expected a device session to be created")
	}
	if f.sessions[res.SessionID] == nil {
		t.Fatal("expected session persisted")
	}

	stored := f.loginSessions[ls.ID]
	if stored.State != session.StateCompleted || !stored.LoginCompleted {
		t.Fatalf("expected completed login session, got %+v", stored)
	}
	if res.Strategy != grantsrv.DefaultConnection {
		t.Fatalf("expected the login session's strategy, got %q", res.Strategy)
	}
}

func TestAuthorizationCodeSecondRedemptionFails(t *testing.T) {
	f := newFixture(t)
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	cl, _, _, c := authCodeFixture(t, f, verifier)

	req := grant.TokenRequest{
		GrantType:    string(grant.TypeAuthorizationCode),
		ClientID:     cl.ID.String(),
		Code:         c.ID,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: verifier,
	}
	if _, err := f.svc.Handle(context.Background(), tenant, req, kernel.RequestMeta{}); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err := f.svc.Handle(context.Background(), tenant, req, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrCodeNotFound()) {
		t.Fatalf("expected burned code, got %v", err)
	}
}

func TestAuthorizationCodeRedirectMismatch(t *testing.T) {
	f := newFixture(t)
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	cl, _, _, c := authCodeFixture(t, f, verifier)

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeAuthorizationCode),
		ClientID:     cl.ID.String(),
		Code:         c.ID,
		RedirectURI:  "https://evil.example.com/callback",
		CodeVerifier: verifier,
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidRedirectURI()) {
		t.Fatalf("expected redirect mismatch, got %v", err)
	}
}

func TestAuthorizationCodeWrongVerifier(t *testing.T) {
	f := newFixture(t)
	cl, _, _, c := authCodeFixture(t, f, "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeAuthorizationCode),
		ClientID:     cl.ID.String(),
		Code:         c.ID,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: "not-the-right-verifier-at-all-0000000000000",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidClientCredentials()) {
		t.Fatalf("expected pkce failure, got %v", err)
	}
}

func TestAuthorizationCodeRequiresExactlyOneProof(t *testing.T) {
	f := newFixture(t)
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	cl, _, _, c := authCodeFixture(t, f, verifier)

	// Both proofs.
	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeAuthorizationCode),
		ClientID:     cl.ID.String(),
		ClientSecret: "s3cret",
		Code:         c.ID,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: verifier,
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidRequest("")) {
		t.Fatalf("expected rejection of secret+verifier, got %v", err)
	}

	// Neither proof; the code above was burned, seed another.
	_, _, _, c2 := authCodeFixture(t, f, verifier)
	c2.ID = "code-2"
	f.addCode(c2)
	_, err = f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:   string(grant.TypeAuthorizationCode),
		ClientID:    cl.ID.String(),
		Code:        "code-2",
		RedirectURI: "https://app.example.com/callback",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidRequest("")) {
		t.Fatalf("expected rejection of missing proof, got %v", err)
	}
}

// --- password ---

func TestPasswordGrant(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "hunter22")

	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypePassword),
		ClientID:  cl.ID.String(),
		Username:  "ana@example.com",
		Password:  "hunter22",
		Scope:     "openid",
	}, kernel.RequestMeta{})
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	if res.User == nil || res.User.Email != "ana@example.com" {
		t.Fatalf("unexpected user: %+v", res.User)
	}
	if res.Strategy != grantsrv.DefaultConnection {
		t.Fatalf("strategy = %q", res.Strategy)
	}
}

func TestPasswordGrantWrongPasswordRecordsFailure(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "hunter22")

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypePassword),
		ClientID:  cl.ID.String(),
		Username:  "ana@example.com",
		Password:  "wrong",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidPassword()) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	if got := len(f.users.byID[u.ID].AppMetadata.FailedLogins); got != 1 {
		t.Fatalf("expected one recorded failure, got %d", got)
	}
}

func TestPasswordGrantLockout(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "hunter22")

	now := time.Now().UnixMilli()
	u.AppMetadata.FailedLogins = []int64{now - 3000, now - 2000, now - 1000}

	// Even the correct password is refused while locked.
	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypePassword),
		ClientID:  cl.ID.String(),
		Username:  "ana@example.com",
		Password:  "hunter22",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrTooManyFailedLogins()) {
		t.Fatalf("expected lockout, got %v", err)
	}
}

func TestPasswordGrantUnknownUser(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypePassword),
		ClientID:  cl.ID.String(),
		Username:  "nobody@example.com",
		Password:  "whatever",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrUserNotFound()) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestPasswordGrantUnverifiedEmailSendsVerification(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	cl.EmailValidation = client.EmailValidationEnforced
	f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", Name: "Ana"}, "hunter22")

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypePassword),
		ClientID:  cl.ID.String(),
		Username:  "ana@example.com",
		Password:  "hunter22",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrEmailNotVerified()) {
		t.Fatalf("expected email-not-verified, got %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one verification email, got %d", len(f.sender.sent))
	}
	if f.sender.sent[0].To[0] != "ana@example.com" {
		t.Fatalf("unexpected recipient: %v", f.sender.sent[0].To)
	}
}

func TestPasswordGrantAuthenticatesLinkedPrimary(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())

	primaryID := kernel.NewUserID("primary")
	f.addUser(t, &user.User{ID: primaryID, TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "hunter22")
	f.addUser(t, &user.User{
		ID:            kernel.NewUserID("secondary"),
		TenantID:      tenant,
		Email:         "ana@example.com",
		EmailVerified: true,
		Username:      "ana",
		Provider:      "ldap",
		LinkedTo:      &primaryID,
	}, "")

	// The credential matches the secondary identity; everything after the
	// lookup runs against the resolved primary.
	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypePassword),
		ClientID:  cl.ID.String(),
		Username:  "ana",
		Password:  "hunter22",
		Realm:     "ldap",
	}, kernel.RequestMeta{})
	if err != nil {
		t.Fatalf("expected linked login to succeed, got %v", err)
	}
	if res.User.ID != primaryID {
		t.Fatalf("expected primary user, got %v", res.User.ID)
	}
	if res.Strategy != "ldap" {
		t.Fatalf("expected the realm as strategy, got %q", res.Strategy)
	}
}

// --- refresh_token ---

func TestRefreshTokenGrant(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "")

	now := time.Now()
	f.refreshTokens["rt-1"] = &session.RefreshToken{
		ID:            "rt-1",
		TenantID:      tenant,
		SessionID:     kernel.NewSessionID("sess-1"),
		UserID:        u.ID,
		ClientID:      cl.ID,
		Audience:      "https://api.example.com",
		Scopes:        []string{"openid", "offline_access"},
		ExpiresAt:     now.Add(time.Hour),
		IdleExpiresAt: now.Add(time.Hour),
	}

	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeRefreshToken),
		ClientID:     cl.ID.String(),
		RefreshToken: "rt-1",
	}, kernel.RequestMeta{IP: "203.0.113.9"})
	if err != nil {
		t.Fatalf("refresh grant: %v", err)
	}
	if res.RefreshTokenID != "rt-1" {
		t.Fatalf("expected reused token id, got %q", res.RefreshTokenID)
	}
	if res.AuthParams.Scope != "openid offline_access" {
		t.Fatalf("expected the grant's scopes, got %q", res.AuthParams.Scope)
	}
	if res.AuthParams.Audience != "https://api.example.com" {
		t.Fatalf("audience = %q", res.AuthParams.Audience)
	}

	stored := f.refreshTokens["rt-1"]
	if !stored.IdleExpiresAt.After(now.Add(time.Hour)) {
		t.Fatal("expected idle window to slide forward")
	}
	if stored.Device.IP != "203.0.113.9" {
		t.Fatalf("expected device refresh, got %+v", stored.Device)
	}
}

func TestRefreshTokenExpired(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com"}, "")

	now := time.Now()
	f.refreshTokens["rt-1"] = &session.RefreshToken{
		ID:            "rt-1",
		TenantID:      tenant,
		UserID:        u.ID,
		ClientID:      cl.ID,
		ExpiresAt:     now.Add(time.Hour),
		IdleExpiresAt: now.Add(-time.Minute),
	}

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeRefreshToken),
		ClientID:     cl.ID.String(),
		RefreshToken: "rt-1",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrRefreshTokenExpired()) {
		t.Fatalf("expected idle expiry, got %v", err)
	}
}

func TestRefreshTokenWrongClient(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())

	f.refreshTokens["rt-1"] = &session.RefreshToken{
		ID:            "rt-1",
		TenantID:      tenant,
		ClientID:      kernel.NewClientID("other-app"),
		ExpiresAt:     time.Now().Add(time.Hour),
		IdleExpiresAt: time.Now().Add(time.Hour),
	}

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeRefreshToken),
		ClientID:     cl.ID.String(),
		RefreshToken: "rt-1",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidRefreshToken()) {
		t.Fatalf("expected invalid refresh token, got %v", err)
	}
}

// --- client_credentials ---

func TestClientCredentialsGrant(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())

	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeClientCredentials),
		ClientID:     cl.ID.String(),
		ClientSecret: "s3cret",
		Audience:     "https://api.example.com",
	}, kernel.RequestMeta{})
	if err != nil {
		t.Fatalf("client credentials: %v", err)
	}
	if res.User != nil {
		t.Fatal("machine grants carry no user")
	}
	if res.AuthParams.Audience != "https://api.example.com" {
		t.Fatalf("audience = %q", res.AuthParams.Audience)
	}
}

func TestClientCredentialsWrongSecret(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypeClientCredentials),
		ClientID:     cl.ID.String(),
		ClientSecret: "nope",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrInvalidClientCredentials()) {
		t.Fatalf("expected credential rejection, got %v", err)
	}
}

// --- passwordless / ticket ---

func TestPasswordlessOTPMarksEmailVerified(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com"}, "")

	f.addCode(&code.Code{
		ID:       "otp-1",
		TenantID: tenant,
		Type:     code.TypeOTP,
		ClientID: cl.ID,
		UserID:   u.ID,
		Nonce:    "n-1",
	})

	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypePasswordlessOTP),
		ClientID:  cl.ID.String(),
		OTP:       "otp-1",
	}, kernel.RequestMeta{})
	if err != nil {
		t.Fatalf("otp grant: %v", err)
	}
	if !res.User.EmailVerified {
		t.Fatal("completing an otp proves the address")
	}
	if !f.users.byID[u.ID].EmailVerified {
		t.Fatal("expected verification persisted")
	}
	if res.AuthParams.Nonce != "n-1" {
		t.Fatalf("expected the authorize-time nonce, got %q", res.AuthParams.Nonce)
	}
	if res.Strategy != grantsrv.StrategyEmail {
		t.Fatalf("strategy = %q", res.Strategy)
	}
}

func TestTicketBoundToIP(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "")

	f.addCode(&code.Code{
		ID:        "ticket-1",
		TenantID:  tenant,
		Type:      code.TypeTicket,
		ClientID:  cl.ID,
		UserID:    u.ID,
		IPAddress: "203.0.113.7",
	})

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypeTicket),
		ClientID:  cl.ID.String(),
		Ticket:    "ticket-1",
	}, kernel.RequestMeta{IP: "198.51.100.4"})
	if !errx.Is(err, idp.ErrInvalidSession()) {
		t.Fatalf("expected ip binding rejection, got %v", err)
	}
}

func TestTicketGrant(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	u := f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "")

	f.addCode(&code.Code{
		ID:        "ticket-1",
		TenantID:  tenant,
		Type:      code.TypeTicket,
		ClientID:  cl.ID,
		UserID:    u.ID,
		IPAddress: "203.0.113.7",
	})

	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType: string(grant.TypeTicket),
		ClientID:  cl.ID.String(),
		Ticket:    "ticket-1",
	}, kernel.RequestMeta{IP: "203.0.113.7"})
	if err != nil {
		t.Fatalf("ticket grant: %v", err)
	}
	if res.User.ID != u.ID {
		t.Fatalf("user = %v", res.User.ID)
	}
}

// --- organization resolution ---

func TestOrganizationMembershipRequired(t *testing.T) {
	f := newFixture(t)
	cl := f.addClient(t, confidentialClient())
	f.addUser(t, &user.User{ID: kernel.NewUserID("u1"), TenantID: tenant, Email: "ana@example.com", EmailVerified: true}, "hunter22")
	f.orgs.orgs["org_1"] = &org.Organization{ID: "org_1", TenantID: tenant, Name: "Acme"}

	_, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypePassword),
		ClientID:     cl.ID.String(),
		Username:     "ana@example.com",
		Password:     "hunter22",
		Organization: "org_1",
	}, kernel.RequestMeta{})
	if !errx.Is(err, idp.ErrNotOrgMember()) {
		t.Fatalf("expected membership rejection, got %v", err)
	}

	f.orgs.members["org_1/u1"] = true
	res, err := f.svc.Handle(context.Background(), tenant, grant.TokenRequest{
		GrantType:    string(grant.TypePassword),
		ClientID:     cl.ID.String(),
		Username:     "ana@example.com",
		Password:     "hunter22",
		Organization: "org_1",
	}, kernel.RequestMeta{})
	if err != nil {
		t.Fatalf("member login: %v", err)
	}
	if res.Organization == nil || res.Organization.ID != "org_1" {
		t.Fatalf("organization = %+v", res.Organization)
	}
}
