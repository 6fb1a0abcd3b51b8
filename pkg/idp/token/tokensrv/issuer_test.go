package tokensrv_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/org"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/signkey"
	"github.com/Abraxas-365/passport/pkg/idp/token"
	"github.com/Abraxas-365/passport/pkg/idp/token/tokensrv"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/golang-jwt/jwt/v5"
)

type fakeKeys struct {
	keys []*signkey.SigningKey
}

func (f *fakeKeys) List(context.Context) ([]*signkey.SigningKey, error) {
	return f.keys, nil
}

type fakeUsers struct {
	updated []*user.User
}

func (f *fakeUsers) Get(context.Context, kernel.TenantID, kernel.UserID) (*user.User, error) {
	return nil, nil
}
func (f *fakeUsers) FindByUsername(context.Context, kernel.TenantID, string, string) (*user.User, error) {
	return nil, nil
}
func (f *fakeUsers) FindPrimariesByEmail(context.Context, kernel.TenantID, string) ([]*user.User, error) {
	return nil, nil
}
func (f *fakeUsers) Create(context.Context, *user.User) error { return nil }
func (f *fakeUsers) Update(_ context.Context, u *user.User) error {
	cp := *u
	f.updated = append(f.updated, &cp)
	return nil
}

type fakePermissions struct {
	perms map[string][]string
}

func (f *fakePermissions) List(_ context.Context, _ kernel.TenantID, userID kernel.UserID, audience string) ([]string, error) {
	return f.perms[userID.String()+"/"+audience], nil
}

type fakeRefreshTokens struct {
	created []*session.RefreshToken
}

func (f *fakeRefreshTokens) Get(context.Context, kernel.TenantID, string) (*session.RefreshToken, error) {
	return nil, nil
}
func (f *fakeRefreshTokens) Create(_ context.Context, t *session.RefreshToken) error {
	cp := *t
	f.created = append(f.created, &cp)
	return nil
}
func (f *fakeRefreshTokens) Update(context.Context, *session.RefreshToken) error { return nil }

var tenant = kernel.NewTenantID("acme")

type fixture struct {
	issuer  *tokensrv.Issuer
	keys    *fakeKeys
	users   *fakeUsers
	perms   *fakePermissions
	refresh *fakeRefreshTokens
	public  *rsa.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(private),
	})

	keys := &fakeKeys{keys: []*signkey.SigningKey{{
		KID:        "key-1",
		PrivateKey: string(pemBytes),
		CreatedAt:  time.Now().Add(-time.Hour),
	}}}
	users := &fakeUsers{}
	perms := &fakePermissions{perms: map[string][]string{}}
	refresh := &fakeRefreshTokens{}

	issuer := tokensrv.NewIssuer(keys, users, perms, refresh, tokensrv.Config{
		IssuerURL:       "https://acme.passport.test",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 720 * time.Hour,
		RefreshIdleTTL:  72 * time.Hour,
	})

	return &fixture{issuer: issuer, keys: keys, users: users, perms: perms, refresh: refresh, public: &private.PublicKey}
}

func (f *fixture) parse(t *testing.T, raw string) (jwt.MapClaims, string) {
	t.Helper()
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return f.public, nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	kid, _ := parsed.Header["kid"].(string)
	return claims, kid
}

func testClient() *client.Client {
	return &client.Client{ID: kernel.NewClientID("web-app"), Auth0Conformant: true}
}

func testUser() *user.User {
	return &user.User{
		ID:            kernel.NewUserID("u1"),
		Email:         "ana@example.com",
		EmailVerified: true,
		Name:          "Ana",
		Nickname:      "ana",
	}
}

func TestIssueAccessTokenClaims(t *testing.T) {
	f := newFixture(t)
	u := testUser()
	f.perms.perms["u1/https://api.example.com"] = []string{"read:things", "write:things"}

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client: testClient(),
		User:   u,
		AuthParams: kernel.AuthParams{
			Scope:    "openid read:things",
			Audience: "https://api.example.com",
		},
		Organization: &org.Organization{ID: "org_1", Name: "Acme Corp", DisplayNameInToken: true},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 3600 {
		t.Fatalf("unexpected envelope: %+v", resp)
	}

	claims, kid := f.parse(t, resp.AccessToken)
	if kid != "key-1" {
		t.Fatalf("expected kid header, got %q", kid)
	}
	if claims["aud"] != "https://api.example.com" {
		t.Fatalf("aud = %v", claims["aud"])
	}
	if claims["sub"] != "u1" {
		t.Fatalf("sub = %v", claims["sub"])
	}
	if claims["iss"] != "https://acme.passport.test" {
		t.Fatalf("iss = %v", claims["iss"])
	}
	if claims["tenant_id"] != "acme" {
		t.Fatalf("tenant_id = %v", claims["tenant_id"])
	}
	if claims["org_id"] != "org_1" {
		t.Fatalf("org_id = %v", claims["org_id"])
	}
	if claims["org_name"] != "acme corp" {
		t.Fatalf("expected lower-cased org_name, got %v", claims["org_name"])
	}
	perms, ok := claims["permissions"].([]interface{})
	if !ok || len(perms) != 2 {
		t.Fatalf("permissions = %v", claims["permissions"])
	}
}

func TestIssueDefaultsAudience(t *testing.T) {
	f := newFixture(t)

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:     testClient(),
		AuthParams: kernel.AuthParams{Scope: "read:things"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, _ := f.parse(t, resp.AccessToken)
	if claims["aud"] != "default" {
		t.Fatalf("aud = %v", claims["aud"])
	}
	// Client-only grants subject the client itself and carry no id_token.
	if claims["sub"] != "web-app" {
		t.Fatalf("sub = %v", claims["sub"])
	}
	if resp.IDToken != "" {
		t.Fatal("expected no id_token without a user")
	}
}

func TestIDTokenRequiresOpenIDScope(t *testing.T) {
	f := newFixture(t)

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:     testClient(),
		User:       testUser(),
		AuthParams: kernel.AuthParams{Scope: "email profile"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.IDToken != "" {
		t.Fatal("expected no id_token without openid scope")
	}
}

func TestIDTokenProfileClaimGating(t *testing.T) {
	cases := []struct {
		name         string
		conformant   bool
		responseType string
		wantProfile  bool
	}{
		{"conformant client inlines claims", true, "code", true},
		{"strict client defers to userinfo", false, "code", false},
		{"id_token-only response inlines claims", false, "id_token", true},
		{"hybrid response defers", false, "code id_token", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			cl := testClient()
			cl.Auth0Conformant = tc.conformant

			resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
				Client: cl,
				User:   testUser(),
				AuthParams: kernel.AuthParams{
					Scope:        "openid profile email",
					ResponseType: tc.responseType,
				},
			})
			if err != nil {
				t.Fatalf("issue: %v", err)
			}
			if resp.IDToken == "" {
				t.Fatal("expected id_token")
			}

			claims, _ := f.parse(t, resp.IDToken)
			_, hasName := claims["name"]
			_, hasEmail := claims["email"]
			if hasName != tc.wantProfile || hasEmail != tc.wantProfile {
				t.Fatalf("profile claims present = %v/%v, want %v", hasName, hasEmail, tc.wantProfile)
			}
			if claims["sub"] != "u1" || claims["aud"] != "web-app" {
				t.Fatalf("unexpected id_token identity claims: %v", claims)
			}
		})
	}
}

func TestIDTokenCarriesNonceAndSession(t *testing.T) {
	f := newFixture(t)

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:    testClient(),
		User:      testUser(),
		SessionID: kernel.NewSessionID("sess-1"),
		AuthParams: kernel.AuthParams{
			Scope: "openid",
			Nonce: "n-0S6_WzA2Mj",
		},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	claims, _ := f.parse(t, resp.IDToken)
	if claims["nonce"] != "n-0S6_WzA2Mj" {
		t.Fatalf("nonce = %v", claims["nonce"])
	}
	if claims["sid"] != "sess-1" {
		t.Fatalf("sid = %v", claims["sid"])
	}
}

func TestOfflineAccessMintsRefreshToken(t *testing.T) {
	f := newFixture(t)

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:    testClient(),
		User:      testUser(),
		SessionID: kernel.NewSessionID("sess-1"),
		AuthParams: kernel.AuthParams{
			Scope:    "openid offline_access",
			Audience: "https://api.example.com",
		},
		Device: token.DeviceInfo{IP: "203.0.113.7", UserAgent: "test-agent"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.RefreshToken == "" {
		t.Fatal("expected refresh token")
	}
	if len(f.refresh.created) != 1 {
		t.Fatalf("expected one stored refresh token, got %d", len(f.refresh.created))
	}

	rt := f.refresh.created[0]
	if rt.ID != resp.RefreshToken {
		t.Fatal("response value must match the stored id")
	}
	if rt.SessionID.String() != "sess-1" || rt.UserID.String() != "u1" {
		t.Fatalf("unexpected binding: %+v", rt)
	}
	if rt.Device.IP != "203.0.113.7" {
		t.Fatalf("device = %+v", rt.Device)
	}
	if !rt.IdleExpiresAt.Before(rt.ExpiresAt) {
		t.Fatal("idle expiry must come before the hard expiry")
	}
}

func TestNoRefreshTokenWithoutOfflineAccess(t *testing.T) {
	f := newFixture(t)

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:     testClient(),
		User:       testUser(),
		SessionID:  kernel.NewSessionID("sess-1"),
		AuthParams: kernel.AuthParams{Scope: "openid"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.RefreshToken != "" {
		t.Fatal("expected no refresh token")
	}
	if len(f.refresh.created) != 0 {
		t.Fatal("expected no stored refresh token")
	}
}

func TestRefreshGrantReusesTokenValue(t *testing.T) {
	f := newFixture(t)

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:         testClient(),
		User:           testUser(),
		SessionID:      kernel.NewSessionID("sess-1"),
		RefreshTokenID: "rt-existing",
		AuthParams:     kernel.AuthParams{Scope: "openid offline_access"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.RefreshToken != "rt-existing" {
		t.Fatalf("expected reused value, got %q", resp.RefreshToken)
	}
	if len(f.refresh.created) != 0 {
		t.Fatal("refresh grants must not mint new tokens")
	}
}

func TestIssueRecordsStrategy(t *testing.T) {
	f := newFixture(t)
	u := testUser()

	_, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:     testClient(),
		User:       u,
		AuthParams: kernel.AuthParams{Scope: "openid"},
		Strategy:   "auth0",
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(f.users.updated) != 1 || f.users.updated[0].AppMetadata.Strategy != "auth0" {
		t.Fatalf("expected strategy persisted, got %+v", f.users.updated)
	}

	// A second login with the same strategy is a no-op.
	if _, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:     testClient(),
		User:       u,
		AuthParams: kernel.AuthParams{Scope: "openid"},
		Strategy:   "auth0",
	}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(f.users.updated) != 1 {
		t.Fatalf("expected no second update, got %d", len(f.users.updated))
	}
}

func TestIssueSkipsRevokedKeys(t *testing.T) {
	f := newFixture(t)

	revoked := time.Now().Add(-time.Minute)
	newer, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f.keys.keys = append(f.keys.keys, &signkey.SigningKey{
		KID: "key-2",
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(newer),
		})),
		CreatedAt: time.Now(),
		RevokedAt: &revoked,
	})

	resp, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:     testClient(),
		AuthParams: kernel.AuthParams{Scope: "read:things"},
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, kid := f.parse(t, resp.AccessToken); kid != "key-1" {
		t.Fatalf("expected fallback to the valid key, got %q", kid)
	}
}

func TestIssueWithoutSigningKeys(t *testing.T) {
	f := newFixture(t)
	f.keys.keys = nil

	_, err := f.issuer.Issue(context.Background(), tenant, token.IssueParams{
		Client:     testClient(),
		AuthParams: kernel.AuthParams{Scope: "read:things"},
	})
	if !errx.Is(err, idp.ErrMissingSigningKey()) {
		t.Fatalf("expected missing-signing-key error, got %v", err)
	}
}
