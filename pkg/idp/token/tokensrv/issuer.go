package tokensrv

import (
	"context"
	"strings"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/signkey"
	"github.com/Abraxas-365/passport/pkg/idp/token"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/Abraxas-365/passport/pkg/logx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultAudience is used when the request carries no audience.
const defaultAudience = "default"

// Issuer mints access and id tokens with scope- and conformance-aware claim
// shaping.
type Issuer struct {
	keys          signkey.Repository
	users         user.Repository
	permissions   user.PermissionRepository
	refreshTokens session.RefreshTokenRepository

	issuerURL        string
	accessTokenTTL   time.Duration
	impersonationTTL time.Duration
	refreshTTL       time.Duration
	refreshIdleTTL   time.Duration

	now func() time.Time
}

// Config carries the issuer tunables.
type Config struct {
	IssuerURL        string
	AccessTokenTTL   time.Duration
	ImpersonationTTL time.Duration
	RefreshTokenTTL  time.Duration
	RefreshIdleTTL   time.Duration
}

// NewIssuer creates a token issuer.
func NewIssuer(keys signkey.Repository, users user.Repository, permissions user.PermissionRepository, refreshTokens session.RefreshTokenRepository, cfg Config) *Issuer {
	if cfg.AccessTokenTTL == 0 {
		cfg.AccessTokenTTL = 24 * time.Hour
	}
	if cfg.ImpersonationTTL == 0 {
		cfg.ImpersonationTTL = time.Hour
	}
	return &Issuer{
		keys:             keys,
		users:            users,
		permissions:      permissions,
		refreshTokens:    refreshTokens,
		issuerURL:        cfg.IssuerURL,
		accessTokenTTL:   cfg.AccessTokenTTL,
		impersonationTTL: cfg.ImpersonationTTL,
		refreshTTL:       cfg.RefreshTokenTTL,
		refreshIdleTTL:   cfg.RefreshIdleTTL,
		now:              time.Now,
	}
}

// Issue mints the token response for a finished grant.
func (i *Issuer) Issue(ctx context.Context, tenantID kernel.TenantID, p token.IssueParams) (*token.Response, error) {
	key, err := i.signingKey(ctx)
	if err != nil {
		return nil, err
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return nil, errx.Wrap(err, "failed to parse signing key", errx.TypeInternal).
			WithDetail("kid", key.KID)
	}

	now := i.now()
	ttl := i.accessTokenTTL
	if p.ImpersonatingUser != nil {
		ttl = i.impersonationTTL
	}

	accessClaims, err := i.accessClaims(ctx, tenantID, p, now, ttl)
	if err != nil {
		return nil, err
	}
	accessToken, err := i.sign(privateKey, key.KID, accessClaims)
	if err != nil {
		return nil, err
	}

	resp := &token.Response{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
	}

	if idClaims := i.idClaims(p, now, ttl); idClaims != nil {
		idToken, err := i.sign(privateKey, key.KID, idClaims)
		if err != nil {
			return nil, err
		}
		resp.IDToken = idToken
	}

	if err := i.recordStrategy(ctx, p); err != nil {
		// The strategy side effect must not fail an otherwise good login.
		logx.WithError(err).Warn("failed to record authentication strategy")
	}

	if rt, err := i.refreshTokenValue(ctx, tenantID, p); err != nil {
		return nil, err
	} else if rt != "" {
		resp.RefreshToken = rt
	}

	return resp, nil
}

// signingKey selects the most recently valid key from the key list.
func (i *Issuer) signingKey(ctx context.Context) (*signkey.SigningKey, error) {
	keys, err := i.keys.List(ctx)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list signing keys", errx.TypeInternal)
	}
	key := signkey.MostRecentValid(keys, i.now())
	if key == nil {
		return nil, idp.ErrMissingSigningKey()
	}
	return key, nil
}

func (i *Issuer) sign(privateKey interface{}, kid string, claims jwt.MapClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = kid
	signed, err := t.SignedString(privateKey)
	if err != nil {
		return "", errx.Wrap(err, "failed to sign token", errx.TypeInternal)
	}
	return signed, nil
}

func (i *Issuer) accessClaims(ctx context.Context, tenantID kernel.TenantID, p token.IssueParams, now time.Time, ttl time.Duration) (jwt.MapClaims, error) {
	audience := p.AuthParams.Audience
	if audience == "" {
		audience = defaultAudience
	}

	sub := p.Client.ID.String()
	if p.User != nil {
		sub = p.User.ID.String()
	}

	claims := jwt.MapClaims{
		"aud":       audience,
		"scope":     p.AuthParams.Scope,
		"sub":       sub,
		"iss":       i.issuerURL,
		"tenant_id": tenantID.String(),
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}

	if p.Organization != nil {
		claims["org_id"] = p.Organization.ID
		// org_name is lower-cased for cross-SDK compatibility and only
		// emitted when tenant policy allows it in the authentication API.
		if p.Organization.DisplayNameInToken {
			claims["org_name"] = strings.ToLower(p.Organization.Name)
		}
	}

	if p.ImpersonatingUser != nil {
		claims["act"] = map[string]interface{}{"sub": p.ImpersonatingUser.ID.String()}
	}

	if p.User != nil && i.permissions != nil {
		perms, err := i.permissions.List(ctx, tenantID, p.User.ID, audience)
		if err != nil {
			return nil, errx.Wrap(err, "failed to list user permissions", errx.TypeInternal).
				WithDetail("user_id", p.User.ID.String())
		}
		if len(perms) > 0 {
			claims["permissions"] = perms
		}
	}

	return claims, nil
}

// idClaims builds the id_token claims, or nil when no id_token is due.
// Profile and email claims are gated by scope and by the client conformance
// mode: an auth0-conformant client (or a response issuing only an id_token)
// gets them inline; a strict-OIDC client with an access token alongside must
// use the userinfo endpoint.
func (i *Issuer) idClaims(p token.IssueParams, now time.Time, ttl time.Duration) jwt.MapClaims {
	if p.User == nil || !p.AuthParams.HasScope("openid") {
		return nil
	}

	claims := jwt.MapClaims{
		"sub": p.User.ID.String(),
		"aud": p.Client.ID.String(),
		"iss": i.issuerURL,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if p.AuthParams.Nonce != "" {
		claims["nonce"] = p.AuthParams.Nonce
	}
	if !p.SessionID.IsEmpty() {
		claims["sid"] = p.SessionID.String()
	}

	idTokenOnly := p.AuthParams.ResponseTypeIncludes("id_token") &&
		!p.AuthParams.ResponseTypeIncludes("token") &&
		!p.AuthParams.ResponseTypeIncludes("code")
	includeProfileClaims := p.Client.Auth0Conformant || idTokenOnly

	if p.AuthParams.HasScope("profile") && includeProfileClaims {
		setIfPresent(claims, "name", p.User.Name)
		setIfPresent(claims, "nickname", p.User.Nickname)
		setIfPresent(claims, "picture", p.User.Picture)
		setIfPresent(claims, "given_name", p.User.GivenName)
		setIfPresent(claims, "family_name", p.User.FamilyName)
		setIfPresent(claims, "locale", p.User.Locale)
	}
	if p.AuthParams.HasScope("email") && includeProfileClaims {
		setIfPresent(claims, "email", p.User.Email)
		claims["email_verified"] = p.User.EmailVerified
	}

	return claims
}

// recordStrategy persists the connection strategy on first authentication,
// overwriting any previously recorded value.
func (i *Issuer) recordStrategy(ctx context.Context, p token.IssueParams) error {
	if p.User == nil || p.Strategy == "" || p.User.AppMetadata.Strategy == p.Strategy {
		return nil
	}
	p.User.AppMetadata.Strategy = p.Strategy
	return i.users.Update(ctx, p.User)
}

// refreshTokenValue returns the refresh token to include in the response:
// the reused id for refresh grants, or a freshly minted token when
// offline_access was granted on a session-bound login.
func (i *Issuer) refreshTokenValue(ctx context.Context, tenantID kernel.TenantID, p token.IssueParams) (string, error) {
	if p.RefreshTokenID != "" {
		return p.RefreshTokenID, nil
	}
	if p.User == nil || p.SessionID.IsEmpty() || !p.AuthParams.HasScope("offline_access") {
		return "", nil
	}

	now := i.now()
	rt := &session.RefreshToken{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		SessionID:     p.SessionID,
		UserID:        p.User.ID,
		ClientID:      p.Client.ID,
		Audience:      p.AuthParams.Audience,
		Scopes:        p.AuthParams.Scopes(),
		Device:        session.Device{IP: p.Device.IP, UserAgent: p.Device.UserAgent},
		CreatedAt:     now,
		LastUsedAt:    now,
		ExpiresAt:     now.Add(i.refreshTTL),
		IdleExpiresAt: now.Add(i.refreshIdleTTL),
	}
	if err := i.refreshTokens.Create(ctx, rt); err != nil {
		return "", errx.Wrap(err, "failed to create refresh token", errx.TypeInternal).
			WithDetail("user_id", p.User.ID.String())
	}
	return rt.ID, nil
}

func setIfPresent(claims jwt.MapClaims, key, value string) {
	if value != "" {
		claims[key] = value
	}
}
