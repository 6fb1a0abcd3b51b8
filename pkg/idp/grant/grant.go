package grant

import (
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/org"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Type is the closed set of grant kinds the dispatcher understands.
type Type string

const (
	TypeAuthorizationCode Type = "authorization_code"
	TypeClientCredentials Type = "client_credentials"
	TypeRefreshToken      Type = "refresh_token"
	TypePassword          Type = "password"
	TypePasswordlessOTP   Type = "http://auth0.com/oauth/grant-type/passwordless/otp"
	TypeTicket            Type = "ticket"
)

// ParseType maps the wire grant_type to a Type.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypeAuthorizationCode, TypeClientCredentials, TypeRefreshToken,
		TypePassword, TypePasswordlessOTP, TypeTicket:
		return Type(s), true
	}
	return "", false
}

// TokenRequest is the raw, merged parameter set of a token request: form
// body, JSON body, and HTTP-Basic-derived client credentials all land here.
type TokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type" validate:"required"`
	ClientID     string `json:"client_id" form:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" form:"client_secret"`

	// authorization_code
	Code         string `json:"code" form:"code"`
	RedirectURI  string `json:"redirect_uri" form:"redirect_uri"`
	CodeVerifier string `json:"code_verifier" form:"code_verifier"`

	// password
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Realm    string `json:"realm" form:"realm"`

	// refresh_token
	RefreshToken string `json:"refresh_token" form:"refresh_token"`

	// passwordless / ticket
	OTP    string `json:"otp" form:"otp"`
	Ticket string `json:"ticket" form:"ticket"`

	Scope        string `json:"scope" form:"scope"`
	Audience     string `json:"audience" form:"audience"`
	Organization string `json:"organization" form:"organization"`
}

// Result is the normalized output of any grant handler, consumed uniformly
// by the token issuer regardless of which grant produced it.
type Result struct {
	Client         *client.Client
	User           *user.User
	AuthParams     kernel.AuthParams
	Organization   *org.Organization
	SessionID      kernel.SessionID
	RefreshTokenID string

	// Strategy names the connection that verified the credential, recorded
	// on the user at issuance.
	Strategy string

	// LoginSession is set for grants that redeem an interactive login.
	LoginSession *session.LoginSession
}
