package token

import (
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/org"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Response is the OAuth2 token endpoint payload.
type Response struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IssueParams is everything the issuer needs to mint tokens for one grant.
type IssueParams struct {
	Client            *client.Client
	User              *user.User
	ImpersonatingUser *user.User
	Organization      *org.Organization
	AuthParams        kernel.AuthParams
	SessionID         kernel.SessionID

	// RefreshTokenID reuses an existing token value instead of minting one.
	RefreshTokenID string

	// Strategy is the connection strategy that authenticated the user, for
	// the first-authentication metadata side effect.
	Strategy string

	Device DeviceInfo
}

// DeviceInfo mirrors the transport facts recorded on new refresh tokens.
type DeviceInfo struct {
	IP        string
	UserAgent string
}
