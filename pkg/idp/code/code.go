package code

import (
	"time"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Type discriminates the single-use artifacts the pipeline issues.
type Type string

const (
	TypeAuthorizationCode Type = "authorization_code"
	TypeOTP               Type = "otp"
	TypePasswordReset     Type = "password_reset"
	TypeEmailVerification Type = "email_verification"
	TypeTicket            Type = "ticket"
	TypeOAuth2State       Type = "oauth2_state"
)

// Code is a single-use artifact keyed by (tenant, id, type). It may be
// consumed at most once; check-and-consume is atomic at the storage layer.
type Code struct {
	ID             string          `json:"code_id"`
	TenantID       kernel.TenantID `json:"tenant_id"`
	Type           Type            `json:"code_type"`
	ClientID       kernel.ClientID `json:"client_id,omitempty"`
	UserID         kernel.UserID   `json:"user_id,omitempty"`
	LoginSessionID string          `json:"login_session_id,omitempty"`

	// RedirectURI records the redirect_uri presented at authorization time.
	// Redemption must present the same value when one was recorded.
	RedirectURI string `json:"redirect_uri,omitempty"`

	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	Nonce               string `json:"nonce,omitempty"`

	// IPAddress binds ticket-style codes to the original requester.
	IPAddress string `json:"ip_address,omitempty"`

	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// IsExpired reports whether the code is past its expiry at the given time.
func (c *Code) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
