package client

import (
	"crypto/subtle"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Client is an application registered with a tenant. It is immutable during
// a request.
type Client struct {
	ID                kernel.ClientID `db:"id" json:"id"`
	TenantID          kernel.TenantID `db:"tenant_id" json:"tenant_id"`
	Name              string          `db:"name" json:"name"`
	Secret            string          `db:"secret" json:"-"`
	RedirectURIs      []string        `db:"-" json:"redirect_uris"`
	WebOrigins        []string        `db:"-" json:"web_origins"`
	OIDCConformant    bool            `db:"oidc_conformant" json:"oidc_conformant"`
	Auth0Conformant   bool            `db:"auth0_conformant" json:"auth0_conformant"`
	RequireableOrg    bool            `db:"requireable_org" json:"requireable_org"`
	EmailValidation   EmailValidation `db:"email_validation" json:"email_validation"`
	DefaultConnection string          `db:"default_connection" json:"default_connection"`
}

// EmailValidation is the client policy for unverified email addresses.
type EmailValidation string

const (
	// EmailValidationEnforced rejects logins from unverified addresses.
	EmailValidationEnforced EmailValidation = "enforced"
	// EmailValidationDisabled allows unverified addresses through.
	EmailValidationDisabled EmailValidation = "disabled"
)

// EnforcesEmailVerification reports whether unverified users must verify
// before tokens are issued.
func (c *Client) EnforcesEmailVerification() bool {
	return c.EmailValidation == EmailValidationEnforced
}

// SecretMatches compares a presented secret in constant time.
func (c *Client) SecretMatches(secret string) bool {
	if c.Secret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

// AllowsRedirectURI reports whether uri is on the exact-match allow-list.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, allowed := range c.RedirectURIs {
		if allowed == uri {
			return true
		}
	}
	return false
}
