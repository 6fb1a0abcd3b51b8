package kernel

import "strings"

// AuthParams are the normalized OAuth2/OIDC request parameters. They are
// carried through the whole pipeline; the only mutations permitted are
// filling in the resolved username and granted scopes.
type AuthParams struct {
	ClientID            ClientID `json:"client_id"`
	Scope               string   `json:"scope,omitempty"`
	Audience            string   `json:"audience,omitempty"`
	RedirectURI         string   `json:"redirect_uri,omitempty"`
	ResponseType        string   `json:"response_type,omitempty"`
	ResponseMode        string   `json:"response_mode,omitempty"`
	CodeChallenge       string   `json:"code_challenge,omitempty"`
	CodeChallengeMethod string   `json:"code_challenge_method,omitempty"`
	Organization        string   `json:"organization,omitempty"`
	Nonce               string   `json:"nonce,omitempty"`
	State               string   `json:"state,omitempty"`
	Prompt              string   `json:"prompt,omitempty"`
	Username            string   `json:"username,omitempty"`
}

// Scopes splits the space-delimited scope parameter.
func (p AuthParams) Scopes() []string {
	if p.Scope == "" {
		return nil
	}
	return strings.Fields(p.Scope)
}

// HasScope reports whether scope was requested.
func (p AuthParams) HasScope(scope string) bool {
	for _, s := range p.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// ResponseTypeIncludes reports whether the response_type contains the given
// token kind ("code", "token", "id_token").
func (p AuthParams) ResponseTypeIncludes(kind string) bool {
	for _, part := range strings.Fields(p.ResponseType) {
		if part == kind {
			return true
		}
	}
	return false
}

// RequestMeta carries per-request transport facts the pipeline needs for
// device binding and audit. Passed explicitly; never stored globally.
type RequestMeta struct {
	IP        string
	UserAgent string
	RequestID string
}
