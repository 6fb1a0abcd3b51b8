// Package idp is the identity-provider bounded context: the grant pipeline,
// interactive login sessions, post-login forms/flows, token issuance and the
// guards around identity integrity (account linking, lockout).
package idp

import (
	"net/http"

	"github.com/Abraxas-365/passport/pkg/errx"
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IDP")

var (
	CodeInvalidClientCredentials = ErrRegistry.Register("INVALID_CLIENT_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Invalid client credentials")
	CodeCodeNotFound             = ErrRegistry.Register("CODE_NOT_FOUND", errx.TypeAuthorization, http.StatusForbidden, "Code not found")
	CodeCodeExpired              = ErrRegistry.Register("CODE_EXPIRED", errx.TypeAuthorization, http.StatusForbidden, "Code expired")
	CodeCodeAlreadyUsed          = ErrRegistry.Register("CODE_ALREADY_USED", errx.TypeAuthorization, http.StatusForbidden, "Code already used")
	CodeInvalidRedirectURI       = ErrRegistry.Register("INVALID_REDIRECT_URI", errx.TypeValidation, http.StatusBadRequest, "Invalid redirect URI")
	CodeUserNotFound             = ErrRegistry.Register("USER_NOT_FOUND", errx.TypeAuthorization, http.StatusForbidden, "User not found")
	CodeInvalidPassword          = ErrRegistry.Register("INVALID_PASSWORD", errx.TypeAuthorization, http.StatusForbidden, "Invalid password")
	CodeEmailNotVerified         = ErrRegistry.Register("EMAIL_NOT_VERIFIED", errx.TypeAuthorization, http.StatusForbidden, "Email not verified")
	CodeTooManyFailedLogins      = ErrRegistry.Register("TOO_MANY_FAILED_LOGINS", errx.TypeAuthorization, http.StatusForbidden, "Too many failed login attempts")
	CodeInvalidRefreshToken      = ErrRegistry.Register("INVALID_REFRESH_TOKEN", errx.TypeAuthorization, http.StatusForbidden, "Invalid refresh token")
	CodeRefreshTokenExpired      = ErrRegistry.Register("REFRESH_TOKEN_EXPIRED", errx.TypeAuthorization, http.StatusForbidden, "Refresh token expired")
	CodeOrganizationNotFound     = ErrRegistry.Register("ORGANIZATION_NOT_FOUND", errx.TypeValidation, http.StatusBadRequest, "Organization not found")
	CodeNotOrgMember             = ErrRegistry.Register("NOT_ORG_MEMBER", errx.TypeAuthorization, http.StatusForbidden, "User is not a member of the organization")
	CodeFormNotFound             = ErrRegistry.Register("FORM_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Form not found")
	CodeNodeNotFound             = ErrRegistry.Register("NODE_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Form node not found")
	CodeMissingSigningKey        = ErrRegistry.Register("MISSING_SIGNING_KEY", errx.TypeInternal, http.StatusInternalServerError, "No valid signing key configured")
	CodeClientNotFound           = ErrRegistry.Register("CLIENT_NOT_FOUND", errx.TypeInternal, http.StatusInternalServerError, "Client not configured")
	CodeTenantNotFound           = ErrRegistry.Register("TENANT_NOT_FOUND", errx.TypeInternal, http.StatusInternalServerError, "Tenant not configured")
	CodeLoginSessionNotFound     = ErrRegistry.Register("LOGIN_SESSION_NOT_FOUND", errx.TypeAuthorization, http.StatusForbidden, "Login session not found")
	CodeLoginSessionClosed       = ErrRegistry.Register("LOGIN_SESSION_CLOSED", errx.TypeAuthorization, http.StatusForbidden, "Login session is closed")
	CodeInvalidSession           = ErrRegistry.Register("INVALID_SESSION", errx.TypeAuthorization, http.StatusForbidden, "Invalid session")
	CodeUnsupportedGrantType     = ErrRegistry.Register("UNSUPPORTED_GRANT_TYPE", errx.TypeValidation, http.StatusBadRequest, "Unsupported grant type")
	CodeInvalidRequest           = ErrRegistry.Register("INVALID_REQUEST", errx.TypeValidation, http.StatusBadRequest, "Invalid request")
)

// Helper constructors for the codes the pipeline raises on hot paths.

func ErrInvalidClientCredentials() *errx.Error { return ErrRegistry.New(CodeInvalidClientCredentials) }
func ErrCodeNotFound() *errx.Error             { return ErrRegistry.New(CodeCodeNotFound) }
func ErrCodeExpired() *errx.Error              { return ErrRegistry.New(CodeCodeExpired) }
func ErrCodeAlreadyUsed() *errx.Error          { return ErrRegistry.New(CodeCodeAlreadyUsed) }
func ErrInvalidRedirectURI() *errx.Error       { return ErrRegistry.New(CodeInvalidRedirectURI) }
func ErrUserNotFound() *errx.Error             { return ErrRegistry.New(CodeUserNotFound) }
func ErrInvalidPassword() *errx.Error          { return ErrRegistry.New(CodeInvalidPassword) }
func ErrEmailNotVerified() *errx.Error         { return ErrRegistry.New(CodeEmailNotVerified) }
func ErrTooManyFailedLogins() *errx.Error      { return ErrRegistry.New(CodeTooManyFailedLogins) }
func ErrInvalidRefreshToken() *errx.Error      { return ErrRegistry.New(CodeInvalidRefreshToken) }
func ErrRefreshTokenExpired() *errx.Error      { return ErrRegistry.New(CodeRefreshTokenExpired) }
func ErrOrganizationNotFound() *errx.Error     { return ErrRegistry.New(CodeOrganizationNotFound) }
func ErrNotOrgMember() *errx.Error             { return ErrRegistry.New(CodeNotOrgMember) }
func ErrFormNotFound() *errx.Error             { return ErrRegistry.New(CodeFormNotFound) }
func ErrNodeNotFound() *errx.Error             { return ErrRegistry.New(CodeNodeNotFound) }
func ErrMissingSigningKey() *errx.Error        { return ErrRegistry.New(CodeMissingSigningKey) }
func ErrClientNotFound() *errx.Error           { return ErrRegistry.New(CodeClientNotFound) }
func ErrLoginSessionNotFound() *errx.Error     { return ErrRegistry.New(CodeLoginSessionNotFound) }
func ErrLoginSessionClosed() *errx.Error       { return ErrRegistry.New(CodeLoginSessionClosed) }
func ErrInvalidSession() *errx.Error           { return ErrRegistry.New(CodeInvalidSession) }
func ErrUnsupportedGrantType() *errx.Error     { return ErrRegistry.New(CodeUnsupportedGrantType) }
func ErrInvalidRequest(msg string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeInvalidRequest, msg)
}

// OAuthErrorCode maps a pipeline error to the RFC 6749 error parameter.
func OAuthErrorCode(e *errx.Error) string {
	switch e.Code {
	case CodeInvalidClientCredentials.Code:
		return "invalid_client"
	case CodeInvalidRedirectURI.Code, CodeOrganizationNotFound.Code, CodeInvalidRequest.Code:
		return "invalid_request"
	case CodeUnsupportedGrantType.Code:
		return "unsupported_grant_type"
	case CodeUserNotFound.Code, CodeInvalidPassword.Code, CodeEmailNotVerified.Code,
		CodeTooManyFailedLogins.Code, CodeNotOrgMember.Code, CodeLoginSessionClosed.Code,
		CodeInvalidSession.Code:
		return "access_denied"
	case CodeCodeNotFound.Code, CodeCodeExpired.Code, CodeCodeAlreadyUsed.Code,
		CodeInvalidRefreshToken.Code, CodeRefreshTokenExpired.Code, CodeLoginSessionNotFound.Code:
		return "invalid_grant"
	default:
		return "server_error"
	}
}
