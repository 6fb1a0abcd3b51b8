package idpapi

import (
	"net/url"

	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// Authorize is GET /authorize, the entry of the interactive flow. Parameter
// faults that precede redirect_uri validation render locally; everything
// after redirects back to the client per RFC 6749.
func (h *Handler) Authorize(c *fiber.Ctx) error {
	tenant := tenantID(c)

	params := kernel.AuthParams{
		ClientID:            kernel.NewClientID(c.Query("client_id")),
		Scope:               c.Query("scope"),
		Audience:            c.Query("audience"),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.Query("response_type", "code"),
		ResponseMode:        c.Query("response_mode"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
		Organization:        c.Query("organization"),
		Nonce:               c.Query("nonce"),
		State:               c.Query("state"),
		Prompt:              c.Query("prompt"),
	}

	if params.ClientID.IsEmpty() {
		return handleError(c, idp.ErrInvalidRequest("client_id is required"))
	}
	cl, err := h.clients.Get(c.Context(), tenant, params.ClientID)
	if err != nil || cl == nil {
		return handleError(c, idp.ErrClientNotFound().WithDetail("client_id", params.ClientID.String()))
	}

	// The redirect_uri allow-list gates everything downstream. An invalid
	// one must never be redirected to.
	if params.RedirectURI == "" || !cl.AllowsRedirectURI(params.RedirectURI) {
		return handleError(c, idp.ErrInvalidRedirectURI().WithDetail("redirect_uri", params.RedirectURI))
	}

	if params.Prompt == "none" {
		return h.silentAuthorize(c, tenant, params)
	}

	ls, err := h.manager.Begin(c.Context(), tenant, params)
	if err != nil {
		return redirectError(c, params, "server_error")
	}

	// Hand off to the hosted login page; the login session id is the state
	// every subsequent step presents.
	return c.Redirect("/u/login/identifier?state="+url.QueryEscape(ls.ID), fiber.StatusFound)
}

// silentAuthorize completes the flow without interaction when a valid
// session cookie is present, and reports login_required otherwise.
func (h *Handler) silentAuthorize(c *fiber.Ctx, tenant kernel.TenantID, params kernel.AuthParams) error {
	sessionID := c.Cookies(h.sessionCookieName(tenant))
	if sessionID == "" {
		return redirectError(c, params, "login_required")
	}

	ls, err := h.manager.Begin(c.Context(), tenant, params)
	if err != nil {
		return redirectError(c, params, "server_error")
	}
	u, sess, err := h.sessionUser(c, tenant, sessionID)
	if err != nil || u == nil {
		if ferr := h.manager.Fail(c.Context(), ls); ferr != nil {
			return redirectError(c, params, "server_error")
		}
		return redirectError(c, params, "login_required")
	}

	if err := h.manager.CaptureIdentifier(c.Context(), ls, u.Email); err != nil {
		return redirectError(c, params, "server_error")
	}
	if err := h.manager.Authenticate(c.Context(), ls, sess.ID); err != nil {
		return redirectError(c, params, "server_error")
	}
	if err := h.manager.TouchSession(c.Context(), sess, params.ClientID); err != nil {
		return redirectError(c, params, "server_error")
	}

	// Silent renewals skip hooks: the user already passed them when the
	// session was established.
	outcome, err := h.pipeline.Finalize(c.Context(), ls, u, true, nil)
	if err != nil {
		return redirectError(c, params, "server_error")
	}
	return c.Redirect(outcome.URL, fiber.StatusFound)
}

// sessionUser loads the device session behind a cookie and its user.
func (h *Handler) sessionUser(c *fiber.Ctx, tenant kernel.TenantID, sessionID string) (*user.User, *session.Session, error) {
	sess, err := h.manager.Session(c.Context(), tenant, kernel.NewSessionID(sessionID))
	if err != nil {
		return nil, nil, err
	}
	u, err := h.users.Get(c.Context(), tenant, sess.UserID)
	if err != nil || u == nil {
		return nil, nil, idp.ErrUserNotFound()
	}
	return u, sess, nil
}

// redirectError sends an OAuth2 error back to the client's redirect_uri,
// preserving the original state.
func redirectError(c *fiber.Ctx, params kernel.AuthParams, code string) error {
	redirect, err := url.Parse(params.RedirectURI)
	if err != nil {
		return handleError(c, idp.ErrInvalidRedirectURI())
	}
	q := redirect.Query()
	q.Set("error", code)
	if params.State != "" {
		q.Set("state", params.State)
	}
	redirect.RawQuery = q.Encode()
	return c.Redirect(redirect.String(), fiber.StatusFound)
}
