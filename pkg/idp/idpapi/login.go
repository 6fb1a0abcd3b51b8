package idpapi

import (
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/grant/grantsrv"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

type identifierRequest struct {
	State    string `json:"state" form:"state"`
	Username string `json:"username" form:"username"`
}

type passwordRequest struct {
	State    string `json:"state" form:"state"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Realm    string `json:"realm" form:"realm"`
}

type enterCodeRequest struct {
	State string `json:"state" form:"state"`
	Code  string `json:"code" form:"code"`
}

// LoginIdentifier is POST /u/login/identifier: records who is logging in
// and advances to the credential step.
func (h *Handler) LoginIdentifier(c *fiber.Ctx) error {
	var req identifierRequest
	if err := c.BodyParser(&req); err != nil {
		return handleError(c, idp.ErrInvalidRequest("malformed request body"))
	}
	if req.Username == "" {
		return handleError(c, idp.ErrInvalidRequest("username is required"))
	}

	tenant := tenantID(c)
	ls, err := h.manager.Load(c.Context(), tenant, req.State, "")
	if err != nil {
		return h.loginError(c, tenant, req.State, err)
	}
	if err := h.manager.CaptureIdentifier(c.Context(), ls, req.Username); err != nil {
		return handleError(c, err)
	}
	return c.JSON(fiber.Map{"next": "password"})
}

// LoginPassword is POST /u/login/password: verifies the credential and,
// when it holds, runs the post-login pipeline.
func (h *Handler) LoginPassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return handleError(c, idp.ErrInvalidRequest("malformed request body"))
	}

	tenant := tenantID(c)
	ls, err := h.manager.Load(c.Context(), tenant, req.State, "")
	if err != nil {
		return h.loginError(c, tenant, req.State, err)
	}

	cl, err := h.clients.Get(c.Context(), tenant, ls.AuthParams.ClientID)
	if err != nil || cl == nil {
		return handleError(c, idp.ErrClientNotFound())
	}

	username := req.Username
	if username == "" {
		username = ls.AuthParams.Username
	}
	u, err := h.grants.AuthenticatePassword(c.Context(), tenant, cl, ls, username, req.Password, req.Realm)
	if err != nil {
		return handleError(c, err)
	}

	return h.completeInteractive(c, tenant, ls, u)
}

// EnterCode is POST /u/enter-code: the OTP leg of the interactive flow.
func (h *Handler) EnterCode(c *fiber.Ctx) error {
	var req enterCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return handleError(c, idp.ErrInvalidRequest("malformed request body"))
	}

	tenant := tenantID(c)
	ls, err := h.manager.Load(c.Context(), tenant, req.State, "")
	if err != nil {
		return h.loginError(c, tenant, req.State, err)
	}

	cl, err := h.clients.Get(c.Context(), tenant, ls.AuthParams.ClientID)
	if err != nil || cl == nil {
		return handleError(c, idp.ErrClientNotFound())
	}

	// Same verification as the passwordless token grant: the email flips
	// to verified and the canonical identity comes back.
	u, _, err := h.grants.VerifyOTP(c.Context(), tenant, cl, req.Code)
	if err != nil {
		if rerr := h.manager.CredentialRetry(c.Context(), ls); rerr != nil {
			return handleError(c, rerr)
		}
		return handleError(c, err)
	}
	ls.Strategy = grantsrv.StrategyEmail

	return h.completeInteractive(c, tenant, ls, u)
}

// completeInteractive binds a fresh device session, sets the cookie and
// hands over to the post-login pipeline.
func (h *Handler) completeInteractive(c *fiber.Ctx, tenant kernel.TenantID, ls *session.LoginSession, u *user.User) error {
	sess, err := h.manager.CreateSession(c.Context(), tenant, u.ID, ls.AuthParams.ClientID, session.Device{
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		return handleError(c, err)
	}
	if err := h.manager.Authenticate(c.Context(), ls, sess.ID); err != nil {
		return handleError(c, err)
	}
	h.setSessionCookie(c, tenant, sess)

	outcome, err := h.pipeline.Finalize(c.Context(), ls, u, false, nil)
	if err != nil {
		return handleError(c, err)
	}
	return outcomeResponse(c, outcome)
}
