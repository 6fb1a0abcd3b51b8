package idpapi

import (
	"strings"

	"github.com/Abraxas-365/passport/pkg/config"
	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/client"
	"github.com/Abraxas-365/passport/pkg/idp/grant/grantsrv"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/session/sessionsrv"
	"github.com/Abraxas-365/passport/pkg/idp/token/tokensrv"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// Handler serves the protocol surface: /oauth/token, /authorize and the
// hosted login endpoints under /u/.
type Handler struct {
	grants   *grantsrv.Service
	issuer   *tokensrv.Issuer
	manager  *sessionsrv.Manager
	pipeline *sessionsrv.Pipeline
	clients  client.Repository
	users    user.Repository
	cfg      *config.Config
}

// NewHandler wires the protocol handler.
func NewHandler(
	grants *grantsrv.Service,
	issuer *tokensrv.Issuer,
	manager *sessionsrv.Manager,
	pipeline *sessionsrv.Pipeline,
	clients client.Repository,
	users user.Repository,
	cfg *config.Config,
) *Handler {
	return &Handler{
		grants:   grants,
		issuer:   issuer,
		manager:  manager,
		pipeline: pipeline,
		clients:  clients,
		users:    users,
		cfg:      cfg,
	}
}

// RegisterRoutes mounts the protocol endpoints.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	app.Post("/oauth/token", h.Token)
	app.Get("/authorize", h.Authorize)

	u := app.Group("/u")
	u.Post("/login/identifier", h.LoginIdentifier)
	u.Post("/login/password", h.LoginPassword)
	u.Post("/enter-code", h.EnterCode)
	u.Post("/forms/:formId/nodes/:nodeId", h.SubmitFormNode)
	u.Get("/continue", h.Continue)
}

// tenantID resolves the tenant of the request: an explicit header first,
// else the first label of the host.
func tenantID(c *fiber.Ctx) kernel.TenantID {
	if t := c.Get("X-Tenant-ID"); t != "" {
		return kernel.NewTenantID(t)
	}
	host := c.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		return kernel.NewTenantID(host[:i])
	}
	return kernel.NewTenantID(host)
}

func requestMeta(c *fiber.Ctx) kernel.RequestMeta {
	return kernel.RequestMeta{
		IP:        c.IP(),
		UserAgent: c.Get("User-Agent"),
		RequestID: c.Get("X-Request-ID"),
	}
}

// sessionCookieName is scoped per tenant so tenants sharing a parent domain
// do not see each other's sessions.
func (h *Handler) sessionCookieName(tenant kernel.TenantID) string {
	return tenant.String() + "-" + h.cfg.Auth.CookieName
}

func (h *Handler) setSessionCookie(c *fiber.Ctx, tenant kernel.TenantID, s *session.Session) {
	c.Cookie(&fiber.Cookie{
		Name:     h.sessionCookieName(tenant),
		Value:    s.ID.String(),
		Expires:  s.ExpiresAt,
		HTTPOnly: true,
		Secure:   true,
		SameSite: fiber.CookieSameSiteNoneMode,
		Path:     "/",
	})
}

// handleError renders an error via the registry envelope. Hosted endpoints
// use this; /oauth/token uses the OAuth2 shape instead.
func handleError(c *fiber.Ctx, err error) error {
	var e *errx.Error
	if errx.As(err, &e) {
		resp := e.ToHTTPResponse()
		return c.Status(e.HTTPStatus).JSON(resp)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"code":    "INTERNAL_ERROR",
		"message": "internal error",
	})
}

// loginError renders a failure on a hosted login endpoint. A closed login
// session is answered per RFC 6749 §4.1.2.1: an access_denied redirect back
// to the client, carrying the original state. Everything else falls through
// to the registry envelope.
func (h *Handler) loginError(c *fiber.Ctx, tenant kernel.TenantID, state string, err error) error {
	if errx.Is(err, idp.ErrLoginSessionClosed()) {
		if ls, perr := h.manager.Peek(c.Context(), tenant, state); perr == nil && ls != nil {
			return redirectError(c, ls.AuthParams, "access_denied")
		}
	}
	return handleError(c, err)
}

// oauthError renders the RFC 6749 token-endpoint error shape.
func oauthError(c *fiber.Ctx, err error) error {
	var e *errx.Error
	if errx.As(err, &e) {
		return c.Status(e.HTTPStatus).JSON(fiber.Map{
			"error":             idp.OAuthErrorCode(e),
			"error_description": e.Message,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":             "server_error",
		"error_description": "internal error",
	})
}

// outcomeResponse renders a pipeline outcome for the hosted login pages: a
// step to display or a redirect to follow.
func outcomeResponse(c *fiber.Ctx, o *sessionsrv.Outcome) error {
	switch o.Kind {
	case sessionsrv.OutcomeStep:
		return c.JSON(fiber.Map{
			"next":    "render_step",
			"form_id": o.FormID,
			"node_id": o.NodeID,
		})
	default:
		return c.JSON(fiber.Map{
			"next":     "redirect",
			"location": o.URL,
		})
	}
}
