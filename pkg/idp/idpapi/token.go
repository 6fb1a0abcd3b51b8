package idpapi

import (
	"encoding/base64"
	"strings"

	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/grant"
	"github.com/Abraxas-365/passport/pkg/idp/token"
	"github.com/gofiber/fiber/v2"
)

// Token is POST /oauth/token. Client credentials may arrive in the body or
// as HTTP Basic auth; body values win when both are present.
func (h *Handler) Token(c *fiber.Ctx) error {
	var req grant.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return oauthError(c, idp.ErrInvalidRequest("malformed request body"))
	}
	if basicID, basicSecret, ok := basicAuth(c); ok {
		if req.ClientID == "" {
			req.ClientID = basicID
		}
		if req.ClientSecret == "" {
			req.ClientSecret = basicSecret
		}
	}

	tenant := tenantID(c)
	meta := requestMeta(c)

	result, err := h.grants.Handle(c.Context(), tenant, req, meta)
	if err != nil {
		return oauthError(c, err)
	}

	resp, err := h.issuer.Issue(c.Context(), tenant, token.IssueParams{
		Client:         result.Client,
		User:           result.User,
		Organization:   result.Organization,
		AuthParams:     result.AuthParams,
		SessionID:      result.SessionID,
		RefreshTokenID: result.RefreshTokenID,
		Strategy:       result.Strategy,
		Device: token.DeviceInfo{
			IP:        meta.IP,
			UserAgent: meta.UserAgent,
		},
	})
	if err != nil {
		return oauthError(c, err)
	}

	c.Set("Cache-Control", "no-store")
	c.Set("Pragma", "no-cache")
	return c.JSON(resp)
}

// basicAuth extracts HTTP Basic client credentials per RFC 6749 §2.3.1.
func basicAuth(c *fiber.Ctx) (id, secret string, ok bool) {
	header := c.Get("Authorization")
	if !strings.HasPrefix(header, "Basic ") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
