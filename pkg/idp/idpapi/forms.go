package idpapi

import (
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/session/sessionsrv"
	"github.com/gofiber/fiber/v2"
)

// SubmitFormNode is POST /u/forms/:formId/nodes/:nodeId: the submitted
// values of a rendered step.
func (h *Handler) SubmitFormNode(c *fiber.Ctx) error {
	var body struct {
		State    string            `json:"state" form:"state"`
		FormData map[string]string `json:"form_data"`
	}
	if err := c.BodyParser(&body); err != nil {
		return handleError(c, idp.ErrInvalidRequest("malformed request body"))
	}

	tenant := tenantID(c)
	ls, err := h.manager.Load(c.Context(), tenant, body.State, "")
	if err != nil {
		return h.loginError(c, tenant, body.State, err)
	}
	if ls.CurrentFormID != c.Params("formId") {
		return handleError(c, idp.ErrFormNotFound().WithDetail("form_id", c.Params("formId")))
	}

	u, err := h.pipeline.SessionUser(c.Context(), ls)
	if err != nil {
		return handleError(c, err)
	}

	outcome, err := h.pipeline.SubmitStep(c.Context(), ls, u, c.Params("nodeId"), body.FormData)
	if err != nil {
		return handleError(c, err)
	}
	return outcomeResponse(c, outcome)
}

// Continue is GET /u/continue: the return leg of an external redirect
// issued by a post-login hook. Resolution resumes from the stored node so
// the redirect does not fire again.
func (h *Handler) Continue(c *fiber.Ctx) error {
	tenant := tenantID(c)
	ls, err := h.manager.LoadForResume(c.Context(), tenant, c.Query("state"))
	if err != nil {
		return h.loginError(c, tenant, c.Query("state"), err)
	}

	u, err := h.pipeline.SessionUser(c.Context(), ls)
	if err != nil {
		return handleError(c, err)
	}

	outcome, err := h.pipeline.Continue(c.Context(), ls, u, ls.CurrentNodeID, nil)
	if err != nil {
		return handleError(c, err)
	}
	if outcome.Kind == sessionsrv.OutcomeRedirect {
		return c.Redirect(outcome.URL, fiber.StatusFound)
	}
	return outcomeResponse(c, outcome)
}
