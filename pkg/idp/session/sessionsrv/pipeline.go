package sessionsrv

import (
	"context"
	"net/url"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/idp/code/codesrv"
	"github.com/Abraxas-365/passport/pkg/idp/form"
	"github.com/Abraxas-365/passport/pkg/idp/form/formsrv"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/idp/user/usersrv"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/Abraxas-365/passport/pkg/logx"
)

// OutcomeKind discriminates what the pipeline tells the caller to do next.
type OutcomeKind int

const (
	// OutcomeStep renders a form step and waits for input.
	OutcomeStep OutcomeKind = iota
	// OutcomeRedirect sends the browser somewhere: a hook's external
	// destination or the client's redirect_uri with the authorization code.
	OutcomeRedirect
)

// Outcome is the pipeline's instruction to the HTTP layer.
type Outcome struct {
	Kind   OutcomeKind
	FormID string
	NodeID string
	URL    string
}

// Pipeline runs everything between a verified credential and the final
// redirect back to the client: post-login hooks, pending user updates, and
// authorization-code minting.
type Pipeline struct {
	manager  *Manager
	sessions session.Repository
	users    user.Repository
	forms    form.Repository
	hooks    form.HookRepository
	resolver *formsrv.Resolver
	linker   *usersrv.Linker
	codes    *codesrv.Service

	issuerURL string
	codeTTL   time.Duration
	now       func() time.Time
}

// NewPipeline wires the post-login pipeline.
func NewPipeline(
	manager *Manager,
	sessions session.Repository,
	users user.Repository,
	forms form.Repository,
	hooks form.HookRepository,
	resolver *formsrv.Resolver,
	linker *usersrv.Linker,
	codes *codesrv.Service,
	issuerURL string,
	codeTTL time.Duration,
) *Pipeline {
	if codeTTL == 0 {
		codeTTL = 5 * time.Minute
	}
	return &Pipeline{
		manager:   manager,
		sessions:  sessions,
		users:     users,
		forms:     forms,
		hooks:     hooks,
		resolver:  resolver,
		linker:    linker,
		codes:     codes,
		issuerURL: issuerURL,
		codeTTL:   codeTTL,
		now:       time.Now,
	}
}

// Finalize is called once the user is authenticated and the login session
// holds a bound device session. It runs post-login hooks unless skipHooks is
// set (a resumed login already ran them), then mints the authorization code
// and produces the final redirect.
func (p *Pipeline) Finalize(ctx context.Context, ls *session.LoginSession, u *user.User, skipHooks bool, formData map[string]string) (*Outcome, error) {
	if !skipHooks {
		outcome, err := p.runHooks(ctx, ls, u, formData)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}
	return p.redirectWithCode(ctx, ls, u)
}

// Continue drives a parked login session forward from its stored node:
// either a submitted form step or a returned external redirect. Resolution
// restarts at the stored continue point so the halt does not re-trigger.
func (p *Pipeline) Continue(ctx context.Context, ls *session.LoginSession, u *user.User, startNodeID string, formData map[string]string) (*Outcome, error) {
	f, err := p.forms.Get(ctx, ls.TenantID, ls.CurrentFormID)
	if err != nil || f == nil {
		return nil, idp.ErrFormNotFound().WithDetail("form_id", ls.CurrentFormID)
	}

	outcome, err := p.runForm(ctx, ls, u, f, startNodeID, formData)
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		return outcome, nil
	}

	if err := p.manager.ResumeHook(ctx, ls); err != nil {
		return nil, err
	}
	return p.redirectWithCode(ctx, ls, u)
}

// SessionUser recovers the authenticated user behind a parked login session
// via its bound device session.
func (p *Pipeline) SessionUser(ctx context.Context, ls *session.LoginSession) (*user.User, error) {
	if ls.SessionID.IsEmpty() {
		return nil, idp.ErrInvalidSession().WithDetail("reason", "no bound session")
	}
	sess, err := p.sessions.Get(ctx, ls.TenantID, ls.SessionID)
	if err != nil || sess == nil {
		return nil, idp.ErrInvalidSession()
	}
	if !sess.IsValid(p.now()) {
		return nil, idp.ErrInvalidSession().WithDetail("reason", "expired")
	}
	u, err := p.users.Get(ctx, ls.TenantID, sess.UserID)
	if err != nil || u == nil {
		return nil, idp.ErrUserNotFound().WithDetail("user_id", sess.UserID.String())
	}
	return u, nil
}

// SubmitStep resumes a login parked at a STEP node with the submitted form
// values. Resolution continues from the node after the step.
func (p *Pipeline) SubmitStep(ctx context.Context, ls *session.LoginSession, u *user.User, nodeID string, formData map[string]string) (*Outcome, error) {
	if ls.CurrentFormID == "" || ls.CurrentNodeID != nodeID {
		return nil, idp.ErrNodeNotFound().WithDetail("node_id", nodeID)
	}
	f, err := p.forms.Get(ctx, ls.TenantID, ls.CurrentFormID)
	if err != nil || f == nil {
		return nil, idp.ErrFormNotFound().WithDetail("form_id", ls.CurrentFormID)
	}
	node, ok := f.Nodes[nodeID]
	if !ok {
		return nil, idp.ErrNodeNotFound().WithDetail("node_id", nodeID)
	}
	next := node.NextNodeID
	if next == "" {
		next = form.EndingNodeID
	}
	return p.Continue(ctx, ls, u, next, formData)
}

// runHooks evaluates every enabled post-login hook in order. A non-nil
// outcome halts the pipeline; nil means all hooks ran to completion.
func (p *Pipeline) runHooks(ctx context.Context, ls *session.LoginSession, u *user.User, formData map[string]string) (*Outcome, error) {
	hooks, err := p.hooks.List(ctx, ls.TenantID, form.TriggerPostUserLogin)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list post-login hooks", errx.TypeInternal)
	}

	for _, h := range hooks {
		if !h.Enabled || h.FormID == "" {
			continue
		}
		f, err := p.forms.Get(ctx, ls.TenantID, h.FormID)
		if err != nil || f == nil {
			logx.WithFields(logx.Fields{
				"tenant_id": ls.TenantID.String(),
				"form_id":   h.FormID,
			}).Warn("post-login hook references a missing form; skipping")
			continue
		}
		outcome, err := p.runForm(ctx, ls, u, f, f.StartNodeID, formData)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}
	return nil, nil
}

// runForm resolves one form from startID and reacts to the halt. Nil means
// the form ran to its end (updates applied) and the pipeline may proceed.
func (p *Pipeline) runForm(ctx context.Context, ls *session.LoginSession, u *user.User, f *form.Form, startID string, formData map[string]string) (*Outcome, error) {
	rctx := formsrv.NewContext(u, formData)
	res, err := p.resolver.Resolve(ctx, ls.TenantID, f.Nodes, startID, rctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		// Unresolvable graph: completion beats a stuck login.
		return nil, nil
	}

	switch res.Kind {
	case formsrv.ResultStep:
		// Updates accumulated before the step are applied now: resumption
		// continues past the step node and never replays the flows that
		// produced them.
		if err := p.applyUpdates(ctx, ls.TenantID, u, res.Updates); err != nil {
			return nil, err
		}
		if err := p.manager.AwaitHook(ctx, ls, f.ID, res.StepNodeID); err != nil {
			return nil, err
		}
		return &Outcome{Kind: OutcomeStep, FormID: f.ID, NodeID: res.StepNodeID}, nil

	case formsrv.ResultRedirect:
		// Pending updates regenerate when the resumed resolution replays
		// the flow nodes after the redirect, so they are applied now too.
		if err := p.applyUpdates(ctx, ls.TenantID, u, res.Updates); err != nil {
			return nil, err
		}
		return p.suspend(ctx, ls, f.ID, res)

	default:
		if err := p.applyUpdates(ctx, ls.TenantID, u, res.Updates); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

// suspend parks the session for an external redirect and builds the outward
// URL carrying the state needed to come back.
func (p *Pipeline) suspend(ctx context.Context, ls *session.LoginSession, formID string, res *formsrv.Result) (*Outcome, error) {
	var target session.ContinuationTarget
	var dest string
	switch res.Redirect.Target {
	case form.RedirectChangeEmail:
		target = session.TargetChangeEmail
		dest = p.issuerURL + "/u/change-email"
	case form.RedirectAccount:
		target = session.TargetAccount
		dest = p.issuerURL + "/u/account"
	default:
		target = session.TargetCustom
		dest = res.Redirect.CustomURL
	}

	returnURL := p.issuerURL + "/u/continue?state=" + url.QueryEscape(ls.ID)
	if err := p.manager.Suspend(ctx, ls, target, returnURL, formID, res.ResumeNodeID); err != nil {
		return nil, err
	}

	sep := "?"
	if u, err := url.Parse(dest); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return &Outcome{Kind: OutcomeRedirect, URL: dest + sep + "state=" + url.QueryEscape(ls.ID)}, nil
}

// applyUpdates persists the accumulated user changes. Each touched user gets
// one full-document write; updates to the current user go through the linker
// so a changed or newly verified email re-runs account matching.
func (p *Pipeline) applyUpdates(ctx context.Context, tenantID kernel.TenantID, current *user.User, updates formsrv.PendingUpdates) error {
	for userID, changes := range updates {
		if len(changes) == 0 {
			continue
		}

		var target *user.User
		if current != nil && userID == current.ID.String() {
			target = current
		} else {
			loaded, err := p.users.Get(ctx, tenantID, kernel.NewUserID(userID))
			if err != nil || loaded == nil {
				logx.WithFields(logx.Fields{
					"tenant_id": tenantID.String(),
					"user_id":   userID,
				}).Warn("pending update targets a missing user; skipping")
				continue
			}
			target = loaded
		}

		prev := *target
		target.ApplyChanges(changes)
		if _, err := p.linker.Update(ctx, target, &prev); err != nil {
			return err
		}
	}
	return nil
}

// redirectWithCode mints the single-use authorization code and produces the
// final redirect to the client. Token issuance and session completion happen
// at the exchange.
func (p *Pipeline) redirectWithCode(ctx context.Context, ls *session.LoginSession, u *user.User) (*Outcome, error) {
	c, err := p.codes.Issue(ctx, &code.Code{
		TenantID:            ls.TenantID,
		Type:                code.TypeAuthorizationCode,
		ClientID:            ls.AuthParams.ClientID,
		UserID:              u.ID,
		LoginSessionID:      ls.ID,
		RedirectURI:         ls.AuthParams.RedirectURI,
		CodeChallenge:       ls.AuthParams.CodeChallenge,
		CodeChallengeMethod: ls.AuthParams.CodeChallengeMethod,
		Nonce:               ls.AuthParams.Nonce,
		ExpiresAt:           p.now().Add(p.codeTTL),
	})
	if err != nil {
		return nil, err
	}

	redirect, err := url.Parse(ls.AuthParams.RedirectURI)
	if err != nil {
		return nil, idp.ErrInvalidRedirectURI().WithDetail("redirect_uri", ls.AuthParams.RedirectURI)
	}
	q := redirect.Query()
	q.Set("code", c.ID)
	if ls.AuthParams.State != "" {
		q.Set("state", ls.AuthParams.State)
	}
	redirect.RawQuery = q.Encode()

	return &Outcome{Kind: OutcomeRedirect, URL: redirect.String()}, nil
}
