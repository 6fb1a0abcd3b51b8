package sessionsrv_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/passport/pkg/idp/code"
	"github.com/Abraxas-365/passport/pkg/idp/code/codesrv"
	"github.com/Abraxas-365/passport/pkg/idp/form"
	"github.com/Abraxas-365/passport/pkg/idp/form/formsrv"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/idp/session/sessionsrv"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/idp/user/usersrv"
	"github.com/Abraxas-365/passport/pkg/kernel"
)

type memUsers map[kernel.UserID]*user.User

func (m memUsers) Get(_ context.Context, _ kernel.TenantID, id kernel.UserID) (*user.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) FindByUsername(_ context.Context, _ kernel.TenantID, username, provider string) (*user.User, error) {
	for _, u := range m {
		if u.Provider == provider && (strings.EqualFold(u.Email, username) || u.Username == username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m memUsers) FindPrimariesByEmail(_ context.Context, _ kernel.TenantID, email string) ([]*user.User, error) {
	var out []*user.User
	for _, u := range m {
		if u.LinkedTo == nil && u.NormalizedEmail() == email {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memUsers) Create(_ context.Context, u *user.User) error {
	cp := *u
	m[u.ID] = &cp
	return nil
}

func (m memUsers) Update(_ context.Context, u *user.User) error {
	cp := *u
	m[u.ID] = &cp
	return nil
}

type memForms map[string]*form.Form

func (m memForms) Get(_ context.Context, _ kernel.TenantID, id string) (*form.Form, error) {
	return m[id], nil
}

type memFlows map[string]*form.Flow

func (m memFlows) Get(_ context.Context, _ kernel.TenantID, id string) (*form.Flow, error) {
	return m[id], nil
}

type memHooks []*form.Hook

func (m memHooks) List(_ context.Context, _ kernel.TenantID, triggerID string) ([]*form.Hook, error) {
	var out []*form.Hook
	for _, h := range m {
		if h.TriggerID == triggerID {
			out = append(out, h)
		}
	}
	return out, nil
}

type memCodes map[string]*code.Code

func (m memCodes) Get(_ context.Context, _ kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	c, ok := m[id]
	if !ok || c.Type != typ {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m memCodes) Create(_ context.Context, c *code.Code) error {
	if _, ok := m[c.ID]; ok {
		return code.ErrCodeCollision
	}
	cp := *c
	m[c.ID] = &cp
	return nil
}

func (m memCodes) Consume(_ context.Context, _ kernel.TenantID, id string, typ code.Type) (*code.Code, error) {
	c, ok := m[id]
	if !ok || c.Type != typ {
		return nil, nil
	}
	delete(m, id)
	return c, nil
}

type pipelineFixture struct {
	pipeline *sessionsrv.Pipeline
	manager  *sessionsrv.Manager
	users    memUsers
	forms    memForms
	flows    memFlows
	hooks    memHooks
	codes    memCodes
	stored   memLoginSessions
	sessions memSessions
}

func newPipelineFixture(hooks memHooks, forms memForms, flows memFlows) *pipelineFixture {
	f := &pipelineFixture{
		users:    memUsers{},
		forms:    forms,
		flows:    flows,
		hooks:    hooks,
		codes:    memCodes{},
		stored:   memLoginSessions{},
		sessions: memSessions{},
	}
	f.manager = sessionsrv.NewManager(f.stored, f.sessions, 15*time.Minute)
	f.pipeline = sessionsrv.NewPipeline(
		f.manager, f.sessions, f.users, f.forms, f.hooks,
		formsrv.NewResolver(f.flows), usersrv.NewLinker(f.users),
		codesrv.NewService(f.codes),
		"https://acme.passport.test", 5*time.Minute,
	)
	return f
}

func (f *pipelineFixture) authenticatedLogin(t *testing.T) (*session.LoginSession, *user.User) {
	t.Helper()
	ctx := context.Background()

	u := &user.User{
		ID:       kernel.NewUserID("u1"),
		TenantID: tenant,
		Email:    "ana@example.com",
	}
	if err := f.users.Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	ls, err := f.manager.Begin(ctx, tenant, kernel.AuthParams{
		ClientID:    kernel.NewClientID("web-app"),
		Scope:       "openid",
		RedirectURI: "https://app.example.com/callback",
		State:       "client-state",
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := f.manager.CaptureIdentifier(ctx, ls, u.Email); err != nil {
		t.Fatalf("capture identifier: %v", err)
	}
	if err := f.manager.Authenticate(ctx, ls, kernel.NewSessionID("sess-1")); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	return ls, u
}

// A FLOW node updating the user followed by a STEP must not lose the flow's
// changes: resumption continues past the step and never replays the flow.
func TestFinalizeAppliesFlowUpdatesBeforeStep(t *testing.T) {
	hooks := memHooks{{ID: "h1", TriggerID: form.TriggerPostUserLogin, Enabled: true, FormID: "onboarding"}}
	forms := memForms{"onboarding": {
		ID:          "onboarding",
		StartNodeID: "enrich",
		Nodes: map[string]*form.Node{
			"enrich":  {ID: "enrich", Type: form.NodeFlow, FlowID: "tag-user", NextNodeID: "collect"},
			"collect": {ID: "collect", Type: form.NodeStep},
		},
	}}
	flows := memFlows{"tag-user": {
		ID: "tag-user",
		Actions: []form.FlowAction{{
			Type:    form.FlowActionUpdateUser,
			UserID:  "{{context.user.user_id}}",
			Changes: map[string]string{"user_metadata.color": "green"},
		}},
	}}
	f := newPipelineFixture(hooks, forms, flows)
	ctx := context.Background()

	ls, u := f.authenticatedLogin(t)
	outcome, err := f.pipeline.Finalize(ctx, ls, u, false, nil)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if outcome.Kind != sessionsrv.OutcomeStep || outcome.NodeID != "collect" {
		t.Fatalf("expected halt at collect, got %+v", outcome)
	}

	stored, _ := f.users.Get(ctx, tenant, u.ID)
	if stored.UserMetadata["color"] != "green" {
		t.Fatalf("flow update not applied at the step halt: %v", stored.UserMetadata)
	}

	outcome, err = f.pipeline.SubmitStep(ctx, ls, u, "collect", map[string]string{"answer": "yes"})
	if err != nil {
		t.Fatalf("submit step: %v", err)
	}
	if outcome.Kind != sessionsrv.OutcomeRedirect {
		t.Fatalf("expected final redirect, got %+v", outcome)
	}
	if !strings.HasPrefix(outcome.URL, "https://app.example.com/callback?") {
		t.Fatalf("redirect url = %q", outcome.URL)
	}
	if !strings.Contains(outcome.URL, "state=client-state") {
		t.Fatalf("expected state on redirect, got %q", outcome.URL)
	}

	stored, _ = f.users.Get(ctx, tenant, u.ID)
	if stored.UserMetadata["color"] != "green" {
		t.Fatalf("flow update lost across the step: %v", stored.UserMetadata)
	}
}

func TestFinalizeWithoutHooksRedirectsWithCode(t *testing.T) {
	f := newPipelineFixture(memHooks{}, memForms{}, memFlows{})
	ctx := context.Background()

	ls, u := f.authenticatedLogin(t)
	outcome, err := f.pipeline.Finalize(ctx, ls, u, false, nil)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if outcome.Kind != sessionsrv.OutcomeRedirect {
		t.Fatalf("expected redirect, got %+v", outcome)
	}
	if !strings.Contains(outcome.URL, "code=") {
		t.Fatalf("expected authorization code on redirect, got %q", outcome.URL)
	}
	if len(f.codes) != 1 {
		t.Fatalf("expected one stored code, got %d", len(f.codes))
	}
}

func TestSubmitStepRejectsWrongNode(t *testing.T) {
	f := newPipelineFixture(memHooks{}, memForms{}, memFlows{})
	ctx := context.Background()

	ls, u := f.authenticatedLogin(t)
	ls.CurrentFormID = "onboarding"
	ls.CurrentNodeID = "collect"

	if _, err := f.pipeline.SubmitStep(ctx, ls, u, "other", nil); err == nil {
		t.Fatal("expected error for a node the session is not parked at")
	}
}
