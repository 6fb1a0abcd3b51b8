package sessionsrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/session"
	"github.com/Abraxas-365/passport/pkg/kernel"
	"github.com/google/uuid"
)

// Manager owns the state of in-progress interactive logins. Every transition
// goes through here and is persisted; no transition may be skipped.
type Manager struct {
	loginSessions session.LoginSessionRepository
	sessions      session.Repository

	loginTTL    time.Duration
	sessionTTL  time.Duration
	sessionIdle time.Duration
	now         func() time.Time
}

// NewManager creates the login-session manager.
func NewManager(loginSessions session.LoginSessionRepository, sessions session.Repository, loginTTL time.Duration) *Manager {
	if loginTTL == 0 {
		loginTTL = time.Hour
	}
	return &Manager{
		loginSessions: loginSessions,
		sessions:      sessions,
		loginTTL:      loginTTL,
		sessionTTL:    30 * 24 * time.Hour,
		sessionIdle:   3 * 24 * time.Hour,
		now:           time.Now,
	}
}

// Begin creates a login session for a fresh interactive attempt. Its id
// doubles as the OAuth2 state threaded through every later step.
func (m *Manager) Begin(ctx context.Context, tenantID kernel.TenantID, params kernel.AuthParams) (*session.LoginSession, error) {
	now := m.now()
	ls := &session.LoginSession{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		AuthParams: params,
		CSRFToken:  uuid.NewString(),
		State:      session.StatePending,
		ExpiresAt:  now.Add(m.loginTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.loginSessions.Create(ctx, ls); err != nil {
		return nil, errx.Wrap(err, "failed to create login session", errx.TypeInternal)
	}
	return ls, nil
}

// Load fetches a login session, enforcing expiry and the closed-session
// rule: once a session is bound and completed, further access without an
// explicit allowance is denied.
func (m *Manager) Load(ctx context.Context, tenantID kernel.TenantID, id string, allow session.ContinuationTarget) (*session.LoginSession, error) {
	ls, err := m.loginSessions.Get(ctx, tenantID, id)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load login session", errx.TypeInternal)
	}
	if ls == nil {
		return nil, idp.ErrLoginSessionNotFound()
	}
	if ls.IsExpired(m.now()) {
		return nil, idp.ErrLoginSessionNotFound().WithDetail("reason", "expired")
	}
	if ls.IsClosed() && (allow == "" || !ls.AllowsTarget(allow)) {
		return nil, idp.ErrLoginSessionClosed()
	}
	return ls, nil
}

// Peek returns the stored login session without the closed-session gate.
// The protocol layer uses it to build the denial redirect.
func (m *Manager) Peek(ctx context.Context, tenantID kernel.TenantID, id string) (*session.LoginSession, error) {
	ls, err := m.loginSessions.Get(ctx, tenantID, id)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load login session", errx.TypeInternal)
	}
	if ls == nil {
		return nil, idp.ErrLoginSessionNotFound()
	}
	return ls, nil
}

// LoadForResume fetches a suspended login session for continuation. A
// closed session is only admitted when a continuation allowance survives.
func (m *Manager) LoadForResume(ctx context.Context, tenantID kernel.TenantID, id string) (*session.LoginSession, error) {
	ls, err := m.loginSessions.Get(ctx, tenantID, id)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load login session", errx.TypeInternal)
	}
	if ls == nil {
		return nil, idp.ErrLoginSessionNotFound()
	}
	if ls.IsExpired(m.now()) {
		return nil, idp.ErrLoginSessionNotFound().WithDetail("reason", "expired")
	}
	if ls.IsClosed() && len(ls.AllowedTargets) == 0 {
		return nil, idp.ErrLoginSessionClosed()
	}
	return ls, nil
}

// transition moves the session to next, or fails when the move is illegal.
func (m *Manager) transition(ctx context.Context, ls *session.LoginSession, next session.State) error {
	if !session.CanTransition(ls.State, next) {
		return errx.Internal("illegal login session transition").
			WithDetail("from", string(ls.State)).
			WithDetail("to", string(next))
	}
	ls.State = next
	ls.UpdatedAt = m.now()
	if err := m.loginSessions.Update(ctx, ls); err != nil {
		return errx.Wrap(err, "failed to persist login session transition", errx.TypeInternal).
			WithDetail("to", string(next))
	}
	return nil
}

// CaptureIdentifier records the login identifier and advances to the
// credential step.
func (m *Manager) CaptureIdentifier(ctx context.Context, ls *session.LoginSession, username string) error {
	ls.AuthParams.Username = username
	return m.transition(ctx, ls, session.StateAwaitingCredential)
}

// CredentialRetry re-persists the session after a failed credential check.
// The state stays AWAITING_CREDENTIAL: a wrong password is not a failure
// state.
func (m *Manager) CredentialRetry(ctx context.Context, ls *session.LoginSession) error {
	return m.transition(ctx, ls, session.StateAwaitingCredential)
}

// Authenticate binds the authenticated device session and moves forward.
func (m *Manager) Authenticate(ctx context.Context, ls *session.LoginSession, sessionID kernel.SessionID) error {
	ls.SessionID = sessionID
	return m.transition(ctx, ls, session.StateAuthenticated)
}

// AwaitHook parks the session while a post-login hook displays UI.
func (m *Manager) AwaitHook(ctx context.Context, ls *session.LoginSession, formID, nodeID string) error {
	ls.CurrentFormID = formID
	ls.CurrentNodeID = nodeID
	return m.transition(ctx, ls, session.StateAwaitingHook)
}

// Suspend parks the session across an external redirect, restricting what
// the suspended session may be used for and recording the resume URL.
// Custom targets carry no scope restriction; the generic hook-pending
// mechanism covers them.
func (m *Manager) Suspend(ctx context.Context, ls *session.LoginSession, target session.ContinuationTarget, returnURL, formID, nodeID string) error {
	if target != session.TargetCustom {
		ls.AllowedTargets = []session.ContinuationTarget{target}
	}
	ls.ReturnURL = returnURL
	ls.CurrentFormID = formID
	ls.CurrentNodeID = nodeID
	return m.transition(ctx, ls, session.StateAwaitingHook)
}

// ResumeHook returns a suspended session to the authenticated state once
// its hook resolved.
func (m *Manager) ResumeHook(ctx context.Context, ls *session.LoginSession) error {
	ls.AllowedTargets = nil
	ls.ReturnURL = ""
	return m.transition(ctx, ls, session.StateAuthenticated)
}

// Complete closes the session after tokens were issued.
func (m *Manager) Complete(ctx context.Context, ls *session.LoginSession) error {
	ls.LoginCompleted = true
	return m.transition(ctx, ls, session.StateCompleted)
}

// Fail closes the session on lockout or verification failure. Unlike a
// credential retry this is terminal.
func (m *Manager) Fail(ctx context.Context, ls *session.LoginSession) error {
	return m.transition(ctx, ls, session.StateFailed)
}

// Session fetches a device session and enforces its expiry.
func (m *Manager) Session(ctx context.Context, tenantID kernel.TenantID, id kernel.SessionID) (*session.Session, error) {
	s, err := m.sessions.Get(ctx, tenantID, id)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load session", errx.TypeInternal)
	}
	if s == nil || !s.IsValid(m.now()) {
		return nil, idp.ErrInvalidSession()
	}
	return s, nil
}

// CreateSession mints a new authenticated device session for the user.
func (m *Manager) CreateSession(ctx context.Context, tenantID kernel.TenantID, userID kernel.UserID, clientID kernel.ClientID, device session.Device) (*session.Session, error) {
	now := m.now()
	s := &session.Session{
		ID:            kernel.NewSessionID(uuid.NewString()),
		TenantID:      tenantID,
		UserID:        userID,
		Clients:       []kernel.ClientID{clientID},
		Device:        device,
		CreatedAt:     now,
		UsedAt:        now,
		ExpiresAt:     now.Add(m.sessionTTL),
		IdleExpiresAt: now.Add(m.sessionIdle),
	}
	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, errx.Wrap(err, "failed to create session", errx.TypeInternal).
			WithDetail("user_id", userID.String())
	}
	return s, nil
}

// TouchSession slides the idle window and records the client on reuse.
func (m *Manager) TouchSession(ctx context.Context, s *session.Session, clientID kernel.ClientID) error {
	now := m.now()
	s.UsedAt = now
	s.IdleExpiresAt = now.Add(m.sessionIdle)
	if !s.HasClient(clientID) {
		s.Clients = append(s.Clients, clientID)
	}
	if err := m.sessions.Update(ctx, s); err != nil {
		return errx.Wrap(err, "failed to update session", errx.TypeInternal)
	}
	return nil
}
