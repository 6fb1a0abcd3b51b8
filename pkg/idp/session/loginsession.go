package session

import (
	"time"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// State is the position of a login session in the interactive pipeline.
// Transitions are monotonic forward, with one exception: a failed credential
// check stays in AWAITING_CREDENTIAL for retry.
type State string

const (
	StatePending            State = "PENDING"
	StateAwaitingCredential State = "AWAITING_CREDENTIAL"
	StateAuthenticated      State = "AUTHENTICATED"
	StateAwaitingHook       State = "AWAITING_HOOK"
	StateCompleted          State = "COMPLETED"
	StateFailed             State = "FAILED"
)

// transitions is the closed set of legal state moves.
var transitions = map[State][]State{
	StatePending:            {StateAwaitingCredential, StateFailed},
	StateAwaitingCredential: {StateAwaitingCredential, StateAuthenticated, StateFailed},
	StateAuthenticated:      {StateAwaitingHook, StateCompleted, StateFailed},
	StateAwaitingHook:       {StateAwaitingHook, StateAuthenticated, StateFailed},
	StateCompleted:          {},
	StateFailed:             {},
}

// CanTransition reports whether moving from to next is legal.
func CanTransition(from, next State) bool {
	for _, s := range transitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool { return len(transitions[s]) == 0 }

// ContinuationTarget is the external destination a suspended login session
// is restricted to.
type ContinuationTarget string

const (
	TargetChangeEmail ContinuationTarget = "change-email"
	TargetAccount     ContinuationTarget = "account"
	TargetCustom      ContinuationTarget = "custom"
)

// LoginSession is one interactive login attempt. Its id doubles as the
// OAuth2 state threaded through redirects.
type LoginSession struct {
	ID         string            `db:"id" json:"id"`
	TenantID   kernel.TenantID   `db:"tenant_id" json:"tenant_id"`
	AuthParams kernel.AuthParams `db:"auth_params" json:"auth_params"`
	CSRFToken  string            `db:"csrf_token" json:"csrf_token"`
	State      State             `db:"state" json:"state"`

	// SessionID is bound once the user authenticated.
	SessionID      kernel.SessionID `db:"session_id" json:"session_id,omitempty"`
	LoginCompleted bool             `db:"login_completed" json:"login_completed"`

	// Strategy names the connection that verified the credential.
	Strategy string `db:"strategy" json:"strategy,omitempty"`

	// Continuation fields, set while suspended for an external redirect.
	// AllowedTargets restricts what the suspended session may be used for;
	// ReturnURL points back into the resume endpoint.
	AllowedTargets []ContinuationTarget `db:"-" json:"allowed_targets,omitempty"`
	ReturnURL      string               `db:"return_url" json:"return_url,omitempty"`

	// CurrentNodeID tracks where a form hook paused for user input.
	CurrentFormID string `db:"current_form_id" json:"current_form_id,omitempty"`
	CurrentNodeID string `db:"current_node_id" json:"current_node_id,omitempty"`

	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the login attempt has lapsed.
func (ls *LoginSession) IsExpired(now time.Time) bool {
	return now.After(ls.ExpiresAt)
}

// IsClosed reports whether the session finished issuing tokens. Further
// access without an explicit allowance must be denied.
func (ls *LoginSession) IsClosed() bool {
	return !ls.SessionID.IsEmpty() && ls.LoginCompleted
}

// AllowsTarget reports whether a suspended session may be used for the
// given continuation target. An unsuspended session allows nothing.
func (ls *LoginSession) AllowsTarget(target ContinuationTarget) bool {
	for _, t := range ls.AllowedTargets {
		if t == target {
			return true
		}
	}
	return false
}
