package session

import (
	"time"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// Device is the fingerprint of the browser/device a session was minted for.
type Device struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Session is an authenticated browser/device session, independent of any
// single login attempt. Many login sessions may reference one Session.
type Session struct {
	ID       kernel.SessionID  `db:"id" json:"id"`
	TenantID kernel.TenantID   `db:"tenant_id" json:"tenant_id"`
	UserID   kernel.UserID     `db:"user_id" json:"user_id"`
	Clients  []kernel.ClientID `db:"-" json:"clients"`
	Device   Device            `db:"device" json:"device"`

	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UsedAt        time.Time  `db:"used_at" json:"used_at"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	IdleExpiresAt time.Time  `db:"idle_expires_at" json:"idle_expires_at"`
}

// IsValid reports whether the session is live at the given time. All expiry
// is checked lazily against stored timestamps.
func (s *Session) IsValid(now time.Time) bool {
	if s.RevokedAt != nil && !s.RevokedAt.After(now) {
		return false
	}
	return now.Before(s.ExpiresAt) && now.Before(s.IdleExpiresAt)
}

// HasClient reports whether the client already participates in the session.
func (s *Session) HasClient(clientID kernel.ClientID) bool {
	for _, c := range s.Clients {
		if c == clientID {
			return true
		}
	}
	return false
}

// RefreshToken is a long-lived credential bound to a Session and a scope set
// for one resource server. It carries both an absolute and a sliding expiry.
type RefreshToken struct {
	ID        string           `db:"id" json:"id"`
	TenantID  kernel.TenantID  `db:"tenant_id" json:"tenant_id"`
	SessionID kernel.SessionID `db:"session_id" json:"session_id"`
	UserID    kernel.UserID    `db:"user_id" json:"user_id"`
	ClientID  kernel.ClientID  `db:"client_id" json:"client_id"`
	Audience  string           `db:"audience" json:"audience,omitempty"`
	Scopes    []string         `db:"-" json:"scopes,omitempty"`
	Device    Device           `db:"device" json:"device"`

	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	LastUsedAt    time.Time `db:"last_used_at" json:"last_used_at"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
	IdleExpiresAt time.Time `db:"idle_expires_at" json:"idle_expires_at"`
}

// IsExpired reports whether either expiry has passed.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt) || now.After(t.IdleExpiresAt)
}
