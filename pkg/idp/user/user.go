package user

import (
	"strings"
	"time"

	"github.com/Abraxas-365/passport/pkg/kernel"
)

// User is an identity record. A user either is a primary identity
// (LinkedTo unset) or points at exactly one primary; chains are never
// longer than one hop.
type User struct {
	ID            kernel.UserID   `db:"id" json:"user_id"`
	TenantID      kernel.TenantID `db:"tenant_id" json:"-"`
	Email         string          `db:"email" json:"email,omitempty"`
	EmailVerified bool            `db:"email_verified" json:"email_verified"`
	Username      string          `db:"username" json:"username,omitempty"`
	PhoneNumber   string          `db:"phone_number" json:"phone_number,omitempty"`
	Provider      string          `db:"provider" json:"provider,omitempty"`
	Connection    string          `db:"connection" json:"connection,omitempty"`
	LinkedTo      *kernel.UserID  `db:"linked_to" json:"linked_to,omitempty"`

	Name       string `db:"name" json:"name,omitempty"`
	Nickname   string `db:"nickname" json:"nickname,omitempty"`
	Picture    string `db:"picture" json:"picture,omitempty"`
	GivenName  string `db:"given_name" json:"given_name,omitempty"`
	FamilyName string `db:"family_name" json:"family_name,omitempty"`
	Locale     string `db:"locale" json:"locale,omitempty"`

	AppMetadata  AppMetadata            `db:"app_metadata" json:"app_metadata"`
	UserMetadata map[string]interface{} `db:"user_metadata" json:"user_metadata,omitempty"`
	Address      map[string]interface{} `db:"address" json:"address,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AppMetadata holds the pipeline-owned portion of the user record. Writes to
// these fields are full-document, last-write-wins.
type AppMetadata struct {
	// FailedLogins holds millisecond timestamps of failed password attempts.
	// Always pruned to the lockout window before being read or written.
	FailedLogins []int64 `json:"failed_logins,omitempty"`

	// Strategy is the connection strategy recorded on first authentication.
	Strategy string `json:"strategy,omitempty"`
}

// IsPrimary reports whether the user is a canonical identity.
func (u *User) IsPrimary() bool { return u.LinkedTo == nil }

// NormalizedEmail returns the lower-cased email used for link matching.
func (u *User) NormalizedEmail() string { return strings.ToLower(u.Email) }

// ApplyChanges mutates the user with a resolved pending-update map. Keys
// "user_metadata" and "address" carry nested maps merged per key; everything
// else addresses a top-level field.
func (u *User) ApplyChanges(changes map[string]interface{}) {
	for key, value := range changes {
		switch key {
		case "user_metadata":
			if nested, ok := value.(map[string]interface{}); ok {
				if u.UserMetadata == nil {
					u.UserMetadata = make(map[string]interface{}, len(nested))
				}
				for k, v := range nested {
					u.UserMetadata[k] = v
				}
			}
		case "address":
			if nested, ok := value.(map[string]interface{}); ok {
				if u.Address == nil {
					u.Address = make(map[string]interface{}, len(nested))
				}
				for k, v := range nested {
					u.Address[k] = v
				}
			}
		default:
			u.applyField(key, value)
		}
	}
}

func (u *User) applyField(key string, value interface{}) {
	str := func() string {
		s, _ := value.(string)
		return s
	}
	switch key {
	case "email":
		u.Email = str()
	case "email_verified":
		if b, ok := value.(bool); ok {
			u.EmailVerified = b
		}
	case "username":
		u.Username = str()
	case "phone_number":
		u.PhoneNumber = str()
	case "name":
		u.Name = str()
	case "nickname":
		u.Nickname = str()
	case "picture":
		u.Picture = str()
	case "given_name":
		u.GivenName = str()
	case "family_name":
		u.FamilyName = str()
	case "locale":
		u.Locale = str()
	}
}
