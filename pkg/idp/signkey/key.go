package signkey

import (
	"context"
	"sort"
	"time"
)

// SigningKey is an RSA signing key in PEM form. Revocation is honored
// lazily: a key revoked in the future is still usable.
type SigningKey struct {
	KID        string     `db:"kid" json:"kid"`
	PrivateKey string     `db:"private_key" json:"-"`
	PublicKey  string     `db:"public_key" json:"public_key"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// IsValid reports whether the key may sign at the given time.
func (k *SigningKey) IsValid(now time.Time) bool {
	return k.RevokedAt == nil || k.RevokedAt.After(now)
}

// Repository lists the signing keys of the deployment.
type Repository interface {
	List(ctx context.Context) ([]*SigningKey, error)
}

// MostRecentValid returns the newest key valid at now, or nil when none is.
// A nil result is a server misconfiguration, not a client error.
func MostRecentValid(keys []*SigningKey, now time.Time) *SigningKey {
	valid := make([]*SigningKey, 0, len(keys))
	for _, k := range keys {
		if k.IsValid(now) {
			valid = append(valid, k)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	sort.Slice(valid, func(i, j int) bool {
		return valid[i].CreatedAt.After(valid[j].CreatedAt)
	})
	return valid[0]
}
