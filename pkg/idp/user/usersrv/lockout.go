package usersrv

import (
	"context"
	"time"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp"
	"github.com/Abraxas-365/passport/pkg/idp/user"
)

// LockoutGuard tracks failed password attempts in a sliding window stored on
// the user's app_metadata. The window is pruned before every read and write.
type LockoutGuard struct {
	users     user.Repository
	window    time.Duration
	threshold int
	now       func() time.Time
}

// NewLockoutGuard creates a guard with the given window and attempt
// threshold.
func NewLockoutGuard(users user.Repository, window time.Duration, threshold int) *LockoutGuard {
	if window == 0 {
		window = 5 * time.Minute
	}
	if threshold == 0 {
		threshold = 3
	}
	return &LockoutGuard{
		users:     users,
		window:    window,
		threshold: threshold,
		now:       time.Now,
	}
}

// Check denies the attempt when the pruned failure count has reached the
// threshold. It must run before the password is compared.
func (g *LockoutGuard) Check(u *user.User) error {
	remaining := g.prune(u.AppMetadata.FailedLogins)
	if len(remaining) >= g.threshold {
		return idp.ErrTooManyFailedLogins().
			WithDetail("user_id", u.ID.String()).
			WithDetail("failed_attempts", len(remaining))
	}
	return nil
}

// RecordFailure appends the current attempt to the pruned window and
// persists it as a full-document write of the owned fields.
func (g *LockoutGuard) RecordFailure(ctx context.Context, u *user.User) error {
	pruned := g.prune(u.AppMetadata.FailedLogins)
	u.AppMetadata.FailedLogins = append(pruned, g.now().UnixMilli())

	if err := g.users.Update(ctx, u); err != nil {
		return errx.Wrap(err, "failed to record login failure", errx.TypeInternal).
			WithDetail("user_id", u.ID.String())
	}
	return nil
}

// Clear wipes the failure history after a successful login. A user with no
// recorded failures is left untouched.
func (g *LockoutGuard) Clear(ctx context.Context, u *user.User) error {
	if len(u.AppMetadata.FailedLogins) == 0 {
		return nil
	}
	u.AppMetadata.FailedLogins = nil

	if err := g.users.Update(ctx, u); err != nil {
		return errx.Wrap(err, "failed to clear login failures", errx.TypeInternal).
			WithDetail("user_id", u.ID.String())
	}
	return nil
}

func (g *LockoutGuard) prune(failures []int64) []int64 {
	cutoff := g.now().Add(-g.window).UnixMilli()
	pruned := make([]int64, 0, len(failures))
	for _, ts := range failures {
		if ts > cutoff {
			pruned = append(pruned, ts)
		}
	}
	return pruned
}
