package usersrv

import (
	"context"

	"github.com/Abraxas-365/passport/pkg/errx"
	"github.com/Abraxas-365/passport/pkg/idp/user"
	"github.com/Abraxas-365/passport/pkg/logx"
)

// Linker merges identities that share a verified email address under one
// primary user. Callers always receive the canonical identity back.
type Linker struct {
	users user.Repository
}

// NewLinker creates an account linker over the user repository.
func NewLinker(users user.Repository) *Linker {
	return &Linker{users: users}
}

// Create persists a new user, linking it to an existing primary when a
// verified email matches. When linked, the primary is returned; otherwise the
// created user itself.
func (l *Linker) Create(ctx context.Context, u *user.User) (*user.User, error) {
	if u.LinkedTo == nil && u.Email != "" && u.EmailVerified {
		primary, err := l.findLinkTarget(ctx, u)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			id := primary.ID
			u.LinkedTo = &id
		}
	}

	if err := l.users.Create(ctx, u); err != nil {
		return nil, errx.Wrap(err, "failed to create user", errx.TypeInternal).
			WithDetail("user_id", u.ID.String())
	}

	if u.LinkedTo != nil {
		return l.ResolvePrimary(ctx, u)
	}
	return u, nil
}

// Update persists changes to a user and re-runs the matching logic when the
// email changed or email_verified flipped to true. This enables
// cross-provider linking after the fact.
func (l *Linker) Update(ctx context.Context, u *user.User, prev *user.User) (*user.User, error) {
	emailChanged := prev != nil && u.Email != prev.Email
	verifiedNow := prev != nil && u.EmailVerified && !prev.EmailVerified

	if u.LinkedTo == nil && u.Email != "" && u.EmailVerified && (emailChanged || verifiedNow) {
		primary, err := l.findLinkTarget(ctx, u)
		if err != nil {
			return nil, err
		}
		if primary != nil {
			id := primary.ID
			u.LinkedTo = &id
		}
	}

	if err := l.users.Update(ctx, u); err != nil {
		return nil, errx.Wrap(err, "failed to update user", errx.TypeInternal).
			WithDetail("user_id", u.ID.String())
	}

	if u.LinkedTo != nil {
		return l.ResolvePrimary(ctx, u)
	}
	return u, nil
}

// ResolvePrimary follows linked_to to the canonical identity. Chains are at
// most one hop; a primary resolves to itself.
func (l *Linker) ResolvePrimary(ctx context.Context, u *user.User) (*user.User, error) {
	if u.LinkedTo == nil {
		return u, nil
	}
	primary, err := l.users.Get(ctx, u.TenantID, *u.LinkedTo)
	if err != nil {
		return nil, errx.Wrap(err, "failed to resolve primary user", errx.TypeInternal).
			WithDetail("user_id", u.ID.String()).
			WithDetail("linked_to", u.LinkedTo.String())
	}
	if primary == nil {
		// A dangling link must not strand the account: the secondary stays
		// usable as its own identity until the link is repaired.
		logx.WithFields(logx.Fields{
			"tenant_id": u.TenantID.String(),
			"user_id":   u.ID.String(),
			"linked_to": u.LinkedTo.String(),
		}).Warn("linked_to points at a missing user; treating as primary")
		return u, nil
	}
	return primary, nil
}

// findLinkTarget locates the primary user a verified email should link to.
// It never returns a target that no longer exists.
func (l *Linker) findLinkTarget(ctx context.Context, u *user.User) (*user.User, error) {
	primaries, err := l.users.FindPrimariesByEmail(ctx, u.TenantID, u.NormalizedEmail())
	if err != nil {
		return nil, errx.Wrap(err, "failed to search for linkable users", errx.TypeInternal).
			WithDetail("email", u.NormalizedEmail())
	}

	candidates := make([]*user.User, 0, len(primaries))
	for _, p := range primaries {
		if p.ID != u.ID {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Multiple unlinked users sharing an email is an anomaly: log it and
	// link to the first discovered instead of failing the login.
	if len(candidates) > 1 {
		logx.WithFields(logx.Fields{
			"tenant_id": u.TenantID.String(),
			"email":     u.NormalizedEmail(),
			"count":     len(candidates),
		}).Warn("multiple primary users share a verified email; linking to first")
	}

	target := candidates[0]

	// Re-fetch before finalizing so a linked_to is never dangling.
	verified, err := l.users.Get(ctx, u.TenantID, target.ID)
	if err != nil {
		logx.WithFields(logx.Fields{
			"tenant_id": u.TenantID.String(),
			"target_id": target.ID.String(),
		}).Warn("link target vanished before linking; creating unlinked user")
		return nil, nil
	}
	return verified, nil
}
