package domain

import "context"

// Identity is the caller resolved for a request: either anonymous or an
// authenticated user profile.
type Identity struct {
	profile *Profile
}

// Anonymous returns the identity of an unauthenticated caller.
func Anonymous() Identity {
	return Identity{}
}

// Authenticated returns the identity of a resolved user.
func Authenticated(p Profile) Identity {
	return Identity{profile: &p}
}

// IsAnonymous reports whether no user is attached.
func (i Identity) IsAnonymous() bool {
	return i.profile == nil
}

// Profile returns the authenticated user's profile and true, or false for
// anonymous callers.
func (i Identity) Profile() (Profile, bool) {
	if i.profile == nil {
		return Profile{}, false
	}
	return *i.profile, true
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached to ctx, anonymous if none.
func IdentityFromContext(ctx context.Context) Identity {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return Anonymous()
	}
	return id
}
