package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when an operation needs a real identity
// and the caller has none.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is a username, the only principal type.
type Identity string

func (i Identity) String() string { return string(i) }

type ctxKey int

const (
	identityKey ctxKey = iota
	gateStateKey
)

// WithIdentity attaches id to ctx unless an identity is already attached.
// The second return reports whether id was attached.
func WithIdentity(ctx context.Context, id Identity) (context.Context, bool) {
	if _, ok := IdentityFrom(ctx); ok {
		return ctx, false
	}
	return context.WithValue(ctx, identityKey, id), true
}

// IdentityFrom returns the identity attached to ctx, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Principal is the identity bound to a long-lived connection. It is either
// a real Identity or anonymous; an anonymous principal has a label for logs
// but never yields an Identity.
type Principal struct {
	id    Identity
	label string
}

// Authenticated returns a principal for a real identity.
func Authenticated(id Identity) Principal {
	return Principal{id: id, label: string(id)}
}

// Identity returns the real identity, or false for an anonymous principal.
func (p Principal) Identity() (Identity, bool) {
	if p.id == "" {
		return "", false
	}
	return p.id, true
}

// Anonymous reports whether the principal has no real identity.
func (p Principal) Anonymous() bool { return p.id == "" }

// String is for logging only.
func (p Principal) String() string { return p.label }

// Require returns the real identity or ErrUnauthenticated.
func (p Principal) Require() (Identity, error) {
	id, ok := p.Identity()
	if !ok {
		return "", ErrUnauthenticated
	}
	return id, nil
}
