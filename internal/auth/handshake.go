package auth

import (
	"context"

	"github.com/google/uuid"
)

const anonymousPrefix = "anon-"

// BindPrincipal converts the identity the gate attached to an upgrade
// request into the principal for the resulting connection. Requests without
// an identity get a fresh anonymous principal so every connection has one;
// it never satisfies an identity check.
func BindPrincipal(ctx context.Context) Principal {
	if id, ok := IdentityFrom(ctx); ok {
		return Authenticated(id)
	}
	return Principal{label: anonymousPrefix + uuid.NewString()}
}
