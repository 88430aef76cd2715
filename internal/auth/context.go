package auth

import (
	"context"
	"strings"
)

// Principal is the authenticated identity bound to a request. It is built
// from the token's embedded claims at the gate; authorities therefore
// reflect the roles held at issuance time, not a fresh lookup.
type Principal struct {
	Username    string
	Authorities []string
}

// HasAuthority reports whether the principal carries the provided role name,
// ignoring case.
func (p Principal) HasAuthority(role string) bool {
	for _, existing := range p.Authorities {
		if strings.EqualFold(existing, role) {
			return true
		}
	}
	return false
}

type principalKey struct{}

// ContextWithPrincipal stores the authenticated principal in the provided
// context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext retrieves the principal bound by the authentication
// gate, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}
