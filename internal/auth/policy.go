package auth

import (
	"context"
	"errors"
)

// Authorization errors. ErrNotAuthenticated means no principal was bound to
// the request at all; ErrAccessDenied means a principal exists but fails the
// check. The HTTP boundary maps them to 401 and 403 respectively.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAccessDenied     = errors.New("access denied")
)

// RequirePrincipal returns the principal bound to the request context, or
// ErrNotAuthenticated when the request carried no valid token.
func RequirePrincipal(ctx context.Context) (Principal, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, ErrNotAuthenticated
	}
	return principal, nil
}

// RequireRole is the role-gate: it passes iff a principal is bound and its
// authorities include required. Authorities come from the token's claims,
// so a role change after issuance does not affect an unexpired token.
func RequireRole(ctx context.Context, required string) (Principal, error) {
	principal, err := RequirePrincipal(ctx)
	if err != nil {
		return Principal{}, err
	}
	if !principal.HasAuthority(required) {
		return Principal{}, ErrAccessDenied
	}
	return principal, nil
}

// CheckOwnership is the ownership-gate: it passes iff the principal owns the
// resource or carries the override role. The caller supplies the resolved
// principal user ID; the override check reads the token's authorities.
func CheckOwnership(principal Principal, principalID, ownerID, override string) error {
	if principalID != "" && principalID == ownerID {
		return nil
	}
	if principal.HasAuthority(override) {
		return nil
	}
	return ErrAccessDenied
}
