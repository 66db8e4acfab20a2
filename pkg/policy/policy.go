// Package policy decides whether a set of claims may create or update a directory user.
package policy

import (
	"github.com/aserto-dev/oidc-registration/pkg/claims"
)

// CanCreate requires a family name and a provider-verified email.
// email_verified is compared as the literal string "true".
func CanCreate(c *claims.Claims) bool {
	if c == nil || !c.Has(claims.FamilyName) {
		return false
	}

	return emailVerified(c)
}

// CanUpdate requires a provider-verified email.
func CanUpdate(c *claims.Claims) bool {
	if c == nil {
		return false
	}

	return emailVerified(c)
}

func emailVerified(c *claims.Claims) bool {
	v, ok := c.Lookup(claims.EmailVerified)

	return ok && v == claims.True
}
