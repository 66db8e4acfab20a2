package claims

import (
	"maps"
)

// Claim keys understood by the registration handler.
const (
	Email         = "email"
	EmailVerified = "email_verified"
	GivenName     = "given_name"
	FamilyName    = "family_name"
	Subject       = "sub"
	PhoneNumber   = "phone_number"
	PhoneType     = "phone_type"
	Address       = "address"
	Locale        = "locale"
	ZoneInfo      = "zoneinfo"

	// NetworkID marks a login through a community/partner site.
	NetworkID = "network_id"
)

const (
	True        = "true"
	PhoneMobile = "mobile"
)

// Claims are the verified assertions an identity provider made about a subject.
// A key that is absent is different from a key with an empty value.
type Claims struct {
	Email   string
	Subject string

	values map[string]string
}

// New copies values, so later changes to the map are not visible through the claims.
// Email and subject fall back to the "email" and "sub" claims when empty.
func New(email, subject string, values map[string]string) *Claims {
	c := &Claims{
		Email:   email,
		Subject: subject,
		values:  make(map[string]string, len(values)),
	}

	maps.Copy(c.values, values)

	if c.Email == "" {
		c.Email = c.values[Email]
	}

	if c.Subject == "" {
		c.Subject = c.values[Subject]
	}

	return c
}

func (c *Claims) Has(key string) bool {
	if c == nil {
		return false
	}

	_, ok := c.values[key]

	return ok
}

func (c *Claims) Get(key string) string {
	if c == nil {
		return ""
	}

	return c.values[key]
}

// Lookup returns the claim value and whether the key was present.
func (c *Claims) Lookup(key string) (string, bool) {
	if c == nil {
		return "", false
	}

	v, ok := c.values[key]

	return v, ok
}

// Community reports whether the login came through a community/partner context.
func (c *Claims) Community() bool {
	return c.Has(NetworkID)
}

func (c *Claims) Values() map[string]string {
	if c == nil {
		return map[string]string{}
	}

	return maps.Clone(c.values)
}
