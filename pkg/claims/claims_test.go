package claims_test

import (
	"testing"

	"github.com/aserto-dev/oidc-registration/pkg/claims"
	"github.com/stretchr/testify/require"
)

func TestNewFallsBackToClaimValues(t *testing.T) {
	assert := require.New(t)

	c := claims.New("", "", map[string]string{
		claims.Email:   "rick@the-citadel.com",
		claims.Subject: "CiRmZDA2MTRkMy1jMzlhLTQ3ODEtYjdiZC04Yjk2ZjVhNTEwMGQSBWxvY2Fs",
	})

	assert.Equal("rick@the-citadel.com", c.Email)
	assert.Equal("CiRmZDA2MTRkMy1jMzlhLTQ3ODEtYjdiZC04Yjk2ZjVhNTEwMGQSBWxvY2Fs", c.Subject)
}

func TestNewCopiesValues(t *testing.T) {
	assert := require.New(t)

	values := map[string]string{claims.GivenName: "Rick"}
	c := claims.New("rick@the-citadel.com", "rick", values)

	values[claims.GivenName] = "Morty"
	values[claims.FamilyName] = "Smith"

	assert.Equal("Rick", c.Get(claims.GivenName))
	assert.False(c.Has(claims.FamilyName))
}

func TestHasDistinguishesEmptyFromAbsent(t *testing.T) {
	assert := require.New(t)

	c := claims.New("rick@the-citadel.com", "rick", map[string]string{claims.PhoneNumber: ""})

	assert.True(c.Has(claims.PhoneNumber))
	assert.False(c.Has(claims.PhoneType))

	v, ok := c.Lookup(claims.PhoneNumber)
	assert.True(ok)
	assert.Empty(v)
}

func TestCommunity(t *testing.T) {
	assert := require.New(t)

	assert.False(claims.New("a@b.c", "s", nil).Community())
	assert.True(claims.New("a@b.c", "s", map[string]string{claims.NetworkID: "0DB000000000001"}).Community())

	var c *claims.Claims
	assert.False(c.Community())
}
