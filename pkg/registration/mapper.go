package registration

import (
	"context"
	"strings"

	"github.com/aserto-dev/oidc-registration/pkg/claims"
	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const maxAliasLength = 8

// Address sub-claims of the flattened address claim.
const (
	addressStreet     = "street_address"
	addressLocality   = "locality"
	addressState      = "state"
	addressCountry    = "country"
	addressPostalCode = "postal_code"
)

type Mapper struct {
	repo          directory.Repository
	defaultLocale string
	logger        *zerolog.Logger
}

// NewMapper returns a mapper that falls back to defaultLocale when the claims carry none.
func NewMapper(repo directory.Repository, defaultLocale string, logger *zerolog.Logger) *Mapper {
	return &Mapper{
		repo:          repo,
		defaultLocale: defaultLocale,
		logger:        logger,
	}
}

// Apply copies the claims onto the user. Each field is only touched when its claim is
// present, except for the locale and email encoding which are always set. New users get
// their email as username, which must not be taken; existing usernames never change.
// Without an email a new user gets no username.
func (m *Mapper) Apply(ctx context.Context, c *claims.Claims, u *model.UserRecord) error {
	if v, ok := c.Lookup(claims.Email); ok {
		u.Email = v
	}

	if v, ok := c.Lookup(claims.GivenName); ok {
		u.FirstName = v
	}

	if v, ok := c.Lookup(claims.FamilyName); ok {
		u.LastName = v
	}

	if c.Has(claims.GivenName) || c.Has(claims.FamilyName) {
		// last name first, first names collide more often.
		if alias, ok := alias(u.LastName + u.FirstName); ok {
			u.Alias = alias
		}
	}

	if u.IsNew() {
		if err := m.assignUsername(ctx, c.Email, u); err != nil {
			return err
		}
	}

	if v, ok := c.Lookup(claims.PhoneNumber); ok {
		if c.Get(claims.PhoneType) == claims.PhoneMobile {
			u.MobilePhone = v
		} else {
			u.Phone = v
		}
	}

	if v, ok := c.Lookup(claims.Address); ok {
		address := claims.ParseNested(v)
		u.Street = address[addressStreet]
		u.City = address[addressLocality]
		u.State = address[addressState]
		u.Country = address[addressCountry]
		u.PostalCode = address[addressPostalCode]
	}

	locale := m.defaultLocale
	if v, ok := c.Lookup(claims.Locale); ok {
		locale = strings.ReplaceAll(v, "-", "_")
	}

	u.LocaleKey = locale
	u.LanguageKey = locale

	if v, ok := c.Lookup(claims.ZoneInfo); ok {
		u.TimezoneKey = v
	}

	u.EmailEncodingKey = model.EmailEncodingUTF8

	return nil
}

func (m *Mapper) assignUsername(ctx context.Context, username string, u *model.UserRecord) error {
	if username == "" {
		m.logger.Warn().Str("method", "Apply").Msg("claims carry no email, username left unset")
		return nil
	}

	exists, err := m.repo.UsernameExists(ctx, username)
	if err != nil {
		return errors.Wrapf(err, "failed to check username %q", username)
	}

	if exists {
		return errors.Wrapf(ErrUsernameConflict, "username %q", username)
	}

	u.Username = username

	return nil
}

// alias returns the lower-cased first eight characters of name. Names of eight
// characters or fewer produce no alias.
func alias(name string) (string, bool) {
	runes := []rune(name)
	if len(runes) <= maxAliasLength {
		return "", false
	}

	return strings.ToLower(string(runes[:maxAliasLength])), true
}
