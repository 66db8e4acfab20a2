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

const (
	matchedByLink  = "link"
	matchedByEmail = "email"
)

// Match is the outcome of a lookup. User is nil when nothing matched.
// Linked reports whether the subject already had a linked account, whether or not
// the linked user survived the filters.
type Match struct {
	User         *model.UserRecord
	Linked       bool
	LinkedUserID string
	By           string
}

type Matcher struct {
	repo            directory.Repository
	rejectAmbiguous bool
	logger          *zerolog.Logger
}

func NewMatcher(repo directory.Repository, rejectAmbiguous bool, logger *zerolog.Logger) *Matcher {
	return &Matcher{
		repo:            repo,
		rejectAmbiguous: rejectAmbiguous,
		logger:          logger,
	}
}

var activeMembers = directory.UserFilter{ActiveOnly: true, ExcludeGuest: true}

// Match resolves the claims to at most one active, non-guest user: first through the
// subject's linked account, otherwise by email. A linked user whose email no longer
// matches the claims, or who was deactivated, is not a match.
func (m *Matcher) Match(ctx context.Context, c *claims.Claims) (*Match, error) {
	logger := m.logger.With().Str("method", "Match").Str("subject", c.Subject).Logger()

	link, err := m.repo.FindLinkedAccount(ctx, c.Subject)

	switch {
	case err == nil:
		return m.matchLinked(ctx, c, link, logger)
	case errors.Is(err, directory.ErrNotFound):
		return m.matchEmail(ctx, c, logger)
	default:
		return nil, errors.Wrap(err, "failed to look up linked account")
	}
}

func (m *Matcher) matchLinked(ctx context.Context, c *claims.Claims, link *model.LinkedAccount, logger zerolog.Logger) (*Match, error) {
	result := &Match{Linked: true, LinkedUserID: link.UserID}

	user, err := m.repo.FindUserByID(ctx, link.UserID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			logger.Info().Str("user_id", link.UserID).Msg("linked user no longer exists")
			return result, nil
		}

		return nil, errors.Wrapf(err, "failed to load linked user %q", link.UserID)
	}

	if !strings.EqualFold(user.Email, c.Email) || !activeMembers.Match(user) {
		logger.Info().Str("user_id", user.ID).Msg("linked user does not match claims")
		return result, nil
	}

	logger.Debug().Str("user_id", user.ID).Msg("matched by linked account")

	result.User = user
	result.By = matchedByLink

	return result, nil
}

func (m *Matcher) matchEmail(ctx context.Context, c *claims.Claims, logger zerolog.Logger) (*Match, error) {
	users, err := m.repo.FindUsersByEmail(ctx, c.Email, activeMembers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up users by email")
	}

	switch {
	case len(users) == 0:
		logger.Debug().Msg("no user matched")
		return &Match{}, nil
	case len(users) > 1 && m.rejectAmbiguous:
		return nil, errors.Wrapf(ErrAmbiguousMatch, "%d users with email %q", len(users), c.Email)
	case len(users) > 1:
		logger.Warn().Int("count", len(users)).Str("user_id", users[0].ID).Msg("multiple users matched by email, using the first")
	}

	logger.Debug().Str("user_id", users[0].ID).Msg("matched by email")

	return &Match{User: users[0], By: matchedByEmail}, nil
}
