package registration

import (
	"context"
	"time"

	"github.com/aserto-dev/oidc-registration/pkg/claims"
	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/aserto-dev/oidc-registration/pkg/policy"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	OperationCreateOrLink = "create_or_link"
	OperationUpdate       = "update"
)

const (
	OutcomeMatched    = "matched"
	OutcomeCreated    = "created"
	OutcomeUpdated    = "updated"
	OutcomeIneligible = "ineligible"
	OutcomeRefused    = "refused"
	OutcomeConflict   = "conflict"
	OutcomeAmbiguous  = "ambiguous"
	OutcomeNotFound   = "not_found"
	OutcomeError      = "error"
)

// Recorder receives one observation per handler call.
type Recorder interface {
	Observe(operation, outcome string, elapsed time.Duration)
}

type Config struct {
	// CreateAllowed enables provisioning of users that match no existing user.
	CreateAllowed        bool
	RejectAmbiguousMatch bool
	DefaultLocale        string
	Provisioning         ProvisionerConfig
}

// Handler runs the registration flow for a single login event.
type Handler struct {
	repo        directory.Repository
	cfg         Config
	matcher     *Matcher
	mapper      *Mapper
	provisioner *Provisioner
	recorder    Recorder
	logger      *zerolog.Logger
}

func NewHandler(repo directory.Repository, cfg *Config, logger *zerolog.Logger, recorder Recorder) *Handler {
	regLogger := logger.With().Str("component", "registration").Logger()

	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Handler{
		repo:        repo,
		cfg:         *cfg,
		matcher:     NewMatcher(repo, cfg.RejectAmbiguousMatch, &regLogger),
		mapper:      NewMapper(repo, cfg.DefaultLocale, &regLogger),
		provisioner: NewProvisioner(repo, cfg.Provisioning, &regLogger),
		recorder:    recorder,
		logger:      &regLogger,
	}
}

// CreateOrLinkUser returns the existing user the claims belong to, updated from the claims,
// or a newly provisioned user when creation is allowed. Users found by email are linked to
// the claims subject so later logins resolve through the link.
func (h *Handler) CreateOrLinkUser(ctx context.Context, contextID string, c *claims.Claims) (user *model.UserRecord, err error) {
	start := time.Now()
	outcome := OutcomeMatched

	defer func() {
		h.recorder.Observe(OperationCreateOrLink, outcomeOf(err, outcome), time.Since(start))
	}()

	if !policy.CanCreate(c) {
		h.logger.Info().Str("method", "CreateOrLinkUser").Str("context_id", contextID).Msg("claims not eligible for registration")
		return nil, ErrIneligibleCreate
	}

	logger := h.logger.With().Str("method", "CreateOrLinkUser").Str("context_id", contextID).Str("subject", c.Subject).Logger()
	logger.Trace().Any("claims", c.Values()).Msg("registering user")

	match, err := h.matcher.Match(ctx, c)
	if err != nil {
		logger.Err(err).Msg("failed to match user")
		return nil, err
	}

	if match.User != nil {
		user, err = h.apply(ctx, c, match.User)
		if err != nil {
			logger.Err(err).Str("user_id", match.User.ID).Msg("failed to update matched user")
			return nil, err
		}

		if !match.Linked {
			h.link(ctx, c.Subject, user.ID, logger)
		}

		logger.Info().Str("user_id", user.ID).Str("matched_by", match.By).Msg("user matched")

		return user, nil
	}

	if !h.cfg.CreateAllowed {
		logger.Info().Msg("no matching user, creation disabled")
		return nil, ErrCreationRefused
	}

	outcome = OutcomeCreated

	user, err = h.create(ctx, c)
	if err != nil {
		logger.Err(err).Msg("failed to create user")
		return nil, err
	}

	if match.Linked {
		// links are never rewritten, so later logins keep resolving to the stale user and
		// cannot create again under the same username until the link is fixed by hand.
		logger.Error().Str("user_id", user.ID).Str("linked_user_id", match.LinkedUserID).Msg("subject linked to a stale user, link not changed")
	} else {
		h.link(ctx, c.Subject, user.ID, logger)
	}

	logger.Info().Str("user_id", user.ID).Str("user_type", user.UserType).Msg("user created")

	return user, nil
}

// UpdateUser refreshes an existing user from the claims.
func (h *Handler) UpdateUser(ctx context.Context, userID, contextID string, c *claims.Claims) (err error) {
	start := time.Now()

	defer func() {
		h.recorder.Observe(OperationUpdate, outcomeOf(err, OutcomeUpdated), time.Since(start))
	}()

	logger := h.logger.With().Str("method", "UpdateUser").Str("context_id", contextID).Str("user_id", userID).Logger()

	if !policy.CanUpdate(c) {
		logger.Info().Msg("claims not eligible for update")
		return ErrIneligibleUpdate
	}

	user, err := h.repo.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return errors.Wrapf(ErrNotFoundForUpdate, "user %q", userID)
		}

		logger.Err(err).Msg("failed to load user")

		return errors.Wrapf(err, "failed to load user %q", userID)
	}

	if _, err := h.apply(ctx, c, user); err != nil {
		logger.Err(err).Msg("failed to update user")
		return err
	}

	logger.Info().Msg("user updated")

	return nil
}

func (h *Handler) apply(ctx context.Context, c *claims.Claims, user *model.UserRecord) (*model.UserRecord, error) {
	if err := h.mapper.Apply(ctx, c, user); err != nil {
		return nil, err
	}

	saved, err := h.repo.Persist(ctx, user)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to persist user %q", user.ID)
	}

	return saved, nil
}

// create writes nothing when it fails: directory records made while provisioning are
// rolled back if the user itself cannot be persisted.
func (h *Handler) create(ctx context.Context, c *claims.Claims) (*model.UserRecord, error) {
	user := &model.UserRecord{}

	if err := h.mapper.Apply(ctx, c, user); err != nil {
		return nil, err
	}

	rollback, err := h.provisioner.Provision(ctx, c, user)
	if err != nil {
		return nil, err
	}

	saved, err := h.repo.Persist(ctx, user)
	if err != nil {
		if rerr := rollback(context.WithoutCancel(ctx)); rerr != nil {
			h.logger.Err(rerr).Str("contact_id", user.ContactID).Msg("failed to roll back provisioning")
		}

		// lost a race with a concurrent registration of the same username.
		if errors.Is(err, directory.ErrAlreadyExists) {
			return nil, errors.Wrapf(ErrUsernameConflict, "username %q", user.Username)
		}

		return nil, errors.Wrap(err, "failed to persist new user")
	}

	return saved, nil
}

// link is best effort: the user is already persisted, a failed link only means the next
// login falls back to the email lookup again.
func (h *Handler) link(ctx context.Context, subject, userID string, logger zerolog.Logger) {
	if subject == "" {
		return
	}

	err := h.repo.LinkAccount(ctx, &model.LinkedAccount{Subject: subject, UserID: userID})
	if err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Msg("failed to link account")
		return
	}

	logger.Debug().Str("user_id", userID).Msg("account linked")
}

func outcomeOf(err error, success string) string {
	switch {
	case err == nil:
		return success
	case errors.Is(err, ErrIneligibleCreate), errors.Is(err, ErrIneligibleUpdate):
		return OutcomeIneligible
	case errors.Is(err, ErrCreationRefused):
		return OutcomeRefused
	case errors.Is(err, ErrUsernameConflict):
		return OutcomeConflict
	case errors.Is(err, ErrAmbiguousMatch):
		return OutcomeAmbiguous
	case errors.Is(err, ErrNotFoundForUpdate):
		return OutcomeNotFound
	default:
		return OutcomeError
	}
}

type nopRecorder struct{}

func (nopRecorder) Observe(string, string, time.Duration) {}
