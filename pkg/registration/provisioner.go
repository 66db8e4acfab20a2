package registration

import (
	"context"

	"github.com/aserto-dev/oidc-registration/pkg/claims"
	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ProvisionerConfig struct {
	CommunityOrganization string
	CommunityProfile      string
	StandardProfile       string
}

// Provisioner decides the shape of a user that is about to be created.
type Provisioner struct {
	repo   directory.Repository
	cfg    ProvisionerConfig
	logger *zerolog.Logger
}

func NewProvisioner(repo directory.Repository, cfg ProvisionerConfig, logger *zerolog.Logger) *Provisioner {
	return &Provisioner{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
	}
}

// Rollback removes what a provisioning step wrote to the directory.
type Rollback func(ctx context.Context) error

func nopRollback(context.Context) error { return nil }

// Provision assigns the profile of a new user. Community logins also get a contact in the
// community organization, built from the user's names, so those must be mapped first.
// A missing profile is a directory configuration error and is returned as is.
// The returned Rollback undoes the directory writes if the user is not persisted after all.
func (p *Provisioner) Provision(ctx context.Context, c *claims.Claims, u *model.UserRecord) (Rollback, error) {
	if c.Community() {
		return p.provisionCommunity(ctx, u)
	}

	profile, err := p.repo.FindProfileByName(ctx, p.cfg.StandardProfile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find standard profile %q", p.cfg.StandardProfile)
	}

	u.ProfileID = profile.ID
	u.UserType = model.UserTypeStandard
	u.Active = true

	return nopRollback, nil
}

func (p *Provisioner) provisionCommunity(ctx context.Context, u *model.UserRecord) (Rollback, error) {
	logger := p.logger.With().Str("method", "Provision").Str("organization", p.cfg.CommunityOrganization).Logger()

	profile, err := p.repo.FindProfileByName(ctx, p.cfg.CommunityProfile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find community profile %q", p.cfg.CommunityProfile)
	}

	org, created, err := p.repo.FindOrCreateOrganization(ctx, p.cfg.CommunityOrganization)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve organization %q", p.cfg.CommunityOrganization)
	}

	removeOrg := func(ctx context.Context) error {
		if !created {
			return nil
		}

		err := p.repo.DeleteOrganization(ctx, org.ID)
		if errors.Is(err, directory.ErrInUse) {
			// a concurrent registration joined it.
			return nil
		}

		return errors.Wrapf(err, "failed to remove organization %q", org.ID)
	}

	contact, err := p.repo.CreateContact(ctx, &model.Contact{
		OrganizationID: org.ID,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
	})
	if err != nil {
		if rerr := removeOrg(context.WithoutCancel(ctx)); rerr != nil {
			logger.Warn().Err(rerr).Msg("failed to roll back organization")
		}

		return nil, errors.Wrap(err, "failed to create contact")
	}

	logger.Debug().Str("contact_id", contact.ID).Bool("organization_created", created).Msg("contact created")

	u.ProfileID = profile.ID
	u.ContactID = contact.ID
	u.UserType = model.UserTypeCommunity
	u.Active = true

	return func(ctx context.Context) error {
		if err := p.repo.DeleteContact(ctx, contact.ID); err != nil && !errors.Is(err, directory.ErrNotFound) {
			return errors.Wrapf(err, "failed to remove contact %q", contact.ID)
		}

		return removeOrg(ctx)
	}, nil
}
