package directory

import (
	"context"

	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/pkg/errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInUse         = errors.New("still in use")
)

type UserFilter struct {
	ActiveOnly   bool
	ExcludeGuest bool
}

func (f UserFilter) Match(u *model.UserRecord) bool {
	if f.ActiveOnly && !u.Active {
		return false
	}

	if f.ExcludeGuest && u.IsGuest() {
		return false
	}

	return true
}

// Repository is everything the registration handler needs from the directory.
// Lookups of a single entity return ErrNotFound when it does not exist.
type Repository interface {
	FindLinkedAccount(ctx context.Context, subject string) (*model.LinkedAccount, error)
	LinkAccount(ctx context.Context, link *model.LinkedAccount) error

	FindUserByID(ctx context.Context, id string) (*model.UserRecord, error)
	// FindUsersByEmail matches case-insensitively and returns users in a stable
	// backend-defined order.
	FindUsersByEmail(ctx context.Context, email string, filter UserFilter) ([]*model.UserRecord, error)
	UsernameExists(ctx context.Context, username string) (bool, error)

	// FindOrCreateOrganization reports whether this call created the organization.
	FindOrCreateOrganization(ctx context.Context, name string) (*model.Organization, bool, error)
	// DeleteOrganization returns ErrInUse while the organization still has contacts.
	DeleteOrganization(ctx context.Context, id string) error
	CreateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error)
	DeleteContact(ctx context.Context, id string) error
	FindProfileByName(ctx context.Context, name string) (*model.Profile, error)

	// Persist creates the user when it has no ID, assigning one, and updates it otherwise.
	// A username taken by another user is reported as ErrAlreadyExists.
	Persist(ctx context.Context, user *model.UserRecord) (*model.UserRecord, error)
}
