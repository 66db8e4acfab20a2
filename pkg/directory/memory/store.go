// Package memory is a process-local directory used for development and tests.
package memory

import (
	"context"

	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

type Store struct {
	db *memdb.MemDB
}

var _ directory.Repository = (*Store)(nil)

// New creates an empty store holding the named profiles. Profile IDs equal their names.
func New(profiles ...string) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory directory")
	}

	s := &Store{db: db}

	for _, name := range profiles {
		if err := s.AddProfile(&model.Profile{ID: name, Name: name}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Store) AddProfile(profile *model.Profile) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	p := *profile
	if err := txn.Insert(profileTable, &p); err != nil {
		return errors.Wrapf(err, "failed to add profile %q", profile.Name)
	}

	txn.Commit()

	return nil
}

func (s *Store) FindLinkedAccount(_ context.Context, subject string) (*model.LinkedAccount, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(linkTable, idIndex, subject)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, errors.Wrapf(directory.ErrNotFound, "linked account %q", subject)
	}

	link := *raw.(*model.LinkedAccount)

	return &link, nil
}

func (s *Store) LinkAccount(_ context.Context, link *model.LinkedAccount) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(linkTable, idIndex, link.Subject)
	if err != nil {
		return err
	}

	if existing != nil {
		return errors.Wrapf(directory.ErrAlreadyExists, "linked account %q", link.Subject)
	}

	user, err := txn.First(userTable, idIndex, link.UserID)
	if err != nil {
		return err
	}

	if user == nil {
		return errors.Wrapf(directory.ErrNotFound, "user %q", link.UserID)
	}

	l := *link
	if err := txn.Insert(linkTable, &l); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*model.UserRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(userTable, idIndex, id)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, errors.Wrapf(directory.ErrNotFound, "user %q", id)
	}

	return raw.(*model.UserRecord).Clone(), nil
}

func (s *Store) FindUsersByEmail(_ context.Context, email string, filter directory.UserFilter) ([]*model.UserRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(userTable, emailIndex, email)
	if err != nil {
		return nil, err
	}

	users := []*model.UserRecord{}

	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		user := raw.(*model.UserRecord)
		if filter.Match(user) {
			users = append(users, user.Clone())
		}
	}

	return users, nil
}

func (s *Store) UsernameExists(_ context.Context, username string) (bool, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(userTable, usernameIndex, username)
	if err != nil {
		return false, err
	}

	return raw != nil, nil
}

func (s *Store) FindOrCreateOrganization(_ context.Context, name string) (*model.Organization, bool, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(organizationTable, nameIndex, name)
	if err != nil {
		return nil, false, err
	}

	if raw != nil {
		org := *raw.(*model.Organization)
		return &org, false, nil
	}

	org := &model.Organization{ID: uuid.NewString(), Name: name}
	if err := txn.Insert(organizationTable, org); err != nil {
		return nil, false, err
	}

	txn.Commit()

	result := *org

	return &result, true, nil
}

func (s *Store) DeleteOrganization(_ context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(organizationTable, idIndex, id)
	if err != nil {
		return err
	}

	if raw == nil {
		return errors.Wrapf(directory.ErrNotFound, "organization %q", id)
	}

	member, err := txn.First(contactTable, orgIndex, id)
	if err != nil {
		return err
	}

	if member != nil {
		return errors.Wrapf(directory.ErrInUse, "organization %q", id)
	}

	if err := txn.Delete(organizationTable, raw); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

// Organizations lists every organization, ordered by id.
func (s *Store) Organizations() ([]*model.Organization, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(organizationTable, idIndex)
	if err != nil {
		return nil, err
	}

	orgs := []*model.Organization{}

	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		org := *raw.(*model.Organization)
		orgs = append(orgs, &org)
	}

	return orgs, nil
}

func (s *Store) CreateContact(_ context.Context, contact *model.Contact) (*model.Contact, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	org, err := txn.First(organizationTable, idIndex, contact.OrganizationID)
	if err != nil {
		return nil, err
	}

	if org == nil {
		return nil, errors.Wrapf(directory.ErrNotFound, "organization %q", contact.OrganizationID)
	}

	c := *contact
	c.ID = uuid.NewString()

	if err := txn.Insert(contactTable, &c); err != nil {
		return nil, err
	}

	txn.Commit()

	result := c

	return &result, nil
}

func (s *Store) DeleteContact(_ context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(contactTable, idIndex, id)
	if err != nil {
		return err
	}

	if raw == nil {
		return errors.Wrapf(directory.ErrNotFound, "contact %q", id)
	}

	if err := txn.Delete(contactTable, raw); err != nil {
		return err
	}

	txn.Commit()

	return nil
}

// Contacts lists the contacts of an organization.
func (s *Store) Contacts(organizationID string) ([]*model.Contact, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(contactTable, orgIndex, organizationID)
	if err != nil {
		return nil, err
	}

	contacts := []*model.Contact{}

	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		c := *raw.(*model.Contact)
		contacts = append(contacts, &c)
	}

	return contacts, nil
}

func (s *Store) FindProfileByName(_ context.Context, name string) (*model.Profile, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(profileTable, nameIndex, name)
	if err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, errors.Wrapf(directory.ErrNotFound, "profile %q", name)
	}

	profile := *raw.(*model.Profile)

	return &profile, nil
}

func (s *Store) Persist(_ context.Context, user *model.UserRecord) (*model.UserRecord, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	record := user.Clone()

	if record.IsNew() {
		record.ID = uuid.NewString()
	} else {
		existing, err := txn.First(userTable, idIndex, record.ID)
		if err != nil {
			return nil, err
		}

		if existing == nil {
			return nil, errors.Wrapf(directory.ErrNotFound, "user %q", record.ID)
		}
	}

	if record.Username != "" {
		raw, err := txn.First(userTable, usernameIndex, record.Username)
		if err != nil {
			return nil, err
		}

		if raw != nil && raw.(*model.UserRecord).ID != record.ID {
			return nil, errors.Wrapf(directory.ErrAlreadyExists, "username %q", record.Username)
		}
	}

	if err := txn.Insert(userTable, record); err != nil {
		return nil, err
	}

	txn.Commit()

	return record.Clone(), nil
}
