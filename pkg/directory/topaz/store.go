package topaz

import (
	"context"
	"slices"
	"strings"

	cerr "github.com/aserto-dev/errors"
	dsc "github.com/aserto-dev/go-directory/aserto/directory/common/v3"
	dsr "github.com/aserto-dev/go-directory/aserto/directory/reader/v3"
	dsw "github.com/aserto-dev/go-directory/aserto/directory/writer/v3"
	"github.com/aserto-dev/go-directory/pkg/derr"
	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const pageSize = 100

// Store keeps users, their identities and memberships as directory objects and relations.
// Email and username identities are keyed by their lower-cased value and may be shared by
// several users, so lookups through them re-check the user's own properties.
type Store struct {
	client *Client
	model  Model
	logger *zerolog.Logger
}

var _ directory.Repository = (*Store)(nil)

func NewStore(client *Client, m *Model, logger *zerolog.Logger) *Store {
	storeLogger := logger.With().Str("component", "topaz").Logger()

	return &Store{
		client: client,
		model:  *m,
		logger: &storeLogger,
	}
}

func (s *Store) FindLinkedAccount(ctx context.Context, subject string) (*model.LinkedAccount, error) {
	identity, err := s.getObject(ctx, s.model.IdentityObjectType, subject)
	if err != nil {
		return nil, errors.Wrapf(err, "linked account %q", subject)
	}

	if identityKind(identity) != IdentityKindPID {
		return nil, errors.Wrapf(directory.ErrNotFound, "linked account %q", subject)
	}

	userIDs, err := s.identityUsers(ctx, subject)
	if err != nil {
		return nil, err
	}

	if len(userIDs) == 0 {
		return nil, errors.Wrapf(directory.ErrNotFound, "linked account %q", subject)
	}

	return &model.LinkedAccount{Subject: subject, UserID: userIDs[0]}, nil
}

func (s *Store) LinkAccount(ctx context.Context, link *model.LinkedAccount) error {
	logger := s.logger.With().Str("method", "LinkAccount").Str("subject", link.Subject).Str("user_id", link.UserID).Logger()

	if _, err := s.FindLinkedAccount(ctx, link.Subject); err == nil {
		return errors.Wrapf(directory.ErrAlreadyExists, "linked account %q", link.Subject)
	} else if !errors.Is(err, directory.ErrNotFound) {
		return err
	}

	if _, err := s.getObject(ctx, s.model.UserObjectType, link.UserID); err != nil {
		return errors.Wrapf(err, "user %q", link.UserID)
	}

	logger.Trace().Msg("setting identity")

	return s.setIdentity(ctx, link.Subject, IdentityKindPID, link.UserID)
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*model.UserRecord, error) {
	object, err := s.getObject(ctx, s.model.UserObjectType, id)
	if err != nil {
		return nil, errors.Wrapf(err, "user %q", id)
	}

	return objectToUser(object)
}

func (s *Store) FindUsersByEmail(ctx context.Context, email string, filter directory.UserFilter) ([]*model.UserRecord, error) {
	users, err := s.usersByIdentity(ctx, strings.ToLower(email))
	if err != nil {
		return nil, err
	}

	return lo.Filter(users, func(u *model.UserRecord, _ int) bool {
		return strings.EqualFold(u.Email, email) && filter.Match(u)
	}), nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	users, err := s.usersByIdentity(ctx, strings.ToLower(username))
	if err != nil {
		return false, err
	}

	return lo.ContainsBy(users, func(u *model.UserRecord) bool {
		return strings.EqualFold(u.Username, username)
	}), nil
}

// FindOrCreateOrganization uses the organization name as its object id.
func (s *Store) FindOrCreateOrganization(ctx context.Context, name string) (*model.Organization, bool, error) {
	object, err := s.getObject(ctx, s.model.OrganizationObjectType, name)

	switch {
	case err == nil:
		return &model.Organization{ID: object.GetId(), Name: object.GetDisplayName()}, false, nil
	case !errors.Is(err, directory.ErrNotFound):
		return nil, false, errors.Wrapf(err, "organization %q", name)
	}

	s.logger.Info().Str("organization", name).Msg("creating organization")

	resp, err := s.client.Writer.SetObject(ctx, &dsw.SetObjectRequest{
		Object: &dsc.Object{
			Type:        s.model.OrganizationObjectType,
			Id:          name,
			DisplayName: name,
		},
	})
	if err != nil {
		return nil, false, errors.Wrapf(mapWriteError(err), "failed to create organization %q", name)
	}

	return &model.Organization{ID: resp.GetResult().GetId(), Name: resp.GetResult().GetDisplayName()}, true, nil
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	if _, err := s.getObject(ctx, s.model.OrganizationObjectType, id); err != nil {
		return errors.Wrapf(err, "organization %q", id)
	}

	resp, err := s.client.Reader.GetRelations(ctx, &dsr.GetRelationsRequest{
		ObjectType:  s.model.OrganizationObjectType,
		ObjectId:    id,
		Relation:    s.model.MemberRelation,
		SubjectType: s.model.ContactObjectType,
		Page:        &dsc.PaginationRequest{Size: 1},
	})
	if err != nil && !isNotFound(err) {
		return errors.Wrapf(err, "failed to read members of organization %q", id)
	}

	if len(resp.GetResults()) > 0 {
		return errors.Wrapf(directory.ErrInUse, "organization %q", id)
	}

	return s.deleteObject(ctx, s.model.OrganizationObjectType, id)
}

func (s *Store) CreateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	if _, err := s.getObject(ctx, s.model.OrganizationObjectType, contact.OrganizationID); err != nil {
		return nil, errors.Wrapf(err, "organization %q", contact.OrganizationID)
	}

	c := *contact
	c.ID = uuid.NewString()

	object, err := s.model.contactToObject(&c)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Writer.SetObject(ctx, &dsw.SetObjectRequest{Object: object})
	if err != nil {
		return nil, errors.Wrap(mapWriteError(err), "failed to create contact")
	}

	if err := s.setRelation(ctx, &dsc.Relation{
		ObjectType:  s.model.OrganizationObjectType,
		ObjectId:    c.OrganizationID,
		Relation:    s.model.MemberRelation,
		SubjectType: s.model.ContactObjectType,
		SubjectId:   c.ID,
	}); err != nil {
		return nil, errors.Wrapf(err, "failed to add contact %q to organization", c.ID)
	}

	return objectToContact(resp.GetResult())
}

func (s *Store) DeleteContact(ctx context.Context, id string) error {
	if _, err := s.getObject(ctx, s.model.ContactObjectType, id); err != nil {
		return errors.Wrapf(err, "contact %q", id)
	}

	return s.deleteObject(ctx, s.model.ContactObjectType, id)
}

// FindProfileByName uses the profile name as its object id.
func (s *Store) FindProfileByName(ctx context.Context, name string) (*model.Profile, error) {
	object, err := s.getObject(ctx, s.model.ProfileObjectType, name)
	if err != nil {
		return nil, errors.Wrapf(err, "profile %q", name)
	}

	return &model.Profile{
		ID:   object.GetId(),
		Name: lo.Ternary(object.GetDisplayName() != "", object.GetDisplayName(), object.GetId()),
	}, nil
}

func (s *Store) Persist(ctx context.Context, user *model.UserRecord) (*model.UserRecord, error) {
	if user.IsNew() {
		return s.create(ctx, user)
	}

	return s.update(ctx, user)
}

// create removes everything it wrote when a later step fails. The username pre-check can
// race with a concurrent create, so the username identity is read back once it is set.
func (s *Store) create(ctx context.Context, user *model.UserRecord) (_ *model.UserRecord, err error) {
	logger := s.logger.With().Str("method", "Persist").Logger()

	if err := s.checkUsername(ctx, user.Username); err != nil {
		return nil, err
	}

	record := user.Clone()
	record.ID = uuid.NewString()

	saved, err := s.setUser(ctx, record, "")
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("user_id", saved.ID).Logger()
	logger.Trace().Msg("user created")

	defer func() {
		if err != nil {
			s.removeUser(context.WithoutCancel(ctx), record, logger)
		}
	}()

	if record.Username != "" {
		if err := s.setIdentity(ctx, strings.ToLower(record.Username), IdentityKindUsername, record.ID); err != nil {
			return nil, err
		}

		if err := s.claimUsername(ctx, record); err != nil {
			return nil, err
		}
	}

	if err := s.setEmailIdentity(ctx, record); err != nil {
		return nil, err
	}

	if err := s.setMemberships(ctx, record); err != nil {
		return nil, err
	}

	return saved, nil
}

// claimUsername fails when another user holds the same username.
func (s *Store) claimUsername(ctx context.Context, user *model.UserRecord) error {
	users, err := s.usersByIdentity(ctx, strings.ToLower(user.Username))
	if err != nil {
		return err
	}

	if lo.ContainsBy(users, func(u *model.UserRecord) bool {
		return u.ID != user.ID && strings.EqualFold(u.Username, user.Username)
	}) {
		return errors.Wrapf(directory.ErrAlreadyExists, "username %q", user.Username)
	}

	return nil
}

// removeUser deletes a user with its relations, and the identities nobody else uses.
func (s *Store) removeUser(ctx context.Context, user *model.UserRecord, logger zerolog.Logger) {
	if err := s.deleteObject(ctx, s.model.UserObjectType, user.ID); err != nil {
		logger.Err(err).Msg("failed to remove partially created user")
		return
	}

	identities := lo.Uniq(lo.Compact([]string{strings.ToLower(user.Username), strings.ToLower(user.Email)}))

	for _, identity := range identities {
		userIDs, err := s.identityUsers(ctx, identity)
		if err != nil || len(userIDs) > 0 {
			continue
		}

		if err := s.deleteObject(ctx, s.model.IdentityObjectType, identity); err != nil && !errors.Is(err, directory.ErrNotFound) {
			logger.Warn().Err(err).Str("identity", identity).Msg("failed to remove unused identity")
		}
	}

	logger.Debug().Msg("partially created user removed")
}

func (s *Store) update(ctx context.Context, user *model.UserRecord) (*model.UserRecord, error) {
	logger := s.logger.With().Str("method", "Persist").Str("user_id", user.ID).Logger()

	current, err := s.getObject(ctx, s.model.UserObjectType, user.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "user %q", user.ID)
	}

	previous, err := objectToUser(current)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(previous.Username, user.Username) {
		if err := s.checkUsername(ctx, user.Username); err != nil {
			return nil, err
		}
	}

	saved, err := s.setUser(ctx, user, current.GetEtag())
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(previous.Email, user.Email) {
		logger.Trace().Msg("email changed")

		if err := s.removeEmailIdentity(ctx, previous); err != nil {
			return nil, err
		}

		if err := s.setEmailIdentity(ctx, user); err != nil {
			return nil, err
		}
	}

	if err := s.setMemberships(ctx, user); err != nil {
		return nil, err
	}

	return saved, nil
}

func (s *Store) checkUsername(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}

	exists, err := s.UsernameExists(ctx, username)
	if err != nil {
		return err
	}

	if exists {
		return errors.Wrapf(directory.ErrAlreadyExists, "username %q", username)
	}

	return nil
}

func (s *Store) setUser(ctx context.Context, user *model.UserRecord, etag string) (*model.UserRecord, error) {
	object, err := s.model.userToObject(user)
	if err != nil {
		return nil, err
	}

	object.Etag = etag

	resp, err := s.client.Writer.SetObject(ctx, &dsw.SetObjectRequest{Object: object})
	if err != nil {
		return nil, errors.Wrapf(mapWriteError(err), "failed to write user %q", user.ID)
	}

	return objectToUser(resp.GetResult())
}

// setEmailIdentity is a no-op when the email is also the username, that identity already
// points at the user.
func (s *Store) setEmailIdentity(ctx context.Context, user *model.UserRecord) error {
	if user.Email == "" || strings.EqualFold(user.Email, user.Username) {
		return nil
	}

	return s.setIdentity(ctx, strings.ToLower(user.Email), IdentityKindEmail, user.ID)
}

func (s *Store) removeEmailIdentity(ctx context.Context, user *model.UserRecord) error {
	if user.Email == "" || strings.EqualFold(user.Email, user.Username) {
		return nil
	}

	rel := s.model.identityRelation(strings.ToLower(user.Email), user.ID)

	_, err := s.client.Writer.DeleteRelation(ctx, &dsw.DeleteRelationRequest{
		ObjectType:  rel.GetObjectType(),
		ObjectId:    rel.GetObjectId(),
		Relation:    rel.GetRelation(),
		SubjectType: rel.GetSubjectType(),
		SubjectId:   rel.GetSubjectId(),
	})
	if err != nil && !isNotFound(err) {
		return errors.Wrapf(err, "failed to remove email identity of user %q", user.ID)
	}

	return nil
}

func (s *Store) setMemberships(ctx context.Context, user *model.UserRecord) error {
	mErr := &multierror.Error{}

	if user.ProfileID != "" {
		if err := s.setRelation(ctx, &dsc.Relation{
			ObjectType:  s.model.ProfileObjectType,
			ObjectId:    user.ProfileID,
			Relation:    s.model.MemberRelation,
			SubjectType: s.model.UserObjectType,
			SubjectId:   user.ID,
		}); err != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(err, "profile %q", user.ProfileID))
		}
	}

	if user.ContactID != "" {
		if err := s.setRelation(ctx, &dsc.Relation{
			ObjectType:  s.model.ContactObjectType,
			ObjectId:    user.ContactID,
			Relation:    s.model.ContactUserRelation,
			SubjectType: s.model.UserObjectType,
			SubjectId:   user.ID,
		}); err != nil {
			mErr = multierror.Append(mErr, errors.Wrapf(err, "contact %q", user.ContactID))
		}
	}

	return mErr.ErrorOrNil()
}

func (s *Store) setIdentity(ctx context.Context, identity, kind, userID string) error {
	object, err := s.model.identityObject(identity, kind)
	if err != nil {
		return err
	}

	if _, err := s.client.Writer.SetObject(ctx, &dsw.SetObjectRequest{Object: object}); err != nil {
		return errors.Wrapf(mapWriteError(err), "failed to set identity %q", identity)
	}

	return s.setRelation(ctx, s.model.identityRelation(identity, userID))
}

func (s *Store) setRelation(ctx context.Context, rel *dsc.Relation) error {
	s.logger.Trace().Any("relation", rel).Msg("setting relation")

	_, err := s.client.Writer.SetRelation(ctx, &dsw.SetRelationRequest{Relation: rel})

	return mapWriteError(err)
}

func (s *Store) deleteObject(ctx context.Context, objectType, id string) error {
	_, err := s.client.Writer.DeleteObject(ctx, &dsw.DeleteObjectRequest{
		ObjectType:    objectType,
		ObjectId:      id,
		WithRelations: true,
	})
	if err != nil {
		if isNotFound(err) {
			return errors.Wrapf(directory.ErrNotFound, "%s %q", objectType, id)
		}

		return errors.Wrapf(err, "failed to delete %s %q", objectType, id)
	}

	return nil
}

func (s *Store) getObject(ctx context.Context, objectType, id string) (*dsc.Object, error) {
	resp, err := s.client.Reader.GetObject(ctx, &dsr.GetObjectRequest{
		ObjectType: objectType,
		ObjectId:   id,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, directory.ErrNotFound
		}

		return nil, err
	}

	if resp.GetResult() == nil {
		return nil, directory.ErrNotFound
	}

	return resp.GetResult(), nil
}

// identityUsers returns the ids of the users an identity points at, sorted.
func (s *Store) identityUsers(ctx context.Context, identity string) ([]string, error) {
	userIDs := []string{}
	token := ""

	for {
		resp, err := s.client.Reader.GetRelations(ctx, &dsr.GetRelationsRequest{
			ObjectType:               s.model.IdentityObjectType,
			ObjectId:                 identity,
			Relation:                 s.model.IdentityRelation,
			SubjectType:              s.model.UserObjectType,
			WithEmptySubjectRelation: true,
			Page:                     &dsc.PaginationRequest{Size: pageSize, Token: token},
		})
		if err != nil {
			if isNotFound(err) {
				break
			}

			return nil, errors.Wrapf(err, "failed to read identity %q", identity)
		}

		for _, rel := range resp.GetResults() {
			userIDs = append(userIDs, rel.GetSubjectId())
		}

		token = resp.GetPage().GetNextToken()
		if token == "" {
			break
		}
	}

	userIDs = lo.Uniq(userIDs)
	slices.Sort(userIDs)

	return userIDs, nil
}

func (s *Store) usersByIdentity(ctx context.Context, identity string) ([]*model.UserRecord, error) {
	userIDs, err := s.identityUsers(ctx, identity)
	if err != nil {
		return nil, err
	}

	users := make([]*model.UserRecord, 0, len(userIDs))

	for _, id := range userIDs {
		user, err := s.FindUserByID(ctx, id)
		if errors.Is(err, directory.ErrNotFound) {
			s.logger.Debug().Str("identity", identity).Str("user_id", id).Msg("identity points at missing user")
			continue
		}

		if err != nil {
			return nil, err
		}

		users = append(users, user)
	}

	return users, nil
}

func isNotFound(err error) bool {
	unwrapped := cerr.UnwrapAsertoError(err)
	if errors.Is(unwrapped, derr.ErrObjectNotFound) || errors.Is(unwrapped, derr.ErrRelationNotFound) {
		return true
	}

	st, ok := status.FromError(err)

	return ok && st.Code() == codes.NotFound
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(cerr.UnwrapAsertoError(err), derr.ErrAlreadyExists) {
		return errors.Wrap(directory.ErrAlreadyExists, err.Error())
	}

	return err
}
