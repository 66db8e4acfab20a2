package registration_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aserto-dev/oidc-registration/pkg/claims"
	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/directory/memory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/aserto-dev/oidc-registration/pkg/registration"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	standardProfile  = "standard-user"
	communityProfile = "community-user"
	communityOrg     = "Community Partners"
)

func nopLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()

	store, err := memory.New(standardProfile, communityProfile)
	require.NoError(t, err)

	return store
}

func testConfig(createAllowed bool) *registration.Config {
	return &registration.Config{
		CreateAllowed: createAllowed,
		DefaultLocale: "en_US",
		Provisioning: registration.ProvisionerConfig{
			CommunityOrganization: communityOrg,
			CommunityProfile:      communityProfile,
			StandardProfile:       standardProfile,
		},
	}
}

func rickClaims(extra map[string]string) *claims.Claims {
	values := map[string]string{
		claims.Email:         "rick@the-citadel.com",
		claims.EmailVerified: "true",
		claims.GivenName:     "Rick",
		claims.FamilyName:    "Sanchez",
		claims.Subject:       "rick-sub",
	}

	for k, v := range extra {
		values[k] = v
	}

	return claims.New("", "", values)
}

func seedUser(t *testing.T, repo directory.Repository, user *model.UserRecord) *model.UserRecord {
	t.Helper()

	saved, err := repo.Persist(context.Background(), user)
	require.NoError(t, err)

	return saved
}

func linkUser(t *testing.T, repo directory.Repository, subject, userID string) {
	t.Helper()

	require.NoError(t, repo.LinkAccount(context.Background(), &model.LinkedAccount{Subject: subject, UserID: userID}))
}

type observation struct {
	operation string
	outcome   string
}

type recorder struct {
	mu           sync.Mutex
	observations []observation
}

func (r *recorder) Observe(operation, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.observations = append(r.observations, observation{operation, outcome})
}

func (r *recorder) last() observation {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.observations) == 0 {
		return observation{}
	}

	return r.observations[len(r.observations)-1]
}

// racingRepo reports every username as free, so the write-time uniqueness check is the
// only one left.
type racingRepo struct {
	directory.Repository
}

func (racingRepo) UsernameExists(context.Context, string) (bool, error) {
	return false, nil
}

type failingRepo struct {
	directory.Repository
	err error
}

func (f failingRepo) FindLinkedAccount(context.Context, string) (*model.LinkedAccount, error) {
	return nil, f.err
}

// deletedUserRepo behaves as if the user with the given id was removed after it was linked.
type deletedUserRepo struct {
	directory.Repository
	id string
}

func (d deletedUserRepo) FindUserByID(ctx context.Context, id string) (*model.UserRecord, error) {
	if id == d.id {
		return nil, directory.ErrNotFound
	}

	return d.Repository.FindUserByID(ctx, id)
}

// failingLinkRepo rejects every new link.
type failingLinkRepo struct {
	directory.Repository
	err error
}

func (f failingLinkRepo) LinkAccount(context.Context, *model.LinkedAccount) error {
	return f.err
}

// failingContactRepo rejects every new contact.
type failingContactRepo struct {
	directory.Repository
	err error
}

func (f failingContactRepo) CreateContact(context.Context, *model.Contact) (*model.Contact, error) {
	return nil, f.err
}

type failingUsernameRepo struct {
	directory.Repository
	err error
}

func (f failingUsernameRepo) UsernameExists(context.Context, string) (bool, error) {
	return false, f.err
}
