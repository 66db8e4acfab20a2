package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", pgx.ErrNoRows, directory.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, directory.ErrAlreadyExists},
		{"foreign key violation", errors.Wrap(&pgconn.PgError{Code: "23503"}, "insert"), directory.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, mapError(tc.err, "user %q", "x"), tc.want)
		})
	}

	other := &pgconn.PgError{Code: "42P01"}
	err := mapError(other, "user %q", "x")
	require.ErrorIs(t, err, other)
	require.NotErrorIs(t, err, directory.ErrNotFound)
	require.NotErrorIs(t, err, directory.ErrAlreadyExists)
}

// openTestStore connects to the database named by ASERTO_REGISTRATION_TEST_POSTGRES_DSN.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("ASERTO_REGISTRATION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skipping postgres test: set ASERTO_REGISTRATION_TEST_POSTGRES_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = store.pool.Exec(context.Background(),
			`TRUNCATE linked_accounts, users, contacts, organizations, profiles`)
		store.Close()
	})

	_, err = store.pool.Exec(ctx, `TRUNCATE linked_accounts, users, contacts, organizations, profiles`)
	require.NoError(t, err)

	return store
}

func TestStore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddProfile(ctx, &model.Profile{ID: "standard-user", Name: "standard-user"}))

	var rickID string

	t.Run("persist", func(t *testing.T) {
		assert := require.New(t)

		user, err := store.Persist(ctx, &model.UserRecord{Email: "Rick@The-Citadel.com", Username: "rick", Active: true})
		assert.NoError(err)
		assert.NotEmpty(user.ID)

		rickID = user.ID

		exists, err := store.UsernameExists(ctx, "RICK")
		assert.NoError(err)
		assert.True(exists)

		_, err = store.Persist(ctx, &model.UserRecord{Email: "other@the-citadel.com", Username: "Rick"})
		assert.ErrorIs(err, directory.ErrAlreadyExists)

		user.TimezoneKey = "America/Chicago"
		_, err = store.Persist(ctx, user)
		assert.NoError(err)

		saved, err := store.FindUserByID(ctx, rickID)
		assert.NoError(err)
		assert.Equal("America/Chicago", saved.TimezoneKey)

		_, err = store.Persist(ctx, &model.UserRecord{ID: "missing"})
		assert.ErrorIs(err, directory.ErrNotFound)
	})

	t.Run("find by email", func(t *testing.T) {
		assert := require.New(t)

		_, err := store.Persist(ctx, &model.UserRecord{Email: "rick@the-citadel.com", Active: false})
		assert.NoError(err)

		all, err := store.FindUsersByEmail(ctx, "RICK@the-citadel.com", directory.UserFilter{})
		assert.NoError(err)
		assert.Len(all, 2)
		assert.Equal(rickID, all[0].ID)

		active, err := store.FindUsersByEmail(ctx, "rick@the-citadel.com", directory.UserFilter{ActiveOnly: true})
		assert.NoError(err)
		assert.Len(active, 1)
	})

	t.Run("link", func(t *testing.T) {
		assert := require.New(t)

		assert.NoError(store.LinkAccount(ctx, &model.LinkedAccount{Subject: "rick-sub", UserID: rickID}))
		assert.ErrorIs(store.LinkAccount(ctx, &model.LinkedAccount{Subject: "rick-sub", UserID: rickID}), directory.ErrAlreadyExists)
		assert.ErrorIs(store.LinkAccount(ctx, &model.LinkedAccount{Subject: "other", UserID: "missing"}), directory.ErrNotFound)

		link, err := store.FindLinkedAccount(ctx, "rick-sub")
		assert.NoError(err)
		assert.Equal(rickID, link.UserID)

		_, err = store.FindLinkedAccount(ctx, "nobody")
		assert.ErrorIs(err, directory.ErrNotFound)
	})

	t.Run("organizations", func(t *testing.T) {
		assert := require.New(t)

		org, created, err := store.FindOrCreateOrganization(ctx, "Community Partners")
		assert.NoError(err)
		assert.True(created)

		again, created, err := store.FindOrCreateOrganization(ctx, "Community Partners")
		assert.NoError(err)
		assert.False(created)
		assert.Equal(org.ID, again.ID)

		contact, err := store.CreateContact(ctx, &model.Contact{OrganizationID: org.ID, FirstName: "Morty"})
		assert.NoError(err)
		assert.NotEmpty(contact.ID)

		_, err = store.CreateContact(ctx, &model.Contact{OrganizationID: "missing"})
		assert.ErrorIs(err, directory.ErrNotFound)

		assert.ErrorIs(store.DeleteOrganization(ctx, org.ID), directory.ErrInUse)
		assert.NoError(store.DeleteContact(ctx, contact.ID))
		assert.ErrorIs(store.DeleteContact(ctx, contact.ID), directory.ErrNotFound)
		assert.NoError(store.DeleteOrganization(ctx, org.ID))
		assert.ErrorIs(store.DeleteOrganization(ctx, org.ID), directory.ErrNotFound)
	})

	t.Run("profiles", func(t *testing.T) {
		profile, err := store.FindProfileByName(ctx, "standard-user")
		require.NoError(t, err)
		require.Equal(t, "standard-user", profile.ID)

		_, err = store.FindProfileByName(ctx, "admin")
		require.ErrorIs(t, err, directory.ErrNotFound)
	})
}
