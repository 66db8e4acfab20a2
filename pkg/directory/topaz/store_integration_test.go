//go:build integration

package topaz_test

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/aserto-dev/go-aserto"
	dsc "github.com/aserto-dev/go-directory/aserto/directory/common/v3"
	dsm "github.com/aserto-dev/go-directory/aserto/directory/model/v3"
	dsw "github.com/aserto-dev/go-directory/aserto/directory/writer/v3"
	"github.com/aserto-dev/oidc-registration/pkg/claims"
	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/directory/topaz"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/aserto-dev/oidc-registration/pkg/registration"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

//go:embed testdata/topaz.yaml
var topazConfig []byte

//go:embed testdata/manifest.yaml
var manifest []byte

func topazImage() string {
	image := os.Getenv("TOPAZ_TEST_IMAGE")
	if image != "" {
		return image
	}

	return "ghcr.io/aserto-dev/topaz:latest"
}

func mappedAddr(ctx context.Context, container testcontainers.Container, port string) (string, error) {
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}

	mappedPort, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s:%s", host, mappedPort.Port()), nil
}

// setup starts a Topaz container loaded with the registration model and two profiles.
func setup(t *testing.T) *topaz.Client {
	t.Helper()

	ctx := context.Background()

	t.Logf("\nTEST CONTAINER IMAGE: %q\n", topazImage())

	req := testcontainers.ContainerRequest{
		Image:        topazImage(),
		ExposedPorts: []string{"9292/tcp"},
		Cmd:          []string{"run", "-c", "/config/config.yaml"},
		Files: []testcontainers.ContainerFile{
			{
				Reader:            bytes.NewReader(topazConfig),
				ContainerFilePath: "/config/config.yaml",
				FileMode:          0o700,
			},
		},
		WaitingFor: wait.ForAll(
			wait.ForExposedPort(),
			wait.ForLog("Starting 0.0.0.0:9292 gRPC server"),
		).WithStartupTimeoutDefault(300 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	addr, err := mappedAddr(ctx, container, "9292")
	require.NoError(t, err)

	cfg := aserto.Config{
		Address: addr,
		NoTLS:   true,
	}

	conn, err := cfg.Connect()
	require.NoError(t, err)

	t.Cleanup(func() { _ = conn.Close() })

	stream, err := dsm.NewModelClient(conn).SetManifest(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&dsm.SetManifestRequest{
		Msg: &dsm.SetManifestRequest_Body{
			Body: &dsm.Body{Data: manifest},
		},
	}))
	_, err = stream.CloseAndRecv()
	require.NoError(t, err)

	client := topaz.NewClient(conn)

	for _, profile := range []string{"standard-user", "community-user"} {
		_, err := client.Writer.SetObject(ctx, &dsw.SetObjectRequest{
			Object: &dsc.Object{Type: "profile", Id: profile, DisplayName: profile},
		})
		require.NoError(t, err)
	}

	return client
}

func TestStore(t *testing.T) {
	client := setup(t)
	ctx := context.Background()

	logger := zerolog.Nop()
	m := topaz.DefaultModel()
	store := topaz.NewStore(client, &m, &logger)

	var rickID string

	t.Run("persist new user", func(t *testing.T) {
		assert := require.New(t)

		user, err := store.Persist(ctx, &model.UserRecord{
			Email:     "Rick@The-Citadel.com",
			Username:  "rick",
			FirstName: "Rick",
			LastName:  "Sanchez",
			ProfileID: "standard-user",
			UserType:  model.UserTypeStandard,
			Active:    true,
		})
		assert.NoError(err)
		assert.NotEmpty(user.ID)

		rickID = user.ID

		exists, err := store.UsernameExists(ctx, "RICK")
		assert.NoError(err)
		assert.True(exists)

		users, err := store.FindUsersByEmail(ctx, "rick@the-citadel.com", directory.UserFilter{ActiveOnly: true})
		assert.NoError(err)
		assert.Len(users, 1)
		assert.Equal(rickID, users[0].ID)
	})

	t.Run("username conflict", func(t *testing.T) {
		_, err := store.Persist(ctx, &model.UserRecord{Email: "other@the-citadel.com", Username: "Rick"})
		require.ErrorIs(t, err, directory.ErrAlreadyExists)
	})

	t.Run("link account", func(t *testing.T) {
		assert := require.New(t)

		_, err := store.FindLinkedAccount(ctx, "rick-sub")
		assert.ErrorIs(err, directory.ErrNotFound)

		assert.NoError(store.LinkAccount(ctx, &model.LinkedAccount{Subject: "rick-sub", UserID: rickID}))

		link, err := store.FindLinkedAccount(ctx, "rick-sub")
		assert.NoError(err)
		assert.Equal(rickID, link.UserID)

		err = store.LinkAccount(ctx, &model.LinkedAccount{Subject: "rick-sub", UserID: rickID})
		assert.ErrorIs(err, directory.ErrAlreadyExists)
	})

	t.Run("email change moves the identity", func(t *testing.T) {
		assert := require.New(t)

		user, err := store.FindUserByID(ctx, rickID)
		assert.NoError(err)

		user.Email = "rick.sanchez@the-citadel.com"
		_, err = store.Persist(ctx, user)
		assert.NoError(err)

		users, err := store.FindUsersByEmail(ctx, "rick@the-citadel.com", directory.UserFilter{})
		assert.NoError(err)
		assert.Empty(users)

		users, err = store.FindUsersByEmail(ctx, "rick.sanchez@the-citadel.com", directory.UserFilter{})
		assert.NoError(err)
		assert.Len(users, 1)
	})

	t.Run("organization and contact", func(t *testing.T) {
		assert := require.New(t)

		org, created, err := store.FindOrCreateOrganization(ctx, "Community Partners")
		assert.NoError(err)
		assert.True(created)

		again, created, err := store.FindOrCreateOrganization(ctx, "Community Partners")
		assert.NoError(err)
		assert.False(created)
		assert.Equal(org.ID, again.ID)

		contact, err := store.CreateContact(ctx, &model.Contact{OrganizationID: org.ID, FirstName: "Morty", LastName: "Smith"})
		assert.NoError(err)
		assert.NotEmpty(contact.ID)
		assert.Equal("Morty", contact.FirstName)

		_, err = store.CreateContact(ctx, &model.Contact{OrganizationID: "missing"})
		assert.ErrorIs(err, directory.ErrNotFound)

		assert.ErrorIs(store.DeleteOrganization(ctx, org.ID), directory.ErrInUse)
		assert.NoError(store.DeleteContact(ctx, contact.ID))
		assert.ErrorIs(store.DeleteContact(ctx, contact.ID), directory.ErrNotFound)
		assert.NoError(store.DeleteOrganization(ctx, org.ID))
		assert.ErrorIs(store.DeleteOrganization(ctx, org.ID), directory.ErrNotFound)
	})

	t.Run("concurrent creates keep usernames unique", func(t *testing.T) {
		assert := require.New(t)

		const writers = 5

		var wg sync.WaitGroup

		errs := make([]error, writers)

		for i := range writers {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, errs[i] = store.Persist(ctx, &model.UserRecord{
					Email:    "summer@the-citadel.com",
					Username: "summer@the-citadel.com",
					Active:   true,
				})
			}()
		}

		wg.Wait()

		succeeded := 0

		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}

			assert.ErrorIs(err, directory.ErrAlreadyExists)
		}

		assert.LessOrEqual(succeeded, 1)

		users, err := store.FindUsersByEmail(ctx, "summer@the-citadel.com", directory.UserFilter{})
		assert.NoError(err)
		assert.Len(users, succeeded)
	})

	t.Run("failed create leaves nothing behind", func(t *testing.T) {
		assert := require.New(t)

		broken := topaz.DefaultModel()
		broken.ProfileObjectType = "no_such_type"
		brokenStore := topaz.NewStore(client, &broken, &logger)

		_, err := brokenStore.Persist(ctx, &model.UserRecord{
			Email:     "jerry@the-citadel.com",
			Username:  "jerry",
			ProfileID: "standard-user",
			Active:    true,
		})
		assert.Error(err)

		exists, err := store.UsernameExists(ctx, "jerry")
		assert.NoError(err)
		assert.False(exists)

		users, err := store.FindUsersByEmail(ctx, "jerry@the-citadel.com", directory.UserFilter{})
		assert.NoError(err)
		assert.Empty(users)

		_, err = store.Persist(ctx, &model.UserRecord{Email: "jerry@the-citadel.com", Username: "jerry", ProfileID: "standard-user"})
		assert.NoError(err)
	})

	t.Run("profile", func(t *testing.T) {
		profile, err := store.FindProfileByName(ctx, "community-user")
		require.NoError(t, err)
		require.Equal(t, "community-user", profile.ID)

		_, err = store.FindProfileByName(ctx, "admin")
		require.ErrorIs(t, err, directory.ErrNotFound)
	})
}

func TestRegistrationAgainstDirectory(t *testing.T) {
	assert := require.New(t)
	client := setup(t)
	ctx := context.Background()

	logger := zerolog.Nop()
	m := topaz.DefaultModel()
	store := topaz.NewStore(client, &m, &logger)

	h := registration.NewHandler(store, &registration.Config{
		CreateAllowed: true,
		DefaultLocale: "en_US",
		Provisioning: registration.ProvisionerConfig{
			CommunityOrganization: "Community Partners",
			CommunityProfile:      "community-user",
			StandardProfile:       "standard-user",
		},
	}, &logger, nil)

	c := claims.New("", "", map[string]string{
		claims.Email:         "morty@the-citadel.com",
		claims.EmailVerified: "true",
		claims.GivenName:     "Morty",
		claims.FamilyName:    "Smith",
		claims.Subject:       "morty-sub",
		claims.NetworkID:     "0DB000000000001",
	})

	created, err := h.CreateOrLinkUser(ctx, "ctx-1", c)
	assert.NoError(err)
	assert.Equal(model.UserTypeCommunity, created.UserType)
	assert.NotEmpty(created.ContactID)

	matched, err := h.CreateOrLinkUser(ctx, "ctx-1", c)
	assert.NoError(err)
	assert.Equal(created.ID, matched.ID)

	link, err := store.FindLinkedAccount(ctx, "morty-sub")
	assert.NoError(err)
	assert.Equal(created.ID, link.UserID)
}
