package topaz

import (
	"testing"

	dsc "github.com/aserto-dev/go-directory/aserto/directory/common/v3"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestUserToObject(t *testing.T) {
	assert := require.New(t)
	m := DefaultModel()

	user := &model.UserRecord{
		ID:        "2b5d1c8e",
		Email:     "rick@the-citadel.com",
		Username:  "rick@the-citadel.com",
		FirstName: "Rick",
		LastName:  "Sanchez",
		UserType:  model.UserTypeStandard,
		Active:    true,
	}

	object, err := m.userToObject(user)
	assert.NoError(err)
	assert.Equal("user", object.GetType())
	assert.Equal("2b5d1c8e", object.GetId())
	assert.Equal("Rick Sanchez", object.GetDisplayName())

	props := object.GetProperties().AsMap()
	assert.NotContains(props, "id")
	assert.Equal("rick@the-citadel.com", props["email"])
	assert.Equal(true, props["active"])
	assert.Equal("standard", props["user_type"])

	back, err := objectToUser(object)
	assert.NoError(err)
	assert.Equal(user, back)
}

func TestObjectToUserIgnoresUnknownProperties(t *testing.T) {
	assert := require.New(t)

	props, err := structpb.NewStruct(map[string]any{
		"email":   "morty@the-citadel.com",
		"enabled": true,
		"roles":   []any{"admin"},
	})
	assert.NoError(err)

	user, err := objectToUser(&dsc.Object{Type: "user", Id: "morty", Properties: props})
	assert.NoError(err)
	assert.Equal("morty", user.ID)
	assert.Equal("morty@the-citadel.com", user.Email)
	assert.False(user.Active)
}

func TestIdentityKind(t *testing.T) {
	assert := require.New(t)
	m := DefaultModel()

	object, err := m.identityObject("rick-sub", IdentityKindPID)
	assert.NoError(err)
	assert.Equal("identity", object.GetType())
	assert.Equal(IdentityKindPID, identityKind(object))

	assert.Empty(identityKind(&dsc.Object{}))
}

func TestIdentityRelation(t *testing.T) {
	m := DefaultModel()
	rel := m.identityRelation("rick@the-citadel.com", "2b5d1c8e")

	require.Equal(t, "identity", rel.GetObjectType())
	require.Equal(t, "rick@the-citadel.com", rel.GetObjectId())
	require.Equal(t, "identifier", rel.GetRelation())
	require.Equal(t, "user", rel.GetSubjectType())
	require.Equal(t, "2b5d1c8e", rel.GetSubjectId())
}
