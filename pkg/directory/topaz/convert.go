package topaz

import (
	"encoding/json"
	"strings"

	dsc "github.com/aserto-dev/go-directory/aserto/directory/common/v3"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"
)

// Unmarshal converts between two shapes of the same data through their json form.
func Unmarshal[S any, D any](source S, dest *D) error {
	data, err := json.Marshal(source)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

// idProperty is kept on the object itself, not in its properties.
const idProperty = "id"

func (m *Model) userToObject(user *model.UserRecord) (*dsc.Object, error) {
	attributes := map[string]any{}

	if err := Unmarshal(user, &attributes); err != nil {
		return nil, errors.Wrap(err, "failed to convert user")
	}

	props, err := structpb.NewStruct(lo.OmitByKeys(attributes, []string{idProperty}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert user properties")
	}

	return &dsc.Object{
		Type:        m.UserObjectType,
		Id:          user.ID,
		DisplayName: user.DisplayName(),
		Properties:  props,
	}, nil
}

func objectToUser(object *dsc.Object) (*model.UserRecord, error) {
	user := &model.UserRecord{}

	if err := Unmarshal(object.GetProperties().AsMap(), user); err != nil {
		return nil, errors.Wrapf(err, "failed to read user %q", object.GetId())
	}

	user.ID = object.GetId()

	return user, nil
}

func objectToContact(object *dsc.Object) (*model.Contact, error) {
	contact := &model.Contact{}

	if err := Unmarshal(object.GetProperties().AsMap(), contact); err != nil {
		return nil, errors.Wrapf(err, "failed to read contact %q", object.GetId())
	}

	contact.ID = object.GetId()

	return contact, nil
}

func (m *Model) contactToObject(contact *model.Contact) (*dsc.Object, error) {
	props, err := structpb.NewStruct(map[string]any{
		"organization_id": contact.OrganizationID,
		"first_name":      contact.FirstName,
		"last_name":       contact.LastName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert contact properties")
	}

	name := strings.TrimSpace(contact.FirstName + " " + contact.LastName)
	displayName := lo.Ternary(name != "", name, contact.ID)

	return &dsc.Object{
		Type:        m.ContactObjectType,
		Id:          contact.ID,
		DisplayName: displayName,
		Properties:  props,
	}, nil
}

func (m *Model) identityObject(id, kind string) (*dsc.Object, error) {
	props, err := structpb.NewStruct(map[string]any{IdentityKindKey: kind})
	if err != nil {
		return nil, err
	}

	return &dsc.Object{
		Type:        m.IdentityObjectType,
		Id:          id,
		DisplayName: id,
		Properties:  props,
	}, nil
}

// identityRelation ties an identity to the user it identifies.
func (m *Model) identityRelation(identity, userID string) *dsc.Relation {
	return &dsc.Relation{
		ObjectType:  m.IdentityObjectType,
		ObjectId:    identity,
		Relation:    m.IdentityRelation,
		SubjectType: m.UserObjectType,
		SubjectId:   userID,
	}
}

func identityKind(object *dsc.Object) string {
	kind, _ := object.GetProperties().AsMap()[IdentityKindKey].(string)
	return kind
}
