package topaz

// Model names the object types and relations used in the directory.
//
//	identity:<id>#identifier@user:<user id>
//	profile:<name>#member@user:<user id>
//	organization:<name>#member@contact:<contact id>
//	contact:<contact id>#user@user:<user id>
type Model struct {
	UserObjectType         string `json:"user_object_type"`
	IdentityObjectType     string `json:"identity_object_type"`
	IdentityRelation       string `json:"identity_relation"`
	OrganizationObjectType string `json:"organization_object_type"`
	ContactObjectType      string `json:"contact_object_type"`
	ProfileObjectType      string `json:"profile_object_type"`
	MemberRelation         string `json:"member_relation"`
	ContactUserRelation    string `json:"contact_user_relation"`
}

func DefaultModel() Model {
	return Model{
		UserObjectType:         "user",
		IdentityObjectType:     "identity",
		IdentityRelation:       "identifier",
		OrganizationObjectType: "organization",
		ContactObjectType:      "contact",
		ProfileObjectType:      "profile",
		MemberRelation:         "member",
		ContactUserRelation:    "user",
	}
}

const (
	IdentityKindKey = "kind"

	IdentityKindPID      = "IDENTITY_KIND_PID"
	IdentityKindEmail    = "IDENTITY_KIND_EMAIL"
	IdentityKindUsername = "IDENTITY_KIND_USERNAME"
)
