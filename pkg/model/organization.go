package model

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Contact is the organization-side person record a community user is attached to.
type Contact struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
}

// Profile is the role a user is granted; profiles are managed outside this service.
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
