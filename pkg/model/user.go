package model

const (
	UserTypeStandard  = "standard"
	UserTypeCommunity = "community"
	UserTypeGuest     = "guest"

	EmailEncodingUTF8 = "UTF-8"
)

// UserRecord is a directory user as read from, or about to be written to, the directory.
// A record without an ID has not been persisted yet.
type UserRecord struct {
	ID               string `json:"id,omitempty"`
	Email            string `json:"email"`
	Username         string `json:"username"`
	Alias            string `json:"alias,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	MobilePhone      string `json:"mobile_phone,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Street           string `json:"street,omitempty"`
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
	Country          string `json:"country,omitempty"`
	PostalCode       string `json:"postal_code,omitempty"`
	LocaleKey        string `json:"locale_key,omitempty"`
	LanguageKey      string `json:"language_key,omitempty"`
	TimezoneKey      string `json:"timezone_key,omitempty"`
	EmailEncodingKey string `json:"email_encoding_key,omitempty"`
	ProfileID        string `json:"profile_id,omitempty"`
	ContactID        string `json:"contact_id,omitempty"`
	UserType         string `json:"user_type,omitempty"`
	Active           bool   `json:"active"`
}

func (u *UserRecord) IsNew() bool {
	return u.ID == ""
}

func (u *UserRecord) IsGuest() bool {
	return u.UserType == UserTypeGuest
}

// DisplayName falls back to the email when no name is known.
func (u *UserRecord) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.LastName != "":
		return u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

func (u *UserRecord) Clone() *UserRecord {
	c := *u
	return &c
}

// LinkedAccount ties a provider subject identifier to a directory user.
// Links are created on the first successful registration and never change.
type LinkedAccount struct {
	Subject string `json:"subject"`
	UserID  string `json:"user_id"`
}
