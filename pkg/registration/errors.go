package registration

import (
	"github.com/pkg/errors"
)

var (
	ErrIneligibleCreate  = errors.New("claims are not eligible to create a user")
	ErrIneligibleUpdate  = errors.New("claims are not eligible to update a user")
	ErrUsernameConflict  = errors.New("username already in use")
	ErrCreationRefused   = errors.New("no matching user and user creation is disabled")
	ErrNotFoundForUpdate = errors.New("user to update not found")
	ErrAmbiguousMatch    = errors.New("claims match more than one user")
)
