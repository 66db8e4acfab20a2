// Package postgres stores registration data in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"

	"github.com/aserto-dev/oidc-registration/pkg/directory"
	"github.com/aserto-dev/oidc-registration/pkg/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

//go:embed schema.sql
var schema string

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

const userColumns = `id, email, username, alias, first_name, last_name, mobile_phone, phone,
	street, city, state, country, postal_code, locale_key, language_key, timezone_key,
	email_encoding_key, profile_id, contact_id, user_type, active`

type Store struct {
	pool *pgxpool.Pool
}

var _ directory.Repository = (*Store)(nil)

// Open connects to dsn and creates the schema when it does not exist yet.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to reach postgres")
	}

	s := New(pool)

	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate postgres schema")
	}

	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// AddProfile registers a profile, keeping an existing profile of the same name.
func (s *Store) AddProfile(ctx context.Context, profile *model.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, profile.ID, profile.Name)

	return errors.Wrapf(err, "failed to add profile %q", profile.Name)
}

func (s *Store) FindLinkedAccount(ctx context.Context, subject string) (*model.LinkedAccount, error) {
	link := &model.LinkedAccount{}

	err := s.pool.QueryRow(ctx, `
		SELECT subject, user_id
		FROM linked_accounts
		WHERE subject = $1
	`, subject).Scan(&link.Subject, &link.UserID)
	if err != nil {
		return nil, mapError(err, "linked account %q", subject)
	}

	return link, nil
}

func (s *Store) LinkAccount(ctx context.Context, link *model.LinkedAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, link.UserID).Scan(&exists); err != nil {
		return errors.Wrapf(err, "failed to look up user %q", link.UserID)
	}

	if !exists {
		return errors.Wrapf(directory.ErrNotFound, "user %q", link.UserID)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO linked_accounts (subject, user_id)
		VALUES ($1, $2)
	`, link.Subject, link.UserID); err != nil {
		return mapError(err, "linked account %q", link.Subject)
	}

	return errors.Wrap(tx.Commit(ctx), "failed to commit link")
}

func (s *Store) FindUserByID(ctx context.Context, id string) (*model.UserRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	user, err := scanUser(row)
	if err != nil {
		return nil, mapError(err, "user %q", id)
	}

	return user, nil
}

func (s *Store) FindUsersByEmail(ctx context.Context, email string, filter directory.UserFilter) ([]*model.UserRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
		ORDER BY created_at, id
	`, email)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find users by email %q", email)
	}
	defer rows.Close()

	users := []*model.UserRecord{}

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read user")
		}

		if filter.Match(user) {
			users = append(users, user)
		}
	}

	return users, errors.Wrap(rows.Err(), "failed to read users")
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool

	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE username <> '' AND LOWER(username) = LOWER($1))
	`, username).Scan(&exists)

	return exists, errors.Wrapf(err, "failed to check username %q", username)
}

func (s *Store) FindOrCreateOrganization(ctx context.Context, name string) (*model.Organization, bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, uuid.NewString(), name)
	if err != nil {
		return nil, false, errors.Wrapf(err, "failed to create organization %q", name)
	}

	org := &model.Organization{}

	err = s.pool.QueryRow(ctx, `SELECT id, name FROM organizations WHERE name = $1`, name).Scan(&org.ID, &org.Name)
	if err != nil {
		return nil, false, mapError(err, "organization %q", name)
	}

	return org, tag.RowsAffected() == 1, nil
}

// DeleteOrganization relies on the contacts foreign key to refuse organizations in use.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
			return errors.Wrapf(directory.ErrInUse, "organization %q", id)
		}

		return errors.Wrapf(err, "failed to delete organization %q", id)
	}

	if tag.RowsAffected() == 0 {
		return errors.Wrapf(directory.ErrNotFound, "organization %q", id)
	}

	return nil
}

func (s *Store) CreateContact(ctx context.Context, contact *model.Contact) (*model.Contact, error) {
	c := *contact
	c.ID = uuid.NewString()

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO contacts (id, organization_id, first_name, last_name)
		VALUES ($1, $2, $3, $4)
	`, c.ID, c.OrganizationID, c.FirstName, c.LastName); err != nil {
		return nil, mapError(err, "contact in organization %q", c.OrganizationID)
	}

	return &c, nil
}

func (s *Store) DeleteContact(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete contact %q", id)
	}

	if tag.RowsAffected() == 0 {
		return errors.Wrapf(directory.ErrNotFound, "contact %q", id)
	}

	return nil
}

func (s *Store) FindProfileByName(ctx context.Context, name string) (*model.Profile, error) {
	profile := &model.Profile{}

	err := s.pool.QueryRow(ctx, `SELECT id, name FROM profiles WHERE name = $1`, name).Scan(&profile.ID, &profile.Name)
	if err != nil {
		return nil, mapError(err, "profile %q", name)
	}

	return profile, nil
}

func (s *Store) Persist(ctx context.Context, user *model.UserRecord) (*model.UserRecord, error) {
	record := user.Clone()

	if record.IsNew() {
		record.ID = uuid.NewString()

		if _, err := s.pool.Exec(ctx, `
			INSERT INTO users (`+userColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		`, userArgs(record)...); err != nil {
			return nil, mapError(err, "username %q", record.Username)
		}

		return record, nil
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			email = $2, username = $3, alias = $4, first_name = $5, last_name = $6,
			mobile_phone = $7, phone = $8, street = $9, city = $10, state = $11, country = $12,
			postal_code = $13, locale_key = $14, language_key = $15, timezone_key = $16,
			email_encoding_key = $17, profile_id = $18, contact_id = $19, user_type = $20,
			active = $21, updated_at = NOW()
		WHERE id = $1
	`, userArgs(record)...)
	if err != nil {
		return nil, mapError(err, "username %q", record.Username)
	}

	if tag.RowsAffected() == 0 {
		return nil, errors.Wrapf(directory.ErrNotFound, "user %q", record.ID)
	}

	return record, nil
}

func userArgs(u *model.UserRecord) []any {
	return []any{
		u.ID, u.Email, u.Username, u.Alias, u.FirstName, u.LastName, u.MobilePhone, u.Phone,
		u.Street, u.City, u.State, u.Country, u.PostalCode, u.LocaleKey, u.LanguageKey, u.TimezoneKey,
		u.EmailEncodingKey, u.ProfileID, u.ContactID, u.UserType, u.Active,
	}
}

func scanUser(row pgx.Row) (*model.UserRecord, error) {
	u := &model.UserRecord{}

	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.Alias, &u.FirstName, &u.LastName, &u.MobilePhone, &u.Phone,
		&u.Street, &u.City, &u.State, &u.Country, &u.PostalCode, &u.LocaleKey, &u.LanguageKey, &u.TimezoneKey,
		&u.EmailEncodingKey, &u.ProfileID, &u.ContactID, &u.UserType, &u.Active,
	)
	if err != nil {
		return nil, err
	}

	return u, nil
}

// mapError translates missing rows and constraint violations into directory errors.
func mapError(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrapf(directory.ErrNotFound, format, args...)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return errors.Wrapf(directory.ErrAlreadyExists, format, args...)
		case codeForeignKeyViolation:
			return errors.Wrapf(directory.ErrNotFound, format, args...)
		}
	}

	return errors.Wrapf(err, format, args...)
}
