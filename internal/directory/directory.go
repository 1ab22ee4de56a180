// ABOUTME: User directory: resolves a username or email to key material and identity
// ABOUTME: SQLDirectory reads the users, users_details and web_users tables as an admin

package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/mirmod/internal/hashcookie"
)

// ErrNotFound is returned when no user matches.
var ErrNotFound = errors.New("user not found")

// User is a directory record.
type User struct {
	ID             int32
	Username       string
	Email          string
	FirstName      string
	LastName       string
	Consented      bool
	OrganizationID int32
	JWTSecret      string
	Salt           string
}

// KnownUser returns what the cookie authenticator needs to verify a
// cookie issued to this user.
func (u *User) KnownUser() hashcookie.KnownUser {
	return hashcookie.KnownUser{
		Subject:   u.Username,
		HexSecret: u.JWTSecret,
		HexSalt:   u.Salt,
	}
}

// Directory looks up users.
type Directory interface {
	// LookupBySubjectOrEmail finds the user whose username or email is
	// text. A username match wins over an email match.
	LookupBySubjectOrEmail(ctx context.Context, text string) (*User, error)
}

// AdminSession is the part of an admin security context the SQL
// directory runs its queries through.
type AdminSession interface {
	RequireAdmin() error
	WithConn(ctx context.Context, fn func(conn *sql.Conn) error) error
}

const selectUser = `SELECT
	u.id,
	u.username,
	d.email,
	d.first_name,
	d.last_name,
	d.consented,
	u.organization_id,
	w.jwt_secret,
	w.salt
FROM miranda.users_details d
LEFT JOIN miranda.users u ON u.id = d.user_id
INNER JOIN miranda_web.web_users w ON w.username = u.username`

// Queries used by SQLDirectory.
const (
	QueryByUsername       = selectUser + "\nWHERE u.username = ?"
	QueryByEmail          = selectUser + "\nWHERE d.email = ?"
	QueryBySubjectOrEmail = selectUser + "\nWHERE u.username = ? OR d.email = ?" +
		"\nORDER BY u.username = ? DESC\nLIMIT 1"
)

// SQLDirectory reads users from the backend. Every lookup requires the
// session to be an admin context.
type SQLDirectory struct {
	session AdminSession
	logger  *slog.Logger
}

// NewSQLDirectory creates a directory backed by session.
func NewSQLDirectory(session AdminSession) *SQLDirectory {
	return &SQLDirectory{
		session: session,
		logger:  slog.Default().With("component", "directory"),
	}
}

// FindByUsername returns the user with the given username.
func (d *SQLDirectory) FindByUsername(ctx context.Context, username string) (*User, error) {
	return d.queryOne(ctx, QueryByUsername, username)
}

// FindByEmail returns the user with the given email.
func (d *SQLDirectory) FindByEmail(ctx context.Context, email string) (*User, error) {
	return d.queryOne(ctx, QueryByEmail, email)
}

// LookupBySubjectOrEmail implements Directory.
func (d *SQLDirectory) LookupBySubjectOrEmail(ctx context.Context, text string) (*User, error) {
	return d.queryOne(ctx, QueryBySubjectOrEmail, text, text, text)
}

func (d *SQLDirectory) queryOne(ctx context.Context, query string, args ...any) (*User, error) {
	if err := d.session.RequireAdmin(); err != nil {
		return nil, err
	}

	var u User
	err := d.session.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, query, args...).Scan(
			&u.ID,
			&u.Username,
			&u.Email,
			&u.FirstName,
			&u.LastName,
			&u.Consented,
			&u.OrganizationID,
			&u.JWTSecret,
			&u.Salt,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		d.logger.Warn("user lookup failed", "error", err)
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	return &u, nil
}
