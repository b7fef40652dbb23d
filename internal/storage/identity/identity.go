// Package identity stores user accounts next to the document metadata.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/maruel/ksid"
	"golang.org/x/crypto/bcrypt"

	"github.com/maruel/gitwiki/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	role          TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	modified_at   INTEGER NOT NULL
);
`

// minPasswordLen is the shortest accepted password, in bytes.
const minPasswordLen = 8

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("user not found")
	// ErrExists is returned when the email is already registered.
	ErrExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned by Authenticate on any mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalid is returned for malformed account fields.
	ErrInvalid = errors.New("invalid user")
)

// UserService handles user management and authentication.
type UserService struct {
	db   *sql.DB
	cost int
}

// NewUserService creates the users table in db if needed.
func NewUserService(ctx context.Context, db *sql.DB) (*UserService, error) {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to create users table: %w", err)
	}
	return &UserService{db: db, cost: bcrypt.DefaultCost}, nil
}

// CreateUser registers a new account.
//
// The first account becomes admin; later ones are editors.
func (s *UserService) CreateUser(ctx context.Context, email, password, name string) (*models.User, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalid)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalid, minPasswordLen)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return nil, err
	}
	role := models.RoleEditor
	if n == 0 {
		role = models.RoleAdmin
	}
	now := time.Now().UTC()
	u := &models.User{ID: ksid.NewID(), Email: email, Name: name, Role: role, Created: now, Modified: now}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, password_hash, created_at, modified_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?6)
		ON CONFLICT(email) DO NOTHING`,
		int64(u.ID), u.Email, u.Name, string(u.Role), string(hash), now.UnixNano())
	if err != nil {
		return nil, err
	}
	if c, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if c == 0 {
		return nil, ErrExists
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate verifies user credentials.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, hash, err := s.scanOne(ctx, "WHERE email = ?", normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		// Spend the same time as a real comparison.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (s *UserService) GetUser(ctx context.Context, id ksid.ID) (*models.User, error) {
	u, _, err := s.scanOne(ctx, "WHERE id = ?", int64(id))
	return u, err
}

// GetUserByEmail retrieves a user by email.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, _, err := s.scanOne(ctx, "WHERE email = ?", normalizeEmail(email))
	return u, err
}

// UpdateUserRole changes the role of a user.
func (s *UserService) UpdateUserRole(ctx context.Context, id ksid.ID, role models.UserRole) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE users SET role = ?1, modified_at = ?2 WHERE id = ?3",
		string(role), time.Now().UTC().UnixNano(), int64(id))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the total number of users.
func (s *UserService) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

// ListUsers returns all users ordered by creation.
func (s *UserService) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, selectUsers+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.User
	for rows.Next() {
		u, _, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const selectUsers = "SELECT id, email, name, role, password_hash, created_at, modified_at FROM users"

func (s *UserService) scanOne(ctx context.Context, where string, arg any) (*models.User, string, error) {
	u, hash, err := scanUser(s.db.QueryRowContext(ctx, selectUsers+" "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	return u, hash, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, string, error) {
	var (
		u                 models.User
		id                int64
		role, hash        string
		created, modified int64
	)
	if err := row.Scan(&id, &u.Email, &u.Name, &role, &hash, &created, &modified); err != nil {
		return nil, "", err
	}
	u.ID = ksid.ID(id)
	u.Role = models.UserRole(role)
	u.Created = time.Unix(0, created).UTC()
	u.Modified = time.Unix(0, modified).UTC()
	return &u, hash, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// dummyHash is compared against when the email is unknown.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3iKOJRrAMOhcGUCzSdvCpXu")
