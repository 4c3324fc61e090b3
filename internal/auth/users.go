package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists         = errors.New("username already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidUsername    = errors.New("username must be 3-32 characters of letters, digits, '_' or '-'")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrNoPublicKey        = errors.New("user has no public key")
)

const minPasswordLen = 6

// usernames end up in fan-out addresses, so keep them to one subject token
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// ValidUsername reports whether name is an acceptable username.
func ValidUsername(name string) bool { return usernamePattern.MatchString(name) }

// User is a registered account.
type User struct {
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	PublicKey    string    `json:"publicKey,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStorage manages user accounts in SQLite. The users table is created by
// the store migrations.
type UserStorage struct {
	db *sql.DB
}

// NewUserStorage wraps an open database.
func NewUserStorage(db *sql.DB) *UserStorage {
	return &UserStorage{db: db}
}

// RegisterNewUser creates a new user, hashes their password and stores them in the db.
// publicKey is optional.
func (s *UserStorage) RegisterNewUser(ctx context.Context, username, password, publicKey string) (User, error) {
	if !ValidUsername(username) {
		return User{}, ErrInvalidUsername
	}
	if len(password) < minPasswordLen {
		return User{}, ErrWeakPassword
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		Username:     username,
		PasswordHash: hashedPassword,
		PublicKey:    publicKey,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash, public_key, created_at) VALUES (?, ?, ?, ?)`,
		user.Username, user.PasswordHash, nullString(publicKey), user.CreatedAt.UnixNano(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return User{}, ErrUserExists
		}
		return User{}, fmt.Errorf("insert user %q: %w", username, err)
	}
	return user, nil
}

// VerifyUser checks username and password.
func (s *UserStorage) VerifyUser(ctx context.Context, username, password string) error {
	user, err := s.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// FindByUsername loads one user.
func (s *UserStorage) FindByUsername(ctx context.Context, username string) (User, error) {
	var (
		user      User
		publicKey sql.NullString
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, public_key, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.Username, &user.PasswordHash, &publicKey, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("find user %q: %w", username, err)
	}
	user.PublicKey = publicKey.String
	user.CreatedAt = time.Unix(0, createdAt).UTC()
	return user, nil
}

// Exists reports whether a user with this name is registered.
func (s *UserStorage) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = ?)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user %q: %w", username, err)
	}
	return exists, nil
}

// PublicKey retrieves a user's public key.
func (s *UserStorage) PublicKey(ctx context.Context, username string) (string, error) {
	user, err := s.FindByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	if user.PublicKey == "" {
		return "", ErrNoPublicKey
	}
	return user.PublicKey, nil
}

// AllUsers returns a list of all registered usernames
func (s *UserStorage) AllUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, username)
	}

	return users, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
