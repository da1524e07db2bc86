package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
)

var (
	// ErrInvalidCredentials is returned when a username and password do not
	// match.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidResetToken is returned for malformed, expired or already used
	// password reset links.
	ErrInvalidResetToken = errors.New("invalid or expired reset link")
	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already exists")
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")
)

// Registration limits.
const (
	MaxUsernameLength = 150
	MinPasswordLength = 8
	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72
)

// ValidationError indicates a missing or malformed account field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// User is a registered account. PasswordHash never leaves the identity
// provider and its repository.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// RegisterRequest holds the registration form.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	Confirm  string
}

// Validate checks the form and returns it normalised.
func (r RegisterRequest) Validate() (RegisterRequest, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.Email = strings.TrimSpace(r.Email)

	switch {
	case r.Username == "":
		return r, &ValidationError{Field: "username", Reason: "this field is required"}
	case utf8.RuneCountInString(r.Username) > MaxUsernameLength:
		return r, &ValidationError{Field: "username", Reason: fmt.Sprintf("at most %d characters", MaxUsernameLength)}
	case r.Email == "":
		return r, &ValidationError{Field: "email", Reason: "this field is required"}
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return r, &ValidationError{Field: "email", Reason: "enter a valid email address"}
	}
	if err := ValidatePassword(r.Password, r.Confirm); err != nil {
		return r, err
	}
	return r, nil
}

// ValidatePassword checks a new password and its confirmation.
func ValidatePassword(password, confirm string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("at least %d characters", MinPasswordLength)}
	}
	if len(password) > MaxPasswordBytes {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("at most %d bytes", MaxPasswordBytes)}
	}
	if password != confirm {
		return &ValidationError{Field: "confirm", Reason: "the two password fields didn't match"}
	}
	return nil
}

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	// Create persists the user and sets ID and CreatedAt. It fails with
	// ErrUsernameTaken on a duplicate username.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// FindByEmail matches case-insensitively and may return several users.
	FindByEmail(ctx context.Context, email string) ([]User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
}

// ResetToken is a signed password reset credential for one user.
type ResetToken struct {
	User  User
	UID   string
	Token string
}

// Provider authenticates users and manages their credentials.
type Provider interface {
	Register(ctx context.Context, req RegisterRequest) (*User, error)
	Authenticate(ctx context.Context, username, password string) (*User, error)
	// IssueResetToken returns one token per account registered with email.
	// Unknown emails yield no tokens and no error.
	IssueResetToken(ctx context.Context, email string) ([]ResetToken, error)
	VerifyResetToken(ctx context.Context, uid, token string) (*User, error)
	ResetPassword(ctx context.Context, uid, token, password, confirm string) error
	UserByID(ctx context.Context, id int64) (*User, error)
}
