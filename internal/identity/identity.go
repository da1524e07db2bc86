// Package identity implements auth.Provider with bcrypt password hashes and
// signed, single-use password reset tokens.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/bookstore/internal/domain/auth"
)

// DefaultResetTTL is how long a reset link stays valid when not configured.
const DefaultResetTTL = 3 * 24 * time.Hour

var _ auth.Provider = (*Provider)(nil)

// Options configures a Provider.
type Options struct {
	// ResetSecret signs reset tokens. Required.
	ResetSecret []byte
	ResetTTL    time.Duration
	BcryptCost  int
}

func (o *Options) setDefaults() {
	if o.ResetTTL <= 0 {
		o.ResetTTL = DefaultResetTTL
	}
	if o.BcryptCost == 0 {
		o.BcryptCost = bcrypt.DefaultCost
	}
}

// Provider is the account identity provider.
type Provider struct {
	users  auth.UserRepository
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time
	// dummy is compared against on unknown usernames so that both failure
	// paths cost one bcrypt comparison.
	dummy []byte
}

// New creates a Provider.
func New(users auth.UserRepository, opts Options) (*Provider, error) {
	if len(opts.ResetSecret) == 0 {
		return nil, errors.New("reset secret is required")
	}
	opts.setDefaults()
	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), opts.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "generate dummy hash")
	}
	return &Provider{
		users:  users,
		secret: opts.ResetSecret,
		ttl:    opts.ResetTTL,
		cost:   opts.BcryptCost,
		now:    time.Now,
		dummy:  dummy,
	}, nil
}

// Register validates the form and creates the account.
func (p *Provider) Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), p.cost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	u := &auth.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := p.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Authenticate checks a username and password.
func (p *Provider) Authenticate(ctx context.Context, username, password string) (*auth.User, error) {
	u, err := p.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(p.dummy, []byte(password))
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, auth.ErrInvalidCredentials
	}
	return u, nil
}

type resetClaims struct {
	jwt.RegisteredClaims
	// Fingerprint binds the token to the password hash it was issued for, so
	// it stops working once the password changes.
	Fingerprint string `json:"fp"`
}

// IssueResetToken returns a reset token for every account with email.
func (p *Provider) IssueResetToken(ctx context.Context, email string) ([]auth.ResetToken, error) {
	if email == "" {
		return nil, nil
	}
	users, err := p.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	now := p.now()
	tokens := make([]auth.ResetToken, 0, len(users))
	for _, u := range users {
		claims := resetClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   strconv.FormatInt(u.ID, 10),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			},
			Fingerprint: p.fingerprint(u.PasswordHash),
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
		if err != nil {
			return nil, errors.Wrap(err, "sign reset token")
		}
		tokens = append(tokens, auth.ResetToken{
			User:  u,
			UID:   EncodeUID(u.ID),
			Token: signed,
		})
	}
	return tokens, nil
}

// VerifyResetToken returns the user a reset link was issued to.
func (p *Provider) VerifyResetToken(ctx context.Context, uid, token string) (*auth.User, error) {
	id, err := DecodeUID(uid)
	if err != nil {
		return nil, auth.ErrInvalidResetToken
	}

	var claims resetClaims
	_, err = jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, auth.ErrInvalidResetToken
	}
	if claims.Subject != strconv.FormatInt(id, 10) {
		return nil, auth.ErrInvalidResetToken
	}

	u, err := p.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, auth.ErrInvalidResetToken
		}
		return nil, err
	}
	if !hmac.Equal([]byte(claims.Fingerprint), []byte(p.fingerprint(u.PasswordHash))) {
		return nil, auth.ErrInvalidResetToken
	}
	return u, nil
}

// ResetPassword sets a new password using a reset link. The link is spent
// afterwards.
func (p *Provider) ResetPassword(ctx context.Context, uid, token, password, confirm string) error {
	u, err := p.VerifyResetToken(ctx, uid, token)
	if err != nil {
		return err
	}
	if err := auth.ValidatePassword(password, confirm); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	if err := p.users.UpdatePassword(ctx, u.ID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UserByID returns the account with the given ID.
func (p *Provider) UserByID(ctx context.Context, id int64) (*auth.User, error) {
	return p.users.GetByID(ctx, id)
}

func (p *Provider) fingerprint(passwordHash string) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(passwordHash))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}

// EncodeUID encodes a user ID for use in a reset link.
func EncodeUID(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

// DecodeUID reverses EncodeUID.
func DecodeUID(uid string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return 0, errors.Wrap(err, "decode uid")
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.Errorf("invalid uid %q", uid)
	}
	return id, nil
}
