package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/bookstore/internal/domain/auth"
)

// --- Mock implementations ---

type mockUserRepo struct {
	mu     sync.Mutex
	users  map[int64]auth.User
	nextID int64
}

func newUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[int64]auth.User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *auth.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return auth.ErrUsernameTaken
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	m.users[u.ID] = *u
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id int64) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return &u, nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

func (m *mockUserRepo) FindByEmail(_ context.Context, email string) ([]auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []auth.User
	for id := int64(1); id <= m.nextID; id++ {
		if u, ok := m.users[id]; ok && strings.EqualFold(u.Email, email) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockUserRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	u.PasswordHash = hash
	m.users[id] = u
	return nil
}

// --- Helpers ---

const password = "correct horse battery"

func newTestProvider(t *testing.T) (*Provider, *mockUserRepo) {
	t.Helper()
	repo := newUserRepo()
	p, err := New(repo, Options{
		ResetSecret: []byte("test-secret"),
		ResetTTL:    time.Hour,
		BcryptCost:  bcrypt.MinCost,
	})
	require.NoError(t, err)
	return p, repo
}

func register(t *testing.T, p *Provider, username, email string) *auth.User {
	t.Helper()
	u, err := p.Register(context.Background(), auth.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
		Confirm:  password,
	})
	require.NoError(t, err)
	return u
}

func issue(t *testing.T, p *Provider, email string) auth.ResetToken {
	t.Helper()
	tokens, err := p.IssueResetToken(context.Background(), email)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	return tokens[0]
}

// --- Tests ---

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(newUserRepo(), Options{})
	require.Error(t, err)
}

func TestRegisterAndAuthenticate(t *testing.T) {
	p, repo := newTestProvider(t)
	ctx := context.Background()

	u := register(t, p, "ada", "ada@example.com")
	assert.NotZero(t, u.ID)
	assert.NotEqual(t, password, repo.users[u.ID].PasswordHash)

	got, err := p.Authenticate(ctx, " ada ", password)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = p.Authenticate(ctx, "ada", "wrong password")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = p.Authenticate(ctx, "nobody", password)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestRegister_Duplicate(t *testing.T) {
	p, _ := newTestProvider(t)
	register(t, p, "ada", "ada@example.com")

	_, err := p.Register(context.Background(), auth.RegisterRequest{
		Username: "ada", Email: "other@example.com", Password: password, Confirm: password,
	})
	require.ErrorIs(t, err, auth.ErrUsernameTaken)
}

func TestRegister_Invalid(t *testing.T) {
	p, repo := newTestProvider(t)

	_, err := p.Register(context.Background(), auth.RegisterRequest{
		Username: "ada", Email: "ada@example.com", Password: password, Confirm: "different",
	})
	var vErr *auth.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, repo.users)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	p, repo := newTestProvider(t)
	long := strings.Repeat("x", 80)

	_, err := p.Register(context.Background(), auth.RegisterRequest{
		Username: "ada", Email: "ada@example.com", Password: long, Confirm: long,
	})
	var vErr *auth.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "password", vErr.Field)
	assert.Empty(t, repo.users)
}

func TestIssueResetToken_UnknownEmail(t *testing.T) {
	p, _ := newTestProvider(t)
	register(t, p, "ada", "ada@example.com")

	tokens, err := p.IssueResetToken(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestResetPassword(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	u := register(t, p, "ada", "ada@example.com")

	tok := issue(t, p, "ADA@example.com")
	assert.Equal(t, EncodeUID(u.ID), tok.UID)

	verified, err := p.VerifyResetToken(ctx, tok.UID, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, verified.ID)

	require.NoError(t, p.ResetPassword(ctx, tok.UID, tok.Token, "brand new password", "brand new password"))

	_, err = p.Authenticate(ctx, "ada", "brand new password")
	require.NoError(t, err)
	_, err = p.Authenticate(ctx, "ada", password)
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// The link is single use.
	err = p.ResetPassword(ctx, tok.UID, tok.Token, "another password", "another password")
	require.ErrorIs(t, err, auth.ErrInvalidResetToken)
}

func TestResetPassword_WeakPasswordKeepsToken(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	register(t, p, "ada", "ada@example.com")
	tok := issue(t, p, "ada@example.com")

	err := p.ResetPassword(ctx, tok.UID, tok.Token, "short", "short")
	var vErr *auth.ValidationError
	require.ErrorAs(t, err, &vErr)

	_, err = p.VerifyResetToken(ctx, tok.UID, tok.Token)
	require.NoError(t, err)
}

func TestResetPassword_TooLongKeepsToken(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	register(t, p, "ada", "ada@example.com")
	tok := issue(t, p, "ada@example.com")
	long := strings.Repeat("x", 80)

	err := p.ResetPassword(ctx, tok.UID, tok.Token, long, long)
	var vErr *auth.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "password", vErr.Field)

	_, err = p.VerifyResetToken(ctx, tok.UID, tok.Token)
	require.NoError(t, err)
}

func TestVerifyResetToken_Invalid(t *testing.T) {
	p, _ := newTestProvider(t)
	ctx := context.Background()
	ada := register(t, p, "ada", "ada@example.com")
	register(t, p, "bob", "bob@example.com")
	tok := issue(t, p, "ada@example.com")

	foreign := newUserRepo()
	other, err := New(foreign, Options{ResetSecret: []byte("other-secret"), BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	require.NoError(t, foreign.Create(ctx, &auth.User{Username: "ada", Email: "ada@example.com", PasswordHash: "x"}))
	forged, err := other.IssueResetToken(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Len(t, forged, 1)

	tests := []struct {
		name  string
		uid   string
		token string
	}{
		{name: "garbage uid", uid: "!!", token: tok.Token},
		{name: "uid of another user", uid: EncodeUID(ada.ID + 1), token: tok.Token},
		{name: "unknown user", uid: EncodeUID(99), token: tok.Token},
		{name: "garbage token", uid: tok.UID, token: "not.a.jwt"},
		{name: "wrong signing key", uid: tok.UID, token: forged[0].Token},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.VerifyResetToken(ctx, tt.uid, tt.token)
			require.ErrorIs(t, err, auth.ErrInvalidResetToken)
		})
	}
}

func TestVerifyResetToken_Expired(t *testing.T) {
	p, _ := newTestProvider(t)
	register(t, p, "ada", "ada@example.com")
	tok := issue(t, p, "ada@example.com")

	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := p.VerifyResetToken(context.Background(), tok.UID, tok.Token)
	require.ErrorIs(t, err, auth.ErrInvalidResetToken)
}

func TestUID(t *testing.T) {
	id, err := DecodeUID(EncodeUID(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = DecodeUID(EncodeUID(0))
	require.Error(t, err)
}
