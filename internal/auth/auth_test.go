package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"conduit-auth/internal/config"
	"conduit-auth/internal/models"
	"conduit-auth/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu           sync.Mutex
	users        map[uuid.UUID]models.User
	refresh      map[string]models.RefreshToken
	verification map[string]models.EmailVerificationToken
	reset        map[string]models.PasswordResetToken

	redeemErr error
	now       func() time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:        make(map[uuid.UUID]models.User),
		refresh:      make(map[string]models.RefreshToken),
		verification: make(map[string]models.EmailVerificationToken),
		reset:        make(map[string]models.PasswordResetToken),
		now:          time.Now,
	}
}

func (m *memoryStore) SaveUser(_ context.Context, username, email string, passHash []byte) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email || u.Username == username {
			return models.User{}, storage.ErrUserExists
		}
	}

	user := models.User{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		PassHash:  passHash,
		CreatedAt: m.now(),
		UpdatedAt: m.now(),
	}
	m.users[user.ID] = user

	return user, nil
}

func (m *memoryStore) UserByEmail(_ context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}

	return models.User{}, storage.ErrUserNotFound
}

func (m *memoryStore) UserByID(_ context.Context, id uuid.UUID) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, nil
}

func (m *memoryStore) SetEmailVerified(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}

	u.EmailVerified = true
	m.users[userID] = u

	return nil
}

func (m *memoryStore) UpdatePassword(_ context.Context, userID uuid.UUID, passHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}

	u.PassHash = passHash
	m.users[userID] = u

	return nil
}

func (m *memoryStore) SaveRefreshToken(_ context.Context, userID uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refresh[token]; ok {
		return storage.ErrTokenExists
	}

	m.refresh[token] = models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		CreatedAt: m.now(),
	}

	return nil
}

func (m *memoryStore) RefreshToken(_ context.Context, token string) (models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.refresh[token]
	if !ok {
		return models.RefreshToken{}, storage.ErrTokenNotFound
	}

	return rt, nil
}

func (m *memoryStore) RedeemRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redeemErr != nil {
		return m.redeemErr
	}

	rt, ok := m.refresh[token]
	if !ok || rt.Used {
		return storage.ErrTokenUsed
	}

	usedAt := m.now()
	rt.Used = true
	rt.UsedAt = &usedAt
	m.refresh[token] = rt

	return nil
}

func (m *memoryStore) DeleteRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.refresh, token)

	return nil
}

func (m *memoryStore) DeleteUserRefreshTokens(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, rt := range m.refresh {
		if rt.UserID == userID {
			delete(m.refresh, token)
		}
	}

	return nil
}

func (m *memoryStore) SaveVerificationToken(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.verification[token]; ok {
		return storage.ErrTokenExists
	}

	m.verification[token] = models.EmailVerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: m.now(),
	}

	return nil
}

func (m *memoryStore) VerificationToken(_ context.Context, token string) (models.EmailVerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vt, ok := m.verification[token]
	if !ok {
		return models.EmailVerificationToken{}, storage.ErrTokenNotFound
	}

	return vt, nil
}

func (m *memoryStore) DeleteVerificationToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.verification, token)

	return nil
}

func (m *memoryStore) SaveResetToken(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reset[token]; ok {
		return storage.ErrTokenExists
	}

	m.reset[token] = models.PasswordResetToken{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: m.now(),
	}

	return nil
}

func (m *memoryStore) ResetToken(_ context.Context, token string) (models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.reset[token]
	if !ok {
		return models.PasswordResetToken{}, storage.ErrTokenNotFound
	}

	return rt, nil
}

func (m *memoryStore) DeleteResetToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.reset, token)

	return nil
}

func (m *memoryStore) DeleteUserResetTokens(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for token, rt := range m.reset {
		if rt.UserID == userID {
			delete(m.reset, token)
		}
	}

	return nil
}

func (m *memoryStore) refreshTokenCount(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, rt := range m.refresh {
		if rt.UserID == userID {
			count++
		}
	}

	return count
}

type stubNotifier struct {
	mu       sync.Mutex
	messages []models.Message
	sendErr  error
}

func (n *stubNotifier) SendMessage(_ context.Context, msg models.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sendErr != nil {
		return n.sendErr
	}

	n.messages = append(n.messages, msg)

	return nil
}

func (n *stubNotifier) byPurpose(purpose string) []models.Message {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []models.Message
	for _, msg := range n.messages {
		if msg.Purpose == purpose {
			out = append(out, msg)
		}
	}

	return out
}

func testTokens() config.Tokens {
	return config.Tokens{
		SigningSecret:        "test-secret",
		AccessTokenTTL:       15 * time.Minute,
		RefreshTokenTTL:      720 * time.Hour,
		VerificationTokenTTL: 24 * time.Hour,
		ResetTokenTTL:        time.Hour,
	}
}

func newTestAuth(t *testing.T) (*Auth, *memoryStore, *stubNotifier) {
	t.Helper()

	store := newMemoryStore()
	notifier := &stubNotifier{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	a := New(log, store, store, store, store, notifier, testTokens(), "http://localhost:8080")

	return a, store, notifier
}

func registerAlice(t *testing.T, a *Auth) (models.User, string, string) {
	t.Helper()

	user, accessToken, refreshToken, err := a.Register(context.Background(), "alice", "alice@x.com", "password123")
	require.NoError(t, err)

	return user, accessToken, refreshToken
}

func TestRegister_IssuesPairAndVerificationEmail(t *testing.T) {
	a, store, notifier := newTestAuth(t)

	user, accessToken, refreshToken := registerAlice(t, a)

	assert.NotEmpty(t, accessToken)
	assert.NotEmpty(t, refreshToken)
	assert.False(t, user.EmailVerified)
	assert.Equal(t, 1, store.refreshTokenCount(user.ID))
	assert.Len(t, store.verification, 1)

	sent := notifier.byPurpose(models.PurposeEmailVerification)
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@x.com", sent[0].Email)
	assert.Contains(t, sent[0].Link, "/api/auth/verify-email?token=")
}

func TestRegister_DuplicateEmail(t *testing.T) {
	a, _, _ := newTestAuth(t)

	registerAlice(t, a)

	_, _, _, err := a.Register(context.Background(), "alice2", "alice@x.com", "password123")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRegister_KeepsAccountWhenEmailPublishFails(t *testing.T) {
	a, store, notifier := newTestAuth(t)
	notifier.sendErr = errors.New("broker down")

	_, _, _, err := a.Register(context.Background(), "alice", "alice@x.com", "password123")
	require.Error(t, err)

	_, err = store.UserByEmail(context.Background(), "alice@x.com")
	assert.NoError(t, err)
}

func TestLogin_Success(t *testing.T) {
	a, _, _ := newTestAuth(t)

	registerAlice(t, a)

	user, accessToken, firstRefresh, err := a.Login(context.Background(), "alice@x.com", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)
	assert.Equal(t, "alice", user.Username)

	_, _, secondRefresh, err := a.Login(context.Background(), "alice@x.com", "password123")
	require.NoError(t, err)
	assert.NotEqual(t, firstRefresh, secondRefresh)
}

func TestLogin_BadCredentials(t *testing.T) {
	a, _, _ := newTestAuth(t)

	registerAlice(t, a)

	_, _, _, err := a.Login(context.Background(), "alice@x.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, _, err = a.Login(context.Background(), "nobody@x.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesOnce(t *testing.T) {
	a, store, _ := newTestAuth(t)

	user, _, refreshToken := registerAlice(t, a)

	accessToken, newRefresh, err := a.Refresh(context.Background(), refreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)
	assert.NotEqual(t, refreshToken, newRefresh)

	rt, err := store.RefreshToken(context.Background(), refreshToken)
	require.NoError(t, err)
	assert.True(t, rt.Used)
	require.NotNil(t, rt.UsedAt)

	// old row redeemed plus its child
	assert.Equal(t, 2, store.refreshTokenCount(user.ID))
}

func TestRefresh_ReplayRevokesFamily(t *testing.T) {
	a, store, notifier := newTestAuth(t)

	user, _, firstToken := registerAlice(t, a)

	_, secondToken, err := a.Refresh(context.Background(), firstToken)
	require.NoError(t, err)

	// replaying the consumed token kills the whole family
	_, _, err = a.Refresh(context.Background(), firstToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 0, store.refreshTokenCount(user.ID))

	alerts := notifier.byPurpose(models.PurposeSecurityAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, "alice@x.com", alerts[0].Email)

	// the legitimately issued child died with the family
	_, _, err = a.Refresh(context.Background(), secondToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_LostRaceTreatedAsReplay(t *testing.T) {
	a, store, notifier := newTestAuth(t)

	user, _, refreshToken := registerAlice(t, a)

	// the conditional redeem reports zero rows affected even though the read
	// saw used=false: a concurrent request won the race
	store.redeemErr = storage.ErrTokenUsed

	_, _, err := a.Refresh(context.Background(), refreshToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 0, store.refreshTokenCount(user.ID))
	assert.Len(t, notifier.byPurpose(models.PurposeSecurityAlert), 1)
}

func TestRefresh_NotifierFailureDoesNotBlockRevocation(t *testing.T) {
	a, store, notifier := newTestAuth(t)

	user, _, refreshToken := registerAlice(t, a)

	_, _, err := a.Refresh(context.Background(), refreshToken)
	require.NoError(t, err)

	notifier.sendErr = errors.New("smtp queue unreachable")

	_, _, err = a.Refresh(context.Background(), refreshToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 0, store.refreshTokenCount(user.ID))
}

func TestRefresh_UnknownToken(t *testing.T) {
	a, _, _ := newTestAuth(t)

	_, _, err := a.Refresh(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_ExpiredTokenDeleted(t *testing.T) {
	a, store, _ := newTestAuth(t)

	_, _, refreshToken := registerAlice(t, a)

	issued := time.Now()
	a.now = func() time.Time { return issued.Add(721 * time.Hour) }

	_, _, err := a.Refresh(context.Background(), refreshToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = store.RefreshToken(context.Background(), refreshToken)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestLogout_Idempotent(t *testing.T) {
	a, _, _ := newTestAuth(t)

	_, _, refreshToken := registerAlice(t, a)

	require.NoError(t, a.Logout(context.Background(), refreshToken))
	require.NoError(t, a.Logout(context.Background(), refreshToken))
}

func TestLogout_LeavesSiblingSessions(t *testing.T) {
	a, store, _ := newTestAuth(t)

	user, _, firstToken := registerAlice(t, a)

	_, _, secondToken, err := a.Login(context.Background(), "alice@x.com", "password123")
	require.NoError(t, err)

	require.NoError(t, a.Logout(context.Background(), firstToken))

	assert.Equal(t, 1, store.refreshTokenCount(user.ID))

	_, _, err = a.Refresh(context.Background(), secondToken)
	assert.NoError(t, err)
}

func TestUserFromToken(t *testing.T) {
	a, _, _ := newTestAuth(t)

	user, accessToken, _ := registerAlice(t, a)

	got, err := a.UserFromToken(context.Background(), accessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = a.UserFromToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyEmail(t *testing.T) {
	a, store, _ := newTestAuth(t)

	user, _, _ := registerAlice(t, a)

	var token string
	for tok := range store.verification {
		token = tok
	}
	require.NotEmpty(t, token)

	require.NoError(t, a.VerifyEmail(context.Background(), token))

	got, err := store.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
	assert.Empty(t, store.verification)
}

func TestVerifyEmail_UnknownToken(t *testing.T) {
	a, _, _ := newTestAuth(t)

	err := a.VerifyEmail(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestVerifyEmail_ExpiredAtExactInstant(t *testing.T) {
	a, store, _ := newTestAuth(t)

	issued := time.Now()
	a.now = func() time.Time { return issued }

	registerAlice(t, a)

	var token string
	for tok := range store.verification {
		token = tok
	}
	require.NotEmpty(t, token)

	// the expiry instant itself already counts as expired
	a.now = func() time.Time { return issued.Add(24 * time.Hour) }

	err := a.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Empty(t, store.verification)
}

func TestResendVerification(t *testing.T) {
	a, _, notifier := newTestAuth(t)

	registerAlice(t, a)

	require.NoError(t, a.ResendVerification(context.Background(), "alice@x.com"))
	assert.Len(t, notifier.byPurpose(models.PurposeEmailVerification), 2)

	// unknown email: same outcome, nothing sent
	require.NoError(t, a.ResendVerification(context.Background(), "nobody@x.com"))
	assert.Len(t, notifier.byPurpose(models.PurposeEmailVerification), 2)
}

func TestForgotPassword_UnknownEmailCreatesNothing(t *testing.T) {
	a, store, notifier := newTestAuth(t)

	registerAlice(t, a)

	require.NoError(t, a.ForgotPassword(context.Background(), "nobody@x.com"))
	assert.Empty(t, store.reset)
	assert.Empty(t, notifier.byPurpose(models.PurposePasswordReset))
}

func TestForgotPassword_KnownEmail(t *testing.T) {
	a, store, notifier := newTestAuth(t)

	registerAlice(t, a)

	require.NoError(t, a.ForgotPassword(context.Background(), "alice@x.com"))
	assert.Len(t, store.reset, 1)

	sent := notifier.byPurpose(models.PurposePasswordReset)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Link, "/api/auth/reset-password?token=")
}

func TestResetPassword_ForcesReloginEverywhere(t *testing.T) {
	a, store, _ := newTestAuth(t)

	user, _, _ := registerAlice(t, a)

	_, _, _, err := a.Login(context.Background(), "alice@x.com", "password123")
	require.NoError(t, err)

	require.NoError(t, a.ForgotPassword(context.Background(), "alice@x.com"))

	var token string
	for tok := range store.reset {
		token = tok
	}
	require.NotEmpty(t, token)

	require.NoError(t, a.ResetPassword(context.Background(), token, "newpassword456"))

	assert.Empty(t, store.reset)
	assert.Equal(t, 0, store.refreshTokenCount(user.ID))

	_, _, _, err = a.Login(context.Background(), "alice@x.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, _, err = a.Login(context.Background(), "alice@x.com", "newpassword456")
	assert.NoError(t, err)
}

func TestResetPassword_ExpiredAtExactInstant(t *testing.T) {
	a, store, _ := newTestAuth(t)

	issued := time.Now()
	a.now = func() time.Time { return issued }

	registerAlice(t, a)
	require.NoError(t, a.ForgotPassword(context.Background(), "alice@x.com"))

	var token string
	for tok := range store.reset {
		token = tok
	}
	require.NotEmpty(t, token)

	a.now = func() time.Time { return issued.Add(time.Hour) }

	err := a.ResetPassword(context.Background(), token, "newpassword456")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Empty(t, store.reset)
}

func TestResetPassword_UnknownToken(t *testing.T) {
	a, _, _ := newTestAuth(t)

	err := a.ResetPassword(context.Background(), "nope", "newpassword456")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}
