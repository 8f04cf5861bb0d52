package authn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"conduit-auth/internal/auth"
	"conduit-auth/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	user models.User
	err  error

	calls []string
}

func (s *stubProvider) UserFromToken(_ context.Context, accessToken string) (models.User, error) {
	s.calls = append(s.calls, accessToken)

	if s.err != nil {
		return models.User{}, s.err
	}

	return s.user, nil
}

func run(t *testing.T, provider *stubProvider, authorization string) (*httptest.ResponseRecorder, *models.User) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var got *models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, ok := UserFromContext(r.Context()); ok {
			got = &user
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()

	New(log, provider)(next).ServeHTTP(rec, req)

	return rec, got
}

func TestAuthn_ResolvesUser(t *testing.T) {
	provider := &stubProvider{user: models.User{ID: uuid.New(), Username: "alice"}}

	rec, got := run(t, provider, "Token some-jwt")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"some-jwt"}, provider.calls)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
}

func TestAuthn_MissingHeader(t *testing.T) {
	provider := &stubProvider{}

	rec, got := run(t, provider, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, got)
	assert.Empty(t, provider.calls)
}

func TestAuthn_WrongScheme(t *testing.T) {
	provider := &stubProvider{}

	rec, _ := run(t, provider, "Bearer some-jwt")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, provider.calls)
}

func TestAuthn_InvalidToken(t *testing.T) {
	provider := &stubProvider{err: auth.ErrInvalidCredentials}

	rec, got := run(t, provider, "Token bad-jwt")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, got)
}

func TestAuthn_StorageError(t *testing.T) {
	// even a backend failure must not let the request through
	provider := &stubProvider{err: errors.New("db down")}

	rec, got := run(t, provider, "Token some-jwt")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, got)
}
