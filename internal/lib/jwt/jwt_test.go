package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestAccessToken_RoundTrip(t *testing.T) {
	userID := uuid.New()

	token, err := NewAccessToken(userID, secret, 15*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got, err := ParseAccessToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestParseAccessToken_Expired(t *testing.T) {
	token, err := NewAccessToken(uuid.New(), secret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseAccessToken(token, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	token, err := NewAccessToken(uuid.New(), secret, 15*time.Minute)
	require.NoError(t, err)

	_, err = ParseAccessToken(token, "other-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessToken_Malformed(t *testing.T) {
	for _, token := range []string{"", "garbage", "a.b.c"} {
		_, err := ParseAccessToken(token, secret)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestParseAccessToken_NonUUIDSubject(t *testing.T) {
	// correctly signed but with a subject that is not a user id
	claims := gojwt.MapClaims{
		"sub": "not-a-uuid",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(15 * time.Minute).Unix(),
	}

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = ParseAccessToken(token, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessToken_WrongSigningMethod(t *testing.T) {
	claims := gojwt.MapClaims{
		"sub": uuid.New().String(),
		"exp": time.Now().Add(15 * time.Minute).Unix(),
	}

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims).SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseAccessToken(token, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
