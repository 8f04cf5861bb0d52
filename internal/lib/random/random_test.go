package random

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken_Entropy(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, tokenBytes)
}

func TestNewToken_Unique(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 100; i++ {
		token, err := NewToken()
		require.NoError(t, err)

		_, dup := seen[token]
		require.False(t, dup)
		seen[token] = struct{}{}
	}
}
