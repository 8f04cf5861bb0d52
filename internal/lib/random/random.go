package random

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const tokenBytes = 32

// NewToken returns an opaque 256-bit token. It carries no structure: the
// binding to a user exists only as a database row.
func NewToken() (string, error) {
	const op = "random.NewToken"

	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}
