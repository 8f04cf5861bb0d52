package mailSender

import (
	"testing"

	"conduit-auth/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestBody_Verification(t *testing.T) {
	body := Body(models.Message{
		Username: "alice",
		Link:     "http://localhost:8080/api/auth/verify-email?token=abc",
		Purpose:  models.PurposeEmailVerification,
	})

	assert.Contains(t, body, "alice")
	assert.Contains(t, body, "verify-email?token=abc")
	assert.Contains(t, body, "24 hours")
}

func TestBody_Reset(t *testing.T) {
	body := Body(models.Message{
		Username: "alice",
		Link:     "http://localhost:8080/api/auth/reset-password?token=abc",
		Purpose:  models.PurposePasswordReset,
	})

	assert.Contains(t, body, "reset-password?token=abc")
	assert.Contains(t, body, "1 hour")
}

func TestBody_SecurityAlert(t *testing.T) {
	body := Body(models.Message{
		Username: "alice",
		Purpose:  models.PurposeSecurityAlert,
	})

	assert.Contains(t, body, "signed out")
	assert.Contains(t, body, "alice")
}

func TestBody_UnknownPurposeFallsBackToLink(t *testing.T) {
	body := Body(models.Message{Link: "http://example.com", Purpose: "something-else"})

	assert.Contains(t, body, "http://example.com")
}
