package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID            uuid.UUID
	Username      string
	Email         string
	PassHash      []byte
	Bio           *string
	Image         *string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RefreshToken is one link of a device session's rotation chain. The value is
// opaque; redemption flips Used exactly once and spawns a fresh child row.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

type EmailVerificationToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Message is the payload published to the mail queue.
type Message struct {
	Email    string `json:"to"`
	Username string `json:"username"`
	Link     string `json:"link,omitempty"`
	Subject  string `json:"subject"`
	Purpose  string `json:"purpose"`
}

const (
	PurposeEmailVerification = "email_verification"
	PurposePasswordReset     = "password_reset"
	PurposeSecurityAlert     = "security_alert"
)
