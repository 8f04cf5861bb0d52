package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sl "conduit-auth/internal/lib/logger"
	"conduit-auth/internal/lib/random"
	"conduit-auth/internal/models"
	"conduit-auth/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

// VerifyEmail consumes a verification token: expiry is checked lazily and an
// expired row is swept on access.
func (a *Auth) VerifyEmail(ctx context.Context, token string) error {
	const op = "auth.VerifyEmail"

	log := a.log.With(slog.String("op", op))

	vt, err := a.verificationTokens.VerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("verification token not found")
			return ErrTokenNotFound
		}

		log.Error("failed to look up verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if a.expired(vt.ExpiresAt) {
		log.Warn("verification token expired")

		if err := a.verificationTokens.DeleteVerificationToken(ctx, token); err != nil {
			log.Error("failed to delete expired verification token", sl.Err(err))
		}

		return ErrTokenExpired
	}

	if err := a.users.SetEmailVerified(ctx, vt.UserID); err != nil {
		log.Error("failed to mark email verified", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.verificationTokens.DeleteVerificationToken(ctx, token); err != nil {
		log.Error("failed to delete verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified", slog.String("uid", vt.UserID.String()))

	return nil
}

// ResendVerification re-sends the verification email. The result is the same
// whether the email exists, is already verified, or not: callers respond with
// a generic acknowledgement either way.
func (a *Auth) ResendVerification(ctx context.Context, email string) error {
	const op = "auth.ResendVerification"

	log := a.log.With(slog.String("op", op))

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("resend requested for unknown email")
			return nil
		}

		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if user.EmailVerified {
		return nil
	}

	if err := a.sendVerificationEmail(ctx, user); err != nil {
		log.Error("failed to send verification email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ForgotPassword starts a reset flow. Whether or not the email matches a user
// the caller sees the same acknowledgement; only a match creates a token.
func (a *Auth) ForgotPassword(ctx context.Context, email string) error {
	const op = "auth.ForgotPassword"

	log := a.log.With(slog.String("op", op))

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("reset requested for unknown email")
			return nil
		}

		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	token, err := random.NewToken()
	if err != nil {
		log.Error("failed to generate reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	expiresAt := a.now().Add(a.tokens.ResetTokenTTL)

	if err := a.resetTokens.SaveResetToken(ctx, user.ID, token, expiresAt); err != nil {
		log.Error("failed to save reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := models.Message{
		Email:    user.Email,
		Username: user.Username,
		Link:     fmt.Sprintf("%s/api/auth/reset-password?token=%s", a.baseURL, token),
		Subject:  "Reset your password",
		Purpose:  models.PurposePasswordReset,
	}

	if err := a.notifier.SendMessage(ctx, msg); err != nil {
		log.Error("failed to send reset email", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("reset token issued", slog.String("uid", user.ID.String()))

	return nil
}

// ResetPassword consumes a reset token, sets the new hash, drops every
// outstanding reset token and every refresh token for the user so all devices
// must log in again.
func (a *Auth) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	pt, err := a.resetTokens.ResetToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("reset token not found")
			return ErrTokenNotFound
		}

		log.Error("failed to look up reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if a.expired(pt.ExpiresAt) {
		log.Warn("reset token expired")

		if err := a.resetTokens.DeleteResetToken(ctx, token); err != nil {
			log.Error("failed to delete expired reset token", sl.Err(err))
		}

		return ErrTokenExpired
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.users.UpdatePassword(ctx, pt.UserID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.resetTokens.DeleteUserResetTokens(ctx, pt.UserID); err != nil {
		log.Error("failed to delete reset tokens", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.refreshTokens.DeleteUserRefreshTokens(ctx, pt.UserID); err != nil {
		log.Error("failed to delete refresh tokens", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset", slog.String("uid", pt.UserID.String()))

	return nil
}

func (a *Auth) sendVerificationEmail(ctx context.Context, user models.User) error {
	token, err := random.NewToken()
	if err != nil {
		return err
	}

	expiresAt := a.now().Add(a.tokens.VerificationTokenTTL)

	if err := a.verificationTokens.SaveVerificationToken(ctx, user.ID, token, expiresAt); err != nil {
		return err
	}

	msg := models.Message{
		Email:    user.Email,
		Username: user.Username,
		Link:     fmt.Sprintf("%s/api/auth/verify-email?token=%s", a.baseURL, token),
		Subject:  "Verify your email address",
		Purpose:  models.PurposeEmailVerification,
	}

	return a.notifier.SendMessage(ctx, msg)
}

// expired treats the exact expiry instant as already expired.
func (a *Auth) expired(expiresAt time.Time) bool {
	return !a.now().Before(expiresAt)
}
