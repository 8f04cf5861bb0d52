package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sl "conduit-auth/internal/lib/logger"
	"conduit-auth/internal/models"
	"conduit-auth/internal/storage"

	"github.com/google/uuid"
)

// Refresh exchanges a refresh token for a new access/refresh pair.
//
// Redemption is a single conditional write against the ledger: once any
// request has durably marked the token used, every later presentation of the
// same value lands in the replay branch, including the loser of a concurrent
// redemption race. Replay revokes every refresh token the user has and alerts
// the account owner.
func (a *Auth) Refresh(ctx context.Context, presented string) (string, string, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	rt, err := a.refreshTokens.RefreshToken(ctx, presented)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token not found")
			return "", "", ErrInvalidCredentials
		}

		log.Error("failed to look up refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	if a.now().After(rt.CreatedAt.Add(a.tokens.RefreshTokenTTL)) {
		log.Warn("refresh token expired")

		if err := a.refreshTokens.DeleteRefreshToken(ctx, presented); err != nil {
			log.Error("failed to delete expired refresh token", sl.Err(err))
		}

		return "", "", ErrInvalidCredentials
	}

	if rt.Used {
		log.Warn("refresh token replay detected", slog.String("uid", rt.UserID.String()))

		if err := a.respondToBreach(ctx, rt.UserID); err != nil {
			return "", "", fmt.Errorf("%s: %w", op, err)
		}

		return "", "", ErrInvalidCredentials
	}

	if err := a.refreshTokens.RedeemRefreshToken(ctx, presented); err != nil {
		if errors.Is(err, storage.ErrTokenUsed) {
			// Lost a concurrent redemption race; same containment as an
			// explicit replay.
			log.Warn("refresh token redeemed concurrently", slog.String("uid", rt.UserID.String()))

			if err := a.respondToBreach(ctx, rt.UserID); err != nil {
				return "", "", fmt.Errorf("%s: %w", op, err)
			}

			return "", "", ErrInvalidCredentials
		}

		log.Error("failed to redeem refresh token", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	accessToken, newRefresh, err := a.issuePair(ctx, rt.UserID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("refresh successful", slog.String("uid", rt.UserID.String()))

	return accessToken, newRefresh, nil
}

// respondToBreach deletes the user's whole token family and alerts the owner.
// Revocation is the safety-critical step; the email is advisory and its
// failure is only logged.
func (a *Auth) respondToBreach(ctx context.Context, userID uuid.UUID) error {
	log := a.log.With(slog.String("uid", userID.String()))

	if err := a.refreshTokens.DeleteUserRefreshTokens(ctx, userID); err != nil {
		log.Error("failed to revoke token family", sl.Err(err))
		return err
	}

	log.Info("token family revoked")

	user, err := a.users.UserByID(ctx, userID)
	if err != nil {
		log.Error("failed to load user for security alert", sl.Err(err))
		return nil
	}

	msg := models.Message{
		Email:    user.Email,
		Username: user.Username,
		Subject:  "Security alert: your sessions were signed out",
		Purpose:  models.PurposeSecurityAlert,
	}

	if err := a.notifier.SendMessage(ctx, msg); err != nil {
		log.Error("failed to send security alert", sl.Err(err))
	}

	return nil
}
