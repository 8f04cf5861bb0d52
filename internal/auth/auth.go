package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"conduit-auth/internal/config"
	"conduit-auth/internal/lib/jwt"
	sl "conduit-auth/internal/lib/logger"
	"conduit-auth/internal/lib/random"
	"conduit-auth/internal/models"
	"conduit-auth/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenExpired       = errors.New("token expired")
)

// saveTokenAttempts bounds retries when a freshly minted opaque token collides
// with an existing row. With 256-bit values this is a unique-constraint safety
// valve, not an expected path.
const saveTokenAttempts = 3

type Auth struct {
	log                *slog.Logger
	users              UserStore
	refreshTokens      RefreshTokenStore
	verificationTokens VerificationTokenStore
	resetTokens        ResetTokenStore
	notifier           Notifier
	tokens             config.Tokens
	baseURL            string
	now                func() time.Time
}

type UserStore interface {
	SaveUser(ctx context.Context, username, email string, passHash []byte) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (models.User, error)
	SetEmailVerified(ctx context.Context, userID uuid.UUID) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passHash []byte) error
}

type RefreshTokenStore interface {
	SaveRefreshToken(ctx context.Context, userID uuid.UUID, token string) error
	RefreshToken(ctx context.Context, token string) (models.RefreshToken, error)
	RedeemRefreshToken(ctx context.Context, token string) error
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error
}

type VerificationTokenStore interface {
	SaveVerificationToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	VerificationToken(ctx context.Context, token string) (models.EmailVerificationToken, error)
	DeleteVerificationToken(ctx context.Context, token string) error
}

type ResetTokenStore interface {
	SaveResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error
	ResetToken(ctx context.Context, token string) (models.PasswordResetToken, error)
	DeleteResetToken(ctx context.Context, token string) error
	DeleteUserResetTokens(ctx context.Context, userID uuid.UUID) error
}

type Notifier interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

func New(
	log *slog.Logger,
	users UserStore,
	refreshTokens RefreshTokenStore,
	verificationTokens VerificationTokenStore,
	resetTokens ResetTokenStore,
	notifier Notifier,
	tokens config.Tokens,
	baseURL string,
) *Auth {
	return &Auth{
		log:                log,
		users:              users,
		refreshTokens:      refreshTokens,
		verificationTokens: verificationTokens,
		resetTokens:        resetTokens,
		notifier:           notifier,
		tokens:             tokens,
		baseURL:            baseURL,
		now:                time.Now,
	}
}

// Register creates the account, schedules the verification email and issues
// the first access/refresh pair. A failed email publish surfaces as an error
// but the created account stays.
func (a *Auth) Register(
	ctx context.Context,
	username, email, password string,
) (models.User, string, string, error) {
	const op = "auth.Register"

	log := a.log.With(slog.String("op", op))

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return models.User{}, "", "", fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.users.SaveUser(ctx, username, email, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")
			return models.User{}, "", "", ErrUserExists
		}

		log.Error("failed to save user", sl.Err(err))
		return models.User{}, "", "", fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sendVerificationEmail(ctx, user); err != nil {
		log.Error("failed to send verification email", sl.Err(err))
		return models.User{}, "", "", fmt.Errorf("%s: %w", op, err)
	}

	accessToken, refreshToken, err := a.issuePair(ctx, user.ID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return models.User{}, "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("uid", user.ID.String()))

	return user, accessToken, refreshToken, nil
}

// Login checks the credentials and mints a fresh pair. Unknown email and bad
// password are indistinguishable to the caller.
func (a *Auth) Login(
	ctx context.Context,
	email, password string,
) (models.User, string, string, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return models.User{}, "", "", ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return models.User{}, "", "", fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials", sl.Err(err))
		return models.User{}, "", "", ErrInvalidCredentials
	}

	accessToken, refreshToken, err := a.issuePair(ctx, user.ID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return models.User{}, "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in successfully", slog.String("uid", user.ID.String()))

	return user, accessToken, refreshToken, nil
}

// Logout removes the presented token only; sibling sessions stay alive.
// Deleting a token that no longer exists is a success.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	if err := a.refreshTokens.DeleteRefreshToken(ctx, refreshToken); err != nil {
		log.Error("failed to delete refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("logout successful")

	return nil
}

// UserFromToken resolves a bearer access token to its user. Every failure
// collapses to ErrInvalidCredentials.
func (a *Auth) UserFromToken(ctx context.Context, accessToken string) (models.User, error) {
	const op = "auth.UserFromToken"

	userID, err := jwt.ParseAccessToken(accessToken, a.tokens.SigningSecret)
	if err != nil {
		return models.User{}, ErrInvalidCredentials
	}

	user, err := a.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, ErrInvalidCredentials
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (a *Auth) issuePair(ctx context.Context, userID uuid.UUID) (string, string, error) {
	accessToken, err := jwt.NewAccessToken(userID, a.tokens.SigningSecret, a.tokens.AccessTokenTTL)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := a.issueRefreshToken(ctx, userID)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (a *Auth) issueRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	var lastErr error

	for i := 0; i < saveTokenAttempts; i++ {
		token, err := random.NewToken()
		if err != nil {
			return "", err
		}

		err = a.refreshTokens.SaveRefreshToken(ctx, userID, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, storage.ErrTokenExists) {
			return "", err
		}

		lastErr = err
	}

	return "", lastErr
}
