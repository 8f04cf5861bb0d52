package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conduit-auth/internal/config"
	"conduit-auth/internal/models"
	"conduit-auth/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

func (r *PostgresRepo) SaveUser(ctx context.Context, username, email string, passHash []byte) (models.User, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, username, email, password_hash, bio, image, email_verified, created_at, updated_at;
	`

	var u models.User

	err := r.pool.QueryRow(ctx, query, username, email, string(passHash)).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PassHash,
		&u.Bio,
		&u.Image,
		&u.EmailVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, storage.ErrUserExists
		}

		return models.User{}, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return u, nil
}

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT id, username, email, password_hash, bio, image, email_verified, created_at, updated_at
		FROM users
		WHERE email = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

func (r *PostgresRepo) UserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	query := `
		SELECT id, username, email, password_hash, bio, image, email_verified, created_at, updated_at
		FROM users
		WHERE id = $1;
	`

	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *PostgresRepo) scanUser(row pgx.Row) (models.User, error) {
	var u models.User

	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PassHash,
		&u.Bio,
		&u.Image,
		&u.EmailVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	return u, nil
}

func (r *PostgresRepo) SetEmailVerified(ctx context.Context, userID uuid.UUID) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = now() WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, userID)

	return err
}

func (r *PostgresRepo) UpdatePassword(ctx context.Context, userID uuid.UUID, passHash []byte) error {
	query := `UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`

	_, err := r.pool.Exec(ctx, query, string(passHash), userID)

	return err
}

func (r *PostgresRepo) SaveRefreshToken(ctx context.Context, userID uuid.UUID, token string) error {
	const query = `
		INSERT INTO refresh_tokens (user_id, token)
		VALUES ($1, $2)
	`

	_, err := r.pool.Exec(ctx, query, userID, token)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrTokenExists
		}

		return err
	}

	return nil
}

func (r *PostgresRepo) RefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	const query = `
		SELECT id, user_id, token, used, used_at, created_at
		FROM refresh_tokens
		WHERE token = $1;
	`

	var rt models.RefreshToken

	err := r.pool.QueryRow(ctx, query, token).Scan(
		&rt.ID,
		&rt.UserID,
		&rt.Token,
		&rt.Used,
		&rt.UsedAt,
		&rt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefreshToken{}, storage.ErrTokenNotFound
		}

		return models.RefreshToken{}, err
	}

	return rt, nil
}

// RedeemRefreshToken flips used in a single conditional write. Zero affected
// rows means the token was already redeemed, by an earlier request or by a
// concurrent one; both must land in the replay handling path.
func (r *PostgresRepo) RedeemRefreshToken(ctx context.Context, token string) error {
	const query = `
		UPDATE refresh_tokens
		SET used = TRUE, used_at = now()
		WHERE token = $1 AND used = FALSE
	`

	tag, err := r.pool.Exec(ctx, query, token)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrTokenUsed
	}

	return nil
}

func (r *PostgresRepo) DeleteRefreshToken(ctx context.Context, token string) error {
	query := `DELETE FROM refresh_tokens WHERE token = $1`

	_, err := r.pool.Exec(ctx, query, token)

	return err
}

func (r *PostgresRepo) DeleteUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`

	_, err := r.pool.Exec(ctx, query, userID)

	return err
}

func (r *PostgresRepo) SaveVerificationToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	const query = `
		INSERT INTO email_verification_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.pool.Exec(ctx, query, userID, token, expiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrTokenExists
		}

		return err
	}

	return nil
}

func (r *PostgresRepo) VerificationToken(ctx context.Context, token string) (models.EmailVerificationToken, error) {
	const query = `
		SELECT id, user_id, token, expires_at, created_at
		FROM email_verification_tokens
		WHERE token = $1;
	`

	var vt models.EmailVerificationToken

	err := r.pool.QueryRow(ctx, query, token).Scan(
		&vt.ID,
		&vt.UserID,
		&vt.Token,
		&vt.ExpiresAt,
		&vt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EmailVerificationToken{}, storage.ErrTokenNotFound
		}

		return models.EmailVerificationToken{}, err
	}

	return vt, nil
}

func (r *PostgresRepo) DeleteVerificationToken(ctx context.Context, token string) error {
	query := `DELETE FROM email_verification_tokens WHERE token = $1`

	_, err := r.pool.Exec(ctx, query, token)

	return err
}

func (r *PostgresRepo) SaveResetToken(ctx context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	const query = `
		INSERT INTO password_reset_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`

	_, err := r.pool.Exec(ctx, query, userID, token, expiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrTokenExists
		}

		return err
	}

	return nil
}

func (r *PostgresRepo) ResetToken(ctx context.Context, token string) (models.PasswordResetToken, error) {
	const query = `
		SELECT id, user_id, token, expires_at, created_at
		FROM password_reset_tokens
		WHERE token = $1;
	`

	var pt models.PasswordResetToken

	err := r.pool.QueryRow(ctx, query, token).Scan(
		&pt.ID,
		&pt.UserID,
		&pt.Token,
		&pt.ExpiresAt,
		&pt.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PasswordResetToken{}, storage.ErrTokenNotFound
		}

		return models.PasswordResetToken{}, err
	}

	return pt, nil
}

func (r *PostgresRepo) DeleteResetToken(ctx context.Context, token string) error {
	query := `DELETE FROM password_reset_tokens WHERE token = $1`

	_, err := r.pool.Exec(ctx, query, token)

	return err
}

func (r *PostgresRepo) DeleteUserResetTokens(ctx context.Context, userID uuid.UUID) error {
	query := `DELETE FROM password_reset_tokens WHERE user_id = $1`

	_, err := r.pool.Exec(ctx, query, userID)

	return err
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
