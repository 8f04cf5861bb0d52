package authn

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	resp "conduit-auth/internal/lib/api/response"
	"conduit-auth/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// tokenScheme is the bearer convention: `Authorization: Token <jwt>`.
const tokenScheme = "Token "

type ctxKey struct{}

type UserProvider interface {
	UserFromToken(ctx context.Context, accessToken string) (models.User, error)
}

// New returns middleware that requires a valid access token and puts the
// resolved user on the request context.
func New(log *slog.Logger, provider UserProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn.New"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			header := r.Header.Get("Authorization")

			token, ok := strings.CutPrefix(header, tokenScheme)
			if !ok || token == "" {
				log.Warn("missing or malformed authorization header")

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid credentials"))

				return
			}

			user, err := provider.UserFromToken(r.Context(), token)
			if err != nil {
				log.Warn("failed to resolve access token")

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid credentials"))

				return
			}

			ctx := context.WithValue(r.Context(), ctxKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(ctxKey{}).(models.User)
	return user, ok
}
