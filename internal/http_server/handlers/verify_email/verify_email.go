package verifyEmail

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"conduit-auth/internal/auth"
	resp "conduit-auth/internal/lib/api/response"
	sl "conduit-auth/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Message string `json:"message"`
}

type EmailVerifier interface {
	VerifyEmail(ctx context.Context, token string) error
}

func New(
	log *slog.Logger,
	verifier EmailVerifier,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verifyEmail.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		token := r.URL.Query().Get("token")
		if token == "" {
			log.Warn("missing verification token")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("missing token"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := verifier.VerifyEmail(ctx, token); err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("unknown verification token"))
			case errors.Is(err, auth.ErrTokenExpired):
				render.Status(r, http.StatusGone)
				render.JSON(w, r, resp.Error("verification token expired"))
			default:
				log.Error("failed to verify email", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("email verified successfully")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "email verified",
		})
	}
}
