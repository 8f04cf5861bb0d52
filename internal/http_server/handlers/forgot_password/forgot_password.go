package forgotPassword

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	resp "conduit-auth/internal/lib/api/response"
	sl "conduit-auth/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
}

type Response struct {
	resp.Response
	Message string `json:"message"`
}

// genericMessage is returned whether or not the email matches an account.
const genericMessage = "If that email address is in our system, we sent a password reset link to it"

type ResetStarter interface {
	ForgotPassword(ctx context.Context, email string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	resets ResetStarter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forgotPassword.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := resets.ForgotPassword(ctx, req.Email); err != nil {
			log.Error("failed to start password reset", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  genericMessage,
		})
	}
}
