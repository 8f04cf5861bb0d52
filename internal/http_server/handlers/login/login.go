package login

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"conduit-auth/internal/auth"
	resp "conduit-auth/internal/lib/api/response"
	sl "conduit-auth/internal/lib/logger"
	"conduit-auth/internal/models"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type Request struct {
	User UserPayload `json:"user" validate:"required"`
}

type UserPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	User         UserData `json:"user"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
}

type UserData struct {
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	Bio           string  `json:"bio"`
	Image         *string `json:"image"`
	EmailVerified bool    `json:"email_verified"`
}

type UserLoginer interface {
	Login(ctx context.Context, email, password string) (models.User, string, string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	loginer UserLoginer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

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

		user, accessToken, refreshToken, err := loginer.Login(ctx, req.User.Email, req.User.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid credentials"))

				return
			}

			log.Error("failed to login user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("User logged in successfully")

		var bio string
		if user.Bio != nil {
			bio = *user.Bio
		}

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User: UserData{
				Username:      user.Username,
				Email:         user.Email,
				Bio:           bio,
				Image:         user.Image,
				EmailVerified: user.EmailVerified,
			},
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		})
	}
}
