package register

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
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
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

type UserRegistrar interface {
	Register(ctx context.Context, username, email, password string) (models.User, string, string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	registrar UserRegistrar,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		user, accessToken, refreshToken, err := registrar.Register(ctx, req.User.Username, req.User.Email, req.User.Password)
		if err != nil {
			if errors.Is(err, auth.ErrUserExists) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, resp.Error("username or email already taken"))

				return
			}

			log.Error("failed to register user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("User registered", slog.String("uid", user.ID.String()))

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, Response{
			Response:     resp.OK(),
			User:         userData(user),
			AccessToken:  accessToken,
			RefreshToken: refreshToken,
		})
	}
}

func userData(user models.User) UserData {
	var bio string
	if user.Bio != nil {
		bio = *user.Bio
	}

	return UserData{
		Username:      user.Username,
		Email:         user.Email,
		Bio:           bio,
		Image:         user.Image,
		EmailVerified: user.EmailVerified,
	}
}
