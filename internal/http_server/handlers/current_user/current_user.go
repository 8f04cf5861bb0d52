package currentUser

import (
	"log/slog"
	"net/http"

	"conduit-auth/internal/http_server/middleware/authn"
	resp "conduit-auth/internal/lib/api/response"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	User UserData `json:"user"`
}

type UserData struct {
	Username      string  `json:"username"`
	Email         string  `json:"email"`
	Bio           string  `json:"bio"`
	Image         *string `json:"image"`
	EmailVerified bool    `json:"email_verified"`
}

func New(log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.currentUser.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			log.Error("no user in request context")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Invalid credentials"))

			return
		}

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
		})
	}
}
