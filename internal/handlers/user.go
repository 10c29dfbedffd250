package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/medpoint/loyalty/internal/apperrors"
	"github.com/medpoint/loyalty/internal/handlers/render"
	"github.com/medpoint/loyalty/internal/handlers/userctx"
	"github.com/medpoint/loyalty/internal/logger"
	"github.com/medpoint/loyalty/internal/service/user"
)

func handleRegisterUser(userService userService, l logger.Logger) http.Handler {
	type request struct {
		Email      string  `json:"email" validate:"required,email"`
		FullName   string  `json:"full_name" validate:"required"`
		Password   string  `json:"password" validate:"required,min=8"`
		ExternalID *string `json:"external_id"`
	}

	type response struct {
		ID       uuid.UUID `json:"id"`
		Email    string    `json:"email"`
		FullName string    `json:"full_name"`
		Role     string    `json:"role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		created, err := userService.CreateUser(r.Context(), user.CreateUserParams{
			Email:      req.Email,
			FullName:   req.FullName,
			Password:   req.Password,
			ExternalID: req.ExternalID,
		})

		switch {
		case err == nil:
			render.JSONWithStatus(w, response{
				ID:       created.ID,
				Email:    created.Email,
				FullName: created.FullName,
				Role:     created.Role,
			}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		default:
			l.Error("Failed to register user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleUserMe() http.Handler {
	type response struct {
		ID       uuid.UUID `json:"id"`
		Email    string    `json:"email"`
		FullName string    `json:"full_name"`
		Role     string    `json:"role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role})
	})
}
