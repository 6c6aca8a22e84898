package controllers

import (
	"net/http"

	"github.com/lapor-warga/portal-backend/api/middleware"
	"github.com/lapor-warga/portal-backend/api/responses"
	"github.com/lapor-warga/portal-backend/api/validators"
	"github.com/lapor-warga/portal-backend/internal/authstate"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
	"github.com/lapor-warga/portal-backend/pkg/logger"
)

type updateProfileRequest struct {
	Phone     *string `json:"phone" validate:"omitempty,max=32"`
	AvatarURL *string `json:"avatar_url" validate:"omitempty,url,max=1024"`
	Email     *string `json:"email" validate:"omitempty,email,max=254"`
}

// ProfileRefresh re-reads the signed-in identity's profile.
func ProfileRefresh(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		snap, err := svc.RefreshProfile(r.Context(), middleware.ClientIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}

// ProfileUpdate applies a partial profile edit.
func ProfileUpdate(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		var body updateProfileRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Phone == nil && body.AvatarURL == nil && body.Email == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "no fields to update"))
			return
		}

		update := authstate.ProfileUpdate{
			Phone:     body.Phone,
			AvatarURL: body.AvatarURL,
			Email:     body.Email,
		}
		snap, err := svc.UpdateProfile(r.Context(), middleware.ClientIDFromContext(r.Context()), update)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}
