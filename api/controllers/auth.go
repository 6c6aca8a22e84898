package controllers

import (
	"net/http"

	"github.com/lapor-warga/portal-backend/api/middleware"
	"github.com/lapor-warga/portal-backend/api/responses"
	"github.com/lapor-warga/portal-backend/api/validators"
	"github.com/lapor-warga/portal-backend/internal/authstate"
	"github.com/lapor-warga/portal-backend/internal/identity"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
	"github.com/lapor-warga/portal-backend/pkg/logger"
)

type registerRequest struct {
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required,min=8,max=128"`
	FullName   string `json:"full_name" validate:"required,max=200"`
	NationalID string `json:"nik" validate:"required,nik"`
	Address    string `json:"address" validate:"required,max=500"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type updateEmailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func portalUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	err := pkgerrors.New(pkgerrors.CodeInternal, "portal unavailable")
	responses.WriteError(r.Context(), logg, w, err)
}

// AuthRegister creates an identity and signs the calling client in.
func AuthRegister(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		var body registerRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := identity.SignUpInput{
			Email:    body.Email,
			Password: body.Password,
			Metadata: identity.Metadata{
				FullName:   validators.SanitizeString(body.FullName, 200),
				NationalID: body.NationalID,
				Address:    validators.SanitizeString(body.Address, 500),
				Phone:      body.Phone,
			},
		}
		snap, err := svc.SignUp(r.Context(), middleware.ClientIDFromContext(r.Context()), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, stateResponse(snap))
	}
}

// AuthLogin signs the calling client in with email and password.
func AuthLogin(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		var body loginRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := svc.SignIn(r.Context(), middleware.ClientIDFromContext(r.Context()), body.Email, body.Password)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}

// AuthLogout ends the calling client's session.
func AuthLogout(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		snap, err := svc.SignOut(r.Context(), middleware.ClientIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}

// AuthRefresh rotates the calling client's access token.
func AuthRefresh(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		snap, err := svc.RefreshSession(r.Context(), middleware.ClientIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}

// AuthUpdateEmail changes the signed-in identity's email.
func AuthUpdateEmail(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		var body updateEmailRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := svc.UpdateProfile(r.Context(), middleware.ClientIDFromContext(r.Context()), authstate.ProfileUpdate{Email: &body.Email})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}
