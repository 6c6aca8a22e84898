package controllers

import (
	"net/http"
	"time"

	"github.com/lapor-warga/portal-backend/api/middleware"
	"github.com/lapor-warga/portal-backend/api/responses"
	"github.com/lapor-warga/portal-backend/api/validators"
	"github.com/lapor-warga/portal-backend/internal/navigation"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	"github.com/lapor-warga/portal-backend/pkg/logger"
)

const maxStateWait = 10 * time.Second

type navigateRequest struct {
	View        string `json:"view" validate:"required,max=64"`
	ComplaintID string `json:"complaint_id" validate:"omitempty,max=128"`
}

// PortalState returns the client's auth snapshot and effective screen.
// ?wait=2s holds the response until a pending profile resolution settles.
func PortalState(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		wait, err := validators.ParseQueryDuration(r, "wait", 0, maxStateWait)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		snap, err := svc.Snapshot(r.Context(), middleware.ClientIDFromContext(r.Context()), wait)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}

// PortalNavigate records a screen intent for the client.
func PortalNavigate(svc Portal, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			portalUnavailable(w, r, logg)
			return
		}

		var body navigateRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		detail := navigation.DetailContext{ComplaintID: validators.SanitizeString(body.ComplaintID, 128)}
		snap, err := svc.Navigate(r.Context(), middleware.ClientIDFromContext(r.Context()), enums.View(body.View), detail)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, portalError(err))
			return
		}
		responses.WriteSuccess(w, stateResponse(snap))
	}
}
