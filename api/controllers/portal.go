package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/lapor-warga/portal-backend/internal/authstate"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/navigation"
	"github.com/lapor-warga/portal-backend/internal/portal"
	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
)

// Portal is the per-client surface the HTTP layer drives.
type Portal interface {
	Snapshot(ctx context.Context, clientID string, wait time.Duration) (portal.Snapshot, error)
	SignIn(ctx context.Context, clientID, email, password string) (portal.Snapshot, error)
	SignUp(ctx context.Context, clientID string, input identity.SignUpInput) (portal.Snapshot, error)
	SignOut(ctx context.Context, clientID string) (portal.Snapshot, error)
	RefreshSession(ctx context.Context, clientID string) (portal.Snapshot, error)
	Navigate(ctx context.Context, clientID string, view enums.View, detail navigation.DetailContext) (portal.Snapshot, error)
	RefreshProfile(ctx context.Context, clientID string) (portal.Snapshot, error)
	UpdateProfile(ctx context.Context, clientID string, update authstate.ProfileUpdate) (portal.Snapshot, error)
}

// ProfileDTO is the public shape of a profile record.
type ProfileDTO struct {
	ID         uuid.UUID  `json:"id"`
	FullName   string     `json:"full_name"`
	NationalID string     `json:"nik"`
	Address    string     `json:"address"`
	Phone      *string    `json:"phone,omitempty"`
	AvatarURL  *string    `json:"avatar_url,omitempty"`
	Role       enums.Role `json:"role"`
}

// SessionDTO describes the signed-in identity without its credentials.
type SessionDTO struct {
	User      identity.Identity `json:"user"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// StateResponse is returned by every portal endpoint.
type StateResponse struct {
	ClientID string            `json:"client_id"`
	Loading  bool              `json:"loading"`
	SignedIn bool              `json:"signed_in"`
	IsAdmin  bool              `json:"is_admin"`
	Degraded bool              `json:"degraded"`
	Session  *SessionDTO       `json:"session,omitempty"`
	Profile  *ProfileDTO       `json:"profile,omitempty"`
	Screen   navigation.Screen `json:"screen"`
	Version  uint64            `json:"version"`
}

func stateResponse(snap portal.Snapshot) StateResponse {
	st := snap.Auth
	resp := StateResponse{
		ClientID: snap.ClientID,
		Loading:  st.Loading,
		SignedIn: st.SignedIn(),
		IsAdmin:  st.IsAdmin(),
		Degraded: st.Degraded(),
		Screen:   snap.Screen,
		Version:  st.Version,
	}
	if st.Session != nil {
		resp.Session = &SessionDTO{User: st.Session.Identity, ExpiresAt: st.Session.ExpiresAt}
	}
	if p := st.Profile; p != nil {
		resp.Profile = &ProfileDTO{
			ID:         p.ID,
			FullName:   p.FullName,
			NationalID: p.NationalID,
			Address:    p.Address,
			Phone:      p.Phone,
			AvatarURL:  p.AvatarURL,
			Role:       p.Role,
		}
	}
	return resp
}

// portalError maps domain sentinels onto coded API errors. Errors that are
// already coded pass through untouched.
func portalError(err error) error {
	if err == nil || pkgerrors.As(err) != nil {
		return err
	}
	switch {
	case errors.Is(err, authstate.ErrNotSignedIn):
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "not signed in")
	case errors.Is(err, navigation.ErrLoading):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "session is still loading")
	case errors.Is(err, navigation.ErrUnknownView):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown view")
	case errors.Is(err, portal.ErrInvalidClientID):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid client id")
	case errors.Is(err, portal.ErrRegistryClosed), errors.Is(err, authstate.ErrDisposed):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "portal unavailable")
	case errors.Is(err, profiles.ErrReconciliationFailed), errors.Is(err, profiles.ErrProfileNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeProfileUnavailable, err, "profile unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "request timed out")
	}
	return err
}
