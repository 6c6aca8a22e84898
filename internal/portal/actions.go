package portal

import (
	"context"
	"sync"
	"time"

	"github.com/lapor-warga/portal-backend/internal/authstate"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/navigation"
	"github.com/lapor-warga/portal-backend/pkg/enums"
)

// Snapshot is what a client sees after an operation.
type Snapshot struct {
	ClientID string
	Auth     authstate.State
	Screen   navigation.Screen
}

func snapshotOf(ws *Workspace) Snapshot {
	return Snapshot{
		ClientID: ws.ClientID,
		Auth:     ws.Auth.State(),
		Screen:   ws.Navigation.Screen(),
	}
}

// Snapshot returns the current state, waiting up to wait for a pending
// profile resolution to settle.
func (r *Registry) Snapshot(ctx context.Context, clientID string, wait time.Duration) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if wait > 0 {
		waitSettled(ctx, ws, wait)
	}
	return snapshotOf(ws), nil
}

// SignIn authenticates the client's workspace.
func (r *Registry) SignIn(ctx context.Context, clientID, email, password string) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := ws.Auth.SignIn(ctx, email, password); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ws), nil
}

// SignUp registers a new identity and signs the workspace in as it.
func (r *Registry) SignUp(ctx context.Context, clientID string, input identity.SignUpInput) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := ws.Auth.SignUp(ctx, input); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ws), nil
}

// SignOut ends the workspace session.
func (r *Registry) SignOut(ctx context.Context, clientID string) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := ws.Auth.SignOut(ctx); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ws), nil
}

// RefreshSession rotates the workspace's access token.
func (r *Registry) RefreshSession(ctx context.Context, clientID string) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := ws.Identity.RefreshSession(ctx); err != nil {
		return Snapshot{}, err
	}
	if err := ws.Identity.Flush(ctx); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ws), nil
}

// Navigate forwards a screen intent to the workspace controller.
func (r *Registry) Navigate(ctx context.Context, clientID string, view enums.View, detail navigation.DetailContext) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := ws.Navigation.Navigate(view, detail); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ws), nil
}

// RefreshProfile re-reads the signed-in profile once.
func (r *Registry) RefreshProfile(ctx context.Context, clientID string) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := ws.Auth.RefreshProfile(ctx); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ws), nil
}

// UpdateProfile edits the signed-in profile and, when given, the email.
func (r *Registry) UpdateProfile(ctx context.Context, clientID string, update authstate.ProfileUpdate) (Snapshot, error) {
	ws, err := r.Get(ctx, clientID)
	if err != nil {
		return Snapshot{}, err
	}
	if _, err := ws.Auth.UpdateProfile(ctx, update); err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(ws), nil
}

// waitSettled blocks until the workspace stops loading, wait elapses or ctx ends.
func waitSettled(ctx context.Context, ws *Workspace, wait time.Duration) {
	settled := make(chan struct{})
	var once sync.Once
	unsubscribe := ws.Auth.Subscribe(func(st authstate.State) {
		if !st.Loading {
			once.Do(func() { close(settled) })
		}
	})
	defer unsubscribe()

	if !ws.Auth.State().Loading {
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-settled:
	case <-timer.C:
	case <-ctx.Done():
	}
}
