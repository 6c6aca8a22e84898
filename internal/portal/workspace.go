package portal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lapor-warga/portal-backend/internal/authstate"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/navigation"
	"github.com/lapor-warga/portal-backend/internal/session"
)

// Workspace is everything one client needs: its identity provider binding,
// the session manager over it, the auth state store and the navigation
// controller following that store.
type Workspace struct {
	ClientID   string
	Identity   *identity.Client
	Sessions   *session.Manager
	Auth       *authstate.Store
	Navigation *navigation.Controller

	mu       sync.Mutex
	lastUsed time.Time
	closed   bool
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastUsed = now
	w.mu.Unlock()
}

func (w *Workspace) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

// Screen is a convenience for the current effective view.
func (w *Workspace) Screen() navigation.Screen {
	return w.Navigation.Screen()
}

// Close waits for queued session events, then tears the workspace down in
// reverse construction order.
func (w *Workspace) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	var flushErr error
	if err := w.Identity.Flush(ctx); err != nil {
		flushErr = fmt.Errorf("flush client %s: %w", w.ClientID, err)
	}
	w.Navigation.Detach()
	w.Auth.Dispose()
	w.Identity.Close()
	return flushErr
}
