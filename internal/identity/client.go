package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/lapor-warga/portal-backend/pkg/auth/session"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
)

// Client is the Provider for a single client. Mutating calls are serialized
// so the emitted event order matches the order the session binding changed.
type Client struct {
	svc      *Service
	clientID string
	events   *dispatcher

	opMu sync.Mutex
}

var _ Provider = (*Client)(nil)

// ID returns the client id this provider is bound to.
func (c *Client) ID() string {
	return c.clientID
}

// GetSession returns the client's current session; nil means signed out.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	return c.svc.restore(ctx, c.clientID)
}

// OnSessionChange registers a listener for session transitions.
func (c *Client) OnSessionChange(listener Listener) func() {
	return c.events.subscribe(listener)
}

// SignInWithPassword authenticates and replaces any session the client held.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	account, err := c.svc.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.revokeCurrent(ctx); err != nil {
		return nil, err
	}
	sess, err := c.svc.openSession(ctx, c.clientID, account)
	if err != nil {
		return nil, err
	}
	c.events.emit(Event{Type: enums.SessionEventSignedIn, Session: sess})
	return sess, nil
}

// SignUp creates the identity and signs the client in.
func (c *Client) SignUp(ctx context.Context, input SignUpInput) (*Session, error) {
	account, err := c.svc.register(ctx, input)
	if err != nil {
		return nil, err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.revokeCurrent(ctx); err != nil {
		return nil, err
	}
	sess, err := c.svc.openSession(ctx, c.clientID, account)
	if err != nil {
		return nil, err
	}
	c.events.emit(Event{Type: enums.SessionEventSignedIn, Session: sess})
	return sess, nil
}

// SignOut ends the client's session. Signing out without a session still emits signed_out.
func (c *Client) SignOut(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.revokeCurrent(ctx); err != nil {
		return err
	}
	c.events.emit(Event{Type: enums.SessionEventSignedOut})
	return nil
}

// UpdateEmail changes the signed-in identity's email.
func (c *Client) UpdateEmail(ctx context.Context, email string) error {
	normalized, err := c.svc.normalizeEmail(email)
	if err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, err := c.svc.restore(ctx, c.clientID)
	if err != nil {
		return err
	}
	if sess == nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "not signed in")
	}
	if sess.Identity.Email == normalized {
		return nil
	}

	if existing, err := c.svc.accounts.FindByEmail(ctx, normalized); err == nil && existing.ID != sess.Identity.ID {
		return pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
	}
	if err := c.svc.accounts.UpdateEmail(ctx, sess.Identity.ID, normalized); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update email")
	}

	updated, err := c.svc.restore(ctx, c.clientID)
	if err != nil {
		return err
	}
	c.events.emit(Event{Type: enums.SessionEventUserUpdated, Session: updated})
	return nil
}

// RefreshSession rotates the client's session id and issues a fresh access token.
func (c *Client) RefreshSession(ctx context.Context) (*Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, err := c.svc.sessions.RotateBound(ctx, c.clientID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "not signed in")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate session")
	}

	sess, err := c.svc.restore(ctx, c.clientID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "session expired")
	}
	c.events.emit(Event{Type: enums.SessionEventTokenRefreshed, Session: sess})
	return sess, nil
}

// Flush waits until listeners have seen every event emitted so far.
func (c *Client) Flush(ctx context.Context) error {
	return c.events.flush(ctx)
}

// Close stops event delivery after queued events are flushed.
// It must not be called from a session listener.
func (c *Client) Close() {
	c.events.close()
}

func (c *Client) revokeCurrent(ctx context.Context) error {
	accessID, err := c.svc.sessions.Bound(ctx, c.clientID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read session binding")
	}
	if err := c.svc.sessions.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	if err := c.svc.sessions.Unbind(ctx, c.clientID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unbind session")
	}
	return nil
}
