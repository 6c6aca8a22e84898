package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/pkg/logger"
)

// ErrSessionRead marks a failed read of the provider's current session.
var ErrSessionRead = errors.New("session read failed")

type provider interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	OnSessionChange(listener identity.Listener) func()
}

// Manager owns the identity session: one-shot reads and an ordered change feed.
type Manager struct {
	provider provider
	logg     *logger.Logger
}

// NewManager wires the manager to an identity provider.
func NewManager(p provider, logg *logger.Logger) (*Manager, error) {
	if p == nil {
		return nil, fmt.Errorf("identity provider is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Manager{provider: p, logg: logg}, nil
}

// GetCurrentSession reads the provider's session once. Read failures are
// logged and reported as signed out.
func (m *Manager) GetCurrentSession(ctx context.Context) *identity.Session {
	sess, err := m.provider.GetSession(ctx)
	if err != nil {
		m.logg.Error(ctx, "session.read_failed", fmt.Errorf("%w: %w", ErrSessionRead, err))
		return nil
	}
	return sess
}

// Subscribe registers onChange for every provider transition, in provider order.
func (m *Manager) Subscribe(onChange func(*identity.Session)) func() {
	if onChange == nil {
		return func() {}
	}
	return m.provider.OnSessionChange(func(ev identity.Event) {
		if ev.Session != nil {
			m.logg.Debug(m.logg.WithIdentityID(context.Background(), ev.Session.IdentityID().String()), "session."+ev.Type.String())
		} else {
			m.logg.Debug(context.Background(), "session."+ev.Type.String())
		}
		onChange(ev.Session)
	})
}
