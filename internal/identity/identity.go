package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/pkg/enums"
)

// Metadata is the data captured at sign-up and returned with every identity.
type Metadata struct {
	FullName   string `json:"full_name,omitempty"`
	NationalID string `json:"nik,omitempty"`
	Address    string `json:"address,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Identity is the provider-issued principal.
type Identity struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Metadata Metadata  `json:"user_metadata"`
}

// Session is the provider's view of who is signed in. A nil *Session means signed out.
type Session struct {
	Identity    Identity  `json:"user"`
	AccessID    string    `json:"-"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IdentityID returns the session's identity id, or uuid.Nil for a nil session.
func (s *Session) IdentityID() uuid.UUID {
	if s == nil {
		return uuid.Nil
	}
	return s.Identity.ID
}

// Event is one provider-originated session transition.
type Event struct {
	Type    enums.SessionEvent
	Session *Session

	barrier chan struct{}
}

// Listener receives session events in the order the provider emitted them.
type Listener func(Event)

// SignUpInput carries the credentials and metadata for a new identity.
type SignUpInput struct {
	Email    string
	Password string
	Metadata Metadata
}

// Provider is the identity surface consumed by the session and auth-state layers.
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	OnSessionChange(listener Listener) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, input SignUpInput) (*Session, error)
	SignOut(ctx context.Context) error
	UpdateEmail(ctx context.Context, email string) error
}
