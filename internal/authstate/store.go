package authstate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/metrics"
)

var (
	// ErrNotSignedIn is returned by operations that need a current session.
	ErrNotSignedIn = errors.New("no active session")
	// ErrAlreadyStarted is returned when Init is called twice.
	ErrAlreadyStarted = errors.New("auth state already initialized")
	// ErrDisposed is returned by operations after Dispose.
	ErrDisposed = errors.New("auth state disposed")
)

// State is a snapshot of who is signed in and what their profile looks like.
type State struct {
	Session *identity.Session
	Profile *models.Profile
	Loading bool
	Version uint64
}

// SignedIn reports whether a session is present.
func (s State) SignedIn() bool {
	return s.Session != nil
}

// IsAdmin reports whether the resolved profile carries the admin role.
func (s State) IsAdmin() bool {
	return s.Profile != nil && s.Profile.Role == enums.RoleAdmin
}

// Degraded is true when a session exists but profile resolution gave up.
func (s State) Degraded() bool {
	return !s.Loading && s.Session != nil && s.Profile == nil
}

// Listener receives published snapshots in increasing Version order. A
// listener must not call back into Store operations that publish.
type Listener func(State)

type sessionSource interface {
	GetCurrentSession(ctx context.Context) *identity.Session
	Subscribe(onChange func(*identity.Session)) func()
}

type resolver interface {
	Resolve(ctx context.Context, ident identity.Identity) (*models.Profile, error)
	Refresh(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

type authActions interface {
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignUp(ctx context.Context, input identity.SignUpInput) (*identity.Session, error)
	SignOut(ctx context.Context) error
	UpdateEmail(ctx context.Context, email string) error
}

type profileWriter interface {
	Update(ctx context.Context, id uuid.UUID, fields profiles.UpdateFields) error
}

// flusher is implemented by providers that can wait for queued events.
type flusher interface {
	Flush(ctx context.Context) error
}

// StoreParams bundles the dependencies required to build a Store.
type StoreParams struct {
	Sessions sessionSource
	Profiles resolver
	Actions  authActions
	Writer   profileWriter
	Logger   *logger.Logger
	Metrics  *metrics.PortalMetrics
}

// Store is the single writer of AuthState. Session changes arrive from the
// session manager in provider order; each one starts its own profile
// resolution and results apply latest-wins.
type Store struct {
	sessions sessionSource
	profiles resolver
	actions  authActions
	writer   profileWriter
	logg     *logger.Logger
	metrics  *metrics.PortalMetrics

	mu          sync.Mutex
	state       State
	started     bool
	disposed    bool
	sawEvent    bool
	generation  uint64
	applied     uint64
	unsubscribe func()
	listeners   map[int]Listener
	nextID      int

	deliverMu sync.Mutex
	delivered uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore validates dependencies and returns a Store in the loading state.
func NewStore(params StoreParams) (*Store, error) {
	if params.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profile reconciler is required")
	}
	if params.Actions == nil {
		return nil, fmt.Errorf("identity actions are required")
	}
	if params.Writer == nil {
		return nil, fmt.Errorf("profile writer is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		sessions:  params.Sessions,
		profiles:  params.Profiles,
		actions:   params.Actions,
		writer:    params.Writer,
		logg:      params.Logger,
		metrics:   params.Metrics,
		state:     State{Loading: true},
		listeners: make(map[int]Listener),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Init subscribes to session changes and then applies the current session.
// A change that arrives before the initial read completes wins over it.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	unsubscribe := s.sessions.Subscribe(s.onSessionChange)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		unsubscribe()
		return ErrDisposed
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	current := s.sessions.GetCurrentSession(ctx)

	s.mu.Lock()
	if s.disposed || s.sawEvent {
		s.mu.Unlock()
		return nil
	}
	snapshot := s.applySessionLocked(current)
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// Dispose unsubscribes, abandons pending resolutions and drops listeners.
func (s *Store) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.listeners = make(map[int]Listener)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}

// State returns the latest snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers listener for future snapshots.
func (s *Store) Subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignIn authenticates with the provider and waits until the resulting
// session change has been applied.
func (s *Store) SignIn(ctx context.Context, email, password string) (State, error) {
	if err := s.usable(); err != nil {
		return State{}, err
	}
	if _, err := s.actions.SignInWithPassword(ctx, email, password); err != nil {
		return State{}, err
	}
	return s.settle(ctx)
}

// SignUp registers a new identity; the provider signs it in.
func (s *Store) SignUp(ctx context.Context, input identity.SignUpInput) (State, error) {
	if err := s.usable(); err != nil {
		return State{}, err
	}
	if _, err := s.actions.SignUp(ctx, input); err != nil {
		return State{}, err
	}
	return s.settle(ctx)
}

// SignOut ends the provider session. Any in-flight resolution for the old
// identity keeps running and is discarded when it completes.
func (s *Store) SignOut(ctx context.Context) (State, error) {
	if err := s.usable(); err != nil {
		return State{}, err
	}
	if err := s.actions.SignOut(ctx); err != nil {
		return State{}, err
	}
	return s.settle(ctx)
}

// RefreshProfile re-reads the current identity's profile once.
func (s *Store) RefreshProfile(ctx context.Context) (State, error) {
	current := s.State()
	if current.Session == nil {
		return current, ErrNotSignedIn
	}
	id := current.Session.IdentityID()

	profile, err := s.profiles.Refresh(ctx, id)
	if err != nil {
		s.logg.Warn(s.logg.WithIdentityID(ctx, id.String()), "authstate.refresh_failed: "+err.Error())
		return s.State(), err
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return State{}, ErrDisposed
	}
	if s.state.Session.IdentityID() != id {
		s.mu.Unlock()
		s.metrics.IncStaleDiscard()
		return s.State(), nil
	}
	// resolutions already in flight read before this refresh
	s.generation++
	s.applied = s.generation
	s.state.Profile = profile
	s.state.Loading = false
	snapshot := s.publishLocked()
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// ProfileUpdate carries the editable profile fields plus an optional new email.
type ProfileUpdate struct {
	Phone     *string
	AvatarURL *string
	Email     *string
}

// UpdateProfile writes contact fields, changes the identity email when it
// differs and finally refreshes the profile.
func (s *Store) UpdateProfile(ctx context.Context, update ProfileUpdate) (State, error) {
	current := s.State()
	if current.Session == nil {
		return current, ErrNotSignedIn
	}
	id := current.Session.IdentityID()

	fields := profiles.UpdateFields{Phone: update.Phone, AvatarURL: update.AvatarURL}
	if !fields.IsEmpty() {
		if err := s.writer.Update(ctx, id, fields); err != nil {
			return current, err
		}
	}

	if update.Email != nil {
		email := strings.TrimSpace(*update.Email)
		if email != "" && !strings.EqualFold(email, current.Session.Identity.Email) {
			if err := s.actions.UpdateEmail(ctx, email); err != nil {
				return current, err
			}
			if _, err := s.settle(ctx); err != nil {
				return current, err
			}
		}
	}

	return s.RefreshProfile(ctx)
}

func (s *Store) usable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return ErrDisposed
	}
	return nil
}

// settle waits for queued provider events when the provider supports it.
func (s *Store) settle(ctx context.Context) (State, error) {
	if f, ok := s.actions.(flusher); ok {
		if err := f.Flush(ctx); err != nil {
			return s.State(), err
		}
	}
	return s.State(), nil
}

func (s *Store) onSessionChange(sess *identity.Session) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.sawEvent = true
	snapshot := s.applySessionLocked(sess)
	s.mu.Unlock()

	s.notify(snapshot)
}

// applySessionLocked must be called with s.mu held.
func (s *Store) applySessionLocked(sess *identity.Session) State {
	s.generation++
	gen := s.generation
	previous := s.state.Session.IdentityID()
	s.state.Session = sess

	switch {
	case sess == nil:
		s.state.Profile = nil
		s.state.Loading = false
	case sess.IdentityID() != previous:
		s.state.Profile = nil
		s.state.Loading = true
		s.startResolve(gen, sess.Identity)
	case s.state.Profile == nil && !s.state.Loading:
		// same identity after a failed resolution; try again in the background
		s.startResolve(gen, sess.Identity)
	}
	return s.publishLocked()
}

func (s *Store) startResolve(gen uint64, ident identity.Identity) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.resolve(gen, ident)
	}()
}

func (s *Store) resolve(gen uint64, ident identity.Identity) {
	ctx := s.logg.WithIdentityID(s.ctx, ident.ID.String())
	profile, err := s.profiles.Resolve(ctx, ident)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logg.Error(ctx, "authstate.resolve_failed", err)
		profile = nil
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if s.state.Session.IdentityID() != ident.ID || gen < s.applied {
		s.mu.Unlock()
		s.metrics.IncStaleDiscard()
		s.logg.Debug(ctx, "authstate.stale_result_discarded")
		return
	}
	s.applied = gen
	s.state.Profile = profile
	s.state.Loading = false
	snapshot := s.publishLocked()
	s.mu.Unlock()

	s.notify(snapshot)
}

func (s *Store) publishLocked() State {
	s.state.Version++
	return s.state
}

// notify delivers snapshot unless a newer one already went out.
func (s *Store) notify(snapshot State) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if snapshot.Version <= s.delivered {
		return
	}
	s.delivered = snapshot.Version

	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}
