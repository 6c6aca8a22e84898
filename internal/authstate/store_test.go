package authstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu       sync.Mutex
	current  *identity.Session
	onChange func(*identity.Session)
	// beforeRead runs inside GetCurrentSession, after Subscribe.
	beforeRead func()
}

func (f *fakeSessions) GetCurrentSession(context.Context) *identity.Session {
	if f.beforeRead != nil {
		f.beforeRead()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSessions) Subscribe(onChange func(*identity.Session)) func() {
	f.mu.Lock()
	f.onChange = onChange
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.onChange = nil
		f.mu.Unlock()
	}
}

func (f *fakeSessions) emit(sess *identity.Session) {
	f.mu.Lock()
	cb := f.onChange
	f.mu.Unlock()
	if cb != nil {
		cb(sess)
	}
}

// gatedResolver blocks Resolve for an identity until its gate is closed.
type gatedResolver struct {
	mu       sync.Mutex
	gates    map[uuid.UUID]chan struct{}
	results  map[uuid.UUID][]*models.Profile
	failures map[uuid.UUID]error
	calls    map[uuid.UUID]int
	refresh  map[uuid.UUID]*models.Profile
}

func newGatedResolver() *gatedResolver {
	return &gatedResolver{
		gates:    map[uuid.UUID]chan struct{}{},
		results:  map[uuid.UUID][]*models.Profile{},
		failures: map[uuid.UUID]error{},
		calls:    map[uuid.UUID]int{},
		refresh:  map[uuid.UUID]*models.Profile{},
	}
}

func (r *gatedResolver) gate(id uuid.UUID) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[id] = ch
	return ch
}

func (r *gatedResolver) callCount(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *gatedResolver) Resolve(ctx context.Context, ident identity.Identity) (*models.Profile, error) {
	r.mu.Lock()
	gate := r.gates[ident.ID]
	delete(r.gates, ident.ID)
	call := r.calls[ident.ID]
	r.calls[ident.ID]++
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failures[ident.ID]; err != nil {
		return nil, err
	}
	queue := r.results[ident.ID]
	if len(queue) == 0 {
		return &models.Profile{ID: ident.ID, FullName: ident.Email, Role: enums.RoleUser}, nil
	}
	idx := call
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	return queue[idx], nil
}

func (r *gatedResolver) Refresh(_ context.Context, id uuid.UUID) (*models.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.refresh[id]; ok {
		return p, nil
	}
	return nil, profiles.ErrProfileNotFound
}

type fakeActions struct {
	mu           sync.Mutex
	emailUpdates []string
	signOuts     int
	err          error
}

func (f *fakeActions) SignInWithPassword(context.Context, string, string) (*identity.Session, error) {
	return nil, f.err
}

func (f *fakeActions) SignUp(context.Context, identity.SignUpInput) (*identity.Session, error) {
	return nil, f.err
}

func (f *fakeActions) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	return f.err
}

func (f *fakeActions) UpdateEmail(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailUpdates = append(f.emailUpdates, email)
	return f.err
}

type fakeWriter struct {
	mu      sync.Mutex
	updates []profiles.UpdateFields
}

func (f *fakeWriter) Update(_ context.Context, _ uuid.UUID, fields profiles.UpdateFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, fields)
	return nil
}

type harness struct {
	store    *Store
	sessions *fakeSessions
	resolver *gatedResolver
	actions  *fakeActions
	writer   *fakeWriter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sessions: &fakeSessions{},
		resolver: newGatedResolver(),
		actions:  &fakeActions{},
		writer:   &fakeWriter{},
	}
	store, err := NewStore(StoreParams{
		Sessions: h.sessions,
		Profiles: h.resolver,
		Actions:  h.actions,
		Writer:   h.writer,
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	h.store = store
	t.Cleanup(store.Dispose)
	return h
}

func sessionFor(email string) *identity.Session {
	return &identity.Session{
		Identity:  identity.Identity{ID: uuid.New(), Email: email},
		AccessID:  uuid.NewString(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestInitWithoutSessionStopsLoading(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.store.State().Loading)

	require.NoError(t, h.store.Init(context.Background()))

	state := h.store.State()
	assert.False(t, state.Loading)
	assert.Nil(t, state.Session)
	assert.False(t, state.Degraded())
	assert.ErrorIs(t, h.store.Init(context.Background()), ErrAlreadyStarted)
}

func TestInitResolvesExistingSession(t *testing.T) {
	h := newHarness(t)
	sess := sessionFor("a@example.com")
	h.sessions.current = sess

	require.NoError(t, h.store.Init(context.Background()))
	eventually(t, func() bool { return !h.store.State().Loading })

	state := h.store.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, sess.Identity.ID, state.Profile.ID)
	assert.False(t, state.IsAdmin())
}

func TestEventBeforeInitialReadWins(t *testing.T) {
	h := newHarness(t)
	stale := sessionFor("stale@example.com")
	fresh := sessionFor("fresh@example.com")
	h.sessions.current = stale
	h.sessions.beforeRead = func() { h.sessions.emit(fresh) }

	require.NoError(t, h.store.Init(context.Background()))
	eventually(t, func() bool { return !h.store.State().Loading })

	state := h.store.State()
	assert.Equal(t, fresh.Identity.ID, state.Session.IdentityID())
	assert.Equal(t, fresh.Identity.ID, state.Profile.ID)
}

func TestLatestSessionWinsOverSlowerResolution(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Init(context.Background()))

	a := sessionFor("a@example.com")
	b := sessionFor("b@example.com")
	gateA := h.resolver.gate(a.Identity.ID)

	h.sessions.emit(a)
	assert.True(t, h.store.State().Loading)
	h.sessions.emit(b)

	eventually(t, func() bool {
		st := h.store.State()
		return st.Profile != nil && st.Profile.ID == b.Identity.ID
	})

	close(gateA)
	h.store.wg.Wait()

	state := h.store.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, b.Identity.ID, state.Profile.ID)
	assert.Equal(t, b.Identity.ID, state.Session.IdentityID())
	assert.False(t, state.Loading)
}

func TestOlderResolutionForSameIdentityIsDiscarded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Init(context.Background()))

	a := sessionFor("a@example.com")
	old := &models.Profile{ID: a.Identity.ID, FullName: "old", Role: enums.RoleUser}
	fresh := &models.Profile{ID: a.Identity.ID, FullName: "fresh", Role: enums.RoleAdmin}
	h.resolver.results[a.Identity.ID] = []*models.Profile{old, fresh}
	gate := h.resolver.gate(a.Identity.ID)

	h.sessions.emit(a)
	eventually(t, func() bool { return h.resolver.callCount(a.Identity.ID) == 1 })
	h.sessions.emit(nil)
	h.sessions.emit(a)

	eventually(t, func() bool {
		st := h.store.State()
		return st.Profile != nil && st.Profile.FullName == "fresh"
	})
	close(gate)
	h.store.wg.Wait()

	state := h.store.State()
	assert.Equal(t, "fresh", state.Profile.FullName)
	assert.True(t, state.IsAdmin())
}

func TestRefreshSupersedesInFlightResolution(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Init(context.Background()))

	a := sessionFor("a@example.com")
	old := &models.Profile{ID: a.Identity.ID, FullName: "old", Role: enums.RoleUser}
	fresh := &models.Profile{ID: a.Identity.ID, FullName: "fresh", Role: enums.RoleUser}
	h.resolver.results[a.Identity.ID] = []*models.Profile{old}
	h.resolver.refresh[a.Identity.ID] = fresh
	gate := h.resolver.gate(a.Identity.ID)

	h.sessions.emit(a)
	eventually(t, func() bool { return h.resolver.callCount(a.Identity.ID) == 1 })

	state, err := h.store.RefreshProfile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", state.Profile.FullName)

	close(gate)
	h.store.wg.Wait()

	state = h.store.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, "fresh", state.Profile.FullName)
	assert.False(t, state.Loading)
}

func TestSignOutClearsProfileWhileResolutionPending(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Init(context.Background()))

	a := sessionFor("a@example.com")
	gate := h.resolver.gate(a.Identity.ID)
	h.sessions.emit(a)
	h.sessions.emit(nil)

	state := h.store.State()
	assert.False(t, state.Loading)
	assert.Nil(t, state.Session)
	assert.Nil(t, state.Profile)

	close(gate)
	h.store.wg.Wait()
	assert.Nil(t, h.store.State().Profile)
}

func TestTerminalFailureIsDegraded(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Init(context.Background()))

	a := sessionFor("a@example.com")
	h.resolver.failures[a.Identity.ID] = profiles.ErrReconciliationFailed
	h.sessions.emit(a)
	h.store.wg.Wait()

	state := h.store.State()
	assert.False(t, state.Loading)
	assert.Nil(t, state.Profile)
	assert.True(t, state.Degraded())

	// a later event for the same identity retries resolution
	delete(h.resolver.failures, a.Identity.ID)
	h.sessions.emit(a)
	h.store.wg.Wait()
	assert.NotNil(t, h.store.State().Profile)
	assert.False(t, h.store.State().Degraded())
}

func TestListenersSeeIncreasingVersions(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var versions []uint64
	unsubscribe := h.store.Subscribe(func(st State) {
		mu.Lock()
		versions = append(versions, st.Version)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, h.store.Init(context.Background()))
	for i := 0; i < 5; i++ {
		h.sessions.emit(sessionFor("user@example.com"))
	}
	h.sessions.emit(nil)
	h.store.wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, versions)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
	assert.Equal(t, h.store.State().Version, versions[len(versions)-1])
}

func TestRefreshProfileRequiresSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Init(context.Background()))

	_, err := h.store.RefreshProfile(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestUpdateProfileWritesFieldsAndEmail(t *testing.T) {
	h := newHarness(t)
	a := sessionFor("a@example.com")
	h.sessions.current = a
	require.NoError(t, h.store.Init(context.Background()))
	h.store.wg.Wait()

	phone := "08123"
	email := "new@example.com"
	updated := &models.Profile{ID: a.Identity.ID, FullName: "A", Phone: &phone, Role: enums.RoleUser}
	h.resolver.refresh[a.Identity.ID] = updated

	state, err := h.store.UpdateProfile(context.Background(), ProfileUpdate{Phone: &phone, Email: &email})
	require.NoError(t, err)

	require.Len(t, h.writer.updates, 1)
	assert.Equal(t, &phone, h.writer.updates[0].Phone)
	assert.Equal(t, []string{email}, h.actions.emailUpdates)
	require.NotNil(t, state.Profile)
	assert.Equal(t, "08123", *state.Profile.Phone)
}

func TestUpdateProfileSkipsUnchangedEmail(t *testing.T) {
	h := newHarness(t)
	a := sessionFor("a@example.com")
	h.sessions.current = a
	require.NoError(t, h.store.Init(context.Background()))
	h.store.wg.Wait()
	h.resolver.refresh[a.Identity.ID] = &models.Profile{ID: a.Identity.ID, Role: enums.RoleUser}

	same := "A@Example.com"
	_, err := h.store.UpdateProfile(context.Background(), ProfileUpdate{Email: &same})
	require.NoError(t, err)
	assert.Empty(t, h.actions.emailUpdates)
	assert.Empty(t, h.writer.updates)
}

func TestActionsFailAfterDispose(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Init(context.Background()))
	h.store.Dispose()

	_, err := h.store.SignOut(context.Background())
	assert.True(t, errors.Is(err, ErrDisposed))
	assert.Zero(t, h.actions.signOuts)
}
