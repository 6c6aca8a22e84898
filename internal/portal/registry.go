package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/lapor-warga/portal-backend/internal/authstate"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/navigation"
	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/internal/session"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/metrics"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
	defaultMaxWorkspaces = 10000
	sweepJob             = "workspace_sweep"
	maxClientIDLength    = 128
)

var (
	// ErrInvalidClientID is returned for blank or oversized client ids.
	ErrInvalidClientID = errors.New("invalid client id")
	// ErrRegistryClosed is returned once Close has been called.
	ErrRegistryClosed = errors.New("workspace registry closed")
)

type clientFactory interface {
	Client(clientID string) (*identity.Client, error)
}

type resolver interface {
	Resolve(ctx context.Context, ident identity.Identity) (*models.Profile, error)
	Refresh(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

type profileWriter interface {
	Update(ctx context.Context, id uuid.UUID, fields profiles.UpdateFields) error
}

// RegistryParams bundles the dependencies required to build a Registry.
type RegistryParams struct {
	Identity        clientFactory
	Reconciler      resolver
	Profiles        profileWriter
	Logger          *logger.Logger
	Metrics         *metrics.PortalMetrics
	StrictRoleGuard bool
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	// MaxWorkspaces caps live workspaces; the least recently used one is
	// closed to make room.
	MaxWorkspaces int
	Now           func() time.Time
}

// Registry owns one Workspace per client id, created on first use and
// evicted after sitting idle.
type Registry struct {
	identity   clientFactory
	reconciler resolver
	profiles   profileWriter
	logg       *logger.Logger
	metrics    *metrics.PortalMetrics
	strict     bool
	idleTTL    time.Duration
	interval   time.Duration
	max        int
	now        func() time.Time
	building   singleflight.Group

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool
}

// NewRegistry validates dependencies and returns an empty registry.
func NewRegistry(params RegistryParams) (*Registry, error) {
	if params.Identity == nil {
		return nil, fmt.Errorf("identity service required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("profile reconciler required")
	}
	if params.Profiles == nil {
		return nil, fmt.Errorf("profile repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	idle := params.IdleTTL
	if idle <= 0 {
		idle = defaultIdleTTL
	}
	interval := params.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	maxWorkspaces := params.MaxWorkspaces
	if maxWorkspaces <= 0 {
		maxWorkspaces = defaultMaxWorkspaces
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		identity:   params.Identity,
		reconciler: params.Reconciler,
		profiles:   params.Profiles,
		logg:       params.Logger,
		metrics:    params.Metrics,
		strict:     params.StrictRoleGuard,
		idleTTL:    idle,
		interval:   interval,
		max:        maxWorkspaces,
		now:        now,
		workspaces: make(map[string]*Workspace),
	}, nil
}

// NewClientID mints an id for a client that did not present one.
func NewClientID() string {
	return uuid.NewString()
}

// Get returns the workspace for clientID, building and initializing it on
// first use. Builds run outside the registry lock; concurrent first requests
// for one client share a single build.
func (r *Registry) Get(ctx context.Context, clientID string) (*Workspace, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" || len(clientID) > maxClientIDLength {
		return nil, ErrInvalidClientID
	}
	if ws, err := r.lookup(clientID); ws != nil || err != nil {
		return ws, err
	}

	v, err, _ := r.building.Do(clientID, func() (any, error) {
		if ws, err := r.lookup(clientID); ws != nil || err != nil {
			return ws, err
		}
		ws, err := r.build(context.WithoutCancel(ctx), clientID)
		if err != nil {
			return nil, err
		}
		if err := r.insert(ctx, ws); err != nil {
			_ = ws.Close(ctx)
			return nil, err
		}
		return ws, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

func (r *Registry) lookup(clientID string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if ws, ok := r.workspaces[clientID]; ok {
		ws.touch(r.now())
		return ws, nil
	}
	return nil, nil
}

// insert registers ws, closing the least recently used workspace when the
// registry is full.
func (r *Registry) insert(ctx context.Context, ws *Workspace) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	var evicted *Workspace
	if len(r.workspaces) >= r.max {
		evicted = r.leastRecentLocked()
		delete(r.workspaces, evicted.ClientID)
	}
	r.workspaces[ws.ClientID] = ws
	r.metrics.SetWorkspaces(len(r.workspaces))
	r.mu.Unlock()

	logCtx := r.logg.WithClientID(ctx, ws.ClientID)
	r.logg.Info(logCtx, "workspace created")
	if evicted != nil {
		r.logg.Warn(r.logg.WithField(logCtx, "evicted_client_id", evicted.ClientID), "workspace limit reached, evicting least recently used")
		if err := evicted.Close(ctx); err != nil {
			r.logg.Error(logCtx, "closing evicted workspace", err)
		}
	}
	return nil
}

func (r *Registry) leastRecentLocked() *Workspace {
	var oldest *Workspace
	var oldestAt time.Time
	for _, ws := range r.workspaces {
		if at := ws.idleSince(); oldest == nil || at.Before(oldestAt) {
			oldest, oldestAt = ws, at
		}
	}
	return oldest
}

func (r *Registry) build(ctx context.Context, clientID string) (*Workspace, error) {
	client, err := r.identity.Client(clientID)
	if err != nil {
		return nil, fmt.Errorf("identity client: %w", err)
	}
	sessions, err := session.NewManager(client, r.logg)
	if err != nil {
		client.Close()
		return nil, err
	}
	store, err := authstate.NewStore(authstate.StoreParams{
		Sessions: sessions,
		Profiles: r.reconciler,
		Actions:  client,
		Writer:   r.profiles,
		Logger:   r.logg,
		Metrics:  r.metrics,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	controller, err := navigation.NewController(navigation.ControllerParams{
		Logger:          r.logg,
		Metrics:         r.metrics,
		StrictRoleGuard: r.strict,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	if err := controller.Attach(store); err != nil {
		client.Close()
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		controller.Detach()
		store.Dispose()
		client.Close()
		return nil, fmt.Errorf("init auth state: %w", err)
	}
	return &Workspace{
		ClientID:   clientID,
		Identity:   client,
		Sessions:   sessions,
		Auth:       store,
		Navigation: controller,
		lastUsed:   r.now(),
	}, nil
}

// Len reports how many workspaces are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Sweep closes every workspace idle for longer than the idle TTL.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Workspace
	for id, ws := range r.workspaces {
		if ws.idleSince().Before(cutoff) {
			idle = append(idle, ws)
			delete(r.workspaces, id)
		}
	}
	r.metrics.SetWorkspaces(len(r.workspaces))
	r.mu.Unlock()

	var errs error
	for _, ws := range idle {
		errs = multierr.Append(errs, ws.Close(ctx))
	}
	return len(idle), errs
}

// Run sweeps on a fixed cadence until the context is canceled.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "workspace sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.runSweep(ctx)
		}
	}
}

func (r *Registry) runSweep(ctx context.Context) {
	jobCtx := r.logg.WithField(ctx, "job", sweepJob)
	evicted, err := r.Sweep(jobCtx)
	if err != nil {
		r.logg.Error(jobCtx, "workspace sweep failed", err)
		r.metrics.IncJob(sweepJob, metrics.JobFailure)
		return
	}
	if evicted > 0 {
		r.logg.Info(r.logg.WithField(jobCtx, "evicted", evicted), "idle workspaces evicted")
	}
	r.metrics.IncJob(sweepJob, metrics.JobSuccess)
}

// Close disposes every workspace; later Get calls fail.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	all := make([]*Workspace, 0, len(r.workspaces))
	for _, ws := range r.workspaces {
		all = append(all, ws)
	}
	r.workspaces = make(map[string]*Workspace)
	r.metrics.SetWorkspaces(0)
	r.mu.Unlock()

	var errs error
	for _, ws := range all {
		errs = multierr.Append(errs, ws.Close(ctx))
	}
	return errs
}
