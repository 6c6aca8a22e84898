package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/metrics"
)

const (
	DefaultRetryBudget = 3
	DefaultBackoff     = time.Second
)

var (
	// ErrProfileRead is a store read failure other than not-found.
	ErrProfileRead = errors.New("profile read failed")
	// ErrProfileCreate is a fallback insert failure other than a duplicate id.
	ErrProfileCreate = errors.New("profile create failed")
	// ErrReconciliationFailed is the terminal outcome of Resolve.
	ErrReconciliationFailed = errors.New("profile reconciliation failed")
)

type store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	Insert(ctx context.Context, profile *models.Profile) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// ReconcilerParams bundles the dependencies required to build a Reconciler.
type ReconcilerParams struct {
	Store         store
	Logger        *logger.Logger
	Metrics       *metrics.PortalMetrics
	RetryBudget   int
	Backoff       time.Duration
	AvatarBaseURL string
	Sleep         SleepFunc
	Now           func() time.Time
}

// Reconciler produces a Profile for an identity, covering the window where
// the identity exists before provisioning has written its profile row.
type Reconciler struct {
	store      store
	logg       *logger.Logger
	metrics    *metrics.PortalMetrics
	budget     int
	backoff    time.Duration
	avatarBase string
	sleep      SleepFunc
	now        func() time.Time
}

// NewReconciler constructs a Reconciler; zero values fall back to the defaults.
func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	budget := params.RetryBudget
	if budget < 0 {
		return nil, fmt.Errorf("retry budget must not be negative")
	}
	if budget == 0 {
		budget = DefaultRetryBudget
	}
	backoff := params.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	avatarBase := params.AvatarBaseURL
	if avatarBase == "" {
		avatarBase = DefaultAvatarBaseURL
	}
	sleep := params.Sleep
	if sleep == nil {
		sleep = contextSleep
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		store:      params.Store,
		logg:       params.Logger,
		metrics:    params.Metrics,
		budget:     budget,
		backoff:    backoff,
		avatarBase: avatarBase,
		sleep:      sleep,
		now:        now,
	}, nil
}

// Resolve returns the identity's profile. A missing row is re-read up to the
// retry budget with a fixed backoff, then synthesized from the identity
// metadata and inserted. Any other read error fails immediately.
func (r *Reconciler) Resolve(ctx context.Context, ident identity.Identity) (*models.Profile, error) {
	started := time.Now()
	ctx = r.logg.WithIdentityID(ctx, ident.ID.String())

	for attempt := 0; ; attempt++ {
		profile, err := r.read(ctx, ident.ID)
		if err == nil {
			r.metrics.ObserveReconcile(metrics.OutcomeFound, time.Since(started))
			return profile, nil
		}
		if !errors.Is(err, ErrProfileNotFound) {
			return nil, r.fail(ctx, started, err, "profile.read_failed")
		}
		if attempt >= r.budget {
			break
		}
		r.logg.Debug(r.logg.WithField(ctx, "attempt", attempt+1), "profile.not_provisioned_yet")
		if err := r.sleep(ctx, r.backoff); err != nil {
			return nil, r.fail(ctx, started, err, "profile.retry_interrupted")
		}
	}

	synthesized := Synthesize(ident, r.avatarBase, r.now())
	insertErr := r.store.Insert(ctx, synthesized)
	if insertErr == nil {
		r.logg.Info(ctx, "profile.synthesized")
		r.metrics.ObserveReconcile(metrics.OutcomeSynthesized, time.Since(started))
		return synthesized, nil
	}

	if errors.Is(insertErr, ErrProfileExists) {
		r.logg.Info(ctx, "profile.create_conflict")
	} else {
		r.logg.Error(ctx, "profile.create_failed", fmt.Errorf("%w: %w", ErrProfileCreate, insertErr))
	}

	// one re-read picks up a row written concurrently by provisioning
	profile, err := r.read(ctx, ident.ID)
	if err != nil {
		if errors.Is(insertErr, ErrProfileExists) {
			return nil, r.fail(ctx, started, err, "profile.reread_failed")
		}
		return nil, r.fail(ctx, started, fmt.Errorf("%w: %w", ErrProfileCreate, insertErr), "profile.reread_failed")
	}
	r.metrics.ObserveReconcile(metrics.OutcomeConflictReread, time.Since(started))
	return profile, nil
}

// Refresh performs a single read with no retry and no fallback creation.
func (r *Reconciler) Refresh(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return r.read(ctx, id)
}

func (r *Reconciler) read(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	r.metrics.IncFetchAttempt()
	profile, err := r.store.GetByID(ctx, id)
	if err == nil {
		return profile, nil
	}
	if errors.Is(err, ErrProfileNotFound) {
		return nil, ErrProfileNotFound
	}
	return nil, fmt.Errorf("%w: %w", ErrProfileRead, err)
}

func (r *Reconciler) fail(ctx context.Context, started time.Time, cause error, msg string) error {
	err := fmt.Errorf("%w: %w", ErrReconciliationFailed, cause)
	r.logg.Error(ctx, msg, err)
	r.metrics.ObserveReconcile(metrics.OutcomeFailed, time.Since(started))
	return err
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
