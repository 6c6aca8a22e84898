package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lapor-warga/portal-backend/internal/authstate"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/metrics"
)

var (
	// ErrLoading is returned for intents issued while auth state is loading.
	ErrLoading = errors.New("navigation unavailable while loading")
	// ErrUnknownView is returned for intents naming a view that does not exist.
	ErrUnknownView = errors.New("unknown view")
	// ErrAlreadyAttached is returned when Attach is called twice without Detach.
	ErrAlreadyAttached = errors.New("navigation controller already attached")
)

// DefaultView is the landing screen for a signed-in user of the given role.
func DefaultView(role enums.Role) enums.View {
	if role == enums.RoleAdmin {
		return enums.ViewAdminDashboard
	}
	return enums.ViewDashboard
}

// DetailContext identifies the record a detail view renders.
type DetailContext struct {
	ComplaintID string `json:"complaint_id,omitempty"`
}

// IsZero reports whether the context carries nothing to render.
func (d DetailContext) IsZero() bool {
	return strings.TrimSpace(d.ComplaintID) == ""
}

// Screen is the effective view plus what a renderer needs alongside it.
type Screen struct {
	View     enums.View     `json:"view"`
	Variant  string         `json:"variant,omitempty"`
	Current  enums.View     `json:"current"`
	Detail   *DetailContext `json:"detail,omitempty"`
	Role     enums.Role     `json:"role,omitempty"`
	SignedIn bool           `json:"signed_in"`
	Degraded bool           `json:"degraded"`
	Version  uint64         `json:"version"`
}

type authSource interface {
	State() authstate.State
	Subscribe(listener authstate.Listener) func()
}

// ControllerParams bundles the dependencies required to build a Controller.
type ControllerParams struct {
	Logger          *logger.Logger
	Metrics         *metrics.PortalMetrics
	StrictRoleGuard bool
}

// Controller is the single writer of navigation state. It follows auth
// snapshots and screen intents and decides the effective view.
type Controller struct {
	logg    *logger.Logger
	metrics *metrics.PortalMetrics
	strict  bool

	mu          sync.Mutex
	auth        authstate.State
	current     enums.View
	pending     *DetailContext
	unsubscribe func()
}

// NewController returns a controller that shows the loading view until the
// first settled auth snapshot arrives.
func NewController(params ControllerParams) (*Controller, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Controller{
		logg:    params.Logger,
		metrics: params.Metrics,
		strict:  params.StrictRoleGuard,
		auth:    authstate.State{Loading: true},
		current: enums.ViewLanding,
	}, nil
}

// Attach starts following src.
func (c *Controller) Attach(src authSource) error {
	if src == nil {
		return fmt.Errorf("auth source is required")
	}
	c.mu.Lock()
	if c.unsubscribe != nil {
		c.mu.Unlock()
		return ErrAlreadyAttached
	}
	c.unsubscribe = func() {}
	c.mu.Unlock()

	unsubscribe := src.Subscribe(c.Apply)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.Apply(src.State())
	return nil
}

// Detach stops following the auth source. Navigation state is kept.
func (c *Controller) Detach() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Apply folds an auth snapshot into navigation state. Snapshots older than
// the last applied one are ignored.
func (c *Controller) Apply(st authstate.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st.Version != 0 && st.Version <= c.auth.Version {
		return
	}
	previous := c.auth
	c.auth = st
	if previous.Session.IdentityID() != st.Session.IdentityID() {
		c.pending = nil
	}
	if st.Loading {
		return
	}

	if st.Session == nil {
		if !c.current.IsPublic() {
			c.redirectLocked(enums.ViewLanding, "signed_out")
		}
		return
	}

	if c.current.IsPublic() {
		c.redirectLocked(DefaultView(roleOf(st)), "signed_in")
	}
}

func (c *Controller) redirectLocked(to enums.View, reason string) {
	from := c.current
	c.current = to
	c.metrics.IncRedirect(from.String(), to.String())
	c.logg.Debug(c.logg.WithFields(context.Background(), map[string]any{
		"from":   from.String(),
		"to":     to.String(),
		"reason": reason,
	}), "navigation.redirect")
}

// Navigate records an intent. Intents issued while loading are dropped.
func (c *Controller) Navigate(target enums.View, detail DetailContext) (Screen, error) {
	if !target.IsValid() || target == enums.ViewLoading {
		return c.Screen(), fmt.Errorf("%w: %q", ErrUnknownView, target)
	}

	c.mu.Lock()
	if c.auth.Loading {
		screen := c.screenLocked()
		c.mu.Unlock()
		return screen, ErrLoading
	}
	c.current = target
	if !detail.IsZero() {
		ctx := detail
		c.pending = &ctx
	}
	screen := c.screenLocked()
	c.mu.Unlock()

	if screen.View != target {
		c.metrics.IncRedirect(target.String(), screen.View.String())
	}
	return screen, nil
}

// Screen resolves the effective view for the current state.
func (c *Controller) Screen() Screen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screenLocked()
}

func (c *Controller) screenLocked() Screen {
	st := c.auth
	screen := Screen{
		Current:  c.current,
		SignedIn: st.Session != nil,
		Version:  st.Version,
	}

	if st.Loading {
		screen.View = enums.ViewLoading
		return screen
	}

	if st.Session == nil {
		screen.View = c.current
		if !c.current.IsPublic() {
			screen.View = enums.ViewLanding
		}
		return screen
	}

	role := roleOf(st)
	screen.Role = role
	screen.Degraded = st.Degraded()
	screen.View = c.effectiveLocked(role)

	if screen.View.IsDetail() && c.pending != nil {
		detail := *c.pending
		screen.Detail = &detail
	}
	if screen.View == enums.ViewProfile {
		screen.Variant = ProfileVariant(role)
	}
	return screen
}

func (c *Controller) effectiveLocked(role enums.Role) enums.View {
	view := c.current
	fallback := DefaultView(role)

	if view.IsPublic() || view == enums.ViewLoading {
		return fallback
	}
	if c.strict && crossesRole(view, role) {
		return fallback
	}
	if view.IsDetail() && (c.pending == nil || c.pending.IsZero()) {
		return fallback
	}
	return view
}

// ProfileVariant names the role-specific rendering of the profile view.
func ProfileVariant(role enums.Role) string {
	if role == enums.RoleAdmin {
		return "profile/admin"
	}
	return "profile/user"
}

func crossesRole(view enums.View, role enums.Role) bool {
	switch view.Audience() {
	case enums.AudienceAdmin:
		return role != enums.RoleAdmin
	case enums.AudienceUser:
		return role == enums.RoleAdmin
	default:
		return false
	}
}

// roleOf routes a session without a profile as a regular user.
func roleOf(st authstate.State) enums.Role {
	if st.Profile == nil || !st.Profile.Role.IsValid() {
		return enums.RoleUser
	}
	return st.Profile.Role
}
