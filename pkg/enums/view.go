package enums

import "fmt"

// View tags a screen the navigation controller can select.
type View string

const (
	ViewLoading View = "loading"

	ViewLanding  View = "landing"
	ViewLogin    View = "login"
	ViewRegister View = "register"

	ViewDashboard       View = "dashboard"
	ViewCreateComplaint View = "create-complaint"
	ViewComplaintDetail View = "complaint-detail"

	ViewAdminDashboard       View = "admin-dashboard"
	ViewAdminComplaintDetail View = "admin-complaint-detail"
	ViewStatistics           View = "statistics"
	ViewUsers                View = "users"

	ViewProfile  View = "profile"
	ViewSettings View = "settings"
)

// ViewAudience groups views by who may see them.
type ViewAudience string

const (
	AudienceSystem ViewAudience = "system"
	AudiencePublic ViewAudience = "public"
	AudienceUser   ViewAudience = "user"
	AudienceAdmin  ViewAudience = "admin"
	AudienceShared ViewAudience = "shared"
)

var viewAudiences = map[View]ViewAudience{
	ViewLoading:              AudienceSystem,
	ViewLanding:              AudiencePublic,
	ViewLogin:                AudiencePublic,
	ViewRegister:             AudiencePublic,
	ViewDashboard:            AudienceUser,
	ViewCreateComplaint:      AudienceUser,
	ViewComplaintDetail:      AudienceUser,
	ViewAdminDashboard:       AudienceAdmin,
	ViewAdminComplaintDetail: AudienceAdmin,
	ViewStatistics:           AudienceAdmin,
	ViewUsers:                AudienceAdmin,
	ViewProfile:              AudienceShared,
	ViewSettings:             AudienceShared,
}

// String implements fmt.Stringer.
func (v View) String() string {
	return string(v)
}

// IsValid reports whether the value is a known View.
func (v View) IsValid() bool {
	_, ok := viewAudiences[v]
	return ok
}

// Audience returns the audience the view belongs to; unknown views report "".
func (v View) Audience() ViewAudience {
	return viewAudiences[v]
}

// IsPublic reports whether the view is reachable without a session.
func (v View) IsPublic() bool {
	return v.Audience() == AudiencePublic
}

// IsDetail reports whether the view renders a pending detail context.
func (v View) IsDetail() bool {
	return v == ViewComplaintDetail || v == ViewAdminComplaintDetail
}

// ParseView converts raw input into a navigable View. The loading view is never a valid target.
func ParseView(value string) (View, error) {
	v := View(value)
	if !v.IsValid() || v == ViewLoading {
		return "", fmt.Errorf("invalid view %q", value)
	}
	return v, nil
}
