package enums

import "testing"

func TestParseView(t *testing.T) {
	v, err := ParseView("admin-dashboard")
	if err != nil || v != ViewAdminDashboard {
		t.Fatalf("expected admin-dashboard, got %q err=%v", v, err)
	}
	if _, err := ParseView("loading"); err == nil {
		t.Fatalf("loading must not be a navigable view")
	}
	if _, err := ParseView("checkout"); err == nil {
		t.Fatalf("unknown view should fail")
	}
}

func TestViewAudiences(t *testing.T) {
	for _, v := range []View{ViewLanding, ViewLogin, ViewRegister} {
		if !v.IsPublic() {
			t.Fatalf("%s should be public", v)
		}
	}
	if ViewProfile.IsPublic() || ViewProfile.Audience() != AudienceShared {
		t.Fatalf("profile should be shared")
	}
	if !ViewComplaintDetail.IsDetail() || !ViewAdminComplaintDetail.IsDetail() || ViewDashboard.IsDetail() {
		t.Fatalf("unexpected detail classification")
	}
	if View("nope").Audience() != "" {
		t.Fatalf("unknown view should have no audience")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("admin"); err != nil || r != RoleAdmin {
		t.Fatalf("expected admin, got %q err=%v", r, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("owner is not a portal role")
	}
}
