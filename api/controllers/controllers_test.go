package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lapor-warga/portal-backend/api/middleware"
	"github.com/lapor-warga/portal-backend/internal/authstate"
	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/internal/navigation"
	"github.com/lapor-warga/portal-backend/internal/portal"
	"github.com/lapor-warga/portal-backend/internal/profiles"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
)

type stubPortal struct {
	snap portal.Snapshot
	err  error

	clientID string
	wait     time.Duration
	signUp   identity.SignUpInput
	view     enums.View
	detail   navigation.DetailContext
	update   authstate.ProfileUpdate
}

func (s *stubPortal) result(clientID string) (portal.Snapshot, error) {
	s.clientID = clientID
	return s.snap, s.err
}

func (s *stubPortal) Snapshot(_ context.Context, clientID string, wait time.Duration) (portal.Snapshot, error) {
	s.wait = wait
	return s.result(clientID)
}

func (s *stubPortal) SignIn(_ context.Context, clientID, _, _ string) (portal.Snapshot, error) {
	return s.result(clientID)
}

func (s *stubPortal) SignUp(_ context.Context, clientID string, input identity.SignUpInput) (portal.Snapshot, error) {
	s.signUp = input
	return s.result(clientID)
}

func (s *stubPortal) SignOut(_ context.Context, clientID string) (portal.Snapshot, error) {
	return s.result(clientID)
}

func (s *stubPortal) RefreshSession(_ context.Context, clientID string) (portal.Snapshot, error) {
	return s.result(clientID)
}

func (s *stubPortal) Navigate(_ context.Context, clientID string, view enums.View, detail navigation.DetailContext) (portal.Snapshot, error) {
	s.view = view
	s.detail = detail
	return s.result(clientID)
}

func (s *stubPortal) RefreshProfile(_ context.Context, clientID string) (portal.Snapshot, error) {
	return s.result(clientID)
}

func (s *stubPortal) UpdateProfile(_ context.Context, clientID string, update authstate.ProfileUpdate) (portal.Snapshot, error) {
	s.update = update
	return s.result(clientID)
}

func signedInSnapshot(role enums.Role) portal.Snapshot {
	id := uuid.New()
	return portal.Snapshot{
		ClientID: "tab-1",
		Auth: authstate.State{
			Session: &identity.Session{Identity: identity.Identity{ID: id, Email: "siti@example.com"}, AccessToken: "secret-token"},
			Profile: &models.Profile{ID: id, FullName: "Siti", Role: role},
			Version: 3,
		},
		Screen: navigation.Screen{View: navigation.DefaultView(role), SignedIn: true, Role: role, Version: 3},
	}
}

func serve(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithClientID(req.Context(), "tab-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) StateResponse {
	t.Helper()
	var envelope struct {
		Data StateResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return envelope.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return envelope.Error.Code
}

func TestAuthRegisterCreatesSession(t *testing.T) {
	svc := &stubPortal{snap: signedInSnapshot(enums.RoleUser)}
	body := `{"email":"siti@example.com","password":"secret123","full_name":"  Siti  ","nik":"3201234567890001","address":"Jl. Melati 2"}`

	rec := serve(AuthRegister(svc, nil), http.MethodPost, "/api/v1/auth/register", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.clientID != "tab-1" {
		t.Fatalf("expected client id from context, got %q", svc.clientID)
	}
	if svc.signUp.Metadata.FullName != "Siti" {
		t.Fatalf("expected sanitized full name, got %q", svc.signUp.Metadata.FullName)
	}
	state := decodeState(t, rec)
	if !state.SignedIn || state.Profile == nil || state.Screen.View != enums.ViewDashboard {
		t.Fatalf("unexpected state: %+v", state)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("secret-token")) {
		t.Fatalf("access token must not be serialized")
	}
}

func TestAuthRegisterValidatesNationalID(t *testing.T) {
	svc := &stubPortal{}
	body := `{"email":"siti@example.com","password":"secret123","full_name":"Siti","nik":"12ab","address":"Jl. Melati 2"}`

	rec := serve(AuthRegister(svc, nil), http.MethodPost, "/api/v1/auth/register", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.clientID != "" {
		t.Fatalf("portal must not be called on invalid input")
	}
}

func TestAuthLoginPassesThroughCodedErrors(t *testing.T) {
	svc := &stubPortal{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid credentials")}

	rec := serve(AuthLogin(svc, nil), http.MethodPost, "/api/v1/auth/login", `{"email":"a@example.com","password":"nope"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeUnauthorized) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestAuthLogoutReturnsLanding(t *testing.T) {
	svc := &stubPortal{snap: portal.Snapshot{ClientID: "tab-1", Screen: navigation.Screen{View: enums.ViewLanding}}}

	rec := serve(AuthLogout(svc, nil), http.MethodPost, "/api/v1/auth/logout", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	state := decodeState(t, rec)
	if state.SignedIn || state.Screen.View != enums.ViewLanding {
		t.Fatalf("unexpected state: %+v", state)
	}
}

func TestAuthUpdateEmailRoutesThroughProfileUpdate(t *testing.T) {
	svc := &stubPortal{snap: signedInSnapshot(enums.RoleUser)}

	rec := serve(AuthUpdateEmail(svc, nil), http.MethodPatch, "/api/v1/auth/email", `{"email":"new@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.update.Email == nil || *svc.update.Email != "new@example.com" || svc.update.Phone != nil {
		t.Fatalf("unexpected update: %+v", svc.update)
	}
}

func TestPortalStateParsesWait(t *testing.T) {
	svc := &stubPortal{snap: signedInSnapshot(enums.RoleAdmin)}

	rec := serve(PortalState(svc, nil), http.MethodGet, "/api/v1/state?wait=30s", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.wait != maxStateWait {
		t.Fatalf("expected wait clamped to %s, got %s", maxStateWait, svc.wait)
	}
	state := decodeState(t, rec)
	if !state.IsAdmin || state.Screen.View != enums.ViewAdminDashboard {
		t.Fatalf("unexpected state: %+v", state)
	}

	rec = serve(PortalState(svc, nil), http.MethodGet, "/api/v1/state?wait=soon", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad wait got %d", rec.Code)
	}
}

func TestPortalNavigateMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{navigation.ErrLoading, http.StatusConflict},
		{navigation.ErrUnknownView, http.StatusBadRequest},
		{portal.ErrInvalidClientID, http.StatusBadRequest},
		{portal.ErrRegistryClosed, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		svc := &stubPortal{err: tc.err}
		rec := serve(PortalNavigate(svc, nil), http.MethodPost, "/api/v1/navigate", `{"view":"complaint-detail","complaint_id":"c-1"}`)
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d got %d", tc.err, tc.status, rec.Code)
		}
		if svc.view != enums.ViewComplaintDetail || svc.detail.ComplaintID != "c-1" {
			t.Fatalf("unexpected intent: %s %+v", svc.view, svc.detail)
		}
	}
}

func TestProfileRefreshErrors(t *testing.T) {
	svc := &stubPortal{err: authstate.ErrNotSignedIn}
	rec := serve(ProfileRefresh(svc, nil), http.MethodPost, "/api/v1/profile/refresh", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}

	svc = &stubPortal{err: errors.Join(profiles.ErrReconciliationFailed, errors.New("db down"))}
	rec = serve(ProfileRefresh(svc, nil), http.MethodPost, "/api/v1/profile/refresh", "")
	if code := errorCode(t, rec); code != string(pkgerrors.CodeProfileUnavailable) {
		t.Fatalf("expected profile unavailable, got %s", code)
	}
}

func TestProfileUpdateRequiresAField(t *testing.T) {
	svc := &stubPortal{snap: signedInSnapshot(enums.RoleUser)}

	rec := serve(ProfileUpdate(svc, nil), http.MethodPatch, "/api/v1/profile", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	rec = serve(ProfileUpdate(svc, nil), http.MethodPatch, "/api/v1/profile", `{"phone":"081234"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.update.Phone == nil || *svc.update.Phone != "081234" {
		t.Fatalf("unexpected update: %+v", svc.update)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := serve(HealthReady("test", map[string]Pinger{"db": ok, "redis": ok}, nil), http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = serve(HealthReady("test", map[string]Pinger{"db": ok, "redis": down}, nil), http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}
