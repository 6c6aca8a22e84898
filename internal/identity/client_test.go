package identity

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lapor-warga/portal-backend/pkg/auth/session"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
	"github.com/lapor-warga/portal-backend/pkg/logger"
)

func signUpInput() SignUpInput {
	return SignUpInput{
		Email:    " Warga@Example.com ",
		Password: "rahasia123",
		Metadata: Metadata{
			FullName:   "Siti Warga",
			NationalID: "3201010101010001",
			Address:    "Jl. Merdeka 1",
			Phone:      "08123",
		},
	}
}

func TestSignUpOpensSessionAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "tab-1")
	events := record(c)
	ctx := context.Background()

	sess, err := c.SignUp(ctx, signUpInput())
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if sess.Identity.Email != "warga@example.com" {
		t.Fatalf("expected normalized email, got %q", sess.Identity.Email)
	}
	if sess.Identity.Metadata.NationalID != "3201010101010001" {
		t.Fatalf("metadata not kept: %+v", sess.Identity.Metadata)
	}
	if sess.AccessToken == "" || sess.AccessID == "" {
		t.Fatalf("expected access token and id")
	}

	ev := events.next(t)
	if ev.Type != enums.SessionEventSignedIn || ev.Session.IdentityID() != sess.Identity.ID {
		t.Fatalf("unexpected event %+v", ev)
	}

	published := env.publisher.published()
	if len(published) != 1 || published[0].IdentityID != sess.Identity.ID {
		t.Fatalf("expected one identity.created event, got %+v", published)
	}
	if published[0].Metadata.FullName != "Siti Warga" {
		t.Fatalf("event should carry sign-up metadata")
	}
}

func TestSignUpRejectsDuplicateAndWeakPassword(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "tab-1")
	ctx := context.Background()

	if _, err := c.SignUp(ctx, signUpInput()); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if _, err := c.SignUp(ctx, signUpInput()); !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict on duplicate email, got %v", err)
	}

	weak := signUpInput()
	weak.Email = "other@example.com"
	weak.Password = "123"
	if _, err := c.SignUp(ctx, weak); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	bad := signUpInput()
	bad.Email = "not-an-email"
	if _, err := c.SignUp(ctx, bad); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for email, got %v", err)
	}
}

func TestSignUpSurvivesPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("pubsub down")
	c := env.client(t, "tab-1")

	if _, err := c.SignUp(context.Background(), signUpInput()); err != nil {
		t.Fatalf("publish failure must not fail sign up: %v", err)
	}
}

func TestSignInReplacesSessionAndRestoresAcrossClients(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.client(t, "tab-1")
	signedUp, err := first.SignUp(ctx, signUpInput())
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}

	if _, err := first.SignInWithPassword(ctx, "warga@example.com", "wrong-pass"); !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := first.SignInWithPassword(ctx, "nobody@example.com", "rahasia123"); !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized for unknown email, got %v", err)
	}

	signedIn, err := first.SignInWithPassword(ctx, "WARGA@example.com", "rahasia123")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if signedIn.AccessID == signedUp.AccessID {
		t.Fatalf("sign in should replace the previous session")
	}
	if ok, _ := env.sessions.HasSession(ctx, signedUp.AccessID); ok {
		t.Fatalf("previous session should be revoked")
	}

	// a fresh client object for the same id restores the pinned session
	restarted := env.client(t, "tab-1")
	restored, err := restarted.GetSession(ctx)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if restored == nil || restored.Identity.ID != signedUp.Identity.ID {
		t.Fatalf("expected restored session, got %+v", restored)
	}

	other := env.client(t, "tab-2")
	if sess, err := other.GetSession(ctx); err != nil || sess != nil {
		t.Fatalf("other client should be signed out, got %+v err=%v", sess, err)
	}
}

func TestSignOutClearsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, "tab-1")
	if _, err := c.SignUp(ctx, signUpInput()); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	events := record(c)

	if err := c.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	ev := events.next(t)
	if ev.Type != enums.SessionEventSignedOut || ev.Session != nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	if sess, err := c.GetSession(ctx); err != nil || sess != nil {
		t.Fatalf("expected no session after sign out, got %+v err=%v", sess, err)
	}
}

func TestUpdateEmailAndRefreshEmitInOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, "tab-1")
	original, err := c.SignUp(ctx, signUpInput())
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	events := record(c)

	if err := c.UpdateEmail(ctx, "baru@example.com"); err != nil {
		t.Fatalf("update email: %v", err)
	}
	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessID == original.AccessID {
		t.Fatalf("refresh should rotate the access id")
	}

	first := events.next(t)
	if first.Type != enums.SessionEventUserUpdated || first.Session.Identity.Email != "baru@example.com" {
		t.Fatalf("unexpected first event %+v", first)
	}
	second := events.next(t)
	if second.Type != enums.SessionEventTokenRefreshed || second.Session.AccessID != refreshed.AccessID {
		t.Fatalf("unexpected second event %+v", second)
	}

	if _, err := c.SignInWithPassword(ctx, "baru@example.com", "rahasia123"); err != nil {
		t.Fatalf("sign in with new email: %v", err)
	}
}

func TestUpdateEmailRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "tab-1")
	if err := c.UpdateEmail(context.Background(), "x@example.com"); !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	c := env.client(t, "tab-1")
	received := make(chan Event, 4)
	unsubscribe := c.OnSessionChange(func(ev Event) { received <- ev })
	unsubscribe()
	unsubscribe()

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	c.Close()
	if len(received) != 0 {
		t.Fatalf("unsubscribed listener should not receive events")
	}
}

func TestClientRequiresID(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Client("  "); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSignInRehashesOnCostChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := env.client(t, "tab-1")
	if _, err := c.SignUp(ctx, signUpInput()); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	before, err := env.accounts.FindByEmail(ctx, "warga@example.com")
	if err != nil {
		t.Fatalf("load account: %v", err)
	}

	env.svc.passwordCfg.ArgonTime = 2
	if _, err := c.SignInWithPassword(ctx, "warga@example.com", "rahasia123"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	after, err := env.accounts.FindByEmail(ctx, "warga@example.com")
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if after.PasswordHash == before.PasswordHash || !strings.Contains(after.PasswordHash, ",t=2,") {
		t.Fatalf("expected hash upgraded to t=2, got %s", after.PasswordHash)
	}
	if _, err := c.SignInWithPassword(ctx, "warga@example.com", "rahasia123"); err != nil {
		t.Fatalf("sign in with upgraded hash: %v", err)
	}
}

type unbindFailingSessions struct {
	*session.Manager
}

func (unbindFailingSessions) Unbind(context.Context, string) error {
	return errors.New("redis unavailable")
}

func TestRestoreLogsFailedUnbind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.client(t, "tab-1").SignUp(ctx, signUpInput()); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	accessID, err := env.sessions.Bound(ctx, "tab-1")
	if err != nil {
		t.Fatalf("bound: %v", err)
	}
	if err := env.sessions.Revoke(ctx, accessID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	var out bytes.Buffer
	svc, err := NewService(ServiceParams{
		Accounts:       env.accounts,
		Sessions:       unbindFailingSessions{env.sessions},
		JWTConfig:      env.svc.jwtCfg,
		PasswordConfig: env.svc.passwordCfg,
		Logger:         logger.New(logger.Options{ServiceName: "identity", Output: &out}),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	sess, err := svc.restore(ctx, "tab-1")
	if err != nil || sess != nil {
		t.Fatalf("expected no session, got %+v err=%v", sess, err)
	}
	if !strings.Contains(out.String(), "unbind stale session failed") {
		t.Fatalf("expected unbind failure to be logged, got %s", out.String())
	}
}
