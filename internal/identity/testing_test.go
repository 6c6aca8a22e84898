package identity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lapor-warga/portal-backend/pkg/auth/session"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	redisclient "github.com/lapor-warga/portal-backend/pkg/redis"
	redislib "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []CreatedEvent
	err    error
}

func (p *recordingPublisher) PublishIdentityCreated(_ context.Context, event CreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) published() []CreatedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CreatedEvent(nil), p.events...)
}

type testEnv struct {
	svc       *Service
	accounts  *AccountRepository
	sessions  *session.Manager
	publisher *recordingPublisher
	redis     *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&models.IdentityAccount{}); err != nil {
		t.Fatalf("migrate accounts: %v", err)
	}
	sqlDB, _ := gdb.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	rc := redisclient.NewFromRaw(redislib.NewClient(&redislib.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	jwtCfg := config.JWTConfig{Secret: "secret", Issuer: "portal", ExpirationMinutes: 15, SessionTTLMinutes: 60}
	sessions, err := session.NewManager(rc, jwtCfg)
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	accounts := NewAccountRepository(gdb)
	publisher := &recordingPublisher{}
	svc, err := NewService(ServiceParams{
		Accounts:  accounts,
		Sessions:  sessions,
		Publisher: publisher,
		JWTConfig: jwtCfg,
		PasswordConfig: config.PasswordConfig{
			ArgonMemoryKB:    8,
			ArgonTime:        1,
			ArgonParallelism: 1,
			ArgonSaltLen:     16,
			ArgonKeyLen:      32,
		},
		Logger: logger.Nop(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return &testEnv{svc: svc, accounts: accounts, sessions: sessions, publisher: publisher, redis: mr}
}

func (e *testEnv) client(t *testing.T, id string) *Client {
	t.Helper()
	c, err := e.svc.Client(id)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

type eventRecorder struct {
	ch chan Event
}

func record(c *Client) *eventRecorder {
	r := &eventRecorder{ch: make(chan Event, 16)}
	c.OnSessionChange(func(ev Event) { r.ch <- ev })
	return r
}

func (r *eventRecorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session event")
		return Event{}
	}
}
