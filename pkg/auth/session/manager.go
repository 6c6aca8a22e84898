package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/pkg/config"
	redisclient "github.com/lapor-warga/portal-backend/pkg/redis"
	redislib "github.com/redis/go-redis/v9"
)

const refreshTokenBytes = 32

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionNotFound     = errors.New("session not found")
)

type sessionStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type sessionKeyer interface {
	AccessSessionKey(accessID string) string
	ClientBindingKey(clientID string) string
}

// Record is what Redis holds per access id. Only a digest of the refresh
// token is stored.
type Record struct {
	IdentityID  string    `json:"identity_id"`
	RefreshHash string    `json:"refresh_hash"`
	IssuedAt    time.Time `json:"issued_at"`
	Rotations   int       `json:"rotations"`
}

// Manager stores identity sessions under their access id and pins each portal
// client to the access id it is signed in with. Both keys share one TTL.
type Manager struct {
	store sessionStore
	keyer sessionKeyer
	ttl   time.Duration
	now   func() time.Time
}

// NewManager requires the session TTL to outlive the access token TTL.
func NewManager(client *redisclient.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	ttl := cfg.SessionTTL()
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	if access := cfg.AccessTTL(); ttl <= access {
		return nil, fmt.Errorf("session ttl (%s) must exceed access token ttl (%s)", ttl, access)
	}
	return &Manager{store: client, keyer: client, ttl: ttl, now: time.Now}, nil
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Generate opens a session and returns the plaintext refresh token. The token
// is not recoverable afterwards.
func (m *Manager) Generate(ctx context.Context, accessID, identityID string) (string, error) {
	if blank(accessID) || blank(identityID) {
		return "", fmt.Errorf("access id and identity id are required")
	}
	token, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	rec := Record{IdentityID: identityID, RefreshHash: digest(token), IssuedAt: m.now().UTC()}
	if err := m.put(ctx, accessID, rec); err != nil {
		return "", err
	}
	return token, nil
}

// Lookup returns ErrSessionNotFound for unknown or expired access ids.
func (m *Manager) Lookup(ctx context.Context, accessID string) (Record, error) {
	if blank(accessID) {
		return Record{}, ErrSessionNotFound
	}
	raw, found, err := m.get(ctx, m.keyer.AccessSessionKey(accessID))
	if err != nil {
		return Record{}, err
	}
	if !found {
		return Record{}, ErrSessionNotFound
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("decode session record: %w", err)
	}
	return rec, nil
}

// Rotate exchanges a refresh token for a new access id and token. The old
// access id stops working. Unknown sessions and wrong tokens both yield
// ErrInvalidRefreshToken.
func (m *Manager) Rotate(ctx context.Context, oldAccessID, provided string) (string, string, error) {
	if blank(oldAccessID) || blank(provided) {
		return "", "", ErrInvalidRefreshToken
	}
	rec, err := m.Lookup(ctx, oldAccessID)
	if errors.Is(err, ErrSessionNotFound) {
		return "", "", ErrInvalidRefreshToken
	}
	if err != nil {
		return "", "", err
	}
	if subtle.ConstantTimeCompare([]byte(rec.RefreshHash), []byte(digest(provided))) != 1 {
		return "", "", ErrInvalidRefreshToken
	}
	return m.replace(ctx, oldAccessID, rec)
}

// RotateBound rotates whatever session clientID is pinned to and re-pins the
// client to the new access id.
func (m *Manager) RotateBound(ctx context.Context, clientID string) (string, error) {
	oldAccessID, err := m.Bound(ctx, clientID)
	if err != nil {
		return "", err
	}
	rec, err := m.Lookup(ctx, oldAccessID)
	if err != nil {
		return "", err
	}
	newAccessID, _, err := m.replace(ctx, oldAccessID, rec)
	if err != nil {
		return "", err
	}
	if err := m.Bind(ctx, clientID, newAccessID); err != nil {
		return "", err
	}
	return newAccessID, nil
}

// replace writes rec under a fresh access id with a fresh refresh token, then
// drops the old key.
func (m *Manager) replace(ctx context.Context, oldAccessID string, rec Record) (string, string, error) {
	token, err := newRefreshToken()
	if err != nil {
		return "", "", err
	}
	rec.RefreshHash = digest(token)
	rec.Rotations++

	newAccessID := NewAccessID()
	if err := m.put(ctx, newAccessID, rec); err != nil {
		return "", "", err
	}
	if err := m.store.Del(ctx, m.keyer.AccessSessionKey(oldAccessID)); err != nil {
		return "", "", err
	}
	return newAccessID, token, nil
}

func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	if blank(accessID) {
		return fmt.Errorf("access id is required")
	}
	return m.store.Del(ctx, m.keyer.AccessSessionKey(accessID))
}

// HasSession reports whether accessID is still live.
func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	if blank(accessID) {
		return false, fmt.Errorf("access id is required")
	}
	_, found, err := m.get(ctx, m.keyer.AccessSessionKey(accessID))
	return found, err
}

// Bind pins clientID to accessID so a reconnecting client restores its session.
func (m *Manager) Bind(ctx context.Context, clientID, accessID string) error {
	if blank(clientID) || blank(accessID) {
		return fmt.Errorf("client id and access id are required")
	}
	return m.store.Set(ctx, m.keyer.ClientBindingKey(clientID), accessID, m.ttl)
}

// Bound returns ErrSessionNotFound when clientID is not pinned.
func (m *Manager) Bound(ctx context.Context, clientID string) (string, error) {
	if blank(clientID) {
		return "", ErrSessionNotFound
	}
	accessID, found, err := m.get(ctx, m.keyer.ClientBindingKey(clientID))
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrSessionNotFound
	}
	return accessID, nil
}

func (m *Manager) Unbind(ctx context.Context, clientID string) error {
	if blank(clientID) {
		return nil
	}
	return m.store.Del(ctx, m.keyer.ClientBindingKey(clientID))
}

func (m *Manager) get(ctx context.Context, key string) (string, bool, error) {
	val, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, redislib.Nil):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return val, true, nil
}

func (m *Manager) put(ctx context.Context, accessID string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return m.store.Set(ctx, m.keyer.AccessSessionKey(accessID), string(payload), m.ttl)
}

// NewAccessID mints the id used as JWT jti and session key.
func NewAccessID() string {
	return uuid.NewString()
}

func newRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
