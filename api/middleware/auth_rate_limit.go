package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/lapor-warga/portal-backend/api/responses"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/lapor-warga/portal-backend/pkg/redis"
)

// Credentials bodies are tiny; anything larger is not peeked for an email.
const maxPeekBody = 16 << 10

// AuthRateLimitPolicy throttles one auth surface (login, register) per source
// IP and per submitted email. A zero limit disables that dimension.
type AuthRateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int64
	emailLimit int64
}

func NewAuthRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) AuthRateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "auth"
	}
	return AuthRateLimitPolicy{
		name:       name,
		window:     window,
		ipLimit:    int64(ipLimit),
		emailLimit: int64(emailLimit),
	}
}

func (p AuthRateLimitPolicy) active() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.emailLimit > 0)
}

// rateCheck is one counter a request is charged against.
type rateCheck struct {
	dimension string
	scope     string
	limit     int64
	logKey    string
	logValue  string
}

func (p AuthRateLimitPolicy) checks(r *http.Request) ([]rateCheck, error) {
	var out []rateCheck
	if p.ipLimit > 0 {
		if ip := clientIP(r); ip != "" {
			out = append(out, rateCheck{
				dimension: "ip",
				scope:     "ip:" + p.name + ":" + ip,
				limit:     p.ipLimit,
				logKey:    "ip",
				logValue:  ip,
			})
		}
	}
	if p.emailLimit > 0 {
		email, err := peekEmail(r)
		if err != nil {
			return nil, err
		}
		if email != "" {
			hash := hashValue(email)
			out = append(out, rateCheck{
				dimension: "email",
				scope:     "email:" + p.name + ":" + hash,
				limit:     p.emailLimit,
				logKey:    "email_hash",
				logValue:  hash,
			})
		}
	}
	return out, nil
}

// AuthRateLimit rejects requests over any of the policy's counters with
// RATE_LIMITED and a Retry-After of one window. Store failures surface as
// DEPENDENCY errors rather than letting traffic through unmetered.
func AuthRateLimit(policy AuthRateLimitPolicy, store redis.RateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.active() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			checks, err := policy.checks(r)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			for _, c := range checks {
				allowed, count, err := store.FixedWindowAllow(ctx, c.scope, c.limit, policy.window)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if allowed {
					continue
				}
				if logg != nil {
					logg.Warn(logg.WithFields(ctx, map[string]any{
						"policy":         policy.name,
						"dimension":      c.dimension,
						c.logKey:         c.logValue,
						"attempts":       count,
						"limit":          c.limit,
						"window_seconds": int(policy.window.Seconds()),
					}), "auth.rate_limit.blocked")
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(policy.window.Round(time.Second).Seconds())))
				responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// peekEmail reads the request body for an "email" field and restores it for
// the next handler.
func peekEmail(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBody+1))
	if err != nil {
		return "", err
	}
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), rest), rest}
	if len(body) > maxPeekBody {
		return "", nil
	}

	var payload struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(payload.Email)), nil
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// socket peer. Unparseable header values are ignored.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
			return addr.Unmap().String()
		}
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return addr.Unmap().String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func hashValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
