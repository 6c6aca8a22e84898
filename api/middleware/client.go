package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/lapor-warga/portal-backend/api/responses"
	"github.com/lapor-warga/portal-backend/pkg/auth"
	"github.com/lapor-warga/portal-backend/pkg/config"
	pkgerrors "github.com/lapor-warga/portal-backend/pkg/errors"
	"github.com/lapor-warga/portal-backend/pkg/logger"
)

const (
	// ClientIDHeader carries the portal client id on requests and responses.
	ClientIDHeader = "X-Portal-Client"
	clientCookie   = "portal_client"
	maxClientID    = 128
	clientMaxAge   = 60 * 60 * 24 * 30
)

// ClientIDParams configures client resolution. JWT is optional; when set,
// a bearer token on the request must have been issued to the resolved client.
type ClientIDParams struct {
	Logger       *logger.Logger
	JWT          *config.JWTConfig
	SecureCookie bool
}

// ClientID resolves the portal client a request belongs to. The header wins
// over the cookie, and a bearer token can name the client when neither is
// sent. A request with no client at all gets a freshly minted id that is
// echoed back in both.
func ClientID(params ClientIDParams) func(http.Handler) http.Handler {
	logg := params.Logger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientID := requestedClient(r)

			if token := bearerToken(r); token != "" && params.JWT != nil {
				claims, err := auth.ParseAccessToken(*params.JWT, token)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid access token"))
					return
				}
				if clientID == "" && len(claims.Audience) == 1 {
					clientID = claims.Audience[0]
				}
				if !claims.BoundTo(clientID) {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "access token was issued to another client"))
					return
				}
				if logg != nil {
					ctx = logg.WithIdentityID(ctx, claims.IdentityID.String())
				}
			}

			if clientID == "" || len(clientID) > maxClientID {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     clientCookie,
					Value:    clientID,
					Path:     "/",
					MaxAge:   clientMaxAge,
					HttpOnly: true,
					Secure:   params.SecureCookie,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(ClientIDHeader, clientID)

			ctx = WithClientID(ctx, clientID)
			if logg != nil {
				ctx = logg.WithClientID(ctx, clientID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestedClient(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ClientIDHeader)); v != "" {
		return v
	}
	if c, err := r.Cookie(clientCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
