package auth

import (
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload is the input to MintAccessToken. ClientID, when set,
// becomes the token audience so a token is only honoured by the client that
// signed in.
type AccessTokenPayload struct {
	IdentityID uuid.UUID
	Email      string
	ClientID   string
	JTI        string
}

type AccessTokenClaims struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Email      string    `json:"email"`
	jwt.RegisteredClaims
}

// BoundTo reports whether the token was issued for clientID. Tokens minted
// without a client are unbound and match nothing.
func (c *AccessTokenClaims) BoundTo(clientID string) bool {
	return clientID != "" && slices.Contains(c.Audience, clientID)
}
