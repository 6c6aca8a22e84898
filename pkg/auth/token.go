package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lapor-warga/portal-backend/pkg/config"
)

var (
	signingMethod = jwt.SigningMethodHS256

	errNoSecret   = errors.New("jwt secret is required")
	errNoIssuer   = errors.New("jwt issuer is required")
	errNoLifetime = errors.New("jwt expiration minutes must be positive")
)

// MintAccessToken signs an access token for payload. The token expires one
// access TTL after now; a blank JTI is replaced with a random one.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, time.Time, error) {
	if err := checkSigningConfig(cfg); err != nil {
		return "", time.Time{}, err
	}
	if payload.IdentityID == uuid.Nil {
		return "", time.Time{}, errors.New("identity id is required")
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	expiresAt := now.Add(cfg.AccessTTL())

	registered := jwt.RegisteredClaims{
		ID:        jti,
		Issuer:    cfg.Issuer,
		Subject:   payload.IdentityID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if payload.ClientID != "" {
		registered.Audience = jwt.ClaimStrings{payload.ClientID}
	}

	signed, err := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		IdentityID:       payload.IdentityID,
		Email:            payload.Email,
		RegisteredClaims: registered,
	}).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing access token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseAccessToken verifies signature, issuer and expiry.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}

	claims := new(AccessTokenClaims)
	key := []byte(cfg.Secret)
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func checkSigningConfig(cfg config.JWTConfig) error {
	switch {
	case cfg.Secret == "":
		return errNoSecret
	case cfg.Issuer == "":
		return errNoIssuer
	case cfg.ExpirationMinutes <= 0:
		return errNoLifetime
	}
	return nil
}
