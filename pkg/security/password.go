package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lapor-warga/portal-backend/pkg/config"
	"golang.org/x/crypto/argon2"
)

// MinPasswordLength matches the hosted identity provider the portal replaced.
const MinPasswordLength = 6

var (
	ErrInvalidHash  = errors.New("invalid argon2id hash")
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

var b64 = base64.RawStdEncoding

// ArgonParams are the cost settings encoded into every stored hash.
type ArgonParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// ParamsFromConfig clamps configured costs into a sane range.
func ParamsFromConfig(cfg config.PasswordConfig) ArgonParams {
	return ArgonParams{
		Memory:      clamp(cfg.ArgonMemoryKB, 8, 512*1024),
		Time:        clamp(cfg.ArgonTime, 1, 10),
		Parallelism: uint8(clamp(cfg.ArgonParallelism, 1, 255)),
		SaltLen:     clamp(cfg.ArgonSaltLen, 8, 64),
		KeyLen:      clamp(cfg.ArgonKeyLen, 16, 64),
	}
}

func clamp(v, lo, hi int) uint32 {
	return uint32(min(max(v, lo), hi))
}

// argonHash is one decoded PHC string:
// $argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<key>
type argonHash struct {
	params ArgonParams
	salt   []byte
	key    []byte
}

func (h argonHash) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Parallelism,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.key))
}

func parseArgonHash(encoded string) (argonHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return argonHash{}, ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return argonHash{}, ErrInvalidHash
	}

	var h argonHash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.params.Memory, &h.params.Time, &h.params.Parallelism); err != nil {
		return argonHash{}, ErrInvalidHash
	}
	if h.params.Time == 0 || h.params.Parallelism == 0 {
		return argonHash{}, ErrInvalidHash
	}

	var err error
	if h.salt, err = b64.DecodeString(parts[4]); err != nil || len(h.salt) == 0 {
		return argonHash{}, ErrInvalidHash
	}
	if h.key, err = b64.DecodeString(parts[5]); err != nil || len(h.key) == 0 {
		return argonHash{}, ErrInvalidHash
	}
	h.params.SaltLen = uint32(len(h.salt))
	h.params.KeyLen = uint32(len(h.key))
	return h, nil
}

func derive(password string, salt []byte, p ArgonParams) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
}

// HashPassword hashes password with fresh salt and the configured costs.
func HashPassword(password string, cfg config.PasswordConfig) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	params := ParamsFromConfig(cfg)
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return argonHash{params: params, salt: salt, key: derive(password, salt, params)}.String(), nil
}

// VerifyPassword reports whether password matches encoded. A malformed hash
// is an error, a mismatch is not.
func VerifyPassword(password, encoded string) (bool, error) {
	h, err := parseArgonHash(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.key, derive(password, h.salt, h.params)) == 1, nil
}

// NeedsRehash reports whether encoded was produced with costs other than the
// current config. Malformed hashes always need a rehash.
func NeedsRehash(encoded string, cfg config.PasswordConfig) bool {
	h, err := parseArgonHash(encoded)
	if err != nil {
		return true
	}
	return h.params != ParamsFromConfig(cfg)
}

// ValidatePassword enforces the minimum length for new credentials.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	return nil
}
