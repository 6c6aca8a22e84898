package profiles

import (
	"net/url"
	"strings"
	"time"

	"github.com/lapor-warga/portal-backend/internal/identity"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/enums"
)

const (
	DefaultAvatarBaseURL = "https://ui-avatars.com/api/"

	FallbackFullName   = "User"
	FallbackNationalID = "0000000000000000"
	FallbackAddress    = "Belum diisi"
)

// Synthesize builds the fallback profile for an identity whose row was never provisioned.
// The role is always user.
func Synthesize(ident identity.Identity, avatarBase string, now time.Time) *models.Profile {
	meta := ident.Metadata
	name := firstNonEmpty(meta.FullName, ident.Email, FallbackFullName)
	avatar := AvatarURL(avatarBase, name)

	profile := &models.Profile{
		ID:         ident.ID,
		FullName:   name,
		NationalID: firstNonEmpty(meta.NationalID, FallbackNationalID),
		Address:    firstNonEmpty(meta.Address, FallbackAddress),
		Role:       enums.RoleUser,
		AvatarURL:  &avatar,
		CreatedAt:  now,
	}
	if phone := strings.TrimSpace(meta.Phone); phone != "" {
		profile.Phone = &phone
	}
	return profile
}

// AvatarURL derives the deterministic placeholder avatar for a display name.
func AvatarURL(base, name string) string {
	if base == "" {
		base = DefaultAvatarBaseURL
	}
	escaped := strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	return base + "?name=" + escaped + "&background=10b981&color=fff&size=200"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
