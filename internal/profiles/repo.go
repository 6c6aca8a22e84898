package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/pkg/db"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"gorm.io/gorm"
)

var (
	// ErrProfileNotFound is the not-yet-provisioned signal from the store.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileExists is returned when an insert collides with an existing id.
	ErrProfileExists = errors.New("profile already exists")
)

// UpdateFields lists the columns a signed-in user may change. Nil leaves a
// column untouched; an empty string clears it.
type UpdateFields struct {
	Phone     *string
	AvatarURL *string
}

// IsEmpty reports whether the update would change nothing.
func (f UpdateFields) IsEmpty() bool {
	return f.Phone == nil && f.AvatarURL == nil
}

// Repository exposes profile persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a profiles repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// GetByID loads the profile keyed by identity id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	var profile models.Profile
	if err := r.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		if db.IsNotFound(err) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &profile, nil
}

// Insert creates the profile; the primary key rejects a second row for the same id.
func (r *Repository) Insert(ctx context.Context, profile *models.Profile) error {
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return ErrProfileExists
		}
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// Update applies the partial update to the profile.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fields UpdateFields) error {
	if fields.IsEmpty() {
		return nil
	}
	updates := map[string]any{}
	if fields.Phone != nil {
		updates["phone"] = nullableString(*fields.Phone)
	}
	if fields.AvatarURL != nil {
		updates["avatar_url"] = nullableString(*fields.AvatarURL)
	}

	res := r.db.WithContext(ctx).
		Model(&models.Profile{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
