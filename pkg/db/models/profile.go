package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/pkg/enums"
)

// Profile is the application-level record keyed by the identity id.
type Profile struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FullName   string     `gorm:"column:full_name;not null"`
	NationalID string     `gorm:"column:national_id;not null"`
	Address    string     `gorm:"column:address;not null"`
	Phone      *string    `gorm:"column:phone"`
	Role       enums.Role `gorm:"column:role;type:text;not null;default:user"`
	AvatarURL  *string    `gorm:"column:avatar_url"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Profile) TableName() string {
	return "profiles"
}
