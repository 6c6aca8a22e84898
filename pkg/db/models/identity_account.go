package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountMetadata is the free-form data captured at sign-up and handed back with every identity.
type AccountMetadata struct {
	FullName   string `gorm:"column:full_name"`
	NationalID string `gorm:"column:national_id"`
	Address    string `gorm:"column:address"`
	Phone      string `gorm:"column:phone"`
}

// IdentityAccount holds the credentials owned by the identity provider.
type IdentityAccount struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Email        string          `gorm:"type:text;not null;uniqueIndex"`
	PasswordHash string          `gorm:"column:password_hash;not null"`
	Metadata     AccountMetadata `gorm:"embedded;embeddedPrefix:meta_"`
	LastSignInAt *time.Time      `gorm:"column:last_sign_in_at"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (IdentityAccount) TableName() string {
	return "identity_accounts"
}
