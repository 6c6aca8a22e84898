package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"gorm.io/gorm"
)

// AccountRepository persists identity accounts.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository constructs an accounts repo bound to the provided GORM DB.
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *models.IdentityAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// FindByEmail retrieves the account matching the provided email.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.IdentityAccount, error) {
	var account models.IdentityAccount
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// FindByID loads an account by its UUID.
func (r *AccountRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.IdentityAccount, error) {
	var account models.IdentityAccount
	if err := r.db.WithContext(ctx).First(&account, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// UpdateEmail overwrites the account's email.
func (r *AccountRepository) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	return r.db.WithContext(ctx).
		Model(&models.IdentityAccount{}).
		Where("id = ?", id).
		Update("email", email).Error
}

// UpdatePasswordHash replaces the stored credential hash.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.IdentityAccount{}).
		Where("id = ?", id).
		Update("password_hash", hash).Error
}

// UpdateLastSignIn refreshes the account's last_sign_in_at timestamp.
func (r *AccountRepository) UpdateLastSignIn(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.IdentityAccount{}).
		Where("id = ?", id).
		UpdateColumn("last_sign_in_at", at).Error
}

func identityFromModel(account *models.IdentityAccount) Identity {
	return Identity{
		ID:    account.ID,
		Email: account.Email,
		Metadata: Metadata{
			FullName:   account.Metadata.FullName,
			NationalID: account.Metadata.NationalID,
			Address:    account.Metadata.Address,
			Phone:      account.Metadata.Phone,
		},
	}
}
