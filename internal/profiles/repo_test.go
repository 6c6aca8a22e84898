package profiles

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/lapor-warga/portal-backend/pkg/db/models"
	"github.com/lapor-warga/portal-backend/pkg/enums"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Profile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, _ := gdb.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewRepository(gdb)
}

func TestRepositoryInsertAndGet(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := repo.GetByID(ctx, id); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	profile := &models.Profile{ID: id, FullName: "Siti", NationalID: "1", Address: "x", Role: enums.RoleUser}
	if err := repo.Insert(ctx, profile); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FullName != "Siti" || got.Role != enums.RoleUser {
		t.Fatalf("unexpected profile %+v", got)
	}
}

func TestRepositoryInsertDuplicateKeepsOriginal(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	id := uuid.New()

	if err := repo.Insert(ctx, &models.Profile{ID: id, FullName: "Original", NationalID: "1", Address: "x", Role: enums.RoleAdmin}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := repo.Insert(ctx, &models.Profile{ID: id, FullName: "Duplicate", NationalID: "2", Address: "y", Role: enums.RoleUser})
	if !errors.Is(err, ErrProfileExists) {
		t.Fatalf("expected ErrProfileExists, got %v", err)
	}
	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FullName != "Original" || got.Role != enums.RoleAdmin {
		t.Fatalf("duplicate insert corrupted the row: %+v", got)
	}
}

func TestRepositoryUpdate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	id := uuid.New()
	phone := "0811"
	if err := repo.Insert(ctx, &models.Profile{ID: id, FullName: "Siti", NationalID: "1", Address: "x", Role: enums.RoleUser, Phone: &phone}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	avatar := "https://cdn.example.com/a.png"
	empty := ""
	if err := repo.Update(ctx, id, UpdateFields{Phone: &empty, AvatarURL: &avatar}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := repo.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Phone != nil {
		t.Fatalf("expected phone cleared, got %v", *got.Phone)
	}
	if got.AvatarURL == nil || *got.AvatarURL != avatar {
		t.Fatalf("expected avatar updated, got %v", got.AvatarURL)
	}
	if got.Role != enums.RoleUser {
		t.Fatalf("update must not touch role")
	}

	if err := repo.Update(ctx, uuid.New(), UpdateFields{AvatarURL: &avatar}); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found for unknown id, got %v", err)
	}
	if err := repo.Update(ctx, id, UpdateFields{}); err != nil {
		t.Fatalf("empty update should be a no-op, got %v", err)
	}
}
