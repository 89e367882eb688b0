package user

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/reelspace/core/internal/database"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/pkg/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestRegister(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	u, err := svc.Register(&RegisterDTO{Username: " alice "})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Username != "alice" {
		t.Fatalf("username = %q, want alice", u.Username)
	}
	if u.DisplayName != "alice" {
		t.Fatalf("display name should default to username, got %q", u.DisplayName)
	}

	if _, err := svc.Register(&RegisterDTO{Username: "alice"}); err == nil {
		t.Fatal("duplicate username should be rejected")
	}
}

func TestUpdateProfilePartial(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	u, err := svc.Register(&RegisterDTO{Username: "bob", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	bio := "hello"
	updated, err := svc.UpdateProfile(u.ID, &UpdateProfileDTO{Bio: &bio})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Bio != "hello" {
		t.Fatalf("bio = %q, want hello", updated.Bio)
	}
	if updated.DisplayName != "Bob" {
		t.Fatalf("display name must be untouched, got %q", updated.DisplayName)
	}
}

func TestFollowerListings(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db)

	a, _ := svc.Register(&RegisterDTO{Username: "a"})
	b, _ := svc.Register(&RegisterDTO{Username: "b"})
	c, _ := svc.Register(&RegisterDTO{Username: "c"})

	for _, follower := range []*models.UserModel{b, c} {
		if err := db.Create(&models.FollowModel{FollowerID: follower.ID, FolloweeID: a.ID}).Error; err != nil {
			t.Fatalf("seed follow: %v", err)
		}
	}

	followers, pag, err := svc.Followers(a.ID, pagination.Normalize(1, 10))
	if err != nil {
		t.Fatalf("followers: %v", err)
	}
	if pag.Total != 2 || len(followers) != 2 {
		t.Fatalf("followers total = %d len = %d, want 2 and 2", pag.Total, len(followers))
	}

	following, _, err := svc.Following(b.ID, pagination.Normalize(1, 10))
	if err != nil {
		t.Fatalf("following: %v", err)
	}
	if len(following) != 1 || following[0].ID != a.ID {
		t.Fatalf("b should follow exactly a, got %d rows", len(following))
	}
}
