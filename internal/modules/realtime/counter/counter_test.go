package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/reelspace/core/internal/database"
	"github.com/reelspace/core/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type publishedEvent struct {
	Topic   string
	Event   string
	Payload interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) Publish(topic, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{topic, event, payload})
}

func (f *fakePublisher) PublishToUser(uid, event string, payload interface{}) {
	f.Publish("user:"+uid, event, payload)
}

func (f *fakePublisher) eventsFor(topic string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedEvent
	for _, e := range f.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

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

func seedUsers(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		u := models.UserModel{Username: id, DisplayName: id}
		u.ID = id
		if err := db.Create(&u).Error; err != nil {
			t.Fatalf("seed user %s: %v", id, err)
		}
	}
}

func seedVideo(t *testing.T, db *gorm.DB, id, authorID string) {
	t.Helper()
	v := models.VideoModel{AuthorID: authorID, Title: "video " + id}
	v.ID = id
	if err := db.Create(&v).Error; err != nil {
		t.Fatalf("seed video %s: %v", id, err)
	}
}

func userCounts(t *testing.T, db *gorm.DB, uid string) (followers, following int64) {
	t.Helper()
	var u models.UserModel
	if err := db.First(&u, "id = ?", uid).Error; err != nil {
		t.Fatalf("load user %s: %v", uid, err)
	}
	return u.FollowersCount, u.FollowingCount
}

func TestFollowIdempotence(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "alice", "bob")
	pub := &fakePublisher{}
	svc := New(db, pub, nil)
	ctx := context.Background()

	_, followee, err := svc.Follow(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if followee.FollowersCount != 1 {
		t.Errorf("bob followers = %d, want 1", followee.FollowersCount)
	}

	_, _, err = svc.Follow(ctx, "alice", "bob")
	if !errors.Is(err, ErrAlreadyFollowing) {
		t.Fatalf("duplicate follow err = %v, want ErrAlreadyFollowing", err)
	}

	followers, _ := userCounts(t, db, "bob")
	if followers != 1 {
		t.Errorf("bob followers after duplicate follow = %d, want 1", followers)
	}

	// rejected intent must not be broadcast
	if got := len(pub.eventsFor("profile:bob")); got != 1 {
		t.Errorf("profile:bob publish count = %d, want 1", got)
	}
}

func TestFollowUnfollowRoundTrip(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "alice", "bob", "carol")
	svc := New(db, &fakePublisher{}, nil)
	ctx := context.Background()

	// pre-existing relationship so the baseline is non-zero
	if _, _, err := svc.Follow(ctx, "carol", "bob"); err != nil {
		t.Fatalf("seed follow: %v", err)
	}
	beforeFollowers, _ := userCounts(t, db, "bob")
	_, beforeFollowing := userCounts(t, db, "alice")

	if _, _, err := svc.Follow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	if _, _, err := svc.Unfollow(ctx, "alice", "bob"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}

	afterFollowers, _ := userCounts(t, db, "bob")
	_, afterFollowing := userCounts(t, db, "alice")
	if afterFollowers != beforeFollowers {
		t.Errorf("bob followers = %d, want %d", afterFollowers, beforeFollowers)
	}
	if afterFollowing != beforeFollowing {
		t.Errorf("alice following = %d, want %d", afterFollowing, beforeFollowing)
	}

	if _, _, err := svc.Unfollow(ctx, "alice", "bob"); !errors.Is(err, ErrNotFollowing) {
		t.Errorf("second unfollow err = %v, want ErrNotFollowing", err)
	}
}

func TestSelfFollowRejected(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "alice")
	svc := New(db, &fakePublisher{}, nil)

	if _, _, err := svc.Follow(context.Background(), "alice", "alice"); !errors.Is(err, ErrSelfFollow) {
		t.Fatalf("self follow err = %v, want ErrSelfFollow", err)
	}
}

func TestFollowMissingUser(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "alice")
	svc := New(db, &fakePublisher{}, nil)

	if _, _, err := svc.Follow(context.Background(), "alice", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("follow missing user err = %v, want ErrNotFound", err)
	}
}

func TestLikeSaveCounters(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "alice", "bob")
	seedVideo(t, db, "v1", "bob")
	pub := &fakePublisher{}
	svc := New(db, pub, nil)
	ctx := context.Background()

	t.Run("LikeRecounts", func(t *testing.T) {
		stats, err := svc.Like(ctx, "alice", "v1")
		if err != nil {
			t.Fatalf("like: %v", err)
		}
		if stats.LikeCount != 1 {
			t.Errorf("like count = %d, want 1", stats.LikeCount)
		}
		if _, err := svc.Like(ctx, "alice", "v1"); !errors.Is(err, ErrAlreadyLiked) {
			t.Errorf("duplicate like err = %v, want ErrAlreadyLiked", err)
		}
	})

	t.Run("OwnerTopicGetsStats", func(t *testing.T) {
		if got := len(pub.eventsFor("user:bob")); got == 0 {
			t.Error("video owner should receive video:stats:update on their private topic")
		}
	})

	t.Run("UnlikeRestores", func(t *testing.T) {
		stats, err := svc.Unlike(ctx, "alice", "v1")
		if err != nil {
			t.Fatalf("unlike: %v", err)
		}
		if stats.LikeCount != 0 {
			t.Errorf("like count = %d, want 0", stats.LikeCount)
		}
		if _, err := svc.Unlike(ctx, "alice", "v1"); !errors.Is(err, ErrNotLiked) {
			t.Errorf("second unlike err = %v, want ErrNotLiked", err)
		}
	})

	t.Run("SaveMirrorsLike", func(t *testing.T) {
		if _, err := svc.Save(ctx, "alice", "v1"); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := svc.Save(ctx, "alice", "v1"); !errors.Is(err, ErrAlreadySaved) {
			t.Errorf("duplicate save err = %v, want ErrAlreadySaved", err)
		}
		stats, err := svc.Unsave(ctx, "alice", "v1")
		if err != nil {
			t.Fatalf("unsave: %v", err)
		}
		if stats.SaveCount != 0 {
			t.Errorf("save count = %d, want 0", stats.SaveCount)
		}
	})

	t.Run("MissingVideo", func(t *testing.T) {
		if _, err := svc.Like(ctx, "alice", "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("like missing video err = %v, want ErrNotFound", err)
		}
	})
}

// The stored counter column is only a cache. If an external writer drifts it,
// the next mutation through the synchronizer restores agreement with the
// membership table.
func TestExternalDriftReconciled(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "bob")
	for i := 0; i < 3; i++ {
		uid := fmt.Sprintf("fan%d", i)
		seedUsers(t, db, uid)
	}
	svc := New(db, &fakePublisher{}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := svc.Follow(ctx, fmt.Sprintf("fan%d", i), "bob"); err != nil {
			t.Fatalf("follow: %v", err)
		}
	}

	// external layer clobbers the cached integer
	if err := db.Model(&models.UserModel{}).Where("id = ?", "bob").
		UpdateColumn("followers_count", 999).Error; err != nil {
		t.Fatalf("drift: %v", err)
	}

	if _, _, err := svc.Unfollow(ctx, "fan0", "bob"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	followers, _ := userCounts(t, db, "bob")
	if followers != 2 {
		t.Errorf("followers after reconcile = %d, want 2", followers)
	}
}

// Two concurrent follows for the same pair can both pass the existence check;
// the loser's insert then hits the unique pair index. A soft-deleted row is
// invisible to the check but still guarded by the index, which reproduces the
// losing side of that race deterministically.
func TestFollowDuplicateKeyMapped(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "alice", "bob")
	svc := New(db, &fakePublisher{}, nil)
	ctx := context.Background()

	row := models.FollowModel{FollowerID: "alice", FolloweeID: "bob"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed follow: %v", err)
	}
	if err := db.Delete(&row).Error; err != nil {
		t.Fatalf("hide follow: %v", err)
	}

	_, _, err := svc.Follow(ctx, "alice", "bob")
	if !errors.Is(err, ErrAlreadyFollowing) {
		t.Fatalf("racing follow err = %v, want ErrAlreadyFollowing", err)
	}
}

func TestLikeDuplicateKeyMapped(t *testing.T) {
	db := openTestDB(t)
	seedUsers(t, db, "alice", "bob")
	seedVideo(t, db, "v1", "bob")
	svc := New(db, &fakePublisher{}, nil)
	ctx := context.Background()

	row := models.LikeModel{UserID: "alice", VideoID: "v1"}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("seed like: %v", err)
	}
	if err := db.Delete(&row).Error; err != nil {
		t.Fatalf("hide like: %v", err)
	}

	if _, err := svc.Like(ctx, "alice", "v1"); !errors.Is(err, ErrAlreadyLiked) {
		t.Fatalf("racing like err = %v, want ErrAlreadyLiked", err)
	}
}
