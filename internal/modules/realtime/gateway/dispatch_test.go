package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/reelspace/core/internal/database"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/counter"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/modules/realtime/presence"
	"github.com/reelspace/core/internal/modules/realtime/topics"
	"go.uber.org/zap"
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

func seedUser(t *testing.T, db *gorm.DB, id string) {
	t.Helper()
	u := models.UserModel{Username: id, DisplayName: id}
	u.ID = id
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

// A boot frame with an empty payload must still deliver the default first
// page of notifications, not a zero-limit query.
func TestAppSnapshotDefaultPaging(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	for i := 0; i < 5; i++ {
		n := models.NotificationModel{
			Type:        models.NotificationTypeFollow,
			SenderID:    "alice",
			RecipientID: "bob",
			RefID:       fmt.Sprintf("ref%d", i),
		}
		if err := db.Create(&n).Error; err != nil {
			t.Fatalf("seed notification: %v", err)
		}
	}

	h, _ := newTestHub(t)
	h.SetDeps(Deps{
		DB:      db,
		Counter: counter.New(db, nil, nil),
		Notify:  notify.New(db, nil, nil, zap.NewNop()),
	})

	snapshot, err := h.appSnapshot(context.Background(), Identity{UID: "bob"}, inboundMessage{
		Type:    intentAppInitialize,
		Payload: map[string]interface{}{},
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	if total := snapshot["total"].(int64); total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	rows := snapshot["notifications"].([]models.NotificationModel)
	if len(rows) != 5 {
		t.Fatalf("notification page = %d rows, want 5", len(rows))
	}
}

func TestAppSnapshotExplicitPaging(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "alice")
	seedUser(t, db, "bob")
	for i := 0; i < 3; i++ {
		n := models.NotificationModel{
			Type:        models.NotificationTypeLike,
			SenderID:    "alice",
			RecipientID: "bob",
		}
		if err := db.Create(&n).Error; err != nil {
			t.Fatalf("seed notification: %v", err)
		}
	}

	h, _ := newTestHub(t)
	h.SetDeps(Deps{
		DB:      db,
		Counter: counter.New(db, nil, nil),
		Notify:  notify.New(db, nil, nil, zap.NewNop()),
	})

	snapshot, err := h.appSnapshot(context.Background(), Identity{UID: "bob"}, inboundMessage{
		Type:    intentAppInitialize,
		Payload: map[string]interface{}{"page": float64(1), "size": float64(2)},
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if rows := snapshot["notifications"].([]models.NotificationModel); len(rows) != 2 {
		t.Errorf("notification page = %d rows, want 2", len(rows))
	}
}

// Registry removal is synchronous on disconnect: once handleDisconnect
// returns, no session state for the socket may remain, even when the
// disconnect arrives immediately after the connect.
func TestDisconnectCleanupIsSynchronous(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "bob")
	reg := presence.NewRegistry()
	h, _ := newTestHub(t)
	h.SetDeps(Deps{DB: db, Presence: reg})

	videoID := "11111111-1111-1111-1111-111111111111"
	identity := Identity{UID: "bob"}

	h.registerSession(sessionEvent{sid: "s1", identity: identity})
	reg.Join(videoID, "bob")

	h.handleDisconnect("s1", identity)

	if h.IsReachable("bob") {
		t.Fatal("bob must be unreachable the moment handleDisconnect returns")
	}
	if _, ok := h.IdentityOf("s1"); ok {
		t.Fatal("socket state must be gone after disconnect")
	}
	if got := reg.ViewerCount(videoID); got != 0 {
		t.Fatalf("viewer count after disconnect = %d, want 0", got)
	}

	// the dropped viewer is announced to the video topic
	select {
	case msg := <-h.broadcast:
		if msg.Topic != topics.Video(videoID) || msg.Event != topics.EventViewersUpdate {
			t.Fatalf("unexpected broadcast %s/%s", msg.Topic, msg.Event)
		}
	default:
		t.Fatal("expected a viewers update broadcast")
	}
}

// A superseded connection's disconnect clears only its own socket state. The
// identity's presence belongs to the newer connection and must survive, and
// no viewer drop may be announced.
func TestSupersededDisconnectKeepsPresence(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, "bob")
	reg := presence.NewRegistry()
	h, _ := newTestHub(t)
	h.SetDeps(Deps{DB: db, Presence: reg})

	videoID := "22222222-2222-2222-2222-222222222222"
	identity := Identity{UID: "bob"}

	h.registerSession(sessionEvent{sid: "s1", identity: identity})
	h.registerSession(sessionEvent{sid: "s2", identity: identity})
	reg.Join(videoID, "bob")

	h.handleDisconnect("s1", identity)

	if !h.IsReachable("bob") {
		t.Fatal("bob must stay reachable through the newer connection")
	}
	if got := reg.ViewerCount(videoID); got != 1 {
		t.Fatalf("viewer count after stale disconnect = %d, want 1", got)
	}
	if _, ok := h.IdentityOf("s1"); ok {
		t.Fatal("the superseded socket's state must still be cleared")
	}
	select {
	case msg := <-h.broadcast:
		t.Fatalf("stale disconnect must not broadcast, got %s/%s", msg.Topic, msg.Event)
	default:
	}
}
