package comment

import (
	"context"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/reelspace/core/internal/database"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/pkg/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakePublisher struct{}

func (fakePublisher) Publish(topic, event string, payload interface{})     {}
func (fakePublisher) PublishToUser(uid, event string, payload interface{}) {}

type fakeReach struct{}

func (fakeReach) IsReachable(uid string) bool { return false }

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

func seedVideo(t *testing.T, db *gorm.DB) (author models.UserModel, video models.VideoModel) {
	t.Helper()
	author = models.UserModel{Username: "creator", DisplayName: "Creator"}
	if err := db.Create(&author).Error; err != nil {
		t.Fatalf("create author: %v", err)
	}
	video = models.VideoModel{AuthorID: author.ID, Title: "first clip", PlaybackURL: "https://cdn.example/v/1"}
	if err := db.Create(&video).Error; err != nil {
		t.Fatalf("create video: %v", err)
	}
	return author, video
}

func TestCreateCommentNotifiesAuthor(t *testing.T) {
	db := openTestDB(t)
	author, video := seedVideo(t, db)

	commenter := models.UserModel{Username: "viewer", DisplayName: "Viewer"}
	if err := db.Create(&commenter).Error; err != nil {
		t.Fatalf("create commenter: %v", err)
	}

	notifySvc := notify.New(db, fakePublisher{}, fakeReach{}, nil)
	svc := NewService(db, notifySvc, nil)

	cm, err := svc.Create(context.Background(), commenter.ID, &CreateCommentDTO{
		VideoID: video.ID,
		Text:    "  great video  ",
	})
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	if cm.Text != "great video" {
		t.Fatalf("text not trimmed: %q", cm.Text)
	}

	var notif models.NotificationModel
	if err := db.Where("recipient_id = ?", author.ID).First(&notif).Error; err != nil {
		t.Fatalf("notification not persisted: %v", err)
	}
	if notif.Type != models.NotificationTypeComment {
		t.Fatalf("notification type = %q, want comment", notif.Type)
	}
}

func TestCreateCommentMissingVideo(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, nil, nil)

	_, err := svc.Create(context.Background(), "u1", &CreateCommentDTO{
		VideoID: "missing",
		Text:    "hello",
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("err = %v, want record not found", err)
	}
}

func TestDeleteCommentOwnership(t *testing.T) {
	db := openTestDB(t)
	_, video := seedVideo(t, db)

	commenter := models.UserModel{Username: "viewer"}
	if err := db.Create(&commenter).Error; err != nil {
		t.Fatalf("create commenter: %v", err)
	}
	svc := NewService(db, nil, nil)
	cm, err := svc.Create(context.Background(), commenter.ID, &CreateCommentDTO{VideoID: video.ID, Text: "hi"})
	if err != nil {
		t.Fatalf("create comment: %v", err)
	}
	reply, err := svc.Create(context.Background(), commenter.ID, &CreateCommentDTO{VideoID: video.ID, Text: "me again", ParentID: &cm.ID})
	if err != nil {
		t.Fatalf("create reply: %v", err)
	}

	if err := svc.Delete(cm.ID, "someone-else"); !errors.Is(err, errNotOwner) {
		t.Fatalf("delete by stranger = %v, want not owner", err)
	}

	// deleting the parent takes its replies with it
	if err := svc.Delete(cm.ID, commenter.ID); err != nil {
		t.Fatalf("delete by owner: %v", err)
	}
	var n int64
	if err := db.Model(&models.CommentModel{}).Where("id IN ?", []string{cm.ID, reply.ID}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("comments remaining = %d, want 0", n)
	}
}

func TestListByVideoNewestFirst(t *testing.T) {
	db := openTestDB(t)
	_, video := seedVideo(t, db)

	commenter := models.UserModel{Username: "viewer"}
	if err := db.Create(&commenter).Error; err != nil {
		t.Fatalf("create commenter: %v", err)
	}
	svc := NewService(db, nil, nil)
	for _, text := range []string{"one", "two", "three"} {
		if _, err := svc.Create(context.Background(), commenter.ID, &CreateCommentDTO{VideoID: video.ID, Text: text}); err != nil {
			t.Fatalf("create %q: %v", text, err)
		}
	}

	comments, pag, err := svc.ListByVideo(video.ID, pagination.Normalize(1, 2))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if pag.Total != 3 || len(comments) != 2 {
		t.Fatalf("total = %d, page len = %d; want 3 and 2", pag.Total, len(comments))
	}
	if !pag.HasNextPage {
		t.Fatal("expected a next page")
	}
}
