// Package notify persists notification records and opportunistically delivers
// them live when the recipient has an active connection. Persistence never
// depends on delivery, and a failed delivery is never retried; the row is
// readable on the recipient's next fetch.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/topics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reachability answers whether an identity currently has a live connection.
// Implemented by the gateway's session registry.
type Reachability interface {
	IsReachable(uid string) bool
}

// Actor identifies who triggered the notification.
type Actor struct {
	ID          string
	DisplayName string
	Avatar      string
}

type Service struct {
	db     *gorm.DB
	pub    topics.Publisher
	reach  Reachability
	logger *zap.Logger
}

func New(db *gorm.DB, pub topics.Publisher, reach Reachability, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, pub: pub, reach: reach, logger: logger}
}

// Dispatch persists a notification and attempts live delivery. Notifications
// where the actor is the recipient are suppressed before persistence.
func (s *Service) Dispatch(ctx context.Context, typ string, sender Actor, recipientID, refID string) error {
	if sender.ID == recipientID || recipientID == "" {
		return nil
	}

	row := models.NotificationModel{
		Type:        typ,
		SenderID:    sender.ID,
		RecipientID: recipientID,
		RefID:       refID,
		Message:     buildMessage(typ, sender.DisplayName),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if s.pub == nil || s.reach == nil || !s.reach.IsReachable(recipientID) {
		return nil
	}
	s.pub.PublishToUser(recipientID, topics.EventNotificationNew, map[string]interface{}{
		"id":   row.ID,
		"type": typ,
		"from": map[string]interface{}{
			"uid":         sender.ID,
			"displayName": sender.DisplayName,
			"avatar":      sender.Avatar,
		},
		"subject":   refID,
		"message":   row.Message,
		"timestamp": row.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	return nil
}

// List returns a page of the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string, page, size int) ([]models.NotificationModel, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.NotificationModel{}).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC")

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.NotificationModel
	if err := q.Preload("Sender").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// UnreadCount returns the number of unread notifications for recipientID.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.NotificationModel{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&n).Error
	return n, err
}

// MarkRead flips one notification to read. Marking an already-read
// notification is a no-op, not an error.
func (s *Service) MarkRead(ctx context.Context, recipientID, id string) error {
	res := s.db.WithContext(ctx).Model(&models.NotificationModel{}).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&models.NotificationModel{}).
			Where("id = ? AND recipient_id = ?", id, recipientID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return gorm.ErrRecordNotFound
		}
	}
	return nil
}

// MarkAllRead flips every unread notification of recipientID to read.
func (s *Service) MarkAllRead(ctx context.Context, recipientID string) error {
	return s.db.WithContext(ctx).Model(&models.NotificationModel{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true).Error
}

// Delete removes one notification owned by recipientID.
func (s *Service) Delete(ctx context.Context, recipientID, id string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		Delete(&models.NotificationModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Clear removes every notification of recipientID.
func (s *Service) Clear(ctx context.Context, recipientID string) error {
	return s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Delete(&models.NotificationModel{}).Error
}

// PurgeRead deletes read notifications older than the retention window.
// Runs from the scheduler.
func (s *Service) PurgeRead(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, cutoff).
		Delete(&models.NotificationModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		s.logger.Info("purged read notifications", zap.Int64("count", res.RowsAffected))
	}
	return nil
}

func buildMessage(typ, displayName string) string {
	if displayName == "" {
		displayName = "Someone"
	}
	switch typ {
	case models.NotificationTypeFollow:
		return fmt.Sprintf("%s started following you", displayName)
	case models.NotificationTypeLike:
		return fmt.Sprintf("%s liked your video", displayName)
	case models.NotificationTypeSave:
		return fmt.Sprintf("%s saved your video", displayName)
	case models.NotificationTypeComment:
		return fmt.Sprintf("%s commented on your video", displayName)
	default:
		return fmt.Sprintf("%s interacted with you", displayName)
	}
}
