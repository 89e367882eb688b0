package views

import (
	"context"
	"errors"
	"time"

	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/topics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrVideoNotFound = errors.New("video not found")

// dedupWindow is the span within which repeated views of the same video by
// the same user collapse into one durable record.
const dedupWindow = time.Hour

// Analytics is the durable view-counting pipeline. It is not batched, not
// cached, and reads its own record set only; the heartbeat pipeline never
// feeds it.
type Analytics struct {
	db     *gorm.DB
	pub    topics.Publisher
	logger *zap.Logger
}

func NewAnalytics(db *gorm.DB, pub topics.Publisher, logger *zap.Logger) *Analytics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analytics{db: db, pub: pub, logger: logger}
}

// TrackView records a durable view of videoID by uid. A record within the
// last hour for the same pair makes the call a no-op (counted=false).
// Otherwise it inserts a record, recomputes the video's view count from the
// record set and publishes the new absolute value.
func (a *Analytics) TrackView(ctx context.Context, videoID, uid string, watchSeconds float64, completed bool) (counted bool, views int64, err error) {
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video models.VideoModel
		if err := tx.Select("id").First(&video, "id = ?", videoID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVideoNotFound
			}
			return err
		}

		cutoff := time.Now().Add(-dedupWindow)
		var recent int64
		if err := tx.Model(&models.ViewRecordModel{}).
			Where("video_id = ? AND user_id = ? AND created_at > ?", videoID, uid, cutoff).
			Count(&recent).Error; err != nil {
			return err
		}
		if recent > 0 {
			counted = false
			return tx.Model(&models.ViewRecordModel{}).
				Where("video_id = ?", videoID).Count(&views).Error
		}

		if err := tx.Create(&models.ViewRecordModel{
			VideoID:      videoID,
			UserID:       uid,
			WatchSeconds: watchSeconds,
			Completed:    completed,
		}).Error; err != nil {
			return err
		}
		counted = true

		if err := tx.Model(&models.ViewRecordModel{}).
			Where("video_id = ?", videoID).Count(&views).Error; err != nil {
			return err
		}
		return tx.Model(&models.VideoModel{}).Where("id = ?", videoID).
			UpdateColumn("view_count", views).Error
	})
	if err != nil {
		return false, 0, err
	}

	if counted && a.pub != nil {
		a.pub.Publish(topics.Video(videoID), topics.EventViewsUpdate, map[string]interface{}{
			"contentId": videoID,
			"views":     views,
		})
	}
	return counted, views, nil
}

// VideoStats is the long-horizon analytic summary for one video.
type VideoStats struct {
	ContentID      string      `json:"contentId"`
	TotalViews     int64       `json:"totalViews"`
	UniqueViewers  int64       `json:"uniqueViewers"`
	CompletionRate float64     `json:"completionRate"`
	Daily          []DayBucket `json:"daily"`
}

// DayBucket is one day of view counts.
type DayBucket struct {
	Day   string `json:"day"`
	Views int64  `json:"views"`
}

// Stats computes the analytic summary from view_records only.
func (a *Analytics) Stats(ctx context.Context, videoID string, since time.Time) (VideoStats, error) {
	stats := VideoStats{ContentID: videoID}
	db := a.db.WithContext(ctx)

	if err := db.Model(&models.ViewRecordModel{}).
		Where("video_id = ?", videoID).Count(&stats.TotalViews).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.ViewRecordModel{}).
		Where("video_id = ?", videoID).
		Distinct("user_id").Count(&stats.UniqueViewers).Error; err != nil {
		return stats, err
	}

	if stats.TotalViews > 0 {
		var completed int64
		if err := db.Model(&models.ViewRecordModel{}).
			Where("video_id = ? AND completed = ?", videoID, true).
			Count(&completed).Error; err != nil {
			return stats, err
		}
		stats.CompletionRate = float64(completed) / float64(stats.TotalViews)
	}

	rows := []DayBucket{}
	if err := db.Model(&models.ViewRecordModel{}).
		Select("DATE(created_at) AS day, COUNT(*) AS views").
		Where("video_id = ? AND created_at >= ?", videoID, since).
		Group("DATE(created_at)").
		Order("day ASC").
		Scan(&rows).Error; err != nil {
		return stats, err
	}
	stats.Daily = rows
	return stats, nil
}
