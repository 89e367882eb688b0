// Package counter keeps the cached integer counters consistent with their
// membership tables. The membership rows are the sole source of truth; every
// mutation recounts and rewrites the cached column in the same transaction,
// then publishes the absolute values to every interested topic.
package counter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/topics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("entity not found")
	ErrSelfFollow       = errors.New("cannot follow yourself")
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
	ErrAlreadyLiked     = errors.New("already liked")
	ErrNotLiked         = errors.New("not liked")
	ErrAlreadySaved     = errors.New("already saved")
	ErrNotSaved         = errors.New("not saved")
)

// isDuplicateKey recognizes a unique index violation across drivers; not
// every dialector translates it to gorm.ErrDuplicatedKey.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint")
}

// ProfileStats is the absolute follower/following pair for one user.
type ProfileStats struct {
	UID            string `json:"uid"`
	FollowersCount int64  `json:"followersCount"`
	FollowingCount int64  `json:"followingCount"`
}

// VideoStats carries the recounted like/save pair for one video.
type VideoStats struct {
	ContentID string `json:"contentId"`
	LikeCount int64  `json:"likeCount"`
	SaveCount int64  `json:"saveCount"`
}

type Service struct {
	db     *gorm.DB
	pub    topics.Publisher
	logger *zap.Logger
}

func New(db *gorm.DB, pub topics.Publisher, logger *zap.Logger) *Service {
	return &Service{db: db, pub: pub, logger: logger}
}

// Follow records follower→followee. A duplicate follow is rejected as
// ErrAlreadyFollowing and surfaced to the caller only, never broadcast.
func (s *Service) Follow(ctx context.Context, followerID, followeeID string) (follower, followee ProfileStats, err error) {
	if followerID == followeeID {
		return follower, followee, ErrSelfFollow
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUserExists(tx, followeeID); err != nil {
			return err
		}

		var existing models.FollowModel
		err := tx.Where("follower_id = ? AND followee_id = ?", followerID, followeeID).First(&existing).Error
		if err == nil {
			return ErrAlreadyFollowing
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// two in-flight follows for the same pair can both pass the existence
		// check; the loser hits the unique pair index and is the same
		// duplicate as far as the caller is concerned
		if err := tx.Create(&models.FollowModel{FollowerID: followerID, FolloweeID: followeeID}).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrAlreadyFollowing
			}
			return err
		}

		follower, followee, err = recountFollowPair(tx, followerID, followeeID)
		return err
	})
	if err != nil {
		return follower, followee, err
	}

	s.publishProfileStats(follower)
	s.publishProfileStats(followee)
	return follower, followee, nil
}

// Unfollow removes follower→followee. Removing an absent membership is
// rejected as ErrNotFollowing.
func (s *Service) Unfollow(ctx context.Context, followerID, followeeID string) (follower, followee ProfileStats, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// membership rows are removed outright so the unique pair index
		// accepts a later re-follow
		res := tx.Unscoped().Where("follower_id = ? AND followee_id = ?", followerID, followeeID).
			Delete(&models.FollowModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFollowing
		}

		follower, followee, err = recountFollowPair(tx, followerID, followeeID)
		return err
	})
	if err != nil {
		return follower, followee, err
	}

	s.publishProfileStats(follower)
	s.publishProfileStats(followee)
	return follower, followee, nil
}

// Like records user→video, returning the video's recounted stats.
func (s *Service) Like(ctx context.Context, userID, videoID string) (VideoStats, error) {
	return s.mutateVideoMembership(ctx, videoID,
		func(tx *gorm.DB) error {
			var existing models.LikeModel
			err := tx.Where("user_id = ? AND video_id = ?", userID, videoID).First(&existing).Error
			if err == nil {
				return ErrAlreadyLiked
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(&models.LikeModel{UserID: userID, VideoID: videoID}).Error; err != nil {
				if isDuplicateKey(err) {
					return ErrAlreadyLiked
				}
				return err
			}
			return nil
		})
}

// Unlike removes user→video.
func (s *Service) Unlike(ctx context.Context, userID, videoID string) (VideoStats, error) {
	return s.mutateVideoMembership(ctx, videoID,
		func(tx *gorm.DB) error {
			res := tx.Unscoped().Where("user_id = ? AND video_id = ?", userID, videoID).Delete(&models.LikeModel{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotLiked
			}
			return nil
		})
}

// Save records a user saving a video to their collection.
func (s *Service) Save(ctx context.Context, userID, videoID string) (VideoStats, error) {
	return s.mutateVideoMembership(ctx, videoID,
		func(tx *gorm.DB) error {
			var existing models.SaveModel
			err := tx.Where("user_id = ? AND video_id = ?", userID, videoID).First(&existing).Error
			if err == nil {
				return ErrAlreadySaved
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(&models.SaveModel{UserID: userID, VideoID: videoID}).Error; err != nil {
				if isDuplicateKey(err) {
					return ErrAlreadySaved
				}
				return err
			}
			return nil
		})
}

// Unsave removes a saved video.
func (s *Service) Unsave(ctx context.Context, userID, videoID string) (VideoStats, error) {
	return s.mutateVideoMembership(ctx, videoID,
		func(tx *gorm.DB) error {
			res := tx.Unscoped().Where("user_id = ? AND video_id = ?", userID, videoID).Delete(&models.SaveModel{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotSaved
			}
			return nil
		})
}

// ProfileStatsOf recounts and returns the followers/following pair for uid.
func (s *Service) ProfileStatsOf(ctx context.Context, uid string) (ProfileStats, error) {
	var stats ProfileStats
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		stats, err = recountProfile(tx, uid)
		return err
	})
	return stats, err
}

// mutateVideoMembership runs mutate inside a transaction, recounts the
// video's like/save counters from the membership tables and persists them.
// The republish happens after commit; a failed broadcast never rolls the
// committed update back.
func (s *Service) mutateVideoMembership(ctx context.Context, videoID string, mutate func(tx *gorm.DB) error) (VideoStats, error) {
	var (
		stats   VideoStats
		ownerID string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var video models.VideoModel
		if err := tx.Select("id, author_id").First(&video, "id = ?", videoID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		ownerID = video.AuthorID

		if err := mutate(tx); err != nil {
			return err
		}

		var err error
		stats, err = recountVideo(tx, videoID)
		return err
	})
	if err != nil {
		return stats, err
	}

	s.publishVideoStats(stats, ownerID)
	return stats, nil
}

func (s *Service) publishProfileStats(stats ProfileStats) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(topics.Profile(stats.UID), topics.EventProfileStatsUpdate, stats)
	s.pub.PublishToUser(stats.UID, topics.EventProfileStatsUpdate, stats)
}

func (s *Service) publishVideoStats(stats VideoStats, ownerID string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(topics.Video(stats.ContentID), topics.EventVideoStatsUpdate, stats)
	if ownerID != "" {
		s.pub.PublishToUser(ownerID, topics.EventVideoStatsUpdate, stats)
	}
}

// recountFollowPair recomputes both sides of a follow mutation and writes the
// cached columns.
func recountFollowPair(tx *gorm.DB, followerID, followeeID string) (follower, followee ProfileStats, err error) {
	follower, err = recountProfile(tx, followerID)
	if err != nil {
		return
	}
	followee, err = recountProfile(tx, followeeID)
	return
}

func recountProfile(tx *gorm.DB, uid string) (ProfileStats, error) {
	stats := ProfileStats{UID: uid}
	if err := tx.Model(&models.FollowModel{}).Where("followee_id = ?", uid).Count(&stats.FollowersCount).Error; err != nil {
		return stats, err
	}
	if err := tx.Model(&models.FollowModel{}).Where("follower_id = ?", uid).Count(&stats.FollowingCount).Error; err != nil {
		return stats, err
	}
	err := tx.Model(&models.UserModel{}).Where("id = ?", uid).UpdateColumns(map[string]interface{}{
		"followers_count": stats.FollowersCount,
		"following_count": stats.FollowingCount,
	}).Error
	return stats, err
}

func recountVideo(tx *gorm.DB, videoID string) (VideoStats, error) {
	stats := VideoStats{ContentID: videoID}
	if err := tx.Model(&models.LikeModel{}).Where("video_id = ?", videoID).Count(&stats.LikeCount).Error; err != nil {
		return stats, err
	}
	if err := tx.Model(&models.SaveModel{}).Where("video_id = ?", videoID).Count(&stats.SaveCount).Error; err != nil {
		return stats, err
	}
	err := tx.Model(&models.VideoModel{}).Where("id = ?", videoID).UpdateColumns(map[string]interface{}{
		"like_count": stats.LikeCount,
		"save_count": stats.SaveCount,
	}).Error
	return stats, err
}

func ensureUserExists(tx *gorm.DB, uid string) error {
	var n int64
	if err := tx.Model(&models.UserModel{}).Where("id = ?", uid).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, uid)
	}
	return nil
}
