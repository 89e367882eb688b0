// Package views holds the two view-tracking pipelines: the batched presence
// heartbeat (watch_sessions) and the hourly-deduplicated analytics records
// (view_records). They have different semantics and are never merged.
package views

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/reelspace/core/internal/models"
	pkgredis "github.com/reelspace/core/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type watchKey struct {
	VideoID string
	UserID  string
}

type watchState struct {
	Active bool
	At     time.Time
}

// Batcher absorbs high-frequency heartbeat signals in memory and flushes them
// to watch_sessions on a fixed interval, one upsert per unique (video, user)
// key. A short-TTL redis read-through cache serves viewer-count queries.
type Batcher struct {
	db         *gorm.DB
	rc         *pkgredis.Client
	logger     *zap.Logger
	interval   time.Duration
	cacheTTL   time.Duration
	staleAfter time.Duration

	mu      sync.Mutex
	pending map[watchKey]watchState
}

func NewBatcher(db *gorm.DB, rc *pkgredis.Client, logger *zap.Logger, interval, cacheTTL, staleAfter time.Duration) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		db:         db,
		rc:         rc,
		logger:     logger,
		interval:   interval,
		cacheTTL:   cacheTTL,
		staleAfter: staleAfter,
		pending:    make(map[watchKey]watchState),
	}
}

// Touch records "uid is still engaged with videoID". Repeated touches within
// one flush window collapse to a single upsert.
func (b *Batcher) Touch(videoID, uid string) {
	b.put(videoID, uid, true)
}

// Deactivate records that uid stopped watching videoID.
func (b *Batcher) Deactivate(videoID, uid string) {
	b.put(videoID, uid, false)
}

func (b *Batcher) put(videoID, uid string, active bool) {
	if videoID == "" || uid == "" {
		return
	}
	b.mu.Lock()
	b.pending[watchKey{VideoID: videoID, UserID: uid}] = watchState{Active: active, At: time.Now()}
	b.mu.Unlock()
}

// PendingLen reports the number of deduplicated keys waiting for the next flush.
func (b *Batcher) PendingLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run drives the flush loop until ctx is cancelled, then attempts one final
// drain.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.Flush(flushCtx); err != nil {
				b.logger.Warn("final heartbeat flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				b.logger.Warn("heartbeat flush failed, batch re-queued", zap.Error(err))
			}
		}
	}
}

// Flush drains the pending set and issues one upsert per unique key. On
// failure the drained batch is merged back for the next interval; entries
// that received a newer signal in the meantime keep the newer state.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.pending
	b.pending = make(map[watchKey]watchState)
	b.mu.Unlock()

	err := b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key, state := range batch {
			row := models.WatchSessionModel{
				VideoID:      key.VideoID,
				UserID:       key.UserID,
				Active:       state.Active,
				LastActiveAt: state.At,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "video_id"}, {Name: "user_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"active":         state.Active,
					"last_active_at": state.At,
					"updated_at":     time.Now(),
				}),
			}).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		b.requeue(batch)
		return err
	}

	b.invalidate(ctx, batch)
	return nil
}

func (b *Batcher) requeue(batch map[watchKey]watchState) {
	b.mu.Lock()
	for key, state := range batch {
		if _, newer := b.pending[key]; !newer {
			b.pending[key] = state
		}
	}
	b.mu.Unlock()
}

func (b *Batcher) invalidate(ctx context.Context, batch map[watchKey]watchState) {
	if b.rc == nil {
		return
	}
	seen := map[string]struct{}{}
	keys := make([]string, 0, len(batch))
	for key := range batch {
		if _, ok := seen[key.VideoID]; ok {
			continue
		}
		seen[key.VideoID] = struct{}{}
		keys = append(keys, viewerCountKey(key.VideoID))
	}
	if len(keys) == 0 {
		return
	}
	if err := b.rc.Del(ctx, keys...); err != nil {
		b.logger.Warn("viewer cache invalidation failed", zap.Error(err))
	}
}

// LiveViewerCount answers "how many sessions are currently watching videoID"
// from watch_sessions, through the short-TTL cache.
func (b *Batcher) LiveViewerCount(ctx context.Context, videoID string) (int64, error) {
	key := viewerCountKey(videoID)
	if b.rc != nil {
		if cached, err := b.rc.Get(ctx, key); err == nil && cached != "" {
			if n, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
				return n, nil
			}
		}
	}

	var n int64
	cutoff := time.Now().Add(-b.staleAfter)
	if err := b.db.WithContext(ctx).Model(&models.WatchSessionModel{}).
		Where("video_id = ? AND active = ? AND last_active_at > ?", videoID, true, cutoff).
		Count(&n).Error; err != nil {
		return 0, err
	}

	if b.rc != nil {
		if err := b.rc.Set(ctx, key, strconv.FormatInt(n, 10), b.cacheTTL); err != nil {
			b.logger.Warn("viewer cache set failed", zap.Error(err))
		}
	}
	return n, nil
}

// SweepStale marks sessions without a recent heartbeat inactive. Run from the
// scheduler.
func (b *Batcher) SweepStale(ctx context.Context) error {
	cutoff := time.Now().Add(-b.staleAfter)
	return b.db.WithContext(ctx).Model(&models.WatchSessionModel{}).
		Where("active = ? AND last_active_at < ?", true, cutoff).
		UpdateColumn("active", false).Error
}

func viewerCountKey(videoID string) string {
	return fmt.Sprintf("rs:viewers:%s", videoID)
}
