package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/counter"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/modules/realtime/topics"
	"github.com/reelspace/core/internal/modules/realtime/views"
	"github.com/reelspace/core/internal/pkg/pagination"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// dispatch is the single entry point for client intents. Rejections go back
// to the originating socket only; topic subscribers never see another
// connection's errors.
func (h *Hub) dispatch(client *socketio.Socket, identity Identity, msg inboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Type {
	case intentJoinContent:
		h.handleJoinContent(ctx, client, identity, msg)
	case intentLeaveContent:
		h.handleLeaveContent(client, identity, msg)
	case intentStartTyping:
		h.handleTyping(client, identity, msg, true)
	case intentStopTyping:
		h.handleTyping(client, identity, msg, false)
	case intentFollow:
		h.handleFollow(ctx, client, identity, msg, true)
	case intentUnfollow:
		h.handleFollow(ctx, client, identity, msg, false)
	case intentLike:
		h.handleVideoReaction(ctx, client, identity, msg, intentLike)
	case intentUnlike:
		h.handleVideoReaction(ctx, client, identity, msg, intentUnlike)
	case intentSave:
		h.handleVideoReaction(ctx, client, identity, msg, intentSave)
	case intentUnsave:
		h.handleVideoReaction(ctx, client, identity, msg, intentUnsave)
	case intentHeartbeat:
		h.handleHeartbeat(ctx, client, identity, msg)
	case intentRegisterViewer:
		h.handleRegisterViewer(client, identity, msg, true)
	case intentDeregisterViewer:
		h.handleRegisterViewer(client, identity, msg, false)
	case intentProfileSubscribe:
		h.handleProfileSubscribe(ctx, client, identity, msg, true)
	case intentProfileUnsubscribe:
		h.handleProfileSubscribe(ctx, client, identity, msg, false)
	case intentAppInitialize:
		h.handleAppInitialize(ctx, client, identity, msg)
	default:
		// unknown intents are dropped silently
	}
}

func (h *Hub) handleJoinContent(ctx context.Context, client *socketio.Socket, identity Identity, msg inboundMessage) {
	videoID, ok := contentIDFrom(msg)
	if !ok {
		h.rejectIntent(client, msg.Type, "invalid content id")
		return
	}

	h.Subscribe(client, topics.Video(videoID))
	count := h.deps.Presence.Join(videoID, identity.UID)
	h.Publish(topics.Video(videoID), topics.EventViewersUpdate, viewersPayload(videoID, count))
	h.emitToSocket(client, ackEvent(msg.Type), viewersPayload(videoID, count))

	// view counting is best-effort and deduplicated downstream; a join that
	// races the hourly window just fails to count, it never errors the client
	if h.deps.Analytics != nil {
		go func() {
			trackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, _, err := h.deps.Analytics.TrackView(trackCtx, videoID, identity.UID, 0, false); err != nil && !errors.Is(err, views.ErrVideoNotFound) {
				h.logger.Warn("gateway track view failed", zap.String("video", videoID), zap.Error(err))
			}
		}()
	}
}

func (h *Hub) handleLeaveContent(client *socketio.Socket, identity Identity, msg inboundMessage) {
	videoID, ok := contentIDFrom(msg)
	if !ok {
		h.rejectIntent(client, msg.Type, "invalid content id")
		return
	}

	count := h.deps.Presence.Leave(videoID, identity.UID)
	h.Publish(topics.Video(videoID), topics.EventViewersUpdate, viewersPayload(videoID, count))
	h.Unsubscribe(client, topics.Video(videoID))
	h.emitToSocket(client, ackEvent(msg.Type), viewersPayload(videoID, count))
}

func (h *Hub) handleTyping(client *socketio.Socket, identity Identity, msg inboundMessage, start bool) {
	videoID, ok := contentIDFrom(msg)
	if !ok {
		h.rejectIntent(client, msg.Type, "invalid content id")
		return
	}

	var users []string
	if start {
		users = h.deps.Presence.StartTyping(videoID, identity.UID, identity.DisplayName)
	} else {
		users = h.deps.Presence.StopTyping(videoID, identity.UID)
	}
	h.Publish(topics.Video(videoID), topics.EventTypingUsers, typingPayload(videoID, users))
	h.emitToSocket(client, ackEvent(msg.Type), typingPayload(videoID, users))
}

func (h *Hub) handleFollow(ctx context.Context, client *socketio.Socket, identity Identity, msg inboundMessage, follow bool) {
	targetUID := firstNonEmptyString(strFromAny(msg.Payload["uid"]), strFromAny(msg.Payload["userId"]))
	if !validID(targetUID) {
		h.rejectIntent(client, msg.Type, "invalid user id")
		return
	}

	var (
		follower counter.ProfileStats
		followee counter.ProfileStats
		err      error
	)
	if follow {
		follower, followee, err = h.deps.Counter.Follow(ctx, identity.UID, targetUID)
	} else {
		follower, followee, err = h.deps.Counter.Unfollow(ctx, identity.UID, targetUID)
	}
	if err != nil {
		h.rejectIntent(client, msg.Type, rejectionMessage(err))
		return
	}

	h.emitToSocket(client, ackEvent(msg.Type), map[string]interface{}{
		"follower": follower,
		"followee": followee,
	})

	if follow && h.deps.Notify != nil {
		if err := h.deps.Notify.Dispatch(ctx, models.NotificationTypeFollow, actorOf(identity), targetUID, identity.UID); err != nil {
			h.logger.Warn("gateway follow notification failed", zap.String("recipient", targetUID), zap.Error(err))
		}
	}
}

func (h *Hub) handleVideoReaction(ctx context.Context, client *socketio.Socket, identity Identity, msg inboundMessage, intent string) {
	videoID, ok := contentIDFrom(msg)
	if !ok {
		h.rejectIntent(client, intent, "invalid content id")
		return
	}

	var (
		stats counter.VideoStats
		err   error
	)
	switch intent {
	case intentLike:
		stats, err = h.deps.Counter.Like(ctx, identity.UID, videoID)
	case intentUnlike:
		stats, err = h.deps.Counter.Unlike(ctx, identity.UID, videoID)
	case intentSave:
		stats, err = h.deps.Counter.Save(ctx, identity.UID, videoID)
	case intentUnsave:
		stats, err = h.deps.Counter.Unsave(ctx, identity.UID, videoID)
	}
	if err != nil {
		h.rejectIntent(client, intent, rejectionMessage(err))
		return
	}

	h.emitToSocket(client, ackEvent(intent), stats)

	if h.deps.Notify == nil || (intent != intentLike && intent != intentSave) {
		return
	}
	notifType := models.NotificationTypeLike
	if intent == intentSave {
		notifType = models.NotificationTypeSave
	}
	var video models.VideoModel
	if err := h.deps.DB.WithContext(ctx).Select("author_id").Where("id = ?", videoID).First(&video).Error; err != nil {
		return
	}
	if err := h.deps.Notify.Dispatch(ctx, notifType, actorOf(identity), video.AuthorID, videoID); err != nil {
		h.logger.Warn("gateway reaction notification failed", zap.String("video", videoID), zap.Error(err))
	}
}

func (h *Hub) handleHeartbeat(ctx context.Context, client *socketio.Socket, identity Identity, msg inboundMessage) {
	videoID, ok := contentIDFrom(msg)
	if !ok {
		h.rejectIntent(client, msg.Type, "invalid content id")
		return
	}
	if h.deps.Batcher != nil {
		h.deps.Batcher.Touch(videoID, identity.UID)
	}

	// a heartbeat that carries watch progress also feeds the analytic record
	watchSeconds := floatFromAny(msg.Payload["watchSeconds"])
	completed := boolFromAny(msg.Payload["completed"])
	if h.deps.Analytics != nil && (watchSeconds > 0 || completed) {
		if _, _, err := h.deps.Analytics.TrackView(ctx, videoID, identity.UID, watchSeconds, completed); err != nil && !errors.Is(err, views.ErrVideoNotFound) {
			h.logger.Warn("gateway heartbeat track view failed", zap.String("video", videoID), zap.Error(err))
		}
	}
}

func (h *Hub) handleRegisterViewer(client *socketio.Socket, identity Identity, msg inboundMessage, register bool) {
	videoID, ok := contentIDFrom(msg)
	if !ok {
		h.rejectIntent(client, msg.Type, "invalid content id")
		return
	}
	if h.deps.Batcher == nil {
		return
	}
	if register {
		h.deps.Batcher.Touch(videoID, identity.UID)
	} else {
		h.deps.Batcher.Deactivate(videoID, identity.UID)
	}
	h.emitToSocket(client, ackEvent(msg.Type), map[string]interface{}{"contentId": videoID})
}

func (h *Hub) handleProfileSubscribe(ctx context.Context, client *socketio.Socket, identity Identity, msg inboundMessage, subscribe bool) {
	uid := firstNonEmptyString(strFromAny(msg.Payload["uid"]), strFromAny(msg.Payload["userId"]))
	if !validID(uid) {
		h.rejectIntent(client, msg.Type, "invalid user id")
		return
	}

	if !subscribe {
		h.Unsubscribe(client, topics.Profile(uid))
		h.emitToSocket(client, ackEvent(msg.Type), map[string]interface{}{"uid": uid})
		return
	}

	stats, err := h.deps.Counter.ProfileStatsOf(ctx, uid)
	if err != nil {
		h.rejectIntent(client, msg.Type, rejectionMessage(err))
		return
	}
	h.Subscribe(client, topics.Profile(uid))
	h.emitToSocket(client, ackEvent(msg.Type), stats)
}

// handleAppInitialize answers with the snapshot a client needs on boot:
// its profile counters, unread notification count, and a page of recent
// notifications.
func (h *Hub) handleAppInitialize(ctx context.Context, client *socketio.Socket, identity Identity, msg inboundMessage) {
	snapshot, err := h.appSnapshot(ctx, identity, msg)
	if err != nil {
		h.rejectIntent(client, msg.Type, rejectionMessage(err))
		return
	}
	h.emitToSocket(client, ackEvent(msg.Type), snapshot)
}

// appSnapshot assembles the boot payload. An empty or partial payload falls
// back to the default notification page; a raw zero must never reach the
// query as LIMIT 0.
func (h *Hub) appSnapshot(ctx context.Context, identity Identity, msg inboundMessage) (map[string]interface{}, error) {
	q := pagination.Normalize(intFromAny(msg.Payload["page"]), intFromAny(msg.Payload["size"]))

	stats, err := h.deps.Counter.ProfileStatsOf(ctx, identity.UID)
	if err != nil {
		return nil, err
	}
	unread, err := h.deps.Notify.UnreadCount(ctx, identity.UID)
	if err != nil {
		return nil, err
	}
	notifications, total, err := h.deps.Notify.List(ctx, identity.UID, q.Page, q.Size)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"identity":      identity,
		"profile":       stats,
		"unreadCount":   unread,
		"notifications": notifications,
		"total":         total,
	}, nil
}

func (h *Hub) rejectIntent(client *socketio.Socket, intent, reason string) {
	h.emitToSocket(client, errorEvent(intent), map[string]interface{}{"message": reason})
}

func rejectionMessage(err error) string {
	switch {
	case errors.Is(err, counter.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return "not found"
	case errors.Is(err, counter.ErrSelfFollow):
		return "cannot follow yourself"
	case errors.Is(err, counter.ErrAlreadyFollowing):
		return "already following"
	case errors.Is(err, counter.ErrNotFollowing):
		return "not following"
	case errors.Is(err, counter.ErrAlreadyLiked):
		return "already liked"
	case errors.Is(err, counter.ErrNotLiked):
		return "not liked"
	case errors.Is(err, counter.ErrAlreadySaved):
		return "already saved"
	case errors.Is(err, counter.ErrNotSaved):
		return "not saved"
	default:
		return "internal error"
	}
}

func contentIDFrom(msg inboundMessage) (string, bool) {
	id := firstNonEmptyString(
		strFromAny(msg.Payload["contentId"]),
		strFromAny(msg.Payload["videoId"]),
		strFromAny(msg.Payload["content_id"]),
	)
	if !validID(id) {
		return "", false
	}
	return id, true
}

func validID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func actorOf(identity Identity) notify.Actor {
	return notify.Actor{ID: identity.UID, DisplayName: identity.DisplayName, Avatar: identity.Avatar}
}

func viewersPayload(videoID string, count int) map[string]interface{} {
	return map[string]interface{}{"contentId": videoID, "count": count}
}

func typingPayload(videoID string, users []string) map[string]interface{} {
	return map[string]interface{}{"contentId": videoID, "users": users}
}
