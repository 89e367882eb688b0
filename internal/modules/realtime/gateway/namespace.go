package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/reelspace/core/internal/middleware"
	"github.com/reelspace/core/internal/models"
	"github.com/reelspace/core/internal/modules/realtime/topics"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

func (h *Hub) registerNamespace() {
	appNS := h.sio.Of(namespaceApp, nil)
	_ = appNS.On("connection", func(args ...any) {
		client, ok := args[0].(*socketio.Socket)
		if !ok {
			return
		}

		identity, ok := h.authenticate(client)
		if !ok {
			_ = client.Emit("message", gatewayPayload{Type: "AUTH_FAILED", Data: "auth failed"})
			client.Disconnect(true)
			return
		}

		sid := string(client.Id())
		client.Join(socketio.Room(topics.User(identity.UID)))
		h.registerSession(sessionEvent{sid: sid, identity: identity, socket: client})
		_ = client.Emit("message", gatewayPayload{Type: "GATEWAY_CONNECT", Data: "WebSocket connected"})

		_ = client.On("message", func(eventArgs ...any) {
			msg, ok := parseInboundMessage(eventArgs...)
			if !ok {
				return
			}
			h.dispatch(client, identity, msg)
		})

		_ = client.On("disconnect", func(_ ...any) {
			h.handleDisconnect(sid, identity)
		})
	})
}

// authenticate resolves the handshake token into a verified identity. Display
// fields come from the users table; a token whose subject no longer exists is
// rejected the same way as a bad signature.
func (h *Hub) authenticate(client *socketio.Socket) (Identity, bool) {
	uid, err := middleware.ValidateToken(extractToken(client))
	if err != nil || uid == "" {
		return Identity{}, false
	}

	var user models.UserModel
	if err := h.deps.DB.Where("id = ?", uid).First(&user).Error; err != nil {
		return Identity{}, false
	}
	return Identity{
		UID:         user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Avatar:      user.Avatar,
	}, true
}

// handleDisconnect runs all in-memory cleanup synchronously, registry removal
// first, then leaves the slow persisted cleanup (last seen, watch session
// deactivation) to a goroutine. A superseded connection's disconnect only
// clears its own socket state; the identity's presence belongs to the newer
// connection and must survive.
func (h *Hub) handleDisconnect(sid string, identity Identity) {
	if !h.unregisterSession(sessionEvent{sid: sid, identity: identity}) {
		return
	}

	viewerVideos, typingVideos := h.deps.Presence.DisconnectAll(identity.UID)
	for _, videoID := range viewerVideos {
		h.Publish(topics.Video(videoID), topics.EventViewersUpdate, viewersPayload(videoID, h.deps.Presence.ViewerCount(videoID)))
	}
	for _, videoID := range typingVideos {
		h.Publish(topics.Video(videoID), topics.EventTypingUsers, typingPayload(videoID, h.deps.Presence.TypingUsers(videoID)))
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		now := time.Now()
		if err := h.deps.DB.WithContext(ctx).Model(&models.UserModel{}).
			Where("id = ?", identity.UID).
			UpdateColumn("last_seen_at", now).Error; err != nil {
			h.logger.Warn("gateway persist last seen failed", zap.String("uid", identity.UID), zap.Error(err))
		}
		if h.deps.Batcher != nil {
			for _, videoID := range viewerVideos {
				h.deps.Batcher.Deactivate(videoID, identity.UID)
			}
		}
	}()
}

func extractToken(client *socketio.Socket) string {
	handshake := client.Handshake()
	if handshake == nil {
		return ""
	}
	if token := firstValueFromMultiMap(handshake.Query, "token"); token != "" {
		return token
	}
	if token := firstValueFromMultiMap(handshake.Headers, "authorization"); token != "" {
		return token
	}
	return ""
}

func firstValueFromMultiMap(values map[string][]string, key string) string {
	if len(values) == 0 {
		return ""
	}
	for k, list := range values {
		if !strings.EqualFold(strings.TrimSpace(k), key) || len(list) == 0 {
			continue
		}
		v := strings.TrimSpace(list[0])
		if v != "" {
			return v
		}
	}
	return ""
}
