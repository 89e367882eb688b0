package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/reelspace/core/internal/modules/realtime/topics"
	pkgredis "github.com/reelspace/core/internal/pkg/redis"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

func NewHub(rc *pkgredis.Client, logger *zap.Logger, deps Deps) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	sio := socketio.NewServer(nil, nil)
	h := &Hub{
		sessions:   make(map[string]string),
		sidUser:    make(map[string]Identity),
		sockets:    make(map[string]*socketio.Socket),
		sidTopics:  make(map[string]map[string]struct{}),
		topicCount: make(map[string]int),
		broadcast:  make(chan Message, 256),
		rc:         rc,
		logger:     logger,
		sio:        sio,
		deps:       deps,
	}
	h.emitTopic = func(topic, event string, payload interface{}) {
		h.sio.Of(namespaceApp, nil).To(socketio.Room(topic)).Emit("message", gatewayPayload{Type: event, Data: payload})
	}
	h.registerNamespace()
	return h
}

// SetDeps installs the service dependencies. The services publish through
// the hub, so they are constructed after it; call this before Run.
func (h *Hub) SetDeps(deps Deps) {
	h.deps = deps
}

// Run drains the broadcast queue so publishes from this process stay ordered.
// Session registration and removal happen synchronously on the connection
// handlers; a connect immediately followed by a disconnect must never leave a
// mapping behind, so those paths go straight through the mutex instead of a
// queue.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.sio.Close(nil)
			return

		case msg := <-h.broadcast:
			h.emitTopic(msg.Topic, msg.Event, msg.Payload)
		}
	}
}

// registerSession stores the uid→sid mapping. A newer connection for the same
// identity silently supersedes the mapping; the older transport is left open
// but removed from the private topic so user events reach one socket only.
func (h *Hub) registerSession(ev sessionEvent) {
	uid := ev.identity.UID

	h.mu.Lock()
	if oldSID, ok := h.sessions[uid]; ok && oldSID != ev.sid {
		if oldSocket, live := h.sockets[oldSID]; live && oldSocket != nil {
			oldSocket.Leave(socketio.Room(topics.User(uid)))
		}
		h.dropTopicLocked(oldSID, topics.User(uid))
	}
	h.sessions[uid] = ev.sid
	h.sidUser[ev.sid] = ev.identity
	h.sockets[ev.sid] = ev.socket
	h.addTopicLocked(ev.sid, topics.User(uid))
	online := len(h.sessions)
	h.mu.Unlock()

	h.updateDailyOnlineStats(online)
}

// unregisterSession clears all in-memory state for a disconnected socket and
// reports whether the sid still owned the uid mapping. The mapping is removed
// only if it still points at this sid, so a superseding connection is not torn
// down by its predecessor's disconnect, and the predecessor's disconnect must
// not run the owner-only cleanup either.
func (h *Hub) unregisterSession(ev sessionEvent) bool {
	h.mu.Lock()
	identity, ok := h.sidUser[ev.sid]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delete(h.sidUser, ev.sid)
	delete(h.sockets, ev.sid)
	for topic := range h.sidTopics[ev.sid] {
		if h.topicCount[topic] > 0 {
			h.topicCount[topic]--
		}
		if h.topicCount[topic] == 0 {
			delete(h.topicCount, topic)
		}
	}
	delete(h.sidTopics, ev.sid)
	owned := h.sessions[identity.UID] == ev.sid
	if owned {
		delete(h.sessions, identity.UID)
	}
	h.mu.Unlock()
	return owned
}

// Subscribe joins the socket to a topic and records the bookkeeping.
func (h *Hub) Subscribe(client *socketio.Socket, topic string) {
	client.Join(socketio.Room(topic))
	h.mu.Lock()
	h.addTopicLocked(string(client.Id()), topic)
	h.mu.Unlock()
}

// Unsubscribe leaves a topic. Leaving a topic the socket never joined is a
// no-op.
func (h *Hub) Unsubscribe(client *socketio.Socket, topic string) {
	client.Leave(socketio.Room(topic))
	h.mu.Lock()
	h.dropTopicLocked(string(client.Id()), topic)
	h.mu.Unlock()
}

func (h *Hub) addTopicLocked(sid, topic string) {
	set, ok := h.sidTopics[sid]
	if !ok {
		set = make(map[string]struct{})
		h.sidTopics[sid] = set
	}
	if _, joined := set[topic]; joined {
		return
	}
	set[topic] = struct{}{}
	h.topicCount[topic]++
}

func (h *Hub) dropTopicLocked(sid, topic string) {
	set, ok := h.sidTopics[sid]
	if !ok {
		return
	}
	if _, joined := set[topic]; !joined {
		return
	}
	delete(set, topic)
	if h.topicCount[topic] > 0 {
		h.topicCount[topic]--
	}
	if h.topicCount[topic] == 0 {
		delete(h.topicCount, topic)
	}
}

// Publish sends an event to every connection subscribed to topic,
// best-effort and fire-and-forget, ordered with respect to other publishes
// from this process.
func (h *Hub) Publish(topic, event string, payload interface{}) {
	h.broadcast <- Message{Topic: topic, Event: event, Payload: payload}
}

// PublishToUser sends an event to the identity's private topic.
func (h *Hub) PublishToUser(uid, event string, payload interface{}) {
	h.Publish(topics.User(uid), event, payload)
}

// IsReachable reports whether the identity has a live registered connection.
func (h *Hub) IsReachable(uid string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[uid]
	return ok
}

// IdentityOf returns the verified identity attached to a socket id.
func (h *Hub) IdentityOf(sid string) (Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.sidUser[sid]
	return id, ok
}

// TopicSubscribers returns the number of connections subscribed to topic.
func (h *Hub) TopicSubscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.topicCount[topic]
}

// SessionCount returns the number of distinct identities online.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}

func (h *Hub) updateDailyOnlineStats(currentOnline int) {
	if h.rc == nil || currentOnline < 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dateKey := shortDateKey(time.Now())

	maxOnline := 0
	currentMax, err := h.rc.Raw().HGet(ctx, redisKeyMaxOnlineCount, dateKey).Result()
	switch {
	case err == nil:
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(currentMax)); parseErr == nil {
			maxOnline = parsed
		}
	case err == redis.Nil:
		// no-op
	default:
		h.logger.Warn("gateway get max online failed", zap.Error(err))
	}

	if currentOnline > maxOnline {
		if err := h.rc.Raw().HSet(ctx, redisKeyMaxOnlineCount, dateKey, currentOnline).Err(); err != nil {
			h.logger.Warn("gateway set max online failed", zap.Error(err))
		}
	}

	if err := h.rc.Raw().HIncrBy(ctx, redisKeyMaxOnlineCountTotal, dateKey, 1).Err(); err != nil {
		h.logger.Warn("gateway incr online total failed", zap.Error(err))
	}
}

func shortDateKey(t time.Time) string {
	return t.Format("1-2-06")
}
