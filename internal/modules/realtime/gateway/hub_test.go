package gateway

import (
	"sort"
	"sync"
	"testing"

	"github.com/reelspace/core/internal/modules/realtime/topics"
	"go.uber.org/zap"
)

type emitRecorder struct {
	mu     sync.Mutex
	events []recordedEmit
}

type recordedEmit struct {
	topic string
	event string
}

func (r *emitRecorder) record(topic, event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEmit{topic: topic, event: event})
}

func (r *emitRecorder) topicsFor(event string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e.topic)
		}
	}
	sort.Strings(out)
	return out
}

func newTestHub(t *testing.T) (*Hub, *emitRecorder) {
	t.Helper()
	h := NewHub(nil, zap.NewNop(), Deps{})
	rec := &emitRecorder{}
	h.emitTopic = rec.record
	return h, rec
}

func TestHubSessionSupersede(t *testing.T) {
	h, _ := newTestHub(t)
	identity := Identity{UID: "u1", Username: "alice"}

	h.registerSession(sessionEvent{sid: "s1", identity: identity})
	if !h.IsReachable("u1") {
		t.Fatal("u1 should be reachable after register")
	}
	if got := h.SessionCount(); got != 1 {
		t.Fatalf("SessionCount = %d, want 1", got)
	}

	// a second connection for the same identity takes over the mapping
	h.registerSession(sessionEvent{sid: "s2", identity: identity})
	if got := h.SessionCount(); got != 1 {
		t.Fatalf("SessionCount after supersede = %d, want 1", got)
	}
	if id, ok := h.IdentityOf("s2"); !ok || id.UID != "u1" {
		t.Fatalf("IdentityOf(s2) = %+v, %v", id, ok)
	}

	// the older connection's disconnect must not tear down the newer mapping
	h.unregisterSession(sessionEvent{sid: "s1", identity: identity})
	if !h.IsReachable("u1") {
		t.Fatal("u1 should still be reachable through s2")
	}

	h.unregisterSession(sessionEvent{sid: "s2", identity: identity})
	if h.IsReachable("u1") {
		t.Fatal("u1 should be unreachable after final disconnect")
	}
}

func TestHubTopicBookkeeping(t *testing.T) {
	h, _ := newTestHub(t)
	h.registerSession(sessionEvent{sid: "s1", identity: Identity{UID: "u1"}})
	h.registerSession(sessionEvent{sid: "s2", identity: Identity{UID: "u2"}})

	topic := topics.Video("11111111-1111-1111-1111-111111111111")

	h.mu.Lock()
	h.addTopicLocked("s1", topic)
	h.addTopicLocked("s1", topic) // duplicate join is a no-op
	h.addTopicLocked("s2", topic)
	h.mu.Unlock()

	if got := h.TopicSubscribers(topic); got != 2 {
		t.Fatalf("TopicSubscribers = %d, want 2", got)
	}

	h.mu.Lock()
	h.dropTopicLocked("s1", topic)
	h.dropTopicLocked("s1", topic) // leaving twice must not go negative
	h.mu.Unlock()

	if got := h.TopicSubscribers(topic); got != 1 {
		t.Fatalf("TopicSubscribers after leave = %d, want 1", got)
	}

	// disconnect sweeps every remaining subscription
	h.unregisterSession(sessionEvent{sid: "s2", identity: Identity{UID: "u2"}})
	if got := h.TopicSubscribers(topic); got != 0 {
		t.Fatalf("TopicSubscribers after disconnect = %d, want 0", got)
	}
	h.mu.RLock()
	_, lingering := h.topicCount[topic]
	h.mu.RUnlock()
	if lingering {
		t.Fatal("empty topic should be dropped from the count map")
	}
}

func TestHubPublishToUser(t *testing.T) {
	h, rec := newTestHub(t)
	h.registerSession(sessionEvent{sid: "s1", identity: Identity{UID: "u1"}})

	h.emitTopic(topics.User("u1"), topics.EventNotificationNew, map[string]interface{}{"id": "n1"})

	got := rec.topicsFor(topics.EventNotificationNew)
	if len(got) != 1 || got[0] != topics.User("u1") {
		t.Fatalf("notification topics = %v, want [%s]", got, topics.User("u1"))
	}
}

func TestParseInboundMessage(t *testing.T) {
	t.Run("map payload", func(t *testing.T) {
		msg, ok := parseInboundMessage(map[string]interface{}{
			"type":    "join-content",
			"payload": map[string]interface{}{"contentId": "c1"},
		})
		if !ok {
			t.Fatal("expected parse to succeed")
		}
		if msg.Type != "join-content" || strFromAny(msg.Payload["contentId"]) != "c1" {
			t.Fatalf("unexpected message: %+v", msg)
		}
	})

	t.Run("json string", func(t *testing.T) {
		msg, ok := parseInboundMessage(`{"type":"heartbeat","payload":{"watchSeconds":12}}`)
		if !ok {
			t.Fatal("expected parse to succeed")
		}
		if msg.Type != "heartbeat" || intFromAny(msg.Payload["watchSeconds"]) != 12 {
			t.Fatalf("unexpected message: %+v", msg)
		}
	})

	t.Run("missing type dropped", func(t *testing.T) {
		if _, ok := parseInboundMessage(map[string]interface{}{"payload": map[string]interface{}{}}); ok {
			t.Fatal("typeless frame should be rejected")
		}
	})

	t.Run("garbage dropped", func(t *testing.T) {
		if _, ok := parseInboundMessage("{not json"); ok {
			t.Fatal("unparseable frame should be rejected")
		}
		if _, ok := parseInboundMessage(); ok {
			t.Fatal("empty args should be rejected")
		}
	})

	t.Run("nil payload normalized", func(t *testing.T) {
		msg, ok := parseInboundMessage(map[string]interface{}{"type": "app-initialize"})
		if !ok {
			t.Fatal("expected parse to succeed")
		}
		if msg.Payload == nil {
			t.Fatal("payload should never be nil after parse")
		}
	})
}

func TestFloatFromAny(t *testing.T) {
	// fractional watch progress must survive the decode untruncated
	msg, ok := parseInboundMessage(`{"type":"heartbeat","payload":{"watchSeconds":12.5}}`)
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if got := floatFromAny(msg.Payload["watchSeconds"]); got != 12.5 {
		t.Fatalf("watchSeconds = %v, want 12.5", got)
	}

	if got := floatFromAny(7); got != 7 {
		t.Fatalf("int widening = %v, want 7", got)
	}
	if got := floatFromAny("12.5"); got != 0 {
		t.Fatalf("string input = %v, want 0", got)
	}
	if got := floatFromAny(nil); got != 0 {
		t.Fatalf("nil input = %v, want 0", got)
	}
}

func TestValidID(t *testing.T) {
	if validID("") {
		t.Fatal("empty id must be invalid")
	}
	if validID("not-a-uuid") {
		t.Fatal("malformed id must be invalid")
	}
	if !validID("11111111-1111-1111-1111-111111111111") {
		t.Fatal("well-formed uuid must be valid")
	}
}
