package gateway

import (
	"encoding/json"
	"strings"

	socketio "github.com/zishang520/socket.io/v2/socket"
)

type inboundMessage struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// parseInboundMessage accepts whatever shape the socket.io codec hands us and
// normalizes it into (intent, payload). Unparseable or typeless frames are
// dropped without an error reply.
func parseInboundMessage(args ...any) (inboundMessage, bool) {
	if len(args) == 0 || args[0] == nil {
		return inboundMessage{}, false
	}

	var msg inboundMessage
	switch raw := args[0].(type) {
	case inboundMessage:
		msg = raw
	case map[string]interface{}:
		msg.Type = strFromAny(raw["type"])
		msg.Payload = mapFromAny(raw["payload"])
	case string:
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return inboundMessage{}, false
		}
	case []byte:
		if err := json.Unmarshal(raw, &msg); err != nil {
			return inboundMessage{}, false
		}
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return inboundMessage{}, false
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return inboundMessage{}, false
		}
	}

	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return inboundMessage{}, false
	}
	if msg.Payload == nil {
		msg.Payload = map[string]interface{}{}
	}
	return msg, true
}

func mapFromAny(v interface{}) map[string]interface{} {
	switch typed := v.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return typed
	default:
		data, err := json.Marshal(typed)
		if err != nil {
			return map[string]interface{}{}
		}
		out := map[string]interface{}{}
		if err := json.Unmarshal(data, &out); err != nil {
			return map[string]interface{}{}
		}
		return out
	}
}

func strFromAny(v interface{}) string {
	switch typed := v.(type) {
	case string:
		return strings.TrimSpace(typed)
	default:
		return ""
	}
}

func intFromAny(v interface{}) int {
	switch typed := v.(type) {
	case float64:
		return int(typed)
	case int:
		return typed
	case int64:
		return int(typed)
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return int(n)
		}
		return 0
	case string:
		return 0
	default:
		return 0
	}
}

// floatFromAny keeps fractional values intact; watch progress is reported in
// fractional seconds and must not be truncated on the way to its column.
func floatFromAny(v interface{}) float64 {
	switch typed := v.(type) {
	case float64:
		return typed
	case float32:
		return float64(typed)
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case json.Number:
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

func boolFromAny(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

// emitToSocket sends a reply to exactly one connection, outside any topic.
func (h *Hub) emitToSocket(client *socketio.Socket, event string, payload interface{}) {
	_ = client.Emit("message", gatewayPayload{Type: event, Data: payload})
}

func ackEvent(intent string) string   { return intent + ":ack" }
func errorEvent(intent string) string { return intent + ":error" }
