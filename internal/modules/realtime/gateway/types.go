package gateway

import (
	"sync"

	"github.com/reelspace/core/internal/modules/realtime/counter"
	"github.com/reelspace/core/internal/modules/realtime/notify"
	"github.com/reelspace/core/internal/modules/realtime/presence"
	"github.com/reelspace/core/internal/modules/realtime/views"
	pkgredis "github.com/reelspace/core/internal/pkg/redis"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	namespaceApp = "/app"

	redisKeyMaxOnlineCount      = "rs:max_online_count"
	redisKeyMaxOnlineCountTotal = "rs:max_online_count:total"
)

// Inbound intent kinds. The dispatch switch over these is the single entry
// point for client messages; anything else is ignored.
const (
	intentJoinContent        = "join-content"
	intentLeaveContent       = "leave-content"
	intentStartTyping        = "start-typing"
	intentStopTyping         = "stop-typing"
	intentFollow             = "follow"
	intentUnfollow           = "unfollow"
	intentLike               = "like"
	intentUnlike             = "unlike"
	intentSave               = "save"
	intentUnsave             = "unsave"
	intentHeartbeat          = "heartbeat"
	intentRegisterViewer     = "register-viewer"
	intentDeregisterViewer   = "deregister-viewer"
	intentProfileSubscribe   = "profile-subscribe"
	intentProfileUnsubscribe = "profile-unsubscribe"
	intentAppInitialize      = "app-initialize"
)

// Identity is the verified identity attached to a connection at handshake.
// It is immutable for the lifetime of the connection.
type Identity struct {
	UID         string `json:"uid"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// Message is the envelope used by hub broadcasts.
type Message struct {
	Topic   string      `json:"topic,omitempty"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type gatewayPayload struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type sessionEvent struct {
	sid      string
	identity Identity
	socket   *socketio.Socket
}

// Deps are the realtime services the dispatch layer drives.
type Deps struct {
	DB        *gorm.DB
	Presence  *presence.Registry
	Counter   *counter.Service
	Notify    *notify.Service
	Batcher   *views.Batcher
	Analytics *views.Analytics
}

// Hub owns the session registry and the topic broadcaster. It is the only
// holder of connection state; everything is process-local.
type Hub struct {
	mu sync.RWMutex

	sessions   map[string]string           // uid -> sid (newest connection wins)
	sidUser    map[string]Identity         // sid -> verified identity
	sockets    map[string]*socketio.Socket // sid -> live socket
	sidTopics  map[string]map[string]struct{}
	topicCount map[string]int

	broadcast chan Message

	rc     *pkgredis.Client
	logger *zap.Logger
	sio    *socketio.Server
	deps   Deps

	// emitTopic is swappable so hub bookkeeping is testable without a
	// listening socket.io server.
	emitTopic func(topic, event string, payload interface{})
}
