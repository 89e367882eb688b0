// Package topics defines the broadcast topic families and the outbound event
// vocabulary shared by the gateway and the services that publish through it.
package topics

// Topic families. A topic exists only while at least one connection is
// subscribed; there is no lifecycle beyond subscribe/unsubscribe bookkeeping.
const (
	prefixUser    = "user:"
	prefixVideo   = "video:"
	prefixProfile = "profile:"
)

// User returns the private topic of one identity.
func User(uid string) string { return prefixUser + uid }

// Video returns the public topic of one piece of content.
func Video(videoID string) string { return prefixVideo + videoID }

// Profile returns the public topic of one profile page.
func Profile(uid string) string { return prefixProfile + uid }

// Outbound event names.
const (
	EventViewersUpdate      = "viewers:update"
	EventViewsUpdate        = "views:update"
	EventTypingUsers        = "comment:typing:users"
	EventNotificationNew    = "notification:new"
	EventProfileStatsUpdate = "profile:stats:update"
	EventVideoStatsUpdate   = "video:stats:update"
)

// Publisher is the fan-out contract the realtime services publish through.
// Delivery is best-effort and fire-and-forget; consumers must treat every
// event as a latest-known-value update, not a delta.
type Publisher interface {
	Publish(topic, event string, payload interface{})
	PublishToUser(uid, event string, payload interface{})
}
