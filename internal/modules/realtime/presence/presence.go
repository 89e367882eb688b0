package presence

import (
	"sort"
	"sync"
)

// Registry owns the in-memory viewer and typing sets, keyed by video id.
// It is constructed once and passed by reference into the gateway; nothing
// outside this package mutates the maps.
type Registry struct {
	mu      sync.Mutex
	viewers map[string]map[string]struct{}
	typing  map[string]map[string]string // uid -> display name
}

func NewRegistry() *Registry {
	return &Registry{
		viewers: make(map[string]map[string]struct{}),
		typing:  make(map[string]map[string]string),
	}
}

// Join adds uid to the viewer set of videoID and returns the new count.
// Joining twice is a no-op for the count.
func (r *Registry) Join(videoID, uid string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.viewers[videoID]
	if !ok {
		room = make(map[string]struct{})
		r.viewers[videoID] = room
	}
	room[uid] = struct{}{}
	return len(room)
}

// Leave removes uid from the viewer set of videoID and returns the new count.
// Removing an absent member is a no-op. Empty sets are dropped so no dangling
// keys accumulate.
func (r *Registry) Leave(videoID, uid string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(videoID, uid)
}

func (r *Registry) leaveLocked(videoID, uid string) int {
	room, ok := r.viewers[videoID]
	if !ok {
		return 0
	}
	delete(room, uid)
	if len(room) == 0 {
		delete(r.viewers, videoID)
		return 0
	}
	return len(room)
}

// ViewerCount returns the current size of the viewer set.
func (r *Registry) ViewerCount(videoID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers[videoID])
}

// StartTyping records uid as composing a comment on videoID and returns the
// current roster of typing display names.
func (r *Registry) StartTyping(videoID, uid, displayName string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.typing[videoID]
	if !ok {
		room = make(map[string]string)
		r.typing[videoID] = room
	}
	room[uid] = displayName
	return typingRosterLocked(room)
}

// StopTyping removes uid from the typing set and returns the remaining roster.
func (r *Registry) StopTyping(videoID, uid string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopTypingLocked(videoID, uid)
}

func (r *Registry) stopTypingLocked(videoID, uid string) []string {
	room, ok := r.typing[videoID]
	if !ok {
		return nil
	}
	delete(room, uid)
	if len(room) == 0 {
		delete(r.typing, videoID)
		return nil
	}
	return typingRosterLocked(room)
}

// TypingUsers returns the current roster of typing display names for videoID.
func (r *Registry) TypingUsers(videoID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return typingRosterLocked(r.typing[videoID])
}

// DisconnectAll removes uid from every viewer and typing set it belongs to.
// It returns the ids of every video whose viewer set or typing set changed,
// so the caller can republish each affected topic. This is the only exhaustive
// sweep; the client cannot be relied on to send explicit leaves.
func (r *Registry) DisconnectAll(uid string) (viewerVideos, typingVideos []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for videoID, room := range r.viewers {
		if _, ok := room[uid]; ok {
			r.leaveLocked(videoID, uid)
			viewerVideos = append(viewerVideos, videoID)
		}
	}
	for videoID, room := range r.typing {
		if _, ok := room[uid]; ok {
			r.stopTypingLocked(videoID, uid)
			typingVideos = append(typingVideos, videoID)
		}
	}
	sort.Strings(viewerVideos)
	sort.Strings(typingVideos)
	return viewerVideos, typingVideos
}

func typingRosterLocked(room map[string]string) []string {
	if len(room) == 0 {
		return nil
	}
	out := make([]string, 0, len(room))
	for _, name := range room {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
