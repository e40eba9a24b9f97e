package ws

import (
	"sync"
	"time"
)

// DefaultMaxSocketsPerSession caps how many live sockets one logical user
// session may hold before the oldest is evicted.
const DefaultMaxSocketsPerSession = 3

type client struct {
	sock Socket
	info SocketInfo
}

// SessionRegistry owns the userID -> socket set mapping. There is exactly one
// session entry per user, holding its sockets oldest first. All mutation goes
// through the ConnectionManager so eviction and presence triggering stay
// consistent; nothing else touches the socket sets.
type SessionRegistry struct {
	mu         sync.RWMutex
	sessions   map[string][]*client
	bySocket   map[Socket]*client
	maxSockets int
}

// NewSessionRegistry creates a registry with the given per-session cap.
// Non-positive caps fall back to the default.
func NewSessionRegistry(maxSockets int) *SessionRegistry {
	if maxSockets <= 0 {
		maxSockets = DefaultMaxSocketsPerSession
	}
	return &SessionRegistry{
		sessions:   make(map[string][]*client),
		bySocket:   make(map[Socket]*client),
		maxSockets: maxSockets,
	}
}

// Register adds the socket to the user's session. When the set is at capacity
// the single oldest socket is removed from tracking and returned so the caller
// can close it. Concurrent reconnect attempts end up in the one session entry.
func (r *SessionRegistry) Register(userID string, sock Socket, info SocketInfo) (evicted Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[userID]
	if len(set) >= r.maxSockets {
		oldest := set[0]
		set = set[1:]
		delete(r.bySocket, oldest.sock)
		evicted = oldest.sock
	}

	cl := &client{sock: sock, info: info}
	r.sessions[userID] = append(set, cl)
	r.bySocket[sock] = cl
	return evicted
}

// RemoveSocket drops a socket from tracking. It reports which user owned it
// and how many sockets that user still has; ok is false for unknown sockets.
func (r *SessionRegistry) RemoveSocket(sock Socket) (userID string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cl, found := r.bySocket[sock]
	if !found {
		return "", 0, false
	}
	delete(r.bySocket, sock)

	userID = cl.info.UserID
	set := r.sessions[userID]
	for idx, candidate := range set {
		if candidate == cl {
			set = append(set[:idx], set[idx+1:]...)
			break
		}
	}
	if len(set) == 0 {
		delete(r.sessions, userID)
	} else {
		r.sessions[userID] = set
	}
	return userID, len(set), true
}

// RemoveBySessionID drops every socket tagged with the session id and returns
// them for closing, with the owning user and the remaining count.
func (r *SessionRegistry) RemoveBySessionID(sessionID string) (userID string, removed []Socket, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for uid, set := range r.sessions {
		kept := set[:0]
		for _, cl := range set {
			if cl.info.SessionID == sessionID {
				removed = append(removed, cl.sock)
				delete(r.bySocket, cl.sock)
				userID = uid
			} else {
				kept = append(kept, cl)
			}
		}
		if len(removed) > 0 {
			if len(kept) == 0 {
				delete(r.sessions, uid)
			} else {
				r.sessions[uid] = kept
			}
			return userID, removed, len(kept)
		}
	}
	return "", nil, 0
}

// Count returns the live socket count for a user, 0 when offline or unknown.
func (r *SessionRegistry) Count(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// IsConnected reports whether the user has at least one live socket.
func (r *SessionRegistry) IsConnected(userID string) bool {
	return r.Count(userID) > 0
}

// Sockets returns a copy of the user's live socket set, oldest first.
func (r *SessionRegistry) Sockets(userID string) []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.sessions[userID]
	out := make([]Socket, 0, len(set))
	for _, cl := range set {
		out = append(out, cl.sock)
	}
	return out
}

// Touch records a heartbeat for the socket.
func (r *SessionRegistry) Touch(sock Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cl, ok := r.bySocket[sock]; ok {
		cl.info.LastHeartbeat = time.Now()
	}
}

// SetVersion stores the protocol version announced in HELLO.
func (r *SessionRegistry) SetVersion(sock Socket, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cl, ok := r.bySocket[sock]; ok {
		cl.info.Version = version
	}
}

// Info returns the metadata for a tracked socket.
func (r *SessionRegistry) Info(sock Socket) (SocketInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cl, ok := r.bySocket[sock]
	if !ok {
		return SocketInfo{}, false
	}
	return cl.info, true
}

// StaleSockets returns sockets whose last heartbeat is older than maxIdle.
func (r *SessionRegistry) StaleSockets(maxIdle time.Duration) []Socket {
	cutoff := time.Now().Add(-maxIdle)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []Socket
	for _, cl := range r.bySocket {
		if cl.info.LastHeartbeat.Before(cutoff) {
			stale = append(stale, cl.sock)
		}
	}
	return stale
}

// AllSockets returns every tracked socket across all users.
func (r *SessionRegistry) AllSockets() []Socket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Socket, 0, len(r.bySocket))
	for sock := range r.bySocket {
		out = append(out, sock)
	}
	return out
}

// TotalConnections counts all live sockets.
func (r *SessionRegistry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySocket)
}

// ConnectedUsers counts users with at least one live socket.
func (r *SessionRegistry) ConnectedUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
