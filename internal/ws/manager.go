package ws

import (
	"context"
	"log"
	"time"

	"messaging-service/internal/observability"
)

// ConnectionManager is the single entry point for socket-set mutation:
// registration with eviction over the per-session cap, removal with presence
// debounce triggering, and guarded fan-out sends.
type ConnectionManager struct {
	registry *SessionRegistry
	presence *PresenceDebouncer
}

// NewConnectionManager wires the registry to a presence debouncer. notify
// receives debounced presence transitions.
func NewConnectionManager(registry *SessionRegistry, grace time.Duration, notify PresenceNotifier) *ConnectionManager {
	m := &ConnectionManager{registry: registry}
	m.presence = NewPresenceDebouncer(grace, func(userID string) bool {
		return registry.Count(userID) == 0
	}, notify)
	return m
}

// Register adds a socket to the user's session. Over-cap insertion closes the
// oldest socket with a policy-violation close before adding the new one; a
// pending offline timer for the user is cancelled.
func (m *ConnectionManager) Register(userID string, sock Socket, info SocketInfo) {
	if evicted := m.registry.Register(userID, sock, info); evicted != nil {
		observability.IncEvictedSocket()
		observability.DecWSActive()
		if err := evicted.Close(ClosePolicyViolation, "session socket limit exceeded"); err != nil {
			log.Printf("evicted socket close failed user=%s: %v", userID, err)
		}
	}
	observability.IncWSActive()
	m.presence.SocketOpened(userID)
}

// RemoveConnection drops a socket from tracking. Removing the user's last
// socket starts the presence grace timer rather than marking offline
// immediately.
func (m *ConnectionManager) RemoveConnection(sock Socket) {
	userID, remaining, ok := m.registry.RemoveSocket(sock)
	if !ok {
		return
	}
	observability.DecWSActive()
	if remaining == 0 {
		m.presence.LastSocketClosed(userID)
	}
}

// RemoveSession closes and removes every socket tagged with the session id, a
// single-device revoke.
func (m *ConnectionManager) RemoveSession(sessionID string, code int, reason string) {
	userID, removed, remaining := m.registry.RemoveBySessionID(sessionID)
	for _, sock := range removed {
		observability.DecWSActive()
		_ = sock.Close(code, reason)
	}
	if len(removed) > 0 && remaining == 0 {
		m.presence.LastSocketClosed(userID)
	}
}

// KickUser force-closes all of a user's sockets, e.g. a banned-account kick
// with 4003/ACCOUNT_SUSPENDED.
func (m *ConnectionManager) KickUser(userID string, code int, reason string) {
	for _, sock := range m.registry.Sockets(userID) {
		_ = sock.Close(code, reason)
		m.RemoveConnection(sock)
	}
}

// ActiveConnectionCount returns the live socket count for a user.
func (m *ConnectionManager) ActiveConnectionCount(userID string) int {
	return m.registry.Count(userID)
}

// IsUserConnected reports whether the user has at least one live socket.
func (m *ConnectionManager) IsUserConnected(userID string) bool {
	return m.registry.IsConnected(userID)
}

// Sockets exposes the user's socket set for targeted operations.
func (m *ConnectionManager) Sockets(userID string) []Socket {
	return m.registry.Sockets(userID)
}

// SendToUser fans a payload out to every live socket of the user and returns
// how many writes succeeded. Sends on closed sockets are silent no-ops;
// transport failures remove the broken socket.
func (m *ConnectionManager) SendToUser(userID string, payload any) int {
	sent := 0
	for _, sock := range m.registry.Sockets(userID) {
		err := sock.WriteJSON(payload)
		if err == nil {
			sent++
			continue
		}
		if IsClosedSend(err) {
			continue
		}
		log.Printf("websocket write error user=%s: %v", userID, err)
		_ = sock.Close(CloseNormal, "write failure")
		m.RemoveConnection(sock)
	}
	return sent
}

// Broadcast fans a payload out to every live socket, e.g. a presence change.
// Same guard semantics as SendToUser.
func (m *ConnectionManager) Broadcast(payload any) int {
	sent := 0
	for _, sock := range m.registry.AllSockets() {
		err := sock.WriteJSON(payload)
		if err == nil {
			sent++
			continue
		}
		if IsClosedSend(err) {
			continue
		}
		log.Printf("websocket broadcast write error: %v", err)
		_ = sock.Close(CloseNormal, "write failure")
		m.RemoveConnection(sock)
	}
	return sent
}

// Heartbeat records pong activity for the socket.
func (m *ConnectionManager) Heartbeat(sock Socket) {
	m.registry.Touch(sock)
}

// SetProtocolVersion stores the version announced in the HELLO frame.
func (m *ConnectionManager) SetProtocolVersion(sock Socket, version string) {
	m.registry.SetVersion(sock, version)
}

// StartReaper closes sockets whose heartbeat went silent for longer than
// maxIdle, checking every interval until the context ends.
func (m *ConnectionManager) StartReaper(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, sock := range m.registry.StaleSockets(maxIdle) {
					_ = sock.Close(CloseNormal, "heartbeat timeout")
					m.RemoveConnection(sock)
				}
			}
		}
	}()
}

// Stop cancels all pending presence timers.
func (m *ConnectionManager) Stop() {
	m.presence.Stop()
}

// Stats summarizes connection state for the debug endpoints.
type Stats struct {
	TotalConnections int `json:"totalConnections"`
	ConnectedUsers   int `json:"connectedUsers"`
}

// Stats returns a snapshot of connection counts.
func (m *ConnectionManager) Stats() Stats {
	return Stats{
		TotalConnections: m.registry.TotalConnections(),
		ConnectedUsers:   m.registry.ConnectedUsers(),
	}
}
