package ws

import (
	"sync"
	"time"

	"messaging-service/internal/observability"
)

// DefaultPresenceGrace is the production debounce interval before declaring a
// user offline after their last socket closes. A page refresh commonly opens a
// replacement socket before the old one's close handshake completes, so an
// immediate offline mark would flicker.
const DefaultPresenceGrace = 5 * time.Second

// PresenceNotifier receives debounced presence transitions.
type PresenceNotifier func(userID string, online bool)

// PresenceDebouncer converts socket open/close events into presence
// transitions, absorbing reconnect races with a per-user grace timer. At most
// one timer is pending per user at any time.
type PresenceDebouncer struct {
	grace        time.Duration
	stillOffline func(userID string) bool
	notify       PresenceNotifier

	mu     sync.Mutex
	timers map[string]*time.Timer
	online map[string]bool
}

// NewPresenceDebouncer builds a debouncer. stillOffline is consulted when a
// grace timer fires and must report whether the user's socket set is empty.
func NewPresenceDebouncer(grace time.Duration, stillOffline func(userID string) bool, notify PresenceNotifier) *PresenceDebouncer {
	if grace <= 0 {
		grace = DefaultPresenceGrace
	}
	return &PresenceDebouncer{
		grace:        grace,
		stillOffline: stillOffline,
		notify:       notify,
		timers:       make(map[string]*time.Timer),
		online:       make(map[string]bool),
	}
}

// SocketOpened cancels any pending offline timer for the user. When a timer
// was pending the user never stopped being online, so no event fires; a user
// arriving from offline gets exactly one online event.
func (p *PresenceDebouncer) SocketOpened(userID string) {
	p.mu.Lock()
	if timer, ok := p.timers[userID]; ok {
		timer.Stop()
		delete(p.timers, userID)
		p.mu.Unlock()
		return
	}
	wasOnline := p.online[userID]
	p.online[userID] = true
	p.mu.Unlock()

	if !wasOnline {
		p.emit(userID, true)
	}
}

// LastSocketClosed schedules the offline transition. Scheduling replaces any
// pending timer so per-user presence events stay serialized.
func (p *PresenceDebouncer) LastSocketClosed(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if timer, ok := p.timers[userID]; ok {
		timer.Stop()
	}
	p.timers[userID] = time.AfterFunc(p.grace, func() { p.fire(userID) })
}

// CancelOffline drops a pending offline timer. Cancelling a timer that does
// not exist is a no-op.
func (p *PresenceDebouncer) CancelOffline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if timer, ok := p.timers[userID]; ok {
		timer.Stop()
		delete(p.timers, userID)
	}
}

// Stop cancels every pending timer.
func (p *PresenceDebouncer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for userID, timer := range p.timers {
		timer.Stop()
		delete(p.timers, userID)
	}
}

func (p *PresenceDebouncer) fire(userID string) {
	p.mu.Lock()
	delete(p.timers, userID)
	if !p.online[userID] || !p.stillOffline(userID) {
		p.mu.Unlock()
		return
	}
	delete(p.online, userID)
	p.mu.Unlock()

	p.emit(userID, false)
}

func (p *PresenceDebouncer) emit(userID string, online bool) {
	observability.IncPresenceTransition(online)
	if p.notify != nil {
		p.notify(userID, online)
	}
}
