package delivery

import (
	"sync"

	"messaging-service/internal/models"
)

type roomAggregate struct {
	roomID    string
	senderID  string
	total     int
	delivered map[string]struct{}
}

// RoomTracker tracks fan-out completion for room messages. The sender is
// excluded from both counts, and recording the same member twice does not
// double count.
type RoomTracker struct {
	mu         sync.Mutex
	aggregates map[string]*roomAggregate
}

// NewRoomTracker creates an empty tracker.
func NewRoomTracker() *RoomTracker {
	return &RoomTracker{aggregates: make(map[string]*roomAggregate)}
}

// SetTotal initializes the counters for a room message. totalRecipients is the
// member count excluding the sender. Calling it again for the same message is
// a no-op.
func (t *RoomTracker) SetTotal(roomMessageID, roomID, senderID string, totalRecipients int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.aggregates[roomMessageID]; ok {
		return
	}
	t.aggregates[roomMessageID] = &roomAggregate{
		roomID:    roomID,
		senderID:  senderID,
		total:     totalRecipients,
		delivered: make(map[string]struct{}),
	}
}

// RecordDelivery marks a member as delivered and returns the current counts.
// The aggregate is idempotent and always reports current truth; callers detect
// the false->true edge of Complete to notify exactly once.
func (t *RoomTracker) RecordDelivery(roomMessageID, roomID, senderID, memberID string) models.RoomDeliveryStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg, ok := t.aggregates[roomMessageID]
	if !ok {
		agg = &roomAggregate{roomID: roomID, senderID: senderID, delivered: make(map[string]struct{})}
		t.aggregates[roomMessageID] = agg
	}

	if memberID != agg.senderID {
		if _, seen := agg.delivered[memberID]; !seen {
			agg.delivered[memberID] = struct{}{}
		}
	}
	return agg.status()
}

// Status returns the current snapshot without mutating anything.
func (t *RoomTracker) Status(roomMessageID string) (models.RoomDeliveryStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	agg, ok := t.aggregates[roomMessageID]
	if !ok {
		return models.RoomDeliveryStatus{}, false
	}
	return agg.status(), true
}

func (a *roomAggregate) status() models.RoomDeliveryStatus {
	delivered := len(a.delivered)
	return models.RoomDeliveryStatus{
		DeliveredCount: delivered,
		TotalCount:     a.total,
		Complete:       a.total > 0 && delivered == a.total,
	}
}
