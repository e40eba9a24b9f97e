package delivery

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"messaging-service/internal/models"
)

// CodeInvalidTransition is returned in TransitionResult when a record is asked
// to move through a disallowed transition.
const CodeInvalidTransition = "INVALID_DELIVERY_TRANSITION"

var (
	ErrInvalidTransition = errors.New("invalid delivery transition")
	ErrDeliveryExists    = errors.New("delivery record already exists")
)

// allowedTransitions is the full transition table. SENT -> READ is deliberate:
// a read confirmation can arrive without a delivery confirmation ever being
// observed.
var allowedTransitions = map[models.DeliveryState][]models.DeliveryState{
	models.DeliveryPersisted: {models.DeliverySent},
	models.DeliverySent:      {models.DeliveryDelivered, models.DeliveryRead},
	models.DeliveryDelivered: {models.DeliveryRead},
	models.DeliveryRead:      {},
}

// ValidateTransition returns ErrInvalidTransition unless next is an allowed
// successor of current. Pure check, no side effects.
func ValidateTransition(current, next models.DeliveryState) error {
	for _, allowed := range allowedTransitions[current] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// TransitionResult is the structured outcome of TransitionState. Invalid
// transitions surface here as OK=false rather than as an error.
type TransitionResult struct {
	OK     bool
	Code   string
	Record models.DeliveryRecord
}

// Index owns the in-memory delivery records, keyed by (messageID, recipientID).
// All mutation is serialized by its lock so callers never observe interleaved
// transitions for the same pair.
type Index struct {
	mu      sync.RWMutex
	records map[string]map[string]*models.DeliveryRecord
	now     func() time.Time
}

// NewIndex creates an empty delivery index.
func NewIndex() *Index {
	return &Index{
		records: make(map[string]map[string]*models.DeliveryRecord),
		now:     time.Now,
	}
}

// CreateDelivery records a new PERSISTED delivery for the pair. Fails if a
// record already exists; dedup of retried sends is the persistence gateway's
// job, not this one's.
func (i *Index) CreateDelivery(messageID, recipientID string) (models.DeliveryRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	byRecipient, ok := i.records[messageID]
	if !ok {
		byRecipient = make(map[string]*models.DeliveryRecord)
		i.records[messageID] = byRecipient
	}
	if _, exists := byRecipient[recipientID]; exists {
		return models.DeliveryRecord{}, fmt.Errorf("%w: %s/%s", ErrDeliveryExists, messageID, recipientID)
	}

	rec := &models.DeliveryRecord{
		MessageID:   messageID,
		RecipientID: recipientID,
		State:       models.DeliveryPersisted,
		PersistedAt: i.now(),
	}
	byRecipient[recipientID] = rec
	return *rec, nil
}

// CreateDeliveriesForRecipients is the bulk form used for room fan-out. One
// record per recipient; recipients that already have a record are skipped.
func (i *Index) CreateDeliveriesForRecipients(messageID string, recipientIDs []string) []models.DeliveryRecord {
	created := make([]models.DeliveryRecord, 0, len(recipientIDs))
	for _, recipientID := range recipientIDs {
		rec, err := i.CreateDelivery(messageID, recipientID)
		if err != nil {
			continue
		}
		created = append(created, rec)
	}
	return created
}

// TransitionState validates and applies a transition, stamping the
// state-specific timestamp. Invalid transitions and missing records are
// reported in the result, never raised.
func (i *Index) TransitionState(messageID, recipientID string, next models.DeliveryState) TransitionResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	rec, ok := i.lookup(messageID, recipientID)
	if !ok {
		return TransitionResult{OK: false, Code: CodeInvalidTransition}
	}
	if err := ValidateTransition(rec.State, next); err != nil {
		return TransitionResult{OK: false, Code: CodeInvalidTransition, Record: *rec}
	}

	now := i.now()
	rec.State = next
	switch next {
	case models.DeliverySent:
		rec.SentAt = now
	case models.DeliveryDelivered:
		rec.DeliveredAt = now
	case models.DeliveryRead:
		rec.ReadAt = now
	}
	return TransitionResult{OK: true, Record: *rec}
}

// GetDelivery returns a copy of the record for the pair.
func (i *Index) GetDelivery(messageID, recipientID string) (models.DeliveryRecord, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	rec, ok := i.lookup(messageID, recipientID)
	if !ok {
		return models.DeliveryRecord{}, false
	}
	return *rec, true
}

// GetDeliveriesForMessage returns copies of every recipient record for the
// message.
func (i *Index) GetDeliveriesForMessage(messageID string) []models.DeliveryRecord {
	i.mu.RLock()
	defer i.mu.RUnlock()
	byRecipient := i.records[messageID]
	out := make([]models.DeliveryRecord, 0, len(byRecipient))
	for _, rec := range byRecipient {
		out = append(out, *rec)
	}
	return out
}

// IsPendingReplay reports whether the record exists and has not been confirmed
// delivered or read. This is the exact replay-eligibility predicate.
func (i *Index) IsPendingReplay(messageID, recipientID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	rec, ok := i.lookup(messageID, recipientID)
	if !ok {
		return false
	}
	return rec.State == models.DeliveryPersisted || rec.State == models.DeliverySent
}

// IsDeliveredOrRead reports whether the recipient confirmed the message.
func (i *Index) IsDeliveredOrRead(messageID, recipientID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	rec, ok := i.lookup(messageID, recipientID)
	if !ok {
		return false
	}
	return rec.State == models.DeliveryDelivered || rec.State == models.DeliveryRead
}

func (i *Index) lookup(messageID, recipientID string) (*models.DeliveryRecord, bool) {
	byRecipient, ok := i.records[messageID]
	if !ok {
		return nil, false
	}
	rec, ok := byRecipient[recipientID]
	return rec, ok
}
