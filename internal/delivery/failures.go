package delivery

import (
	"context"
	"sync"
	"time"

	"messaging-service/internal/observability"
	"messaging-service/internal/telemetry"
)

// Delivery failure reasons. A failed attempt never mutates the delivery record;
// the record stays replayable.
const (
	FailureSendError        = "SEND_ERROR"
	FailureRecipientOffline = "RECIPIENT_OFFLINE"
	FailureAckTimeout       = "ACK_TIMEOUT"
)

// FailureTracker counts delivery failures and emits diagnostic events.
type FailureTracker struct {
	mu          sync.Mutex
	count       int64
	lastFailAt  time.Time
	diagnostics *telemetry.DiagnosticsEmitter
}

// NewFailureTracker builds a tracker. The emitter may be nil in tests.
func NewFailureTracker(diagnostics *telemetry.DiagnosticsEmitter) *FailureTracker {
	return &FailureTracker{diagnostics: diagnostics}
}

// RecordFailure increments the process-wide counter, stamps the last failure
// time and emits a diagnostic event carrying the pair and reason.
func (t *FailureTracker) RecordFailure(ctx context.Context, messageID, recipientID, reason string) {
	now := time.Now()

	t.mu.Lock()
	t.count++
	t.lastFailAt = now
	t.mu.Unlock()

	observability.IncDeliveryFailure(reason)
	t.diagnostics.Emit(ctx, "delivery_failure", map[string]interface{}{
		"message_id":   messageID,
		"recipient_id": recipientID,
		"reason":       reason,
		"timestamp":    now.UnixMilli(),
	})
}

// FailureStats is a snapshot for the debug endpoints.
type FailureStats struct {
	Count                 int64     `json:"count"`
	LastDeliveryFailureAt time.Time `json:"lastDeliveryFailureAt"`
}

// Stats returns the current failure snapshot.
func (t *FailureTracker) Stats() FailureStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return FailureStats{Count: t.count, LastDeliveryFailureAt: t.lastFailAt}
}
