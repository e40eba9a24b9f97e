package replay

import (
	"context"
	"fmt"

	"messaging-service/internal/cache"
	"messaging-service/internal/delivery"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// Page size bounds for undelivered queries.
const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Service resends undelivered messages to reconnecting clients.
type Service struct {
	repo    repositories.MessageRepository
	index   *delivery.Index
	cursors cache.CursorStore
}

// NewService wires the replay service.
func NewService(repo repositories.MessageRepository, index *delivery.Index, cursors cache.CursorStore) *Service {
	return &Service{repo: repo, index: index, cursors: cursors}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// GetUndelivered returns messages for the recipient whose delivery record is
// still PERSISTED or SENT, in timestamp order, strictly after the cursor
// message when one is given. The storage query over-fetches and the delivery
// index filters, so the page stays gap-free even when most rows were already
// delivered.
func (s *Service) GetUndelivered(ctx context.Context, recipientID, afterMessageID string, limit int) ([]models.Message, error) {
	limit = clampLimit(limit)

	out := make([]models.Message, 0, limit)
	cursor := afterMessageID
	for len(out) < limit {
		page, err := s.repo.ListForRecipientAfter(ctx, recipientID, cursor, limit)
		if err != nil {
			return nil, fmt.Errorf("list undelivered: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, msg := range page {
			if !s.index.IsPendingReplay(msg.MessageID, recipientID) {
				continue
			}
			out = append(out, msg)
			if len(out) == limit {
				break
			}
		}
		if len(page) < limit {
			break
		}
		cursor = page[len(page)-1].MessageID
	}
	return out, nil
}

// IsEligibleForReplay double-checks a single message: its own lifecycle must
// not already be delivered or read, and the per-recipient record must still be
// pending.
func (s *Service) IsEligibleForReplay(messageID, userID string, msg models.Message) bool {
	if msg.State == models.MessageStateDelivered || msg.State == models.MessageStateRead {
		return false
	}
	return s.index.IsPendingReplay(messageID, userID)
}

// Resync brings a reconnected client up to date. The state-sync frame goes
// out before the message flood so the client knows replay is coming and never
// treats a partial replay as "caught up". Each successfully written message
// advances its record to SENT.
func (s *Service) Resync(ctx context.Context, userID string, send func(v any) error) error {
	pending, err := s.GetUndelivered(ctx, userID, "", MaxLimit)
	if err != nil {
		return err
	}

	readCursor, err := s.cursors.ReadCursor(ctx, userID)
	if err != nil {
		readCursor = ""
	}

	if err := send(models.SyncStateFrame{
		Type:         models.FrameSyncState,
		PendingCount: len(pending),
		ReadCursor:   readCursor,
	}); err != nil {
		return fmt.Errorf("send sync state: %w", err)
	}

	replayed := 0
	for _, msg := range pending {
		err := send(models.ReceiveFrame{
			Type:        models.FrameMessageReceive,
			MessageID:   msg.MessageID,
			SenderID:    msg.SenderID,
			RecipientID: msg.RecipientID,
			RoomID:      msg.RoomID,
			Content:     msg.Content,
			Timestamp:   msg.CreatedAt,
			State:       msg.State,
		})
		if err != nil {
			break
		}
		replayed++
		if rec, ok := s.index.GetDelivery(msg.MessageID, userID); ok && rec.State == models.DeliveryPersisted {
			s.index.TransitionState(msg.MessageID, userID, models.DeliverySent)
		}
	}

	observability.AddReplayedMessages(replayed)
	return nil
}
