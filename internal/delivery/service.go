package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"messaging-service/internal/bus"
	"messaging-service/internal/cache"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

// MaxContentRunes bounds message content length.
const MaxContentRunes = 4000

// DefaultAckTimeout is how long a pushed message may sit unconfirmed before
// an ACK_TIMEOUT failure is recorded. The record stays SENT so replay retries.
const DefaultAckTimeout = 30 * time.Second

var ErrInvalidPayload = errors.New("invalid message payload")

// Pusher delivers payloads to a user's live sockets. Implemented by the
// connection manager.
type Pusher interface {
	SendToUser(userID string, payload any) int
	IsUserConnected(userID string) bool
}

// Service orchestrates the send/confirm/read flows: idempotent persistence,
// delivery record bookkeeping, push fan-out and cross-instance propagation.
type Service struct {
	repo       repositories.MessageRepository
	roomRepo   repositories.RoomRepository
	index      *Index
	tracker    *RoomTracker
	failures   *FailureTracker
	pusher     Pusher
	bus        *bus.InstanceBus
	cursors    cache.CursorStore
	ackTimeout time.Duration
}

// NewService wires the delivery service.
func NewService(
	repo repositories.MessageRepository,
	roomRepo repositories.RoomRepository,
	index *Index,
	tracker *RoomTracker,
	failures *FailureTracker,
	pusher Pusher,
	instanceBus *bus.InstanceBus,
	cursors cache.CursorStore,
) *Service {
	return &Service{
		repo:       repo,
		roomRepo:   roomRepo,
		index:      index,
		tracker:    tracker,
		failures:   failures,
		pusher:     pusher,
		bus:        instanceBus,
		cursors:    cursors,
		ackTimeout: DefaultAckTimeout,
	}
}

// SetAckTimeout overrides the delivery-confirmation window. Non-positive
// disables the watch.
func (s *Service) SetAckTimeout(d time.Duration) {
	s.ackTimeout = d
}

func validateContent(content string) error {
	if content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(content) > MaxContentRunes {
		return fmt.Errorf("%w: content exceeds %d characters", ErrInvalidPayload, MaxContentRunes)
	}
	return nil
}

// SendDirect persists a direct message, records its delivery and attempts an
// immediate push. A failed push leaves the record replayable.
func (s *Service) SendDirect(ctx context.Context, senderID string, frame models.InboundFrame) (models.Message, error) {
	if frame.RecipientID == "" || frame.ClientMessageID == "" {
		return models.Message{}, fmt.Errorf("%w: missing recipient or client message id", ErrInvalidPayload)
	}
	if err := validateContent(frame.Content); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		MessageID:       uuid.NewString(),
		ClientMessageID: frame.ClientMessageID,
		SenderID:        senderID,
		RecipientID:     frame.RecipientID,
		Content:         frame.Content,
		State:           models.MessageStateSent,
	}
	stored, err := s.repo.PersistMessage(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("persist direct message: %w", err)
	}

	// On a deduped retry the record already exists; that is fine.
	if _, err := s.index.CreateDelivery(stored.MessageID, stored.RecipientID); err != nil && !errors.Is(err, ErrDeliveryExists) {
		return models.Message{}, err
	}

	s.pushToRecipient(ctx, stored, stored.RecipientID)
	return stored, nil
}

// SendRoom persists a room message and fans delivery records out to every
// member except the sender.
func (s *Service) SendRoom(ctx context.Context, senderID string, frame models.InboundFrame) (models.Message, error) {
	if frame.RoomID == "" || frame.ClientMessageID == "" {
		return models.Message{}, fmt.Errorf("%w: missing room or client message id", ErrInvalidPayload)
	}
	if err := validateContent(frame.Content); err != nil {
		return models.Message{}, err
	}

	members, err := s.roomRepo.Members(ctx, frame.RoomID)
	if err != nil {
		return models.Message{}, fmt.Errorf("load room members: %w", err)
	}
	recipients := make([]string, 0, len(members))
	for _, member := range members {
		if member != senderID {
			recipients = append(recipients, member)
		}
	}

	msg := models.Message{
		MessageID:       uuid.NewString(),
		ClientMessageID: frame.ClientMessageID,
		SenderID:        senderID,
		RoomID:          frame.RoomID,
		Content:         frame.Content,
		State:           models.MessageStateSent,
	}
	stored, err := s.repo.PersistMessage(ctx, msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("persist room message: %w", err)
	}

	s.index.CreateDeliveriesForRecipients(stored.MessageID, recipients)
	s.tracker.SetTotal(stored.MessageID, frame.RoomID, senderID, len(recipients))

	for _, recipientID := range recipients {
		s.pushToRecipient(ctx, stored, recipientID)
	}
	return stored, nil
}

// pushToRecipient attempts immediate delivery to one recipient and advances
// the record to SENT on success. Failures are recorded as diagnostics only;
// the record keeps its prior state so replay can retry.
func (s *Service) pushToRecipient(ctx context.Context, msg models.Message, recipientID string) {
	if !s.pusher.IsUserConnected(recipientID) {
		s.failures.RecordFailure(ctx, msg.MessageID, recipientID, FailureRecipientOffline)
		return
	}

	sent := s.pusher.SendToUser(recipientID, models.ReceiveFrame{
		Type:        models.FrameMessageReceive,
		MessageID:   msg.MessageID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		RoomID:      msg.RoomID,
		Content:     msg.Content,
		Timestamp:   msg.CreatedAt,
		State:       msg.State,
	})
	if sent == 0 {
		s.failures.RecordFailure(ctx, msg.MessageID, recipientID, FailureSendError)
		return
	}
	s.index.TransitionState(msg.MessageID, recipientID, models.DeliverySent)
	s.watchForAck(msg.MessageID, recipientID)
}

// watchForAck records an ACK_TIMEOUT failure when no delivery confirmation
// arrives within the window. The record keeps its SENT state; the next resync
// replays the message.
func (s *Service) watchForAck(messageID, recipientID string) {
	if s.ackTimeout <= 0 {
		return
	}
	time.AfterFunc(s.ackTimeout, func() {
		if s.index.IsPendingReplay(messageID, recipientID) {
			s.failures.RecordFailure(context.Background(), messageID, recipientID, FailureAckTimeout)
		}
	})
}

// ConfirmDelivered applies a MESSAGE_DELIVERED_CONFIRM from a recipient. An
// already-delivered or already-read record is left alone.
func (s *Service) ConfirmDelivered(ctx context.Context, recipientID, messageID string) error {
	res := s.index.TransitionState(messageID, recipientID, models.DeliveryDelivered)
	if !res.OK {
		// Compatible or further state already reached; nothing to do.
		return nil
	}

	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	if msg.IsRoomMessage() {
		before, _ := s.tracker.Status(messageID)
		after := s.tracker.RecordDelivery(messageID, msg.RoomID, msg.SenderID, recipientID)
		if !before.Complete && after.Complete {
			s.pusher.SendToUser(msg.SenderID, models.RoomDeliveredFrame{
				Type:               models.FrameRoomDelivered,
				MessageID:          messageID,
				RoomID:             msg.RoomID,
				RoomDeliveryStatus: after,
			})
		}
	} else {
		if err := s.repo.UpdateMessageState(ctx, messageID, models.MessageStateDelivered); err != nil {
			log.Printf("update message state failed message=%s: %v", messageID, err)
		}
	}

	s.notifySender(msg, recipientID, models.MessageStateDelivered)
	s.publishDelivered(ctx, messageID, recipientID, models.MessageStateDelivered)
	return nil
}

// MarkRead applies a MESSAGE_READ confirmation. The direct SENT -> READ jump
// is allowed: a read receipt can arrive without a delivery receipt ever being
// observed.
func (s *Service) MarkRead(ctx context.Context, recipientID, messageID string) error {
	res := s.index.TransitionState(messageID, recipientID, models.DeliveryRead)
	if !res.OK {
		return nil
	}

	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	s.advanceReadCursor(ctx, recipientID, msg)

	if !msg.IsRoomMessage() {
		if err := s.repo.UpdateMessageState(ctx, messageID, models.MessageStateRead); err != nil {
			log.Printf("update message state failed message=%s: %v", messageID, err)
		}
	}

	s.notifySender(msg, recipientID, models.MessageStateRead)
	s.publishDelivered(ctx, messageID, recipientID, models.MessageStateRead)
	return nil
}

// advanceReadCursor moves the user's read cursor forward only. Reading an
// older message after a newer one must not regress the cursor reported in the
// state-sync frame; ordering uses the replay tuple (created_at, message_id).
func (s *Service) advanceReadCursor(ctx context.Context, userID string, msg models.Message) {
	current, err := s.cursors.ReadCursor(ctx, userID)
	if err == nil && current != "" && current != msg.MessageID {
		cur, err := s.repo.GetMessage(ctx, current)
		if err == nil {
			if cur.CreatedAt.After(msg.CreatedAt) ||
				(cur.CreatedAt.Equal(msg.CreatedAt) && cur.MessageID > msg.MessageID) {
				return
			}
		}
	}
	if err := s.cursors.SetReadCursor(ctx, userID, msg.MessageID); err != nil {
		log.Printf("read cursor update failed user=%s: %v", userID, err)
	}
}

func (s *Service) notifySender(msg models.Message, recipientID, status string) {
	s.pusher.SendToUser(msg.SenderID, models.DeliveryStatusFrame{
		Type:        models.FrameDeliveryStatus,
		MessageID:   msg.MessageID,
		RecipientID: recipientID,
		Status:      status,
	})
}

func (s *Service) publishDelivered(ctx context.Context, messageID, recipientID, status string) {
	err := s.bus.Publish(ctx, bus.Event{
		Type:        bus.EventMessageDelivered,
		MessageID:   messageID,
		RecipientID: recipientID,
		Status:      status,
	})
	if err != nil {
		log.Printf("bus publish failed message=%s: %v", messageID, err)
	}
}

// HandleRemoteDelivered reacts to a delivery-status event from another
// instance: if the sender has sockets here, forward the status to them. The
// bus has already filtered self-origin events.
func (s *Service) HandleRemoteDelivered(ev bus.Event) {
	msg, err := s.repo.GetMessage(context.Background(), ev.MessageID)
	if err != nil {
		return
	}
	if !s.pusher.IsUserConnected(msg.SenderID) {
		return
	}
	s.pusher.SendToUser(msg.SenderID, models.DeliveryStatusFrame{
		Type:        models.FrameDeliveryStatus,
		MessageID:   ev.MessageID,
		RecipientID: ev.RecipientID,
		Status:      ev.Status,
	})
}
