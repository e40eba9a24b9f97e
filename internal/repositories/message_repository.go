package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository is the persistence gateway for messages. PersistMessage is
// idempotent under retry: exactly one stored row results no matter how often
// or in which order duplicate calls arrive.
type MessageRepository interface {
	PersistMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	UpdateMessageState(ctx context.Context, messageID string, state string) error
	ListForRecipientAfter(ctx context.Context, recipientID string, afterMessageID string, limit int) ([]models.Message, error)
	ClearStore(ctx context.Context) error
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `message_id, client_message_id, sender_id, recipient_id, room_id, content, state, created_at`

// PersistMessage stores the message unless a row with the same message_id, or
// the same (sender_id, client_message_id) idempotency pair, already exists. In
// both duplicate cases the previously stored row is returned unchanged and the
// retry's message_id and content are discarded.
func (r *MessageRepo) PersistMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO messages (message_id, client_message_id, sender_id, recipient_id, room_id, content, state)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT DO NOTHING`,
		msg.MessageID, msg.ClientMessageID, msg.SenderID, msg.RecipientID, msg.RoomID, msg.Content, msg.State)
	if err != nil {
		return models.Message{}, fmt.Errorf("persist message: %w", err)
	}

	if inserted, err := res.RowsAffected(); err == nil && inserted == 0 {
		// A conflicting row exists. Prefer the exact message_id match, then
		// the idempotency-token match.
		stored, err := r.GetMessage(ctx, msg.MessageID)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrMessageNotFound) {
			return models.Message{}, err
		}
		return r.getByClientMessageID(ctx, msg.SenderID, msg.ClientMessageID)
	}

	return r.GetMessage(ctx, msg.MessageID)
}

// GetMessage retrieves a single message by its canonical id.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE message_id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

func (r *MessageRepo) getByClientMessageID(ctx context.Context, senderID, clientMessageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE sender_id=$1 AND client_message_id=$2`, senderID, clientMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessageState advances the message-level lifecycle shown to the sender.
func (r *MessageRepo) UpdateMessageState(ctx context.Context, messageID string, state string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET state=$2 WHERE message_id=$1`, messageID, state)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ListForRecipientAfter returns messages addressed to the recipient, directly
// or through room membership, in (created_at, message_id) ascending order,
// strictly after the cursor message when one is given. Delivery-state
// filtering is the replay service's job.
func (r *MessageRepo) ListForRecipientAfter(ctx context.Context, recipientID string, afterMessageID string, limit int) ([]models.Message, error) {
	query := `SELECT m.message_id, m.client_message_id, m.sender_id, m.recipient_id, m.room_id, m.content, m.state, m.created_at
        FROM messages m
        LEFT JOIN room_members rm ON rm.room_id = m.room_id AND rm.user_id = $1
        WHERE (m.recipient_id = $1 OR rm.user_id IS NOT NULL)
        AND m.sender_id <> $1`
	args := []interface{}{recipientID}

	if afterMessageID != "" {
		cursor, err := r.GetMessage(ctx, afterMessageID)
		if err != nil {
			return nil, fmt.Errorf("resolve replay cursor: %w", err)
		}
		query += ` AND (m.created_at, m.message_id) > ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.MessageID)
	}

	query += fmt.Sprintf(` ORDER BY m.created_at ASC, m.message_id ASC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// ClearStore wipes all messages. Test environments only.
func (r *MessageRepo) ClearStore(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `TRUNCATE messages`)
	return err
}
