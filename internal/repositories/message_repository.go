package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

const messageColumns = `id, conversation_id, sender_id, receiver_id,
    CASE WHEN is_deleted THEN '' ELSE content END AS content,
    type, reply_to_id, client_tag,
    is_delivered, delivered_at, is_read, read_at, is_deleted, deleted_at, created_at`

// CreateMessageParams carries the fields needed to persist a new message.
type CreateMessageParams struct {
	ConversationID string
	SenderID       int
	ReceiverID     int
	Content        string
	Type           string
	ReplyToID      *int
	// ClientTag is the client-supplied idempotency key. Retried sends with the
	// same tag collapse onto the originally stored row.
	ClientTag *string
}

// MessageRepository defines persistence for messages and their
// delivered/read/deleted state.
type MessageRepository interface {
	CreateMessage(ctx context.Context, p CreateMessageParams) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int, beforeID int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, messageID int, receiverID int) (bool, error)
	MarkConversationDelivered(ctx context.Context, conversationID string, receiverID int) ([]int, error)
	MarkRead(ctx context.Context, conversationID string, readerID int, readAt time.Time) (int, error)
	SoftDelete(ctx context.Context, messageID int, senderID int) error
	UnreadCount(ctx context.Context, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message. A NULL client tag never conflicts; a repeated
// tag from the same sender returns the existing row instead of inserting.
func (r *MessageRepo) CreateMessage(ctx context.Context, p CreateMessageParams) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `INSERT INTO messages
            (conversation_id, sender_id, receiver_id, content, type, reply_to_id, client_tag)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (sender_id, client_tag) DO UPDATE SET client_tag = EXCLUDED.client_tag
        RETURNING `+messageColumns,
		p.ConversationID, p.SenderID, p.ReceiverID, p.Content, p.Type, p.ReplyToID, p.ClientTag)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListMessages returns up to limit messages of a conversation in ascending id
// order. A non-zero beforeID pages backwards through history. Content of
// deleted messages is masked.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, limit int, beforeID int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE conversation_id=$1 AND ($2 = 0 OR id < $2)
        ORDER BY id DESC LIMIT $3`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, beforeID, limit); err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkDelivered flips the delivered flag for a message addressed to
// receiverID. Returns false when the message was already delivered (or is not
// addressed to the receiver), so callers emit receipts only on real
// transitions.
func (r *MessageRepo) MarkDelivered(ctx context.Context, messageID int, receiverID int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages
        SET is_delivered = TRUE, delivered_at = NOW()
        WHERE id=$1 AND receiver_id=$2 AND is_delivered = FALSE`, messageID, receiverID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// MarkConversationDelivered marks every undelivered message addressed to
// receiverID in the conversation as delivered and returns the affected ids.
func (r *MessageRepo) MarkConversationDelivered(ctx context.Context, conversationID string, receiverID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `UPDATE messages
        SET is_delivered = TRUE, delivered_at = NOW()
        WHERE conversation_id=$1 AND receiver_id=$2 AND is_delivered = FALSE
        RETURNING id`, conversationID, receiverID)
	return ids, err
}

// MarkRead bulk-marks all unread messages addressed to readerID in the
// conversation. Delivery is normalized in the same statement so is_read can
// never be observed true with is_delivered false. Returns the number of
// newly-read messages; already-read rows keep their original read_at.
func (r *MessageRepo) MarkRead(ctx context.Context, conversationID string, readerID int, readAt time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages
        SET is_read = TRUE, read_at = $3,
            is_delivered = TRUE, delivered_at = COALESCE(delivered_at, $3)
        WHERE conversation_id=$1 AND receiver_id=$2 AND is_read = FALSE`, conversationID, readerID, readAt)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// SoftDelete marks a message deleted for everyone. Only the sender may delete;
// receipts and the row itself are retained, content is masked on reads.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, senderID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages
        SET is_deleted = TRUE, deleted_at = NOW()
        WHERE id=$1 AND sender_id=$2 AND is_deleted = FALSE`, messageID, senderID)
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

// UnreadCount counts unread, undeleted messages addressed to the user.
func (r *MessageRepo) UnreadCount(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages
        WHERE receiver_id=$1 AND is_read = FALSE AND is_deleted = FALSE`, userID)
	return count, err
}
