package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"im-service/internal/models"
)

// MessageRepository is the authoritative store for direct messages.
type MessageRepository interface {
	// SaveMessage assigns id and sent time and stores the message as unread.
	SaveMessage(ctx context.Context, msg models.Message) (models.Message, error)
	CountUnread(ctx context.Context, senderID, receiverID int64) (int64, error)
	// CountUnreadForReceiver totals unread messages across every sender.
	CountUnreadForReceiver(ctx context.Context, receiverID int64) (int64, error)
	// MarkAllRead flips every unread sender->receiver message in one
	// operation and reports how many changed.
	MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) SaveMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var saved models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, content, type, is_read)
        VALUES ($1, $2, $3, $4, FALSE)
        RETURNING id, sender_id, receiver_id, content, type, sent_time, is_read`,
		msg.SenderID, msg.ReceiverID, msg.Content, msg.Type).StructScan(&saved)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return saved, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, senderID, receiverID int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE sender_id=$1 AND receiver_id=$2 AND is_read = FALSE`, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) CountUnreadForReceiver(ctx context.Context, receiverID int64) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND is_read = FALSE`, receiverID)
	if err != nil {
		return 0, fmt.Errorf("count unread for receiver: %w", err)
	}
	return count, nil
}

func (r *MessageRepo) MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE sender_id=$1 AND receiver_id=$2 AND is_read = FALSE`, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return res.RowsAffected()
}
