package chat

import (
	"context"
	"fmt"

	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/repositories"
)

// UnreadCounter derives unread counts from the message store on every call.
// Nothing is cached, so a pushed count is always the store's answer.
type UnreadCounter struct {
	messages repositories.MessageRepository
	out      delivery.Delivery
}

func NewUnreadCounter(messages repositories.MessageRepository, out delivery.Delivery) *UnreadCounter {
	return &UnreadCounter{messages: messages, out: out}
}

// Recompute counts unread messages from senderID to receiverID.
func (u *UnreadCounter) Recompute(ctx context.Context, receiverID, senderID int64) (int64, error) {
	count, err := u.messages.CountUnread(ctx, senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("count unread %d->%d: %w", senderID, receiverID, err)
	}
	return count, nil
}

// PushUpdate sends {senderId: counterpartyID, unreadCount: count} to target.
func (u *UnreadCounter) PushUpdate(ctx context.Context, targetUserID, counterpartyID, count int64) error {
	update := models.UnreadCountUpdate{SenderID: counterpartyID, UnreadCount: count}
	if err := u.out.SendToUser(ctx, targetUserID, delivery.ChannelUnreadCount, update); err != nil {
		return fmt.Errorf("push unread count to %d: %w", targetUserID, err)
	}
	return nil
}

// Total counts every unread message addressed to receiverID.
func (u *UnreadCounter) Total(ctx context.Context, receiverID int64) (int64, error) {
	count, err := u.messages.CountUnreadForReceiver(ctx, receiverID)
	if err != nil {
		return 0, fmt.Errorf("count unread for %d: %w", receiverID, err)
	}
	return count, nil
}
