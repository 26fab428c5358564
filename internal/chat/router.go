// Package chat routes direct messages and keeps unread counters and read
// receipts in step with the message store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/observability"
	"im-service/internal/repositories"
)

var (
	ErrValidation  = errors.New("validation error")
	ErrPersistence = errors.New("persistence failure")
	ErrDelivery    = errors.New("delivery failure")
)

// DeliveryResult reports how far a send got. Err is nil only when every
// side effect completed.
type DeliveryResult struct {
	Message models.Message
	Err     error
}

func (r DeliveryResult) Delivered() bool {
	return r.Err == nil
}

// Router validates, persists and delivers direct messages. Failures never
// escape SendMessage; they become a single error frame to the sender.
type Router struct {
	messages repositories.MessageRepository
	unread   *UnreadCounter
	out      delivery.Delivery
	filter   func(string) string
	logger   *slog.Logger
}

func NewRouter(messages repositories.MessageRepository, unread *UnreadCounter, out delivery.Delivery, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		messages: messages,
		unread:   unread,
		out:      out,
		logger:   logger.With("component", "message_router"),
	}
}

// WithContentFilter installs a transform applied to content before it is
// stored.
func (r *Router) WithContentFilter(filter func(string) string) *Router {
	r.filter = filter
	return r
}

func (r *Router) SendMessage(ctx context.Context, senderID int64, req models.SendRequest) DeliveryResult {
	started := time.Now()

	if req.ReceiverID == nil || req.Content == nil || *req.ReceiverID <= 0 {
		err := fmt.Errorf("%w: receiverId and content are required", ErrValidation)
		r.logger.Warn("send rejected", "sender", senderID, "error", err)
		r.sendError(ctx, senderID, models.ErrorCodeValidation, "receiverId and content are required")
		observability.ObserveRoute("validation_error", started)
		return DeliveryResult{Err: err}
	}
	receiverID := *req.ReceiverID

	body := *req.Content
	if r.filter != nil {
		body = r.filter(body)
	}

	saved, err := r.messages.SaveMessage(ctx, models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    body,
		Type:       models.ParseMessageType(req.Type),
	})
	if err != nil {
		return r.fail(ctx, started, senderID, models.Message{}, fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	if err := r.out.SendToUser(ctx, receiverID, delivery.ChannelMessages, saved); err != nil {
		return r.fail(ctx, started, senderID, saved, fmt.Errorf("%w: receiver: %v", ErrDelivery, err))
	}

	ack := models.DeliveredMessage{Message: saved, ClientMessageID: req.ClientMessageID, Status: models.StatusDelivered}
	if err := r.out.SendToUser(ctx, senderID, delivery.ChannelMessages, ack); err != nil {
		return r.fail(ctx, started, senderID, saved, fmt.Errorf("%w: ack: %v", ErrDelivery, err))
	}

	count, err := r.unread.Recompute(ctx, receiverID, senderID)
	if err != nil {
		return r.fail(ctx, started, senderID, saved, fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	if err := r.unread.PushUpdate(ctx, receiverID, senderID, count); err != nil {
		return r.fail(ctx, started, senderID, saved, fmt.Errorf("%w: %v", ErrDelivery, err))
	}
	// Sending resets the sender's own indicator for this conversation.
	if err := r.unread.PushUpdate(ctx, senderID, receiverID, 0); err != nil {
		return r.fail(ctx, started, senderID, saved, fmt.Errorf("%w: %v", ErrDelivery, err))
	}

	observability.ObserveRoute("delivered", started)
	r.logger.Debug("message delivered", "sender", senderID, "receiver", receiverID, "message", saved.ID, "unread", count)
	_ = observability.PublishEvent(ctx, observability.RoutingMessageSent, observability.EventEnvelope{
		EventType: "im_events",
		EventName: "message_sent",
		Payload: map[string]interface{}{
			"message_id":  saved.ID,
			"sender_id":   saved.SenderID,
			"receiver_id": saved.ReceiverID,
			"type":        saved.Type,
			"sent_time":   saved.SentTime.UTC().Format(time.RFC3339Nano),
		},
	}, nil)

	return DeliveryResult{Message: saved}
}

// fail aborts the remaining side effects. A message that was already stored
// stays stored.
func (r *Router) fail(ctx context.Context, started time.Time, senderID int64, msg models.Message, err error) DeliveryResult {
	r.logger.Error("send failed", "sender", senderID, "message", msg.ID, "error", err)
	r.sendError(ctx, senderID, models.ErrorCodeSend, "failed to send message")
	observability.ObserveRoute("send_error", started)
	return DeliveryResult{Message: msg, Err: err}
}

func (r *Router) sendError(ctx context.Context, userID int64, code, message string) {
	if err := r.out.SendToUser(ctx, userID, delivery.ChannelErrors, models.NewErrorFrame(code, message)); err != nil {
		r.logger.Warn("error frame not delivered", "user", userID, "code", code, "error", err)
	}
}
