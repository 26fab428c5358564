package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/observability"
	"im-service/internal/repositories"
)

// ReadResult describes one mark-read request.
type ReadResult struct {
	Marked      int64
	UnreadCount int64
	ReceiptSent bool
	Err         error
}

// ReceiptService bulk-marks conversations read and notifies the original
// sender when their preference allows it.
type ReceiptService struct {
	messages repositories.MessageRepository
	users    repositories.UserRepository
	unread   *UnreadCounter
	out      delivery.Delivery
	logger   *slog.Logger
	now      func() time.Time
}

func NewReceiptService(messages repositories.MessageRepository, users repositories.UserRepository, unread *UnreadCounter, out delivery.Delivery, logger *slog.Logger) *ReceiptService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReceiptService{
		messages: messages,
		users:    users,
		unread:   unread,
		out:      out,
		logger:   logger.With("component", "read_receipts"),
		now:      time.Now,
	}
}

// MarkConversationRead marks every unread counterparty->reader message read,
// pushes the reader's fresh count and, if anything changed and the
// counterparty has showReadStatus set, sends them a READ_RECEIPT.
func (s *ReceiptService) MarkConversationRead(ctx context.Context, readerID, counterpartyID int64) ReadResult {
	if counterpartyID <= 0 {
		err := fmt.Errorf("%w: senderId is required", ErrValidation)
		s.logger.Warn("mark read rejected", "reader", readerID, "error", err)
		s.sendError(ctx, readerID, models.ErrorCodeValidation, "senderId is required")
		observability.IncReadReceipt("validation_error")
		return ReadResult{Err: err}
	}

	marked, err := s.messages.MarkAllRead(ctx, counterpartyID, readerID)
	if err != nil {
		return s.fail(ctx, readerID, counterpartyID, fmt.Errorf("%w: %v", ErrPersistence, err))
	}

	count, err := s.unread.Recompute(ctx, readerID, counterpartyID)
	if err != nil {
		return s.fail(ctx, readerID, counterpartyID, fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	result := ReadResult{Marked: marked, UnreadCount: count}
	if err := s.unread.PushUpdate(ctx, readerID, counterpartyID, count); err != nil {
		s.logger.Warn("unread update not delivered", "reader", readerID, "error", err)
		result.Err = fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	if marked == 0 {
		observability.IncReadReceipt("nothing_marked")
		return result
	}

	_ = observability.PublishEvent(ctx, observability.RoutingMessagesRead, observability.EventEnvelope{
		EventType: "im_events",
		EventName: "messages_read",
		Payload: map[string]interface{}{
			"reader_id": readerID,
			"sender_id": counterpartyID,
			"marked":    marked,
		},
	}, nil)

	sender, err := s.users.GetUser(ctx, counterpartyID)
	if err != nil {
		s.logger.Info("read receipt skipped, counterparty unresolved", "reader", readerID, "counterparty", counterpartyID, "error", err)
		observability.IncReadReceipt("unresolved")
		return result
	}
	if !sender.ShowReadStatus {
		s.logger.Debug("read receipt suppressed by preference", "reader", readerID, "counterparty", counterpartyID)
		observability.IncReadReceipt("suppressed")
		return result
	}

	receipt := models.NewReadReceipt(readerID, s.now())
	if err := s.out.SendToUser(ctx, counterpartyID, delivery.ChannelReadReceipts, receipt); err != nil {
		s.logger.Warn("read receipt not delivered", "reader", readerID, "counterparty", counterpartyID, "error", err)
		observability.IncReadReceipt("delivery_failed")
		return result
	}
	observability.IncReadReceipt("sent")
	result.ReceiptSent = true
	return result
}

func (s *ReceiptService) fail(ctx context.Context, readerID, counterpartyID int64, err error) ReadResult {
	s.logger.Error("mark read failed", "reader", readerID, "counterparty", counterpartyID, "error", err)
	s.sendError(ctx, readerID, models.ErrorCodeMarkRead, "failed to mark messages as read")
	observability.IncReadReceipt("error")
	return ReadResult{Err: err}
}

func (s *ReceiptService) sendError(ctx context.Context, userID int64, code, message string) {
	if err := s.out.SendToUser(ctx, userID, delivery.ChannelErrors, models.NewErrorFrame(code, message)); err != nil {
		s.logger.Warn("error frame not delivered", "user", userID, "code", code, "error", err)
	}
}
