package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"im-service/internal/chat"
)

type OnlineSnapshot interface {
	Snapshot(now time.Time, timeout time.Duration) []int64
}

type UnreadQuery interface {
	Recompute(ctx context.Context, receiverID, senderID int64) (int64, error)
	Total(ctx context.Context, receiverID int64) (int64, error)
}

type ConversationReader interface {
	MarkConversationRead(ctx context.Context, readerID, counterpartyID int64) chat.ReadResult
}

// IMHandler exposes read-only presence and unread state over HTTP, plus a
// mark-read endpoint for clients that are not on a websocket.
type IMHandler struct {
	presence OnlineSnapshot
	unread   UnreadQuery
	reader   ConversationReader
	timeout  time.Duration
	now      func() time.Time
}

// NewIMHandler builds an IMHandler. timeout is the heartbeat staleness limit.
func NewIMHandler(presence OnlineSnapshot, unread UnreadQuery, reader ConversationReader, timeout time.Duration) *IMHandler {
	return &IMHandler{presence: presence, unread: unread, reader: reader, timeout: timeout, now: time.Now}
}

// ListOnline returns the ids currently considered online.
func (h *IMHandler) ListOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"userIds": h.presence.Snapshot(h.now(), h.timeout)})
}

// GetUnreadTotal returns the caller's unread count across all senders.
func (h *IMHandler) GetUnreadTotal(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}

	count, err := h.unread.Total(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unreadCount": count})
}

// GetUnread returns the caller's unread count for one counterparty.
func (h *IMHandler) GetUnread(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}
	counterparty, ok := counterpartyParam(c)
	if !ok {
		return
	}

	count, err := h.unread.Recompute(c.Request.Context(), userID, counterparty)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"senderId": counterparty, "unreadCount": count})
}

// MarkRead marks the conversation with the counterparty as read.
func (h *IMHandler) MarkRead(c *gin.Context) {
	userID, ok := authenticatedUser(c)
	if !ok {
		return
	}
	counterparty, ok := counterpartyParam(c)
	if !ok {
		return
	}

	res := h.reader.MarkConversationRead(c.Request.Context(), userID, counterparty)
	switch {
	case errors.Is(res.Err, chat.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counterparty"})
		return
	case errors.Is(res.Err, chat.ErrPersistence):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark messages as read"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"marked":      res.Marked,
		"unreadCount": res.UnreadCount,
		"receiptSent": res.ReceiptSent,
	})
}

// Health reports liveness.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func authenticatedUser(c *gin.Context) (int64, bool) {
	userID := userIDFromContext(c)
	if userID == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return 0, false
	}
	return *userID, true
}

func counterpartyParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("counterparty_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid counterparty id"})
		return 0, false
	}
	return id, true
}
