package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"im-service/internal/observability"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int64, error)
}

// ChatWebSocketHandler upgrades authenticated requests and runs the
// connection until it closes.
type ChatWebSocketHandler struct {
	hub       *Hub
	handler   FrameHandler
	validator TokenValidator
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewChatWebSocketHandler(hub *Hub, handler FrameHandler, validator TokenValidator, logger *slog.Logger) *ChatWebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatWebSocketHandler{
		hub:       hub,
		handler:   handler,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "ws"),
	}
}

// Handle serves GET /ws. The token comes from the Authorization header or,
// for browsers, the token query parameter.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("im-service/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.validator.ValidateToken(ctx, tokenFromRequest(c))
	if err != nil || userID <= 0 {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.Int64("user.id", userID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.logger.Warn("upgrade failed", "user", userID, "error", err)
		return
	}

	meta := observability.ClientMetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	observability.IncWSActive()
	publishWSEvent(ctx, info, "ws_connect", "")

	closeErr := NewConnection(h.hub, conn, h.handler, info, h.logger).Handle(ctx)

	observability.DecWSActive()
	reason := ""
	if closeErr != nil {
		reason = closeErr.Error()
		publishWSEvent(context.WithoutCancel(ctx), info, "ws_error", reason)
	}
	publishWSEvent(context.WithoutCancel(ctx), info, "ws_disconnect", reason)
}

func tokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
