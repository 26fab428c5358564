package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-service/internal/delivery"
)

type staticValidator map[string]int64

func (v staticValidator) ValidateToken(ctx context.Context, token string) (int64, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return 0, errors.New("invalid token")
}

// echoHandler answers every frame on the sender's errors channel.
type echoHandler struct {
	recordingHandler
	hub *Hub
}

func (h *echoHandler) HandleFrame(ctx context.Context, userID int64, raw []byte) error {
	_ = h.recordingHandler.HandleFrame(ctx, userID, raw)
	return h.hub.SendToUser(ctx, userID, delivery.ChannelErrors, map[string]string{"echo": string(raw)})
}

func setupWSServer(t *testing.T) (*httptest.Server, *echoHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(8)
	handler := &echoHandler{hub: hub}
	wsHandler := NewChatWebSocketHandler(hub, handler, staticValidator{"good": 1}, nil)

	r := gin.New()
	r.GET("/ws", wsHandler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, handler
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestHandleRejectsMissingToken(t *testing.T) {
	srv, _ := setupWSServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleRejectsBadBearer(t *testing.T) {
	srv, _ := setupWSServer(t)

	header := http.Header{"Authorization": []string{"Bearer nope"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleRoundTrip(t *testing.T) {
	srv, handler := setupWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token=good", nil)
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	channel, payload := decodeFrame(t, data)
	assert.Equal(t, "errors", channel)
	assert.Equal(t, `{"type":"heartbeat"}`, payload["echo"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	require.Eventually(t, func() bool {
		_, _, disconnects := handler.snapshot()
		return len(disconnects) == 1
	}, 2*time.Second, 10*time.Millisecond)
	connects, _, _ := handler.snapshot()
	assert.Equal(t, []int64{1}, connects)
}
