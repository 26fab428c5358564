package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	maxFrameSize      = 64 << 10
	disconnectTimeout = 5 * time.Second
)

type wsConnection interface {
	Close() error
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
}

// deadlineSetter is implemented by *websocket.Conn; test doubles may skip it.
type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
}

// FrameHandler is the inbound side of a connection.
type FrameHandler interface {
	OnAuthenticatedConnect(ctx context.Context, userID int64) error
	HandleFrame(ctx context.Context, userID int64, raw []byte) error
	OnDisconnect(ctx context.Context, userID int64) error
}

// Connection pumps one websocket: a read loop feeding the handler and a
// write loop draining the hub queue.
type Connection struct {
	ws      wsConnection
	hub     *Hub
	handler FrameHandler
	info    ConnInfo
	logger  *slog.Logger
}

func NewConnection(hub *Hub, ws wsConnection, handler FrameHandler, info ConnInfo, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	if ds, ok := ws.(deadlineSetter); ok {
		ds.SetReadLimit(maxFrameSize)
	}
	return &Connection{
		ws:      ws,
		hub:     hub,
		handler: handler,
		info:    info,
		logger:  logger.With("conn", info.ConnID, "user", info.UserID),
	}
}

// Handle blocks until the socket closes or ctx is done. The returned error is
// the close reason, nil for a normal close.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unlock := c.hub.lockUser(c.info.UserID)
	cl, first := c.hub.Register(c.info)
	if first {
		_ = c.handler.OnAuthenticatedConnect(ctx, c.info.UserID)
	}
	unlock()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errCh <- c.readLoop(ctx)
		cancel()
	}()
	go func() {
		defer wg.Done()
		errCh <- c.writeLoop(ctx, cl)
		cancel()
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()

	unlock = c.hub.lockUser(c.info.UserID)
	if c.hub.Unregister(cl) {
		// ctx may already be cancelled.
		dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		_ = c.handler.OnDisconnect(dctx, c.info.UserID)
		dcancel()
	}
	unlock()
	wg.Wait()

	if err == nil || errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if err := c.handler.HandleFrame(ctx, c.info.UserID, data); err != nil {
			c.logger.Debug("frame not processed", "error", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context, cl *client) error {
	for {
		select {
		case data, ok := <-cl.send:
			if !ok {
				return nil
			}
			if ds, ok := c.ws.(deadlineSetter); ok {
				_ = ds.SetWriteDeadline(time.Now().Add(writeWait))
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
