// Package gateway is the inbound surface the connection layer calls into.
// Every operation absorbs its own failures; nothing here tears down a
// connection.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"im-service/internal/chat"
	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/presence"
)

var ErrIdentityUnresolved = errors.New("identity unresolved")

// Presence is the roster side of connect and disconnect.
type Presence interface {
	OnPresenceChange(ctx context.Context, userID int64, online bool) error
	AnnounceJoin(ctx context.Context, userID int64) error
}

type MessageSender interface {
	SendMessage(ctx context.Context, senderID int64, req models.SendRequest) chat.DeliveryResult
}

type ConversationReader interface {
	MarkConversationRead(ctx context.Context, readerID, counterpartyID int64) chat.ReadResult
}

type Gateway struct {
	registry *presence.Registry
	presence Presence
	sender   MessageSender
	reader   ConversationReader
	cluster  presence.Cluster
	out      delivery.Delivery
	logger   *slog.Logger
	now      func() time.Time
}

func New(registry *presence.Registry, p Presence, sender MessageSender, reader ConversationReader, out delivery.Delivery, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		registry: registry,
		presence: p,
		sender:   sender,
		reader:   reader,
		cluster:  presence.Solo{},
		out:      out,
		logger:   logger.With("component", "gateway"),
		now:      time.Now,
	}
}

// WithCluster shares liveness with other instances so a disconnect here does
// not mark offline a user still connected elsewhere.
func (g *Gateway) WithCluster(c presence.Cluster) *Gateway {
	g.cluster = c
	return g
}

func (g *Gateway) resolve(op string, userID int64) error {
	if userID > 0 {
		return nil
	}
	g.logger.Warn("frame dropped", "op", op, "user", userID, "error", ErrIdentityUnresolved)
	return ErrIdentityUnresolved
}

// OnAuthenticatedConnect registers the heartbeat, marks the user online,
// broadcasts the roster and announces the join on the public topic.
func (g *Gateway) OnAuthenticatedConnect(ctx context.Context, userID int64) error {
	if err := g.resolve("connect", userID); err != nil {
		return err
	}
	unlock := g.registry.LockUser(userID)
	g.registry.RecordHeartbeat(userID, g.now())
	g.touch(ctx, userID)
	if err := g.presence.OnPresenceChange(ctx, userID, true); err != nil {
		g.logger.Error("online broadcast failed", "user", userID, "error", err)
	}
	unlock()

	if err := g.presence.AnnounceJoin(ctx, userID); err != nil {
		g.logger.Warn("join announcement failed", "user", userID, "error", err)
	}
	g.logger.Info("user connected", "user", userID)
	return nil
}

// OnHeartbeat refreshes liveness and acks. A user coming back from stale is
// re-marked online.
func (g *Gateway) OnHeartbeat(ctx context.Context, userID int64) error {
	if err := g.resolve("heartbeat", userID); err != nil {
		return err
	}
	now := g.now()
	unlock := g.registry.LockUser(userID)
	if g.registry.RecordHeartbeat(userID, now) {
		if err := g.presence.OnPresenceChange(ctx, userID, true); err != nil {
			g.logger.Error("online broadcast failed", "user", userID, "error", err)
		}
	}
	g.touch(ctx, userID)
	unlock()

	if err := g.out.SendToUser(ctx, userID, delivery.ChannelHeartbeatAck, models.NewHeartbeatAck(now)); err != nil {
		g.logger.Debug("heartbeat ack not delivered", "user", userID, "error", err)
	}
	return nil
}

func (g *Gateway) OnSendMessage(ctx context.Context, senderID int64, req models.SendRequest) chat.DeliveryResult {
	if err := g.resolve("send", senderID); err != nil {
		return chat.DeliveryResult{Err: err}
	}
	return g.sender.SendMessage(ctx, senderID, req)
}

func (g *Gateway) OnMarkRead(ctx context.Context, readerID int64, req models.MarkReadRequest) chat.ReadResult {
	if err := g.resolve("markRead", readerID); err != nil {
		return chat.ReadResult{Err: err}
	}
	var counterparty int64
	if req.SenderID != nil {
		counterparty = *req.SenderID
	}
	return g.reader.MarkConversationRead(ctx, readerID, counterparty)
}

// OnDisconnect drops the registry entry and broadcasts the roster without
// the user, unless another instance still holds them live.
func (g *Gateway) OnDisconnect(ctx context.Context, userID int64) error {
	if err := g.resolve("disconnect", userID); err != nil {
		return err
	}
	unlock := g.registry.LockUser(userID)
	defer unlock()

	g.registry.Evict(userID)
	elsewhere, err := g.cluster.Release(ctx, userID)
	if err != nil {
		g.logger.Warn("cluster release failed", "user", userID, "error", err)
	}
	if elsewhere {
		g.logger.Info("user disconnected, still live on another instance", "user", userID)
		return nil
	}
	if err := g.presence.OnPresenceChange(ctx, userID, false); err != nil {
		g.logger.Error("offline broadcast failed", "user", userID, "error", err)
	}
	g.logger.Info("user disconnected", "user", userID)
	return nil
}

func (g *Gateway) touch(ctx context.Context, userID int64) {
	if err := g.cluster.Touch(ctx, userID); err != nil {
		g.logger.Warn("cluster touch failed", "user", userID, "error", err)
	}
}

// HandleFrame decodes one raw client frame and dispatches it. A frame that
// does not decode is answered with a VALIDATION_ERROR frame.
func (g *Gateway) HandleFrame(ctx context.Context, userID int64, raw []byte) error {
	if err := g.resolve("frame", userID); err != nil {
		return err
	}

	frame, err := models.DecodeClientFrame(raw)
	if err != nil {
		return g.reject(ctx, userID, err)
	}

	switch frame.Type {
	case models.FrameConnect:
		return g.OnAuthenticatedConnect(ctx, userID)
	case models.FrameHeartbeat:
		return g.OnHeartbeat(ctx, userID)
	case models.FrameSend:
		req, err := frame.SendRequest()
		if err != nil {
			return g.reject(ctx, userID, err)
		}
		return g.OnSendMessage(ctx, userID, req).Err
	case models.FrameMarkRead:
		req, err := frame.MarkReadRequest()
		if err != nil {
			return g.reject(ctx, userID, err)
		}
		return g.OnMarkRead(ctx, userID, req).Err
	default:
		return g.reject(ctx, userID, fmt.Errorf("%w: %q", models.ErrUnknownFrame, frame.Type))
	}
}

func (g *Gateway) reject(ctx context.Context, userID int64, err error) error {
	g.logger.Warn("frame rejected", "user", userID, "error", err)
	frame := models.NewErrorFrame(models.ErrorCodeValidation, err.Error())
	if sendErr := g.out.SendToUser(ctx, userID, delivery.ChannelErrors, frame); sendErr != nil {
		g.logger.Debug("error frame not delivered", "user", userID, "error", sendErr)
	}
	return err
}
