package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"im-service/internal/delivery"
	"im-service/internal/models"
	"im-service/internal/observability"
)

const (
	userChannelPrefix  = "im:user:"
	topicChannelPrefix = "im:topic:"
)

// Local is the in-process side of delivery, normally *ws.Hub.
type Local interface {
	DeliverEncoded(userID int64, channel string, data []byte) error
}

type envelope struct {
	Origin  string          `json:"origin"`
	UserID  int64           `json:"userId,omitempty"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// Relay delivers frames to local connections and fans them out over redis
// pub/sub so users connected to other instances receive them too.
type Relay struct {
	client     *redis.Client
	local      Local
	instanceID string
	logger     *slog.Logger
	publish    func(ctx context.Context, channel string, data []byte) error
}

var _ delivery.Delivery = (*Relay)(nil)

func New(client *redis.Client, local Local, instanceID string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		client:     client,
		local:      local,
		instanceID: instanceID,
		logger:     logger.With("component", "relay", "instance", instanceID),
	}
	r.publish = func(ctx context.Context, channel string, data []byte) error {
		return client.Publish(ctx, channel, data).Err()
	}
	return r
}

// SendToUser delivers locally first. A failed publish is logged but does not
// fail the send; the message is already stored.
func (r *Relay) SendToUser(ctx context.Context, userID int64, channel delivery.Channel, payload any) error {
	data, err := json.Marshal(models.ServerFrame{Channel: string(channel), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	localErr := r.local.DeliverEncoded(userID, string(channel), data)
	r.fanOut(ctx, userChannel(userID), envelope{
		Origin:  r.instanceID,
		UserID:  userID,
		Channel: string(channel),
		Data:    data,
	})
	return localErr
}

func (r *Relay) Broadcast(ctx context.Context, topic delivery.Topic, payload any) error {
	data, err := json.Marshal(models.ServerFrame{Channel: string(topic), Payload: payload})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	_ = r.local.DeliverEncoded(0, string(topic), data)
	r.fanOut(ctx, topicChannelPrefix+string(topic), envelope{
		Origin:  r.instanceID,
		Channel: string(topic),
		Data:    data,
	})
	return nil
}

func (r *Relay) fanOut(ctx context.Context, redisChannel string, env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		observability.IncRelayError("publish")
		r.logger.Error("encode relay envelope", "error", err)
		return
	}
	if err := r.publish(ctx, redisChannel, body); err != nil {
		observability.IncRelayError("publish")
		r.logger.Warn("relay publish failed", "channel", redisChannel, "error", err)
	}
}

// Run subscribes to every user and topic channel until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, userChannelPrefix+"*", topicChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.logger.Info("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Channel, msg.Payload)
		}
	}
}

// handle delivers a remote envelope. Envelopes this instance published were
// already delivered locally and are skipped.
func (r *Relay) handle(redisChannel, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		observability.IncRelayError("decode")
		r.logger.Warn("bad relay envelope", "channel", redisChannel, "error", err)
		return
	}
	if env.Origin == r.instanceID {
		return
	}
	if strings.HasPrefix(redisChannel, userChannelPrefix) {
		id, err := strconv.ParseInt(strings.TrimPrefix(redisChannel, userChannelPrefix), 10, 64)
		if err != nil || id <= 0 || id != env.UserID {
			observability.IncRelayError("decode")
			r.logger.Warn("relay user mismatch", "channel", redisChannel, "user_id", env.UserID)
			return
		}
	} else {
		env.UserID = 0
	}
	if err := r.local.DeliverEncoded(env.UserID, env.Channel, env.Data); err != nil {
		r.logger.Debug("relay local delivery failed", "user_id", env.UserID, "error", err)
	}
}

func userChannel(userID int64) string {
	return userChannelPrefix + strconv.FormatInt(userID, 10)
}
