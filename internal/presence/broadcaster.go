package presence

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

const rosterType = "ONLINE_USERS"

// Broadcaster mirrors presence into the user store and publishes the full
// roster on every change.
type Broadcaster struct {
	users  repositories.UserRepository
	out    delivery.Delivery
	logger *slog.Logger
}

var _ Notifier = (*Broadcaster)(nil)

func NewBroadcaster(users repositories.UserRepository, out delivery.Delivery, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{users: users, out: out, logger: logger.With("component", "presence_broadcaster")}
}

// OnPresenceChange writes the durable online flag, then broadcasts the whole
// online roster to the online-users topic.
func (b *Broadcaster) OnPresenceChange(ctx context.Context, userID int64, online bool) error {
	if err := b.users.SetOnline(ctx, userID, online); err != nil {
		return fmt.Errorf("set online=%t for user %d: %w", online, userID, err)
	}

	roster, err := b.users.ListOnline(ctx)
	if err != nil {
		return fmt.Errorf("list online: %w", err)
	}
	if err := b.out.Broadcast(ctx, delivery.TopicOnlineUsers, models.OnlineRoster{Type: rosterType, Users: roster}); err != nil {
		return fmt.Errorf("broadcast roster: %w", err)
	}
	observability.SetOnlineUsers(len(roster))
	b.logger.Debug("roster broadcast", "user", userID, "online", online, "roster_size", len(roster))

	_ = observability.PublishEvent(ctx, observability.RoutingPresenceChange, observability.EventEnvelope{
		EventType: "im_events",
		EventName: "presence_changed",
		Payload: map[string]interface{}{
			"user_id":     userID,
			"online":      online,
			"roster_size": len(roster),
			"occurred_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}, nil)
	return nil
}

// AnnounceJoin tells the public topic that a user connected. A user missing
// from the store is announced by id alone.
func (b *Broadcaster) AnnounceJoin(ctx context.Context, userID int64) error {
	announcement := models.JoinAnnouncement{Type: "JOIN", UserID: userID}
	if user, err := b.users.GetUser(ctx, userID); err == nil {
		announcement.Username = user.Username
	}
	if err := b.out.Broadcast(ctx, delivery.TopicPublic, announcement); err != nil {
		return fmt.Errorf("broadcast join: %w", err)
	}
	return nil
}
