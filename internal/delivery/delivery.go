// Package delivery defines the outbound primitives the real-time core needs
// from whatever transport carries frames to clients.
package delivery

import "context"

// Channel names a private per-user destination.
type Channel string

const (
	ChannelMessages     Channel = "messages"
	ChannelUnreadCount  Channel = "unread-count"
	ChannelErrors       Channel = "errors"
	ChannelHeartbeatAck Channel = "heartbeat-ack"
	ChannelReadReceipts Channel = "read-receipts"
)

// Topic names a fan-out destination for every connected client.
type Topic string

const (
	TopicPublic      Topic = "public"
	TopicOnlineUsers Topic = "online-users"
)

// Delivery sends frames to one user or to everyone. SendToUser is ordered
// per (user, channel).
type Delivery interface {
	SendToUser(ctx context.Context, userID int64, channel Channel, payload any) error
	Broadcast(ctx context.Context, topic Topic, payload any) error
}
