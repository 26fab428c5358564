package mocks

import (
	"context"
	"sync"

	"im-service/internal/delivery"
)

type SentFrame struct {
	UserID  int64
	Channel delivery.Channel
	Payload any
}

type BroadcastFrame struct {
	Topic   delivery.Topic
	Payload any
}

// RecordingDelivery captures every outbound frame in order. FailSend, when
// set, decides per call whether SendToUser fails.
type RecordingDelivery struct {
	mu         sync.Mutex
	sent       []SentFrame
	broadcasts []BroadcastFrame

	FailSend      func(userID int64, channel delivery.Channel) error
	FailBroadcast error
}

var _ delivery.Delivery = (*RecordingDelivery)(nil)

func (d *RecordingDelivery) SendToUser(ctx context.Context, userID int64, channel delivery.Channel, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailSend != nil {
		if err := d.FailSend(userID, channel); err != nil {
			return err
		}
	}
	d.sent = append(d.sent, SentFrame{UserID: userID, Channel: channel, Payload: payload})
	return nil
}

func (d *RecordingDelivery) Broadcast(ctx context.Context, topic delivery.Topic, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailBroadcast != nil {
		return d.FailBroadcast
	}
	d.broadcasts = append(d.broadcasts, BroadcastFrame{Topic: topic, Payload: payload})
	return nil
}

func (d *RecordingDelivery) Sent() []SentFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SentFrame(nil), d.sent...)
}

// SentTo filters recorded frames by user and channel.
func (d *RecordingDelivery) SentTo(userID int64, channel delivery.Channel) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []any
	for _, f := range d.sent {
		if f.UserID == userID && f.Channel == channel {
			out = append(out, f.Payload)
		}
	}
	return out
}

func (d *RecordingDelivery) Broadcasts() []BroadcastFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]BroadcastFrame(nil), d.broadcasts...)
}

func (d *RecordingDelivery) BroadcastsOn(topic delivery.Topic) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []any
	for _, f := range d.broadcasts {
		if f.Topic == topic {
			out = append(out, f.Payload)
		}
	}
	return out
}
