package mocks

import (
	"context"
	"sync"

	"im-service/internal/observability"
)

// PublishedEvent is one PublishJSON call seen by RecordingPublisher.
type PublishedEvent struct {
	RoutingKey string
	Envelope   observability.EventEnvelope
	Headers    map[string]string
}

// RecordingPublisher captures domain events. Fail, when set, is returned
// from every publish after recording.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
	Fail   error
}

var _ observability.Publisher = (*RecordingPublisher)(nil)

func (p *RecordingPublisher) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	env, _ := message.(observability.EventEnvelope)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{RoutingKey: routingKey, Envelope: env, Headers: headers})
	return p.Fail
}

func (p *RecordingPublisher) Close() error { return nil }

func (p *RecordingPublisher) Events(routingKey string) []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishedEvent
	for _, e := range p.events {
		if e.RoutingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}
