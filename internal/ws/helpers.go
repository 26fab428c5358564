package ws

import (
	"context"

	"github.com/google/uuid"

	"im-service/internal/observability"
)

func newConnID() string {
	return uuid.NewString()
}

func publishWSEvent(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)
	_ = observability.PublishEvent(ctx, observability.RoutingWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   info.eventPayload(event, reason),
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
