package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

func TestPublishEventUsesDefaultPublisher(t *testing.T) {
	pub := new(publisherMock)
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	envelope := EventEnvelope{EventType: "im_events", EventName: "message_sent"}
	headers := BuildHeaders("req-1", "")
	pub.On("PublishJSON", mock.Anything, RoutingMessageSent, envelope, map[string]string{"x-request-id": "req-1"}).Return(nil).Once()

	require.NoError(t, PublishEvent(context.Background(), RoutingMessageSent, envelope, headers))
	pub.AssertExpectations(t)
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	assert.NoError(t, PublishEvent(context.Background(), RoutingWSEvents, EventEnvelope{}, nil))
}

func TestPublishEventReturnsError(t *testing.T) {
	pub := new(publisherMock)
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	pub.On("PublishJSON", mock.Anything, RoutingWSEvents, mock.Anything, mock.Anything).Return(assert.AnError).Once()
	assert.ErrorIs(t, PublishEvent(context.Background(), RoutingWSEvents, EventEnvelope{}, nil), assert.AnError)
}

func TestClientMetaFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.RemoteAddr = "10.0.0.5:4242"
	req.Header.Set("X-Device-Id", "phone-1")
	req.Header.Set("X-Request-Id", "req-9")
	req.Header.Set("User-Agent", "im-client/2")

	meta := ClientMetaFromRequest(req)
	assert.Equal(t, ClientMeta{DeviceID: "phone-1", RequestID: "req-9", IP: "10.0.0.5", UserAgent: "im-client/2"}, meta)

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", ClientMetaFromRequest(req).IP)

	req.Header.Set("X-Forwarded-For", " ,10.0.0.1")
	assert.Equal(t, "10.0.0.5", ClientMetaFromRequest(req).IP)
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bad")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}
