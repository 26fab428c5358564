package gateway

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"im-service/internal/chat"
	"im-service/internal/delivery"
	"im-service/internal/mocks"
	"im-service/internal/models"
	"im-service/internal/presence"
	"im-service/internal/repositories"
)

type presenceMock struct {
	mock.Mock
}

func (m *presenceMock) OnPresenceChange(ctx context.Context, userID int64, online bool) error {
	return m.Called(ctx, userID, online).Error(0)
}

func (m *presenceMock) AnnounceJoin(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

type senderMock struct {
	mock.Mock
}

func (m *senderMock) SendMessage(ctx context.Context, senderID int64, req models.SendRequest) chat.DeliveryResult {
	return m.Called(ctx, senderID, req).Get(0).(chat.DeliveryResult)
}

type readerMock struct {
	mock.Mock
}

func (m *readerMock) MarkConversationRead(ctx context.Context, readerID, counterpartyID int64) chat.ReadResult {
	return m.Called(ctx, readerID, counterpartyID).Get(0).(chat.ReadResult)
}

type fixture struct {
	gw       *Gateway
	registry *presence.Registry
	presence *presenceMock
	sender   *senderMock
	reader   *readerMock
	out      *mocks.RecordingDelivery
	clock    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		registry: presence.NewRegistry(120 * time.Second),
		presence: new(presenceMock),
		sender:   new(senderMock),
		reader:   new(readerMock),
		out:      &mocks.RecordingDelivery{},
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	f.gw = New(f.registry, f.presence, f.sender, f.reader, f.out, nil)
	f.gw.now = func() time.Time { return f.clock }
	return f
}

func TestOnAuthenticatedConnect(t *testing.T) {
	f := newFixture()
	f.presence.On("OnPresenceChange", mock.Anything, int64(1), true).Return(nil).Once()
	f.presence.On("AnnounceJoin", mock.Anything, int64(1)).Return(nil).Once()

	require.NoError(t, f.gw.OnAuthenticatedConnect(context.Background(), 1))

	assert.True(t, f.registry.IsOnline(1, f.clock, 120*time.Second))
	f.presence.AssertExpectations(t)
}

func TestOnAuthenticatedConnectAbsorbsBroadcastFailure(t *testing.T) {
	f := newFixture()
	f.presence.On("OnPresenceChange", mock.Anything, int64(1), true).Return(assert.AnError).Once()
	f.presence.On("AnnounceJoin", mock.Anything, int64(1)).Return(assert.AnError).Once()

	assert.NoError(t, f.gw.OnAuthenticatedConnect(context.Background(), 1))
	f.presence.AssertExpectations(t)
}

func TestOnHeartbeatAcksAndOnlyBroadcastsOnTransition(t *testing.T) {
	f := newFixture()
	f.presence.On("OnPresenceChange", mock.Anything, int64(1), true).Return(nil).Once()

	require.NoError(t, f.gw.OnHeartbeat(context.Background(), 1))
	f.clock = f.clock.Add(30 * time.Second)
	require.NoError(t, f.gw.OnHeartbeat(context.Background(), 1))

	f.presence.AssertExpectations(t)
	acks := f.out.SentTo(1, delivery.ChannelHeartbeatAck)
	require.Len(t, acks, 2)
	assert.Equal(t, models.NewHeartbeatAck(f.clock), acks[1])

	f.presence.On("OnPresenceChange", mock.Anything, int64(1), true).Return(nil).Once()
	f.clock = f.clock.Add(121 * time.Second)
	require.NoError(t, f.gw.OnHeartbeat(context.Background(), 1))
	f.presence.AssertExpectations(t)
}

func TestOnDisconnect(t *testing.T) {
	f := newFixture()
	f.registry.RecordHeartbeat(1, f.clock)
	f.presence.On("OnPresenceChange", mock.Anything, int64(1), false).Return(nil).Once()

	require.NoError(t, f.gw.OnDisconnect(context.Background(), 1))

	assert.False(t, f.registry.IsOnline(1, f.clock, time.Hour))
	f.presence.AssertExpectations(t)
}

func TestUnresolvedIdentityIsDropped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	assert.ErrorIs(t, f.gw.OnAuthenticatedConnect(ctx, 0), ErrIdentityUnresolved)
	assert.ErrorIs(t, f.gw.OnHeartbeat(ctx, -1), ErrIdentityUnresolved)
	assert.ErrorIs(t, f.gw.OnSendMessage(ctx, 0, models.SendRequest{}).Err, ErrIdentityUnresolved)
	assert.ErrorIs(t, f.gw.OnMarkRead(ctx, 0, models.MarkReadRequest{}).Err, ErrIdentityUnresolved)
	assert.ErrorIs(t, f.gw.HandleFrame(ctx, 0, []byte(`{"type":"heartbeat"}`)), ErrIdentityUnresolved)

	assert.Empty(t, f.out.Sent())
	assert.Empty(t, f.registry.Entries())
	f.sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleFrameDispatchesSend(t *testing.T) {
	f := newFixture()
	receiver, content := int64(2), "hello"
	want := models.SendRequest{ReceiverID: &receiver, Content: &content, Type: "TEXT"}
	f.sender.On("SendMessage", mock.Anything, int64(1), want).Return(chat.DeliveryResult{}).Once()

	err := f.gw.HandleFrame(context.Background(), 1, []byte(`{"type":"send","payload":{"receiverId":2,"content":"hello","type":"TEXT"}}`))

	require.NoError(t, err)
	f.sender.AssertExpectations(t)
}

func TestHandleFrameDispatchesMarkRead(t *testing.T) {
	f := newFixture()
	f.reader.On("MarkConversationRead", mock.Anything, int64(2), int64(1)).Return(chat.ReadResult{Marked: 1}).Once()

	require.NoError(t, f.gw.HandleFrame(context.Background(), 2, []byte(`{"type":"markRead","payload":{"senderId":1}}`)))
	f.reader.AssertExpectations(t)
}

func TestHandleFrameMarkReadWithoutSender(t *testing.T) {
	f := newFixture()
	f.reader.On("MarkConversationRead", mock.Anything, int64(2), int64(0)).Return(chat.ReadResult{Err: chat.ErrValidation}).Once()

	err := f.gw.HandleFrame(context.Background(), 2, []byte(`{"type":"markRead","payload":{}}`))
	assert.ErrorIs(t, err, chat.ErrValidation)
}

func TestHandleFrameRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{{`,
		"unknown type": `{"type":"typing"}`,
		"bad payload":  `{"type":"send","payload":{"receiverId":"two"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture()

			err := f.gw.HandleFrame(context.Background(), 1, []byte(raw))

			assert.Error(t, err)
			errs := f.out.SentTo(1, delivery.ChannelErrors)
			require.Len(t, errs, 1)
			assert.Equal(t, models.ErrorCodeValidation, errs[0].(models.ErrorFrame).Code)
			f.sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

type clusterMock struct {
	mock.Mock
}

func (m *clusterMock) Touch(ctx context.Context, userID int64) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *clusterMock) Release(ctx context.Context, userID int64) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func TestClusterTouchedOnConnectAndHeartbeat(t *testing.T) {
	f := newFixture()
	cluster := new(clusterMock)
	f.gw.WithCluster(cluster)
	cluster.On("Touch", mock.Anything, int64(1)).Return(nil).Twice()
	f.presence.On("OnPresenceChange", mock.Anything, int64(1), true).Return(nil).Once()
	f.presence.On("AnnounceJoin", mock.Anything, int64(1)).Return(nil).Once()

	require.NoError(t, f.gw.OnAuthenticatedConnect(context.Background(), 1))
	require.NoError(t, f.gw.OnHeartbeat(context.Background(), 1))

	cluster.AssertExpectations(t)
	f.presence.AssertExpectations(t)
}

func TestOnDisconnectKeepsUserLiveElsewhere(t *testing.T) {
	f := newFixture()
	cluster := new(clusterMock)
	f.gw.WithCluster(cluster)
	f.registry.RecordHeartbeat(1, f.clock)
	cluster.On("Release", mock.Anything, int64(1)).Return(true, nil).Once()

	require.NoError(t, f.gw.OnDisconnect(context.Background(), 1))

	assert.Empty(t, f.registry.Entries(), "local entry still goes")
	f.presence.AssertNotCalled(t, "OnPresenceChange", mock.Anything, mock.Anything, mock.Anything)
	cluster.AssertExpectations(t)
}

func TestOnDisconnectMarksOfflineWhenClusterFails(t *testing.T) {
	f := newFixture()
	cluster := new(clusterMock)
	f.gw.WithCluster(cluster)
	f.registry.RecordHeartbeat(1, f.clock)
	cluster.On("Release", mock.Anything, int64(1)).Return(false, assert.AnError).Once()
	f.presence.On("OnPresenceChange", mock.Anything, int64(1), false).Return(nil).Once()

	require.NoError(t, f.gw.OnDisconnect(context.Background(), 1))
	f.presence.AssertExpectations(t)
}

// heartbeatDuringOffline lands a heartbeat for the evicted user while the
// offline roster write is about to happen.
type heartbeatDuringOffline struct {
	inner presence.Notifier
	gw    *Gateway
	once  sync.Once
	done  chan error
}

func (n *heartbeatDuringOffline) OnPresenceChange(ctx context.Context, userID int64, online bool) error {
	if !online {
		n.once.Do(func() {
			go func() { n.done <- n.gw.OnHeartbeat(context.Background(), userID) }()
			time.Sleep(30 * time.Millisecond)
		})
	}
	return n.inner.OnPresenceChange(ctx, userID, online)
}

func TestHeartbeatRacingEvictionEndsOnline(t *testing.T) {
	store, err := repositories.NewBoltStore(filepath.Join(t.TempDir(), "presence.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	out := &mocks.RecordingDelivery{}
	registry := presence.NewRegistry(120 * time.Second)
	broadcaster := presence.NewBroadcaster(store, out, nil)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gw := New(registry, broadcaster, new(senderMock), new(readerMock), out, nil)
	gw.now = func() time.Time { return clock }

	ctx := context.Background()
	require.NoError(t, gw.OnAuthenticatedConnect(ctx, 1))

	notifier := &heartbeatDuringOffline{inner: broadcaster, gw: gw, done: make(chan error, 1)}
	monitor := presence.NewMonitor(registry, notifier, time.Minute, 120*time.Second, nil)
	assert.Equal(t, []int64{1}, monitor.Sweep(ctx))

	select {
	case err := <-notifier.done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat never completed")
	}

	online, err := store.ListOnline(ctx)
	require.NoError(t, err)
	require.Len(t, online, 1, "durable roster must agree with the registry")
	assert.Equal(t, int64(1), online[0].ID)
	assert.Len(t, registry.Entries(), 1)
}
