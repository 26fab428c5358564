package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageType(t *testing.T) {
	cases := map[string]MessageType{
		"":       MessageTypeText,
		"TEXT":   MessageTypeText,
		"image":  MessageTypeImage,
		" FILE ": MessageTypeFile,
		"VOICE":  MessageTypeVoice,
		"VIDEO":  MessageTypeVideo,
		"BOGUS":  MessageTypeText,
	}
	for hint, want := range cases {
		assert.Equal(t, want, ParseMessageType(hint), "hint %q", hint)
	}
}

func TestDecodeSendFrame(t *testing.T) {
	raw := []byte(`{"type":"send","payload":{"receiverId":2,"content":"hello","clientMessageId":77}}`)

	frame, err := DecodeClientFrame(raw)
	require.NoError(t, err)
	require.Equal(t, FrameSend, frame.Type)

	req, err := frame.SendRequest()
	require.NoError(t, err)
	require.NotNil(t, req.ReceiverID)
	require.NotNil(t, req.Content)
	require.NotNil(t, req.ClientMessageID)
	assert.Equal(t, int64(2), *req.ReceiverID)
	assert.Equal(t, "hello", *req.Content)
	assert.Equal(t, int64(77), *req.ClientMessageID)
	assert.Empty(t, req.Type)
}

func TestDecodeSendFrameKeepsAbsentFieldsNil(t *testing.T) {
	frame, err := DecodeClientFrame([]byte(`{"type":"send","payload":{"content":null}}`))
	require.NoError(t, err)

	req, err := frame.SendRequest()
	require.NoError(t, err)
	assert.Nil(t, req.ReceiverID)
	assert.Nil(t, req.Content)
}

func TestDecodeClientFrameErrors(t *testing.T) {
	_, err := DecodeClientFrame([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeClientFrame([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeClientFrame([]byte(`{"type":"typing"}`))
	assert.ErrorIs(t, err, ErrUnknownFrame)

	frame, err := DecodeClientFrame([]byte(`{"type":"markRead","payload":{"senderId":"abc"}}`))
	require.NoError(t, err)
	_, err = frame.MarkReadRequest()
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestOutboundFrameShapes(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	body, err := json.Marshal(NewErrorFrame(ErrorCodeSend, "boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ERROR","message":"boom","errorCode":"SEND_ERROR"}`, string(body))

	body, err = json.Marshal(NewReadReceipt(2, at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"READ_RECEIPT","readerId":2,"timestamp":1700000000123}`, string(body))

	body, err = json.Marshal(UnreadCountUpdate{SenderID: 1, UnreadCount: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"senderId":1,"unreadCount":3}`, string(body))
}

func TestDeliveredMessageFlattensPayload(t *testing.T) {
	clientID := int64(9)
	msg := Message{ID: 5, SenderID: 1, ReceiverID: 2, Content: "hi", Type: MessageTypeText, SentTime: time.Unix(0, 0).UTC()}

	body, err := json.Marshal(DeliveredMessage{Message: msg, ClientMessageID: &clientID, Status: StatusDelivered})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, float64(5), got["id"])
	assert.Equal(t, float64(9), got["clientMessageId"])
	assert.Equal(t, "DELIVERED", got["status"])
	assert.Equal(t, false, got["isRead"])
}
