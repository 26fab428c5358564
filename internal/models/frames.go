package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// FrameType tags an inbound client frame.
type FrameType string

const (
	FrameConnect   FrameType = "connect"
	FrameHeartbeat FrameType = "heartbeat"
	FrameSend      FrameType = "send"
	FrameMarkRead  FrameType = "markRead"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// ClientFrame is the envelope every inbound websocket frame is wrapped in.
type ClientFrame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendRequest is the payload of a send frame. Pointer fields distinguish
// absent values from zero values.
type SendRequest struct {
	ReceiverID      *int64  `json:"receiverId"`
	Content         *string `json:"content"`
	Type            string  `json:"type,omitempty"`
	ClientMessageID *int64  `json:"clientMessageId,omitempty"`
}

// MarkReadRequest names the counterparty whose messages the reader has seen.
type MarkReadRequest struct {
	SenderID *int64 `json:"senderId"`
}

// DecodeClientFrame parses the envelope and checks the tag.
func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch frame.Type {
	case FrameConnect, FrameHeartbeat, FrameSend, FrameMarkRead:
		return frame, nil
	case "":
		return ClientFrame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	default:
		return ClientFrame{}, fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type)
	}
}

// SendRequest decodes the payload of a send frame.
func (f ClientFrame) SendRequest() (SendRequest, error) {
	var req SendRequest
	if err := f.decodePayload(&req); err != nil {
		return SendRequest{}, err
	}
	return req, nil
}

// MarkReadRequest decodes the payload of a markRead frame.
func (f ClientFrame) MarkReadRequest() (MarkReadRequest, error) {
	var req MarkReadRequest
	if err := f.decodePayload(&req); err != nil {
		return MarkReadRequest{}, err
	}
	return req, nil
}

func (f ClientFrame) decodePayload(dst any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, f.Type, err)
	}
	return nil
}

// Error codes carried by ErrorFrame.
const (
	ErrorCodeSend       = "SEND_ERROR"
	ErrorCodeMarkRead   = "MARK_READ_ERROR"
	ErrorCodeValidation = "VALIDATION_ERROR"
)

// ServerFrame wraps every outbound payload with the channel it targets.
type ServerFrame struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// UnreadCountUpdate identifies the counterparty, not the recipient of the push.
type UnreadCountUpdate struct {
	SenderID    int64 `json:"senderId"`
	UnreadCount int64 `json:"unreadCount"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"errorCode"`
}

func NewErrorFrame(code, message string) ErrorFrame {
	return ErrorFrame{Type: "ERROR", Message: message, Code: code}
}

type ReadReceipt struct {
	Type      string `json:"type"`
	ReaderID  int64  `json:"readerId"`
	Timestamp int64  `json:"timestamp"`
}

func NewReadReceipt(readerID int64, at time.Time) ReadReceipt {
	return ReadReceipt{Type: "READ_RECEIPT", ReaderID: readerID, Timestamp: at.UnixMilli()}
}

type HeartbeatAck struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func NewHeartbeatAck(at time.Time) HeartbeatAck {
	return HeartbeatAck{Type: "HEARTBEAT_ACK", Timestamp: at.UnixMilli()}
}

// JoinAnnouncement is broadcast on the public topic when a user connects.
type JoinAnnouncement struct {
	Type     string `json:"type"`
	UserID   int64  `json:"userId"`
	Username string `json:"username,omitempty"`
}

// OnlineRoster is the full list of online users, never a delta.
type OnlineRoster struct {
	Type  string `json:"type"`
	Users []User `json:"users"`
}
