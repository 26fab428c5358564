package repositories

import (
	"encoding/binary"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"im-service/internal/models"
)

func idKey(id int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

// unreadKey is receiver|sender|message. A prefix scan over receiver|sender
// yields one conversation; over receiver alone, the whole inbox.
func unreadKey(senderID, receiverID, messageID int64) []byte {
	key := make([]byte, 24)
	binary.BigEndian.PutUint64(key[0:8], uint64(receiverID))
	binary.BigEndian.PutUint64(key[8:16], uint64(senderID))
	binary.BigEndian.PutUint64(key[16:24], uint64(messageID))
	return key
}

func unreadPrefix(senderID, receiverID int64) []byte {
	return unreadKey(senderID, receiverID, 0)[:16]
}

func inboxPrefix(receiverID int64) []byte {
	return idKey(receiverID)
}

type dbMessage struct {
	ID         int64  `msgpack:"id"`
	SenderID   int64  `msgpack:"senderId"`
	ReceiverID int64  `msgpack:"receiverId"`
	Content    string `msgpack:"content"`
	Type       string `msgpack:"type"`
	SentTime   int64  `msgpack:"sentTime"`
	IsRead     bool   `msgpack:"isRead"`
}

func (m *dbMessage) Key() []byte {
	return idKey(m.ID)
}

func (m *dbMessage) MarshalBinary() ([]byte, error) {
	type alias dbMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *dbMessage) UnmarshalBinary(data []byte) error {
	type alias dbMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func (m *dbMessage) toModel() models.Message {
	return models.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Type:       models.MessageType(m.Type),
		SentTime:   time.UnixMilli(m.SentTime).UTC(),
		IsRead:     m.IsRead,
	}
}

type dbUser struct {
	ID             int64  `msgpack:"id"`
	Username       string `msgpack:"username"`
	Nickname       string `msgpack:"nickname"`
	Avatar         string `msgpack:"avatar"`
	IsOnline       bool   `msgpack:"isOnline"`
	ShowReadStatus bool   `msgpack:"showReadStatus"`
	LastLoginTime  int64  `msgpack:"lastLoginTime"`
}

func (u *dbUser) Key() []byte {
	return idKey(u.ID)
}

func (u *dbUser) MarshalBinary() ([]byte, error) {
	type alias dbUser
	return msgpack.Marshal((*alias)(u))
}

func (u *dbUser) UnmarshalBinary(data []byte) error {
	type alias dbUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

func (u *dbUser) toModel() models.User {
	user := models.User{
		ID:             u.ID,
		Username:       u.Username,
		Nickname:       u.Nickname,
		Avatar:         u.Avatar,
		IsOnline:       u.IsOnline,
		ShowReadStatus: u.ShowReadStatus,
	}
	if u.LastLoginTime != 0 {
		user.LastLoginTime = time.UnixMilli(u.LastLoginTime).UTC()
	}
	return user
}

func dbUserFromModel(user models.User) *dbUser {
	u := &dbUser{
		ID:             user.ID,
		Username:       user.Username,
		Nickname:       user.Nickname,
		Avatar:         user.Avatar,
		IsOnline:       user.IsOnline,
		ShowReadStatus: user.ShowReadStatus,
	}
	if !user.LastLoginTime.IsZero() {
		u.LastLoginTime = user.LastLoginTime.UnixMilli()
	}
	return u
}
