package repositories

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"im-service/internal/models"
)

var (
	bucketUsers    = []byte("users")
	bucketMessages = []byte("messages")
	bucketUnread   = []byte("unread_inbox")
)

// BoltStore keeps users and messages in an embedded bbolt file. It serves
// single-node deployments and local development.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

var (
	_ MessageRepository = (*BoltStore)(nil)
	_ UserRepository    = (*BoltStore)(nil)
)

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketMessages, bucketUnread} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) SaveMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	var saved models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		seq, err := messages.NextSequence()
		if err != nil {
			return err
		}
		row := dbMessage{
			ID:         int64(seq),
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			Content:    msg.Content,
			Type:       string(msg.Type),
			SentTime:   s.now().UnixMilli(),
		}
		data, err := row.MarshalBinary()
		if err != nil {
			return err
		}
		if err := messages.Put(row.Key(), data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUnread).Put(unreadKey(row.SenderID, row.ReceiverID, row.ID), nil); err != nil {
			return err
		}
		saved = row.toModel()
		return nil
	})
	if err != nil {
		return models.Message{}, fmt.Errorf("save message: %w", err)
	}
	return saved, nil
}

func (s *BoltStore) CountUnread(ctx context.Context, senderID, receiverID int64) (int64, error) {
	return s.countPrefix(ctx, unreadPrefix(senderID, receiverID))
}

func (s *BoltStore) CountUnreadForReceiver(ctx context.Context, receiverID int64) (int64, error) {
	return s.countPrefix(ctx, inboxPrefix(receiverID))
}

func (s *BoltStore) countPrefix(ctx context.Context, prefix []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var count int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketUnread).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BoltStore) MarkAllRead(ctx context.Context, senderID, receiverID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var marked int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketUnread)
		messages := tx.Bucket(bucketMessages)
		prefix := unreadPrefix(senderID, receiverID)

		var keys [][]byte
		c := index.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}

		for _, k := range keys {
			msgKey := k[16:24]
			if v := messages.Get(msgKey); v != nil {
				var row dbMessage
				if err := row.UnmarshalBinary(v); err != nil {
					return err
				}
				row.IsRead = true
				data, err := row.MarshalBinary()
				if err != nil {
					return err
				}
				if err := messages.Put(msgKey, data); err != nil {
					return err
				}
			}
			if err := index.Delete(k); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return marked, nil
}

// GetMessage is used by tests and tooling to inspect a stored row.
func (s *BoltStore) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketMessages).Get(idKey(messageID))
		if v == nil {
			return nil
		}
		var row dbMessage
		if err := row.UnmarshalBinary(v); err != nil {
			return err
		}
		msg, found = row.toModel(), true
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	if !found {
		return models.Message{}, fmt.Errorf("message %d not found", messageID)
	}
	return msg, nil
}

func (s *BoltStore) GetUser(ctx context.Context, userID int64) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketUsers).Get(idKey(userID))
		if v == nil {
			return ErrUserNotFound
		}
		var row dbUser
		if err := row.UnmarshalBinary(v); err != nil {
			return err
		}
		user = row.toModel()
		return nil
	})
	return user, err
}

// UpsertUser stores a full user record, for seeding and the mirror sync.
func (s *BoltStore) UpsertUser(ctx context.Context, user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		row := dbUserFromModel(user)
		data, err := row.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(row.Key(), data)
	})
}

func (s *BoltStore) SetOnline(ctx context.Context, userID int64, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		row := dbUser{ID: userID}
		if v := b.Get(idKey(userID)); v != nil {
			if err := row.UnmarshalBinary(v); err != nil {
				return err
			}
		}
		row.IsOnline = online
		if online {
			row.LastLoginTime = s.now().UnixMilli()
		}
		data, err := row.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(row.Key(), data)
	})
}

func (s *BoltStore) ListOnline(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var row dbUser
			if err := row.UnmarshalBinary(v); err != nil {
				return err
			}
			if row.IsOnline {
				users = append(users, row.toModel())
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}
	return users, nil
}
