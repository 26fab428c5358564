package relay

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"im-service/internal/observability"
	"im-service/internal/presence"
)

const livenessKeyPrefix = "im:live:"

// Liveness keeps, per user, a redis sorted set of the instances holding a
// live connection, scored by each instance's last touch in unix millis.
// Claims older than ttl are ignored, so a crashed instance ages out.
type Liveness struct {
	client     redis.Cmdable
	instanceID string
	ttl        time.Duration
	now        func() time.Time
}

var _ presence.Cluster = (*Liveness)(nil)

func NewLiveness(client redis.Cmdable, instanceID string, ttl time.Duration) *Liveness {
	return &Liveness{client: client, instanceID: instanceID, ttl: ttl, now: time.Now}
}

func (l *Liveness) Touch(ctx context.Context, userID int64) error {
	key := livenessKey(userID)
	member := redis.Z{Score: float64(l.now().UnixMilli()), Member: l.instanceID}
	if err := l.client.ZAdd(ctx, key, member).Err(); err != nil {
		observability.IncRelayError("liveness")
		return fmt.Errorf("touch user %d: %w", userID, err)
	}
	// The key outlives every claim it holds by one ttl.
	if err := l.client.Expire(ctx, key, 2*l.ttl).Err(); err != nil {
		observability.IncRelayError("liveness")
		return fmt.Errorf("expire user %d: %w", userID, err)
	}
	return nil
}

func (l *Liveness) Release(ctx context.Context, userID int64) (bool, error) {
	key := livenessKey(userID)
	if err := l.client.ZRem(ctx, key, l.instanceID).Err(); err != nil {
		observability.IncRelayError("liveness")
		return false, fmt.Errorf("release user %d: %w", userID, err)
	}
	cutoff := l.now().Add(-l.ttl).UnixMilli()
	if err := l.client.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10)).Err(); err != nil {
		observability.IncRelayError("liveness")
		return false, fmt.Errorf("prune user %d: %w", userID, err)
	}
	remaining, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		observability.IncRelayError("liveness")
		return false, fmt.Errorf("count claims for user %d: %w", userID, err)
	}
	return remaining > 0, nil
}

func livenessKey(userID int64) string {
	return livenessKeyPrefix + strconv.FormatInt(userID, 10)
}
