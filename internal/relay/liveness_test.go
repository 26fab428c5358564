package relay

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sortedSets implements the sorted-set commands Liveness issues. Anything
// else panics through the nil embedded interface.
type sortedSets struct {
	redis.Cmdable

	mu      sync.Mutex
	sets    map[string]map[string]float64
	expires map[string]time.Duration
	fail    error
}

func newSortedSets() *sortedSets {
	return &sortedSets{sets: map[string]map[string]float64{}, expires: map[string]time.Duration{}}
}

func (s *sortedSets) ZAdd(_ context.Context, key string, members ...redis.Z) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return redis.NewIntResult(0, s.fail)
	}
	set, ok := s.sets[key]
	if !ok {
		set = map[string]float64{}
		s.sets[key] = set
	}
	for _, m := range members {
		set[m.Member.(string)] = m.Score
	}
	return redis.NewIntResult(int64(len(members)), nil)
}

func (s *sortedSets) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (s *sortedSets) ZRem(_ context.Context, key string, members ...interface{}) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return redis.NewIntResult(0, s.fail)
	}
	var n int64
	for _, m := range members {
		if _, ok := s.sets[key][m.(string)]; ok {
			delete(s.sets[key], m.(string))
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (s *sortedSets) ZRemRangeByScore(_ context.Context, key, _, max string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit, err := strconv.ParseFloat(strings.TrimPrefix(max, "("), 64)
	if err != nil {
		return redis.NewIntResult(0, err)
	}
	var n int64
	for member, score := range s.sets[key] {
		if score < limit {
			delete(s.sets[key], member)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (s *sortedSets) ZCard(_ context.Context, key string) *redis.IntCmd {
	s.mu.Lock()
	defer s.mu.Unlock()
	return redis.NewIntResult(int64(len(s.sets[key])), nil)
}

func livenessAt(store *sortedSets, instance string, clock *time.Time) *Liveness {
	l := NewLiveness(store, instance, 2*time.Minute)
	l.now = func() time.Time { return *clock }
	return l
}

func TestLivenessReleaseReportsOtherInstance(t *testing.T) {
	store := newSortedSets()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a, b := livenessAt(store, "a", &clock), livenessAt(store, "b", &clock)
	ctx := context.Background()

	require.NoError(t, a.Touch(ctx, 7))
	require.NoError(t, b.Touch(ctx, 7))
	assert.Equal(t, 4*time.Minute, store.expires["im:live:7"])

	elsewhere, err := a.Release(ctx, 7)
	require.NoError(t, err)
	assert.True(t, elsewhere, "b still holds user 7")

	elsewhere, err = b.Release(ctx, 7)
	require.NoError(t, err)
	assert.False(t, elsewhere)
}

func TestLivenessIgnoresExpiredClaims(t *testing.T) {
	store := newSortedSets()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a, b := livenessAt(store, "a", &clock), livenessAt(store, "b", &clock)
	ctx := context.Background()

	require.NoError(t, b.Touch(ctx, 7))
	clock = clock.Add(2 * time.Minute)
	require.NoError(t, a.Touch(ctx, 7))

	elsewhere, err := a.Release(ctx, 7)
	require.NoError(t, err)
	assert.True(t, elsewhere, "a claim exactly ttl old is still live")

	require.NoError(t, a.Touch(ctx, 7))
	clock = clock.Add(time.Millisecond)
	elsewhere, err = a.Release(ctx, 7)
	require.NoError(t, err)
	assert.False(t, elsewhere, "b's claim aged out")
}

func TestLivenessSurfacesRedisErrors(t *testing.T) {
	store := newSortedSets()
	store.fail = assert.AnError
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := livenessAt(store, "a", &clock)

	assert.ErrorIs(t, l.Touch(context.Background(), 7), assert.AnError)
	elsewhere, err := l.Release(context.Background(), 7)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, elsewhere)
}
