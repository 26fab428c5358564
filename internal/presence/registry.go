// Package presence tracks which users are reachable and keeps the public
// roster in step with heartbeats.
package presence

import (
	"sort"
	"sync"
	"time"

	"im-service/internal/models"
	"im-service/internal/userlock"
)

const shardCount = 16

type shard struct {
	mu      sync.RWMutex
	entries map[int64]time.Time
}

// Registry maps user id to the time of the last accepted heartbeat. It is
// safe for concurrent use and never blocks on I/O.
type Registry struct {
	shards  [shardCount]shard
	timeout time.Duration
	users   userlock.Locks
}

// NewRegistry builds a registry. timeout decides when an existing entry
// counts as stale for RecordHeartbeat's transition result.
func NewRegistry(timeout time.Duration) *Registry {
	r := &Registry{timeout: timeout}
	for i := range r.shards {
		r.shards[i].entries = make(map[int64]time.Time)
	}
	return r
}

// LockUser serializes one user's presence transitions: a registry change and
// the roster notification that follows it happen under the same hold.
func (r *Registry) LockUser(userID int64) (unlock func()) {
	return r.users.Lock(userID)
}

func (r *Registry) shardFor(userID int64) *shard {
	return &r.shards[uint64(userID)%shardCount]
}

// RecordHeartbeat stores now as the user's last heartbeat and reports whether
// the user went from absent or stale to present. A heartbeat older than the
// stored one is ignored and never shortens liveness.
func (r *Registry) RecordHeartbeat(userID int64, now time.Time) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.entries[userID]
	if ok && now.Before(last) {
		return false
	}
	fresh := ok && now.Sub(last) <= r.timeout
	s.entries[userID] = now
	return !fresh
}

func (r *Registry) IsOnline(userID int64, now time.Time, timeout time.Duration) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	last, ok := s.entries[userID]
	s.mu.RUnlock()
	return ok && now.Sub(last) <= timeout
}

// Snapshot returns the ids online at now in ascending order. Each entry is
// read under its shard lock; shards are visited one after another.
func (r *Registry) Snapshot(now time.Time, timeout time.Duration) []int64 {
	ids := []int64{}
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for id, last := range s.entries {
			if now.Sub(last) <= timeout {
				ids = append(ids, id)
			}
		}
		s.mu.RUnlock()
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Evict removes the entry unconditionally and reports whether one existed.
func (r *Registry) Evict(userID int64) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[userID]
	delete(s.entries, userID)
	return ok
}

// EvictIfUnchanged removes the entry only when its timestamp still equals
// seen. A heartbeat recorded after seen was read keeps the user.
func (r *Registry) EvictIfUnchanged(userID int64, seen time.Time) bool {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.entries[userID]
	if !ok || !last.Equal(seen) {
		return false
	}
	delete(s.entries, userID)
	return true
}

// Entries copies every entry, fresh or stale.
func (r *Registry) Entries() []models.UserPresence {
	var out []models.UserPresence
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for id, last := range s.entries {
			out = append(out, models.UserPresence{UserID: id, LastHeartbeatAt: last})
		}
		s.mu.RUnlock()
	}
	return out
}
