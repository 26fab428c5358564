// Package userlock hands out one mutex per user id. An id's mutex is
// dropped once nobody holds or waits on it.
package userlock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locks is a keyed mutex. The zero value is ready to use.
type Locks struct {
	mu   sync.Mutex
	held map[int64]*entry
}

// Lock blocks until userID's mutex is held and returns its release. The
// mutex is not reentrant.
func (l *Locks) Lock(userID int64) (unlock func()) {
	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[int64]*entry)
	}
	e, ok := l.held[userID]
	if !ok {
		e = &entry{}
		l.held[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.held, userID)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports how many ids currently have a holder or a waiter.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
