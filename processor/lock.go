package processor

import (
	"context"
	"sync"
)

// senderLocks hands out one mutex per sender id. Entries are reference
// counted and dropped once nobody holds or waits for them.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

type senderLock struct {
	ch   chan struct{}
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*senderLock)}
}

// lock blocks until the sender's lock is acquired or ctx is done.
func (s *senderLocks) lock(ctx context.Context, senderID string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[senderID]
	if !ok {
		l = &senderLock{ch: make(chan struct{}, 1)}
		s.locks[senderID] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				s.release(senderID, l)
			})
		}, nil
	case <-ctx.Done():
		s.release(senderID, l)
		return nil, ctx.Err()
	}
}

func (s *senderLocks) release(senderID string, l *senderLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, senderID)
	}
}

// size returns the number of senders with a held or awaited lock.
func (s *senderLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
