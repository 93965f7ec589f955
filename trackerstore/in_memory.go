package trackerstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/convoflow/core"
)

// Options configure the tracker stores.
type Options struct {
	// Slots are the slot declarations trackers are created and rebuilt with.
	Slots []core.Slot
}

// InMemory is a volatile TrackerStore keeping serialized event logs in a
// process local map. It is safe for concurrent access. Trackers are rebuilt
// on every read so callers never share state with the store.
type InMemory struct {
	mu       sync.RWMutex
	trackers map[string][]byte
	opts     Options
}

// NewInMemory constructs an empty in-memory tracker store.
func NewInMemory(optFns ...func(o *Options)) *InMemory {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemory{trackers: make(map[string][]byte), opts: opts}
}

// GetOrCreateTracker returns the stored tracker or a new empty one. A new
// tracker is not stored until it is saved.
func (s *InMemory) GetOrCreateTracker(ctx context.Context, senderID string) (*core.Tracker, error) {
	t, err := s.Retrieve(ctx, senderID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, core.ErrTrackerNotFound) {
		return nil, err
	}
	return core.NewTracker(senderID, s.opts.Slots), nil
}

// Save stores a snapshot of the tracker's event log.
func (s *InMemory) Save(ctx context.Context, tracker *core.Tracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := tracker.Serialize()
	if err != nil {
		return fmt.Errorf("serialize tracker %s: %w", tracker.SenderID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trackers[tracker.SenderID] = data
	return nil
}

// Retrieve rebuilds the stored tracker or returns core.ErrTrackerNotFound.
func (s *InMemory) Retrieve(ctx context.Context, senderID string) (*core.Tracker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.trackers[senderID]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrTrackerNotFound
	}
	return core.TrackerFromDict(senderID, data, s.opts.Slots)
}

// Keys lists the stored sender ids in sorted order.
func (s *InMemory) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.trackers))
	for k := range s.trackers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
