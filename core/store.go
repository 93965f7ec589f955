package core

import "context"

// TrackerStore persists trackers by sender id. Implementations return copies:
// a tracker obtained from a store is owned by the caller until it is saved.
type TrackerStore interface {
	// GetOrCreateTracker returns the stored tracker or a new empty one.
	GetOrCreateTracker(ctx context.Context, senderID string) (*Tracker, error)
	// Save stores a snapshot of the tracker's event log.
	Save(ctx context.Context, tracker *Tracker) error
	// Retrieve returns the stored tracker or ErrTrackerNotFound.
	Retrieve(ctx context.Context, senderID string) (*Tracker, error)
	// Keys lists the stored sender ids.
	Keys(ctx context.Context) ([]string, error)
}
