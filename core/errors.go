package core

import "errors"

var (
	// ErrConfiguration is returned when a required collaborator is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrParse is returned when the interpreter fails or returns a malformed result.
	ErrParse = errors.New("parse error")
	// ErrPersistence is returned when the tracker store cannot be reached.
	ErrPersistence = errors.New("persistence error")
	// ErrScheduling is returned when a reminder job cannot be registered.
	ErrScheduling = errors.New("scheduling error")
	// ErrTrackerNotFound is returned by TrackerStore.Retrieve for unknown senders.
	ErrTrackerNotFound = errors.New("tracker not found")
	// ErrActionNotFound is returned when an action name cannot be resolved.
	ErrActionNotFound = errors.New("action not found")
)
