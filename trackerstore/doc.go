// Package trackerstore houses concrete implementations of core.TrackerStore.
// The interface itself lives in the core package so that the processor never
// depends on a concrete backend.
//
// InMemory (this package) suits tests and single process demos. The postgres
// and sqlite sub packages persist trackers as JSON event logs; only the
// wiring layer decides which one to instantiate.
package trackerstore
