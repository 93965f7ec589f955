// Package testutil contains helper builders and utilities used across tests
// to reduce boilerplate when constructing trackers and events, plus a shared
// contract suite every core.TrackerStore implementation runs. They are not
// intended for production usage.
package testutil
