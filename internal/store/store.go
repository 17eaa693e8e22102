package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for the device settings record.
//
// The record is opaque to the store: callers encode and decode it. Every
// write replaces the whole record in one transaction, so a reader never
// observes a partially written value.
type Store interface {
	// GetRecord returns a copy of the persisted record.
	// Returns ErrNotFound if no record has been written yet.
	GetRecord() ([]byte, error)

	// PutRecord replaces the persisted record.
	PutRecord(data []byte) error

	// DeleteRecord removes the persisted record.
	// Returns ErrNotFound if there was nothing to delete.
	DeleteRecord() error

	// Close the store
	Close() error
}
