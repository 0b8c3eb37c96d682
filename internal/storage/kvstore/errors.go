package kvstore

import "errors"

var (
	// ErrKeyNotFound is returned by Get when the key does not exist or has
	// expired. Callers must treat it as a non-firing signal, never as data.
	ErrKeyNotFound = errors.New("kvstore: key not found")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("kvstore: store is closed")

	// ErrUnavailable wraps transport-level failures talking to the store.
	ErrUnavailable = errors.New("kvstore: store unavailable")
)
