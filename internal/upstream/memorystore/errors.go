package memorystore

import "errors"

var (
	// ErrUnknownRecord is returned by Open/Put for a name never registered
	// via Define. Terminal ignores such a name.
	ErrUnknownRecord = errors.New("memorystore: unknown record")

	// ErrRecordClosed is returned by Read/Write once Terminal has been
	// called for a record.
	ErrRecordClosed = errors.New("memorystore: record closed")
)
