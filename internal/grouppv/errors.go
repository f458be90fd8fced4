package grouppv

import "errors"

var (
	// ErrUnknownField is returned by Write when the caller's mask names a
	// field the group does not have.
	ErrUnknownField = errors.New("grouppv: unknown field")

	// ErrNotConnected names a member that has never completed an initial
	// connect or read. Read and Write do not return it: a member whose
	// bootstrap read fails surfaces that read's own error.
	ErrNotConnected = errors.New("grouppv: member not connected")
)
