package natsprovider

import "errors"

// ErrNotConnected is returned by Read when called before any connect
// message has been received for the channel, so no StructureDescriptor is
// available yet to decode a reply against.
var ErrNotConnected = errors.New("natsprovider: channel not connected")
