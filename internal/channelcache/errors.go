package channelcache

import "errors"

// Sentinel errors per §7. Wrap these with fmt.Errorf("%w: ...") to attach
// the offending name or fingerprint; callers should compare with
// errors.Is, never string matching.
var (
	// ErrUpstreamUnavailable surfaces when ChannelCache.Lookup cannot open
	// the upstream channel for a new entry.
	ErrUpstreamUnavailable = errors.New("channelcache: upstream channel unavailable")

	// ErrUpstreamTerminated names the upstream-terminated condition. No
	// code in this package returns it: a Subscriber's UnlistenFunc receives
	// the error the upstream itself passed to OnTerminal, which may be nil.
	ErrUpstreamTerminated = errors.New("channelcache: upstream terminated")

	// ErrInvalidUsage covers caller misuse: Subscriber.Release returns it
	// for a slot this subscriber never polled or has already released.
	ErrInvalidUsage = errors.New("channelcache: invalid usage")
)
