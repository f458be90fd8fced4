// Package upstream defines the boundary between the cache/fan-out engine
// and whatever actually owns data: a remote PVA network or a local record
// database. The engine only ever sees these interfaces; concrete
// providers live in subpackages (memorystore, natsprovider).
package upstream

import (
	"context"
	"errors"

	"github.com/epics-base/pva2go/internal/fingerprint"
	"github.com/epics-base/pva2go/internal/typemap"
)

// ErrUnsupportedValue is wrapped by a Channel.Write implementation when
// the caller's value does not match the concrete type that provider
// expects to unpack via its TypeMapper.
var ErrUnsupportedValue = errors.New("upstream: unsupported write value")

// Status mirrors a channel's connection lifecycle.
type Status int

const (
	StatusUnknown Status = iota
	StatusConnected
	StatusDisconnected
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// StartResult is the outcome of starting one upstream subscription. Once
// Err is non-nil the result is terminal and sticky (§3 UpstreamMonitor).
type StartResult struct {
	Connected bool
	Err       error
}

// EventHandler receives events from one upstream subscription. Channel
// implementations call these methods; UpstreamMonitor is the only
// consumer in this module, but the interface is exported so alternate
// fan-out strategies can be swapped in during tests.
type EventHandler interface {
	// OnConnect delivers the negotiated structure type and the result of
	// starting the subscription. Called at most once unless the
	// subscription reconnects at a layer below this interface.
	OnConnect(result StartResult, desc *typemap.StructureDescriptor)

	// OnUpdate delivers one raw update. changed is the set of structured
	// offsets this update touched, as produced by the channel's
	// TypeMapper.
	OnUpdate(payload interface{}, changed map[int]struct{})

	// OnTerminal signals that no further updates will ever arrive. err is
	// nil for a clean shutdown, non-nil for an upstream failure.
	OnTerminal(err error)

	// OnStateChange reports a channel-level connectivity transition,
	// independent of any particular subscription. Providers that cannot
	// distinguish per-subscription disconnects from channel-level ones may
	// call this instead of OnTerminal for DISCONNECTED/DESTROYED.
	OnStateChange(status Status)
}

// Subscription is the handle returned by Channel.Monitor. Closing it stops
// delivery to the associated EventHandler; it does not affect the
// Channel's own connection.
type Subscription interface {
	Close()
}

// Channel is one named upstream record, however it is backed. A Channel
// may support many concurrent Monitor subscriptions (the cache
// deduplicates identical ones by fingerprint before ever calling Monitor
// twice with the same request, but a Channel must not assume that).
type Channel interface {
	Name() string

	// Monitor starts one subscription against this channel using the
	// canonicalized request options, delivering events to handler until
	// the returned Subscription is closed or the channel is destroyed.
	Monitor(ctx context.Context, req fingerprint.Request, handler EventHandler) (Subscription, error)

	// Status reports the channel's current connectivity, independent of
	// any particular Monitor subscription (§3, §4.F "CONNECTED iff the
	// entry's upstream channel reports connected").
	Status() Status

	// Read performs one synchronous fetch of the channel's current value.
	Read(ctx context.Context) (interface{}, error)

	// Write pushes a structured value back upstream; mask limits the
	// write to the offsets the caller actually intends to change.
	Write(ctx context.Context, value interface{}, mask map[int]struct{}) error

	// Close releases the channel itself, independent of any outstanding
	// Monitor subscriptions, which are torn down by the caller first.
	Close()
}

// Provider opens named Channels against one backing data source (a local
// record database, or a remote PVA network reached over some transport).
type Provider interface {
	Open(ctx context.Context, name string) (Channel, error)
}
