// Package fingerprint canonicalizes a subscribe/read/write request
// descriptor into a byte sequence that two equivalent requests hash to the
// same value for: it is used only as a map key, never interpreted
// semantically by callers (§3).
package fingerprint

import (
	"crypto/sha256"
	"encoding/json"
	"sort"
)

// Request is the subset of §6's request descriptor that affects upstream
// subscription sharing. Fields are compared by value, not by identity.
type Request struct {
	QueueSize uint
	Atomic    bool
	Process   string // "true" | "false" | "passive"
	Block     bool

	// Extra carries any additional request options the caller wants
	// folded into the fingerprint (e.g. a field mask or sub-structure
	// selection) without this package needing to know their shape.
	Extra map[string]interface{}
}

// Fingerprint is the canonical, comparable, hashable byte sequence
// produced from a Request. Two Requests are equivalent per §3 iff their
// Fingerprints are byte-equal; this type is used only as a map key.
type Fingerprint string

// DefaultQueueSize is the default `record._options.queueSize` per §6.
const DefaultQueueSize = 2

// Canonicalize normalizes a decoded request descriptor, applying defaults
// for absent `record._options` fields (§6) and recording an unrecognized
// option as a warning without failing the request.
func Canonicalize(opts map[string]interface{}) (Request, []string) {
	req := Request{QueueSize: DefaultQueueSize, Process: "passive"}
	var warnings []string

	recognized := map[string]bool{
		"queueSize": true, "atomic": true, "process": true, "block": true,
	}

	for k, v := range opts {
		if !recognized[k] {
			warnings = append(warnings, "unknown request option: "+k)
			continue
		}
		switch k {
		case "queueSize":
			if f, ok := toFloat(v); ok && f >= 1 {
				req.QueueSize = uint(f)
			}
		case "atomic":
			if b, ok := v.(bool); ok {
				req.Atomic = b
			}
		case "process":
			if s, ok := v.(string); ok {
				req.Process = s
			}
		case "block":
			if b, ok := v.(bool); ok {
				req.Block = b
			}
		}
	}

	return req, warnings
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

// Of derives the Fingerprint for a (channel name, request) pair. The
// fingerprint folds in the channel name so monitors for different
// channels never collide, even though callers key their own caches by
// name separately (§4.D: monitors are keyed by RequestFingerprint within
// one already-named CacheEntry) — Of is also used directly wherever a
// single global key is convenient, such as diagnostics output.
func Of(name string, req Request) Fingerprint {
	return Fingerprint(canonicalBytes(name, req))
}

// canonicalBytes produces a stable byte sequence: encode req's fields in a
// fixed order so map iteration order in Extra never affects the result.
func canonicalBytes(name string, req Request) []byte {
	type wire struct {
		Name      string                 `json:"name"`
		QueueSize uint                   `json:"queueSize"`
		Atomic    bool                   `json:"atomic"`
		Process   string                 `json:"process"`
		Block     bool                   `json:"block"`
		Extra     map[string]interface{} `json:"extra,omitempty"`
	}

	w := wire{
		Name:      name,
		QueueSize: req.QueueSize,
		Atomic:    req.Atomic,
		Process:   req.Process,
		Block:     req.Block,
		Extra:     req.Extra,
	}

	// encoding/json sorts map keys already, but Extra may itself nest
	// maps whose encoding order we don't control beyond top level; for
	// this package's purposes — equality of canonicalization, not a
	// stable wire format — that is sufficient since json.Marshal is
	// deterministic for a given Go map content at every level it visits.
	b, err := json.Marshal(w)
	if err != nil {
		// Marshal of the types above cannot fail in practice; fall back
		// to a sorted-keys manual encoding defensively.
		return manualEncode(name, req)
	}
	return b
}

func manualEncode(name string, req Request) []byte {
	keys := make([]string, 0, len(req.Extra))
	for k := range req.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(name))
	for _, k := range keys {
		h.Write([]byte(k))
	}
	return h.Sum(nil)
}
