package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

type monitorDump struct {
	Fingerprint   string      `json:"fingerprint"`
	Subscribers   int         `json:"subscribers"`
	SubscriberIDs []uuid.UUID `json:"subscriberIds"`
	Wakeups       uint64      `json:"wakeups"`
	Events        uint64      `json:"events"`
}

type entryDump struct {
	Name     string        `json:"name"`
	Attached int           `json:"attached"`
	Monitors []monitorDump `json:"monitors"`
}

type cacheDump struct {
	Entries int         `json:"entries"`
	Cache   []entryDump `json:"cache"`
}

// handleDebugCache dumps the channel cache's current entry, attachment,
// and monitor state as JSON, including each subscriber's diagnostic id
// for cross-referencing against log lines (§6). This is an operator
// tool, not a stable API.
func (s *Server) handleDebugCache(rw http.ResponseWriter, r *http.Request) {
	stats := s.cache.Stats()

	dump := cacheDump{Entries: len(stats), Cache: make([]entryDump, 0, len(stats))}
	for _, e := range stats {
		ed := entryDump{Name: e.Name, Attached: e.Attached, Monitors: make([]monitorDump, 0, len(e.Monitors))}
		for _, m := range e.Monitors {
			ed.Monitors = append(ed.Monitors, monitorDump{
				Fingerprint:   m.Fingerprint,
				Subscribers:   m.Subscribers,
				SubscriberIDs: m.SubscriberIDs,
				Wakeups:       m.Wakeups,
				Events:        m.Events,
			})
		}
		dump.Cache = append(dump.Cache, ed)
	}

	rw.Header().Add("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(dump)
}
