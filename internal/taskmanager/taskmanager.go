// Package taskmanager wires the gateway's periodic background jobs onto a
// gocron scheduler, the same library and NewJob/NewTask idiom the teacher
// codebase's own internal/taskmanager uses for its cron-driven services.
//
// Unlike the teacher's package-level singleton scheduler, Manager is an
// instance a caller constructs and owns — a gateway process needs exactly
// one, but tests construct one per case, and a global would make that
// needlessly awkward.
package taskmanager

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/internal/metrics"
	"github.com/epics-base/pva2go/pkg/log"
)

// Manager owns one gocron.Scheduler and the jobs registered on it.
type Manager struct {
	s gocron.Scheduler
}

// New creates a Manager with a fresh, unstarted scheduler.
func New() (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Manager{s: s}, nil
}

// RegisterCacheSweeper schedules the channel cache's idle-entry sweep
// (§4.E) to run every interval.
func (m *Manager) RegisterCacheSweeper(cache *channelcache.ChannelCache, interval time.Duration) error {
	log.Infof("taskmanager: registering cache sweeper every %s", interval)
	_, err := m.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n := cache.Sweep()
			if n > 0 {
				metrics.CacheSweeps.Add(float64(n))
				log.Debugf("taskmanager: sweep destroyed %d idle cache entries", n)
			}
		}),
	)
	return err
}

// healthChecker is implemented by upstream providers that can report
// their own connection liveness, currently natsprovider.Client.
// memorystore has no connection to probe and does not implement it.
type healthChecker interface {
	IsConnected() bool
}

// RegisterProviderHealthCheck probes provider's connection liveness every
// interval, if provider implements healthChecker. Providers with no
// external connection to monitor (memorystore) are silently skipped,
// since §4.K calls this probe optional.
func (m *Manager) RegisterProviderHealthCheck(provider interface{}, interval time.Duration) error {
	hc, ok := provider.(healthChecker)
	if !ok {
		return nil
	}

	log.Infof("taskmanager: registering upstream health probe every %s", interval)
	_, err := m.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if !hc.IsConnected() {
				log.Warnf("taskmanager: upstream provider reports disconnected")
			}
		}),
	)
	return err
}

// Start begins running every registered job.
func (m *Manager) Start() {
	m.s.Start()
}

// Shutdown stops the scheduler and waits for in-flight jobs to finish.
func (m *Manager) Shutdown() error {
	return m.s.Shutdown()
}
