package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/epics-base/pva2go/internal/channelcache"
)

var cacheEntriesDesc = prometheus.NewDesc(
	"pva2go_cache_entries",
	"Number of channels currently held in the channel cache.",
	nil, nil,
)

// cacheCollector reports a ChannelCache's live size on every scrape rather
// than through a Counter/Gauge updated by hand at every Lookup/Sweep call
// site, since the cache already exposes Len() directly.
type cacheCollector struct {
	cache *channelcache.ChannelCache
}

// NewCacheCollector returns a prometheus.Collector reporting cache's
// current entry count. Register it with prometheus.MustRegister once the
// cache is constructed.
func NewCacheCollector(cache *channelcache.ChannelCache) prometheus.Collector {
	return &cacheCollector{cache: cache}
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheEntriesDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(c.cache.Len()))
}
