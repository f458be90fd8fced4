package taskmanager_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/internal/taskmanager"
	"github.com/epics-base/pva2go/internal/upstream/memorystore"
)

func TestRegisterCacheSweeperRunsWithoutError(t *testing.T) {
	cache := channelcache.New(memorystore.New())

	m, err := taskmanager.New()
	require.NoError(t, err)

	require.NoError(t, m.RegisterCacheSweeper(cache, 10*time.Millisecond))
	m.Start()
	defer func() { require.NoError(t, m.Shutdown()) }()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, cache.Len())
}

type fakeChecker struct{ connected bool }

func (f *fakeChecker) IsConnected() bool { return f.connected }

func TestRegisterProviderHealthCheckSkipsProvidersWithoutIt(t *testing.T) {
	m, err := taskmanager.New()
	require.NoError(t, err)

	require.NoError(t, m.RegisterProviderHealthCheck(memorystore.New(), time.Second))
}

func TestRegisterProviderHealthCheckRunsForCheckers(t *testing.T) {
	m, err := taskmanager.New()
	require.NoError(t, err)

	checker := &fakeChecker{connected: true}
	require.NoError(t, m.RegisterProviderHealthCheck(checker, 10*time.Millisecond))
	m.Start()
	defer func() { require.NoError(t, m.Shutdown()) }()

	time.Sleep(30 * time.Millisecond)
}
