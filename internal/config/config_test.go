package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epics-base/pva2go/internal/config"
)

func TestLoadAppliesDefaultsForOmittedKeys(t *testing.T) {
	cfg, warnings, err := config.Load([]byte(`{"listen": ":9090"}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, uint(2), cfg.DefaultQueueSize)
	assert.Equal(t, "memorystore", cfg.Upstream.Provider)
}

func TestLoadParsesFullDocument(t *testing.T) {
	doc := `{
		"listen": ":8080",
		"sweepInterval": "45s",
		"defaultQueueSize": 4,
		"upstream": {"provider": "nats"},
		"groupConfigPath": "/etc/pva2go/groups.json",
		"logLevel": "debug"
	}`
	cfg, warnings, err := config.Load([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 45*time.Second, cfg.SweepInterval)
	assert.Equal(t, uint(4), cfg.DefaultQueueSize)
	assert.Equal(t, "nats", cfg.Upstream.Provider)
	assert.Equal(t, "/etc/pva2go/groups.json", cfg.GroupConfigPath)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadWarnsOnUnknownTopLevelKey(t *testing.T) {
	cfg, warnings, err := config.Load([]byte(`{"listen": ":8080", "bogus": 1}`))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "bogus")
}

func TestLoadRejectsInvalidSweepInterval(t *testing.T) {
	_, _, err := config.Load([]byte(`{"sweepInterval": "not-a-duration"}`))
	require.Error(t, err)
}

func TestLoadRejectsNonObjectDocument(t *testing.T) {
	_, _, err := config.Load([]byte(`[1,2,3]`))
	require.Error(t, err)
}
