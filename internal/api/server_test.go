package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epics-base/pva2go/internal/api"
	"github.com/epics-base/pva2go/internal/channelcache"
	"github.com/epics-base/pva2go/internal/typemap"
	"github.com/epics-base/pva2go/internal/upstream/memorystore"
)

func newFloatStore(t *testing.T, name string) *memorystore.Store {
	t.Helper()
	reg := typemap.NewRegistry()
	store := memorystore.New()
	field := typemap.NewNativeField(name, typemap.KindFloat64, false)
	require.NoError(t, store.Define(name, "scalar", field, reg))
	return store
}

func TestHealthz(t *testing.T) {
	cache := channelcache.New(memorystore.New())
	s := api.New("127.0.0.1:0", cache)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestDebugCacheReportsAttachedEntries(t *testing.T) {
	store := newFloatStore(t, "dbl:sim")
	cache := channelcache.New(store)

	d, err := channelcache.Open(context.Background(), cache, "dbl:sim")
	require.NoError(t, err)
	defer d.Close()

	sub, warnings, err := d.Subscribe(context.Background(), nil, nil, nil, nil)
	require.NoError(t, err)
	require.Empty(t, warnings)
	defer sub.Close()

	s := api.New("127.0.0.1:0", cache)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/debug/cache", nil)
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var dump struct {
		Entries int `json:"entries"`
		Cache   []struct {
			Name     string `json:"name"`
			Attached int    `json:"attached"`
			Monitors []struct {
				Subscribers int `json:"subscribers"`
			} `json:"monitors"`
		} `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dump))
	require.Len(t, dump.Cache, 1)
	assert.Equal(t, "dbl:sim", dump.Cache[0].Name)
	assert.Equal(t, 1, dump.Cache[0].Attached)
	require.Len(t, dump.Cache[0].Monitors, 1)
	assert.Equal(t, 1, dump.Cache[0].Monitors[0].Subscribers)
}
