package schedule

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	hostpool "github.com/bitly/go-hostpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestScheduler builds a scheduler without a redis subscription;
// tests feed schedule info directly.
func newTestScheduler(store Storage) *Scheduler {
	return &Scheduler{
		store: store,
		info:  NewScheduleInfo(),
		pool:  hostpool.New([]string{""}),
		mutex: &sync.RWMutex{},
	}
}

func (sch *Scheduler) setBackends(strategy SchedulingStrategy, backends map[Backend]ServerLoad) {
	sch.mutex.Lock()
	sch.info = &ScheduleInfo{Backends: backends, Strategy: strategy}
	sch.RebuildPool()
	sch.mutex.Unlock()
}

func TestScheduler_NextBackendBalance(t *testing.T) {
	sch := newTestScheduler(NewMemStorage())

	// No backends known yet: the placeholder pool yields an empty host.
	assert.Equal(t, "", sch.NextBackend())

	sch.setBackends(SchedulingStrategyBalance, map[Backend]ServerLoad{
		"b1:8080": 2,
		"b2:8080": 5,
	})

	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		h := sch.NextBackend()
		assert.Contains(t, []string{"b1:8080", "b2:8080"}, h)
		seen[h] = true
	}
	// Round robin spreads across the whole pool.
	assert.Len(t, seen, 2)
}

func TestScheduler_NextBackendCompact(t *testing.T) {
	sch := newTestScheduler(NewMemStorage())
	sch.setBackends(SchedulingStrategyCompact, map[Backend]ServerLoad{
		"b1:8080": 2,
		"b2:8080": 5,
		"b3:8080": 0,
	})

	// Packing always targets the fullest backend.
	for i := 0; i < 4; i++ {
		assert.Equal(t, "b2:8080", sch.NextBackend())
	}

	sch.setBackends(SchedulingStrategyCompact, map[Backend]ServerLoad{})
	assert.Equal(t, "", sch.NextBackend())
}

func TestScheduler_ProxyDirector(t *testing.T) {
	sch := newTestScheduler(NewMemStorage())
	sch.setBackends(SchedulingStrategyCompact, map[Backend]ServerLoad{"b1:8080": 1})
	director := sch.ProxyDirector()

	req := httptest.NewRequest("POST", "http://scheduler/party", nil)
	req.Header.Del("User-Agent")
	director(req)

	assert.Equal(t, "http", req.URL.Scheme)
	assert.Equal(t, "b1:8080", req.URL.Host)
	// An absent User-Agent is pinned empty so the proxy does not inject
	// its default.
	_, ok := req.Header["User-Agent"]
	assert.True(t, ok)
}

func TestScheduler_PartyRegister(t *testing.T) {
	store := NewMemStorage()
	sch := newTestScheduler(store)
	register := sch.PartyRegister()

	creation := func(status int, body string) *http.Response {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    &http.Request{URL: &url.URL{Scheme: "http", Host: "b1:8080", Path: "/party"}},
		}
	}

	t.Run("created party lands in registry", func(t *testing.T) {
		rsp := creation(http.StatusCreated, `{"ok":true,"partyID":"p42"}`)
		require.NoError(t, register(rsp))

		host, ok := store.Get("p42")
		require.True(t, ok)
		assert.Equal(t, "b1:8080", host)

		// The body is restored for the caller downstream.
		b, err := io.ReadAll(rsp.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true,"partyID":"p42"}`, string(b))
	})

	t.Run("non created responses pass through", func(t *testing.T) {
		rsp := creation(http.StatusConflict, `{"ok":false,"reason":"party already exists"}`)
		require.NoError(t, register(rsp))
		_, ok := store.Get("")
		assert.False(t, ok)
	})

	t.Run("malformed creation body fails", func(t *testing.T) {
		rsp := creation(http.StatusCreated, `not json`)
		assert.Error(t, register(rsp))
	})
}
