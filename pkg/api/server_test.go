package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago-ai/triago/pkg/cache"
	"github.com/triago-ai/triago/pkg/pipeline"
)

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s := NewServer(Options{}, nil)
	w := doRequest(t, s, http.MethodGet, "/healthz")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body["version"], "triago/")
}

func TestStats(t *testing.T) {
	store, err := cache.NewMemoryStore(8)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Minute))

	s := NewServer(Options{
		Stats: func() pipeline.Snapshot {
			return pipeline.Snapshot{LogsFetched: 42, TicketsCreated: 3}
		},
		Cache: store,
	}, nil)

	w := doRequest(t, s, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RunActive bool              `json:"run_active"`
		Pipeline  pipeline.Snapshot `json:"pipeline"`
		Cache     cache.Stats       `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.RunActive)
	assert.Equal(t, int64(42), body.Pipeline.LogsFetched)
	assert.Equal(t, int64(3), body.Pipeline.TicketsCreated)
	assert.Equal(t, cache.BackendMemory, body.Cache.Backend)
	assert.Equal(t, 1, body.Cache.Size)
}

func TestTriggerRun(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s := NewServer(Options{
		Runner: func(context.Context) error {
			once.Do(func() { close(started) })
			<-release
			return nil
		},
	}, nil)

	w := doRequest(t, s, http.MethodPost, "/api/v1/runs")
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("runner was not invoked")
	}

	// A second trigger while the first run is in flight conflicts.
	w = doRequest(t, s, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusConflict, w.Code)

	close(release)
	require.Eventually(t, func() bool {
		return !s.running.Load()
	}, time.Second, 5*time.Millisecond)

	// Once drained, a new trigger is accepted again. Its runner returns
	// immediately because release is already closed.
	w = doRequest(t, s, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestTriggerRunWithoutRunner(t *testing.T) {
	s := NewServer(Options{}, nil)
	w := doRequest(t, s, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
