package tracker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/triago-ai/triago/pkg/models"
)

func newTestClient(t *testing.T, handler http.Handler) *JiraClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewJiraClient(JiraOptions{
		BaseURL:         srv.URL,
		Project:         "TRI",
		MaxRetryElapsed: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestBuildJQL(t *testing.T) {
	jql := buildJQL("TRI", Query{
		Labels:     []string{"loghash-abc123def456"},
		Text:       "database timeout",
		WindowDays: 30,
	})
	assert.Equal(t,
		`project = "TRI" AND labels = "loghash-abc123def456" AND text ~ "database timeout" AND created >= -30d ORDER BY created DESC`,
		jql)
}

func TestJiraSearch(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/search", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req["jql"], `labels = "loghash-abc"`)
		assert.EqualValues(t, 50, req["maxResults"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{{
				"key": "TRI-7",
				"fields": map[string]any{
					"summary":     "Investigate timeouts",
					"description": "desc",
					"labels":      []string{"loghash-abc"},
					"status":      map[string]string{"name": "Open"},
				},
			}},
		})
	}))

	issues, err := client.Search(context.Background(), Query{
		Labels:     []string{"loghash-abc"},
		MaxResults: 50,
	})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "TRI-7", issues[0].Key)
	assert.Equal(t, "Open", issues[0].Status)
}

func TestJiraCreate(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/2/issue", r.URL.Path)
		var req struct {
			Fields struct {
				Summary  string   `json:"summary"`
				Labels   []string `json:"labels"`
				Priority struct {
					Name string `json:"name"`
				} `json:"priority"`
			} `json:"fields"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Investigate timeouts", req.Fields.Summary)
		assert.Equal(t, "High", req.Fields.Priority.Name)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "TRI-42"})
	}))

	key, err := client.Create(context.Background(), models.TicketPayload{
		Title:    "Investigate timeouts",
		Labels:   []string{"error_type-timeout"},
		Priority: "High",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRI-42", key)
}

func TestJiraRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "TRI-1"})
	}))

	key, err := client.Create(context.Background(), models.TicketPayload{Title: "t", Priority: "Low"})
	require.NoError(t, err)
	assert.Equal(t, "TRI-1", key)
	assert.EqualValues(t, 3, calls.Load())
}

func TestJiraDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := client.Create(context.Background(), models.TicketPayload{Title: "t", Priority: "Low"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "4xx responses must not be retried")
}

func TestJiraAddLabels(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/rest/api/2/issue/TRI-9", r.URL.Path)
		var req struct {
			Update struct {
				Labels []map[string]string `json:"labels"`
			} `json:"update"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Update.Labels, 1)
		assert.Equal(t, "loghash-abc", req.Update.Labels[0]["add"])
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.AddLabels(context.Background(), "TRI-9", []string{"loghash-abc"}))
}
