package logsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/triago-ai/triago/pkg/models"
)

// datadogPageSize is the per-request page size; the overall fetch is bounded
// by Query.Limit.
const datadogPageSize = 100

// DatadogOptions configures the logs search client.
type DatadogOptions struct {
	// Site is the API host, e.g. "api.datadoghq.com". BaseURL overrides it
	// in tests.
	Site       string
	BaseURL    string
	APIKey     string
	AppKey     string
	HTTPClient *http.Client
}

// DatadogClient implements Source against the Datadog Logs Search API v2,
// following pagination cursors until the limit or the window is exhausted.
type DatadogClient struct {
	opts   DatadogOptions
	http   *http.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewDatadogClient builds a logs client.
func NewDatadogClient(opts DatadogOptions, logger *slog.Logger) (*DatadogClient, error) {
	if opts.BaseURL == "" {
		if opts.Site == "" {
			opts.Site = "api.datadoghq.com"
		}
		opts.BaseURL = "https://" + opts.Site
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("datadog api key not configured")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DatadogClient{
		opts:   opts,
		http:   opts.HTTPClient,
		logger: logger.With("component", "logsource"),
		now:    time.Now,
	}, nil
}

type ddSearchRequest struct {
	Filter ddFilter `json:"filter"`
	Page   ddPage   `json:"page"`
	Sort   string   `json:"sort"`
}

type ddFilter struct {
	Query string `json:"query"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type ddPage struct {
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type ddSearchResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Message    string         `json:"message"`
			Timestamp  time.Time      `json:"timestamp"`
			Service    string         `json:"service"`
			Attributes map[string]any `json:"attributes"`
		} `json:"attributes"`
	} `json:"data"`
	Meta struct {
		Page struct {
			After string `json:"after"`
		} `json:"page"`
	} `json:"meta"`
}

// FetchLogs implements Source.
func (c *DatadogClient) FetchLogs(ctx context.Context, q Query) ([]models.LogRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = datadogPageSize
	}
	window := q.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	to := c.now().UTC()
	from := to.Add(-window)

	var logs []models.LogRecord
	cursor := ""
	for len(logs) < limit {
		pageLimit := datadogPageSize
		if remaining := limit - len(logs); remaining < pageLimit {
			pageLimit = remaining
		}
		resp, err := c.searchPage(ctx, buildQuery(q), from, to, pageLimit, cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Data {
			logs = append(logs, c.toRecord(item.ID, item.Attributes.Message, item.Attributes.Timestamp,
				item.Attributes.Service, item.Attributes.Attributes, q.Env))
		}
		cursor = resp.Meta.Page.After
		if cursor == "" || len(resp.Data) == 0 {
			break
		}
	}

	c.logger.Info("fetched logs", "service", q.Service, "env", q.Env, "count", len(logs))
	return CountOccurrences(logs), nil
}

func buildQuery(q Query) string {
	parts := []string{"status:error"}
	if q.Service != "" {
		parts = append(parts, "service:"+q.Service)
	}
	if q.Env != "" {
		parts = append(parts, "env:"+q.Env)
	}
	parts = append(parts, q.ExtraFilters...)
	return strings.Join(parts, " ")
}

func (c *DatadogClient) searchPage(ctx context.Context, query string, from, to time.Time, limit int, cursor string) (*ddSearchResponse, error) {
	reqBody := ddSearchRequest{
		Filter: ddFilter{
			Query: query,
			From:  from.Format(time.RFC3339),
			To:    to.Format(time.RFC3339),
		},
		Page: ddPage{Limit: limit, Cursor: cursor},
		Sort: "-timestamp",
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal logs search: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.opts.BaseURL+"/api/v2/logs/events/search", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", c.opts.APIKey)
	if c.opts.AppKey != "" {
		req.Header.Set("DD-APPLICATION-KEY", c.opts.AppKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("logs search: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, fmt.Errorf("read logs response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("logs search replied %d", resp.StatusCode)
	}

	var out ddSearchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode logs response: %w", err)
	}
	return &out, nil
}

func (c *DatadogClient) toRecord(id, message string, ts time.Time, service string, attrs map[string]any, env string) models.LogRecord {
	rec := models.LogRecord{
		Message:   message,
		Timestamp: ts,
		Service:   service,
		Env:       env,
	}
	rec.Logger = attrString(attrs, "logger", "name")
	rec.Thread = attrString(attrs, "logger", "thread_name")
	rec.Detail = attrString(attrs, "error", "stack")
	if id != "" {
		rec.Link = fmt.Sprintf("https://app.datadoghq.com/logs?event=%s", id)
	}
	return rec
}

// attrString reads attrs[parent][key], falling back to the flattened
// "parent.key" form some intakes emit.
func attrString(attrs map[string]any, parent, key string) string {
	if nested, ok := attrs[parent].(map[string]any); ok {
		if v, ok := nested[key].(string); ok {
			return v
		}
	}
	if v, ok := attrs[parent+"."+key].(string); ok {
		return v
	}
	return ""
}
