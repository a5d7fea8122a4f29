package tracker

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

	"github.com/cenkalti/backoff/v4"

	"github.com/triago-ai/triago/pkg/models"
)

// JiraOptions configures the REST client.
type JiraOptions struct {
	BaseURL    string
	Project    string
	IssueType  string // defaults to "Bug"
	User       string // basic auth user
	Token      string
	HTTPClient *http.Client
	// MaxRetryElapsed bounds the retry budget per call. Default 30s.
	MaxRetryElapsed time.Duration
}

// JiraClient implements Tracker against the Jira v2 REST API. Transient
// responses (429 and 5xx) are retried with exponential backoff; everything
// else surfaces immediately.
type JiraClient struct {
	opts   JiraOptions
	http   *http.Client
	logger *slog.Logger
}

// NewJiraClient builds a client; the token is the API token/password used for
// basic auth.
func NewJiraClient(opts JiraOptions, logger *slog.Logger) (*JiraClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("jira base URL not configured")
	}
	if opts.Project == "" {
		return nil, fmt.Errorf("jira project not configured")
	}
	if opts.IssueType == "" {
		opts.IssueType = "Bug"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxRetryElapsed <= 0 {
		opts.MaxRetryElapsed = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JiraClient{
		opts:   opts,
		http:   opts.HTTPClient,
		logger: logger.With("component", "tracker"),
	}, nil
}

// Search implements Tracker.
func (c *JiraClient) Search(ctx context.Context, q Query) ([]models.Issue, error) {
	maxResults := q.MaxResults
	if maxResults <= 0 || maxResults > DefaultMaxResults {
		maxResults = DefaultMaxResults
	}

	body := map[string]any{
		"jql":        buildJQL(c.opts.Project, q),
		"fields":     []string{"summary", "description", "labels", "status"},
		"maxResults": maxResults,
	}

	var resp struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary     string   `json:"summary"`
				Description string   `json:"description"`
				Labels      []string `json:"labels"`
				Status      struct {
					Name string `json:"name"`
				} `json:"status"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/search", body, &resp); err != nil {
		return nil, fmt.Errorf("jira search: %w", err)
	}

	issues := make([]models.Issue, 0, len(resp.Issues))
	for _, it := range resp.Issues {
		issues = append(issues, models.Issue{
			Key:         it.Key,
			Title:       it.Fields.Summary,
			Description: it.Fields.Description,
			Labels:      it.Fields.Labels,
			Status:      it.Fields.Status.Name,
		})
	}
	return issues, nil
}

// buildJQL renders the search query: exact label filters, token matching,
// and the created-window bound.
func buildJQL(project string, q Query) string {
	clauses := []string{fmt.Sprintf("project = %q", project)}
	for _, label := range q.Labels {
		clauses = append(clauses, fmt.Sprintf("labels = %q", label))
	}
	if q.Text != "" {
		clauses = append(clauses, fmt.Sprintf("text ~ %q", q.Text))
	}
	if q.WindowDays > 0 {
		clauses = append(clauses, fmt.Sprintf("created >= -%dd", q.WindowDays))
	}
	return strings.Join(clauses, " AND ") + " ORDER BY created DESC"
}

// Create implements Tracker.
func (c *JiraClient) Create(ctx context.Context, payload models.TicketPayload) (string, error) {
	body := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": c.opts.Project},
			"issuetype":   map[string]string{"name": c.opts.IssueType},
			"summary":     payload.Title,
			"description": payload.Description,
			"labels":      payload.Labels,
			"priority":    map[string]string{"name": payload.Priority},
		},
	}
	var resp struct {
		Key string `json:"key"`
	}
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue", body, &resp); err != nil {
		return "", fmt.Errorf("jira create: %w", err)
	}
	if resp.Key == "" {
		return "", fmt.Errorf("jira create: response missing issue key")
	}
	return resp.Key, nil
}

// AddComment implements Tracker.
func (c *JiraClient) AddComment(ctx context.Context, issueKey, body string) error {
	payload := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, "/rest/api/2/issue/"+issueKey+"/comment", payload, nil); err != nil {
		return fmt.Errorf("jira comment on %s: %w", issueKey, err)
	}
	return nil
}

// AddLabels implements Tracker. Jira's label-add update is a no-op for labels
// already present, which gives the idempotence the dedup cascade relies on.
func (c *JiraClient) AddLabels(ctx context.Context, issueKey string, labels []string) error {
	adds := make([]map[string]string, 0, len(labels))
	for _, l := range labels {
		adds = append(adds, map[string]string{"add": l})
	}
	payload := map[string]any{
		"update": map[string]any{"labels": adds},
	}
	if err := c.do(ctx, http.MethodPut, "/rest/api/2/issue/"+issueKey, payload, nil); err != nil {
		return fmt.Errorf("jira add labels on %s: %w", issueKey, err)
	}
	return nil
}

// do performs one JSON request with retry on transient failures.
func (c *JiraClient) do(ctx context.Context, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, bytes.NewReader(raw))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.opts.User != "" || c.opts.Token != "" {
			req.SetBasicAuth(c.opts.User, c.opts.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err // network errors retry
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("tracker replied %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("tracker replied %d: %s", resp.StatusCode, truncate(string(data), 300)))
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.opts.MaxRetryElapsed
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
