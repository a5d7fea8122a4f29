// Package trackertest provides an in-memory Tracker for tests.
package trackertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/tracker"
)

// Fake is a thread-safe in-memory tracker. Search matches exact labels and
// naive token containment over title+description.
type Fake struct {
	mu       sync.Mutex
	seq      int
	issues   map[string]*models.Issue
	comments map[string][]string

	// Error hooks: set to force failures.
	SearchErr error
	CreateErr error
	CommentEr error
	LabelsErr error

	// Call counters.
	SearchCalls  int
	CreateCalls  int
	CommentCalls int
	LabelCalls   int
}

// New creates an empty fake tracker.
func New() *Fake {
	return &Fake{
		issues:   make(map[string]*models.Issue),
		comments: make(map[string][]string),
	}
}

// Seed inserts an existing issue.
func (f *Fake) Seed(issue models.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := issue
	f.issues[issue.Key] = &copied
}

// Issue returns a snapshot of one issue.
func (f *Fake) Issue(key string) (models.Issue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.issues[key]
	if !ok {
		return models.Issue{}, false
	}
	return *it, true
}

// Comments returns the comments added to an issue.
func (f *Fake) Comments(key string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[key]...)
}

// Created returns how many issues exist.
func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issues)
}

// Search implements tracker.Tracker.
func (f *Fake) Search(_ context.Context, q tracker.Query) ([]models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCalls++
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}

	max := q.MaxResults
	if max <= 0 {
		max = tracker.DefaultMaxResults
	}

	var out []models.Issue
	for _, issue := range f.issues {
		if !matchesLabels(issue, q.Labels) {
			continue
		}
		if q.Text != "" && !matchesText(issue, q.Text) {
			continue
		}
		out = append(out, *issue)
		if len(out) >= max {
			break
		}
	}
	return out, nil
}

func matchesLabels(issue *models.Issue, labels []string) bool {
	for _, l := range labels {
		if !issue.HasLabel(l) {
			return false
		}
	}
	return true
}

func matchesText(issue *models.Issue, text string) bool {
	haystack := strings.ToLower(issue.Title + " " + issue.Description)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}

// Create implements tracker.Tracker.
func (f *Fake) Create(_ context.Context, payload models.TicketPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreateCalls++
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	f.seq++
	key := fmt.Sprintf("TRI-%d", f.seq)
	f.issues[key] = &models.Issue{
		Key:         key,
		Title:       payload.Title,
		Description: payload.Description,
		Labels:      append([]string(nil), payload.Labels...),
		Status:      "Open",
	}
	return key, nil
}

// AddComment implements tracker.Tracker.
func (f *Fake) AddComment(_ context.Context, issueKey, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CommentCalls++
	if f.CommentEr != nil {
		return f.CommentEr
	}
	if _, ok := f.issues[issueKey]; !ok {
		return fmt.Errorf("issue %s not found", issueKey)
	}
	f.comments[issueKey] = append(f.comments[issueKey], body)
	return nil
}

// AddLabels implements tracker.Tracker. Adding an existing label is a no-op.
func (f *Fake) AddLabels(_ context.Context, issueKey string, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LabelCalls++
	if f.LabelsErr != nil {
		return f.LabelsErr
	}
	issue, ok := f.issues[issueKey]
	if !ok {
		return fmt.Errorf("issue %s not found", issueKey)
	}
	for _, l := range labels {
		if !issue.HasLabel(l) {
			issue.Labels = append(issue.Labels, l)
		}
	}
	return nil
}

var _ tracker.Tracker = (*Fake)(nil)
