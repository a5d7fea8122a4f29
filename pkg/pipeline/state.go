package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/triago-ai/triago/pkg/ticket"
)

// RunState is the shared mutable state of one run. A single mutex guards
// the seen set, the ticket count, and the comment cooldown clocks so the
// reservation check is linearizable across workers.
type RunState struct {
	mu          sync.Mutex
	runID       string
	maxTickets  int
	tickets     int
	seen        map[string]struct{}
	lastComment map[string]time.Time
	now         func() time.Time
}

// NewRunState creates the state for one run. maxTickets 0 disables ticket
// creation entirely: every reservation reports cap exhaustion.
func NewRunState(maxTickets int) *RunState {
	return &RunState{
		runID:       uuid.NewString(),
		maxTickets:  maxTickets,
		seen:        make(map[string]struct{}),
		lastComment: make(map[string]time.Time),
		now:         time.Now,
	}
}

// RunID identifies the run in audit records.
func (s *RunState) RunID() string { return s.runID }

// SeenLoghash reports whether a log with this loghash was already handled
// in this run. Used by the pre-analysis strategy.
func (s *RunState) SeenLoghash(loghash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[loghash]
	return ok
}

// Reserve implements ticket.RunState.
func (s *RunState) Reserve(loghash, fingerprint string) ticket.ReserveOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[fingerprint]; ok {
		return ticket.ReserveDuplicate
	}
	if s.tickets >= s.maxTickets {
		return ticket.ReserveCapExhausted
	}
	s.tickets++
	s.seen[loghash] = struct{}{}
	s.seen[fingerprint] = struct{}{}
	return ticket.Reserved
}

// Release implements ticket.RunState.
func (s *RunState) Release(loghash, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickets > 0 {
		s.tickets--
	}
	delete(s.seen, loghash)
	delete(s.seen, fingerprint)
}

// MarkSeen records a handled loghash without claiming a ticket slot, so
// repeated occurrences of a duplicate skip straight to the in-memory check.
func (s *RunState) MarkSeen(loghash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[loghash] = struct{}{}
}

// CommentAllowed implements ticket.RunState. The clock only moves in
// MarkCommented, so a failed comment attempt never starts a cooldown.
func (s *RunState) CommentAllowed(fingerprint string, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cooldown <= 0 {
		return true
	}
	last, ok := s.lastComment[fingerprint]
	return !ok || s.now().Sub(last) >= cooldown
}

// MarkCommented records a successful duplicate comment, starting the
// fingerprint's cooldown window.
func (s *RunState) MarkCommented(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastComment[fingerprint] = s.now()
}

// TicketsCreated returns the number of reserved (created or simulated)
// tickets so far.
func (s *RunState) TicketsCreated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets
}
