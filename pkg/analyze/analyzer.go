// Package analyze is the analysis node: it builds the LLM prompt, enforces
// the strict JSON response contract, and falls back to the rule-based
// classifier when the provider is unavailable or its output is unusable.
package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/triago-ai/triago/pkg/breaker"
	"github.com/triago-ai/triago/pkg/fallback"
	"github.com/triago-ai/triago/pkg/llm"
	"github.com/triago-ai/triago/pkg/models"
	"github.com/triago-ai/triago/pkg/normalize"
)

// ErrFallbackDisabled is returned when the LLM path failed and no fallback
// analyzer is configured; the log is then skipped with an error audit.
var ErrFallbackDisabled = errors.New("llm analysis failed and fallback is disabled")

// Analyzer is stateless apart from the shared circuit breaker.
type Analyzer struct {
	llm           llm.Client
	breaker       *breaker.Breaker
	fallback      *fallback.Analyzer // nil when fallback is disabled
	validate      *validator.Validate
	severityHints string
	logger        *slog.Logger
}

// New creates an analysis node. fb may be nil to disable the fallback path.
func New(client llm.Client, brk *breaker.Breaker, fb *fallback.Analyzer, severityHints string, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{
		llm:           client,
		breaker:       brk,
		fallback:      fb,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		severityHints: severityHints,
		logger:        logger.With("component", "analyze"),
	}
}

// Analyze classifies one log. Provider failures, an open circuit, malformed
// JSON, and schema violations all route to the fallback analyzer; only
// cancellation (or a disabled fallback) surfaces as an error.
func (a *Analyzer) Analyze(ctx context.Context, log models.LogRecord) (models.Classification, error) {
	prompt := buildPrompt(log, a.severityHints)

	var raw string
	err := a.breaker.Execute(ctx, func(callCtx context.Context) error {
		var callErr error
		raw, callErr = a.llm.Complete(callCtx, prompt)
		return callErr
	})

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return models.Classification{}, err
	}

	if err != nil {
		if errors.Is(err, breaker.ErrCircuitOpen) {
			a.logger.Warn("circuit open, using fallback classifier",
				"service", log.Service, "logger", log.Logger)
		} else {
			a.logger.Warn("llm call failed, using fallback classifier", "error", err)
		}
		return a.useFallback(log, err)
	}

	classification, parseErr := a.parse(raw)
	if parseErr != nil {
		a.logger.Warn("llm response rejected, using fallback classifier", "error", parseErr)
		return a.useFallback(log, parseErr)
	}

	classification.Source = models.SourceLLM
	return classification, nil
}

func (a *Analyzer) useFallback(log models.LogRecord, cause error) (models.Classification, error) {
	if a.fallback == nil {
		return models.Classification{}, fmt.Errorf("%w: %w", ErrFallbackDisabled, cause)
	}
	return a.fallback.Classify(log), nil
}

// parse enforces the strict JSON contract and post-processes fields:
// unknown severities normalize to medium, error types to kebab-case, titles
// through CleanTitle.
func (a *Analyzer) parse(raw string) (models.Classification, error) {
	var c models.Classification

	dec := json.NewDecoder(strings.NewReader(stripCodeFence(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return c, fmt.Errorf("malformed llm response: %w", err)
	}

	if !c.Severity.Valid() {
		c.Severity = models.SeverityMedium
	}
	c.ErrorType = normalize.KebabCase(c.ErrorType)
	c.TicketTitle = normalize.CleanTitle(c.TicketTitle, normalize.DefaultTitleMaxLen)

	if err := a.validate.Struct(&c); err != nil {
		return c, fmt.Errorf("llm response failed validation: %w", err)
	}
	return c, nil
}

// stripCodeFence tolerates providers wrapping the JSON in a markdown fence
// despite the instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
