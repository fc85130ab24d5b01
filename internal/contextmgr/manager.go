package contextmgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/models"
)

const (
	// DefaultTokenBudget is the prompt-side token allowance for history
	DefaultTokenBudget = 3000
	// ResponseTokenReserve is held back from the budget for the reply
	ResponseTokenReserve = 500
	// perMessageOverhead approximates the tokens spent on role framing
	perMessageOverhead = 4
)

// Summarizer condenses dropped history into a short recap. Optional; when
// absent, dropped messages are simply forgotten.
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// PromptContext is the assembled conversation context for one generation call
type PromptContext struct {
	// Summary recaps messages dropped for budget, empty when nothing was dropped
	Summary string
	// Messages is the retained history, oldest first
	Messages []*models.Message
	// EstimatedTokens covers the retained messages plus the summary
	EstimatedTokens int
}

// Manager assembles generation context from session history: apply the
// user's window size, then trim oldest-first until the token budget holds.
type Manager struct {
	tokenBudget int
	summarizer  Summarizer
	logger      *zap.Logger
}

// New creates a context manager. summarizer may be nil.
func New(tokenBudget int, summarizer Summarizer, logger *zap.Logger) *Manager {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Manager{
		tokenBudget: tokenBudget,
		summarizer:  summarizer,
		logger:      logger,
	}
}

// EstimateTokens approximates the token cost of a message. The heuristic is
// four characters per token plus fixed framing overhead; it only needs to be
// monotonic in content length, not exact.
func EstimateTokens(m *models.Message) int {
	return len(m.Content)/4 + perMessageOverhead
}

// Build assembles the prompt context. Messages must be in chronological
// order; the newest messages are always preferred when trimming.
func (m *Manager) Build(ctx context.Context, messages []*models.Message, pref *models.UserPreference) *PromptContext {
	windowSize := pref.ContextWindowSize
	if windowSize <= 0 {
		windowSize = models.DefaultContextWindowSize
	}
	if len(messages) > windowSize {
		messages = messages[len(messages)-windowSize:]
	}

	budget := m.tokenBudget - ResponseTokenReserve
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg)
	}

	var dropped []*models.Message
	for total > budget && len(messages) > 1 {
		dropped = append(dropped, messages[0])
		total -= EstimateTokens(messages[0])
		messages = messages[1:]
	}

	result := &PromptContext{
		Messages:        messages,
		EstimatedTokens: total,
	}

	if len(dropped) > 0 && m.summarizer != nil {
		summary, err := m.summarizer.Summarize(ctx, dropped)
		if err != nil {
			// Best effort: proceed without the recap
			m.logger.Warn("history summarization failed",
				zap.Int("dropped_messages", len(dropped)),
				zap.Error(err))
		} else if summary != "" {
			result.Summary = summary
			result.EstimatedTokens += len(summary)/4 + perMessageOverhead
		}
	}

	return result
}
