package ai

import (
	"context"

	"github.com/parleybot/parley/internal/models"
)

// IntentResult is the outcome of classifying one user message
type IntentResult struct {
	Category   models.IntentCategory `json:"intent"`
	Confidence float64               `json:"confidence"`
	Entities   map[string]any        `json:"entities,omitempty"`
}

// GenerateRequest carries everything the generator needs for one reply
type GenerateRequest struct {
	// Content is the user's current message
	Content string
	// Summary recaps history that was trimmed for budget, may be empty
	Summary string
	// History is the retained conversation window, oldest first
	History []*models.Message
	// Preference shapes tone, emoji usage and language
	Preference *models.UserPreference
	// Intent is the classified category of the current message
	Intent models.IntentCategory
}

// GenerateResult is a generated reply plus any action directives the model
// embedded in its structured response
type GenerateResult struct {
	Reply      string
	Directives []models.ActionDirective
}

// Classifier determines the intent of a user message
type Classifier interface {
	Classify(ctx context.Context, content string, history []*models.Message) (*IntentResult, error)
}

// Generator produces conversational replies
type Generator interface {
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)
}

// Summarizer condenses conversation history into a short recap
type Summarizer interface {
	Summarize(ctx context.Context, messages []*models.Message) (string, error)
}

// Provider bundles the three model-backed capabilities
type Provider interface {
	Classifier
	Generator
	Summarizer
}
