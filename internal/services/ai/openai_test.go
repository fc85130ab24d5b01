package ai

import (
	"strings"
	"testing"

	"github.com/parleybot/parley/internal/models"
)

func TestParseIntentResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		raw                string
		expectError        bool
		expectedCategory   models.IntentCategory
		expectedConfidence float64
	}{
		{
			name:               "clean json",
			raw:                `{"intent":"generate_image","confidence":0.92,"entities":{"subject":"a lighthouse"}}`,
			expectedCategory:   models.IntentGenerateImage,
			expectedConfidence: 0.92,
		},
		{
			name:               "json wrapped in prose",
			raw:                "Here is my classification:\n{\"intent\":\"get_help\",\"confidence\":0.8}\nLet me know!",
			expectedCategory:   models.IntentGetHelp,
			expectedConfidence: 0.8,
		},
		{
			name:               "unknown intent becomes unclear",
			raw:                `{"intent":"order_pizza","confidence":0.99}`,
			expectedCategory:   models.IntentUnclear,
			expectedConfidence: 0.99,
		},
		{
			name:               "confidence above one is clamped",
			raw:                `{"intent":"get_status","confidence":3.5}`,
			expectedCategory:   models.IntentGetStatus,
			expectedConfidence: 1,
		},
		{
			name:               "negative confidence is clamped",
			raw:                `{"intent":"get_status","confidence":-0.5}`,
			expectedCategory:   models.IntentGetStatus,
			expectedConfidence: 0,
		},
		{
			name:        "no json at all",
			raw:         "I am not sure what you mean.",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := parseIntentResult(tt.raw)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if result.Category != tt.expectedCategory {
				t.Errorf("Expected category %s, got %s", tt.expectedCategory, result.Category)
			}
			if result.Confidence != tt.expectedConfidence {
				t.Errorf("Expected confidence %v, got %v", tt.expectedConfidence, result.Confidence)
			}
		})
	}
}

func TestParseGenerateResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		raw              string
		expectedReply    string
		expectDirectives int
	}{
		{
			name:          "structured reply without directives",
			raw:           `{"reply":"Hello!","directives":[]}`,
			expectedReply: "Hello!",
		},
		{
			name:             "structured reply with directive",
			raw:              `{"reply":"Here you go!","directives":[{"type":"generate_image","parameters":{"prompt":"a lighthouse"}}]}`,
			expectedReply:    "Here you go!",
			expectDirectives: 1,
		},
		{
			name:          "plain text degrades to a reply",
			raw:           "Just a plain sentence.",
			expectedReply: "Just a plain sentence.",
		},
		{
			name:          "empty reply field degrades to raw text",
			raw:           `{"directives":[]}`,
			expectedReply: `{"directives":[]}`,
		},
		{
			name:          "malformed directives keep the reply",
			raw:           `{"reply":"Still here","directives":{"oops":true}}`,
			expectedReply: "Still here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := parseGenerateResult(tt.raw)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if result.Reply != tt.expectedReply {
				t.Errorf("Expected reply %q, got %q", tt.expectedReply, result.Reply)
			}
			if len(result.Directives) != tt.expectDirectives {
				t.Errorf("Expected %d directives, got %d", tt.expectDirectives, len(result.Directives))
			}
		})
	}
}

func TestBuildPersonaPrompt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pref     *models.UserPreference
		contains []string
		excludes []string
	}{
		{
			name:     "nil preference uses defaults",
			pref:     nil,
			contains: []string{"friendly tone", "emoji sparingly"},
		},
		{
			name: "professional without emoji",
			pref: &models.UserPreference{
				Tone: "professional", EmojiDensity: "none", Language: "en",
			},
			contains: []string{"professional", "Do not use emoji"},
		},
		{
			name: "playful with heavy emoji in french",
			pref: &models.UserPreference{
				Tone: "playful", EmojiDensity: "heavy", Language: "fr",
			},
			contains: []string{"playful", "generously", `"fr"`},
		},
		{
			name: "default language not called out",
			pref: &models.UserPreference{
				Tone: "friendly", EmojiDensity: "moderate", Language: "en",
			},
			excludes: []string{"language with code"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prompt := buildPersonaPrompt(tt.pref)
			for _, want := range tt.contains {
				if !strings.Contains(prompt, want) {
					t.Errorf("Expected prompt to contain %q", want)
				}
			}
			for _, unwanted := range tt.excludes {
				if strings.Contains(prompt, unwanted) {
					t.Errorf("Expected prompt to not contain %q", unwanted)
				}
			}
			if !strings.Contains(prompt, `"reply"`) {
				t.Error("Expected prompt to describe the structured output format")
			}
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name:     "bare object",
			raw:      `{"a":1}`,
			expected: `{"a":1}`,
		},
		{
			name:     "object in prose",
			raw:      `Sure! {"a":1} Hope that helps.`,
			expected: `{"a":1}`,
		},
		{
			name:     "no object",
			raw:      "nothing here",
			expected: "",
		},
		{
			name:     "braces out of order",
			raw:      "} {",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := extractJSONObject(tt.raw); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestFallbackReplyCoversAllIntents(t *testing.T) {
	t.Parallel()

	for _, category := range models.KnownIntents {
		if FallbackReply(category) == "" {
			t.Errorf("Expected a fallback reply for %s", category)
		}
	}
	if FallbackReply("order_pizza") == "" {
		t.Error("Expected a fallback reply for unknown categories")
	}
}

func TestClarifyPromptAlwaysAsksSomething(t *testing.T) {
	t.Parallel()

	for _, category := range models.KnownIntents {
		if ClarifyPrompt(category) == "" {
			t.Errorf("Expected a clarifying question for %s", category)
		}
	}
	if ClarifyPrompt("order_pizza") == "" {
		t.Error("Expected a clarifying question for unknown categories")
	}
}
