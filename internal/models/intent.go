package models

import (
	"time"

	"github.com/google/uuid"
)

// IntentCategory is the classified purpose of a user message
type IntentCategory string

const (
	// IntentGenerateImage means the user wants an image created
	IntentGenerateImage IntentCategory = "generate_image"
	// IntentSubmitFeature means the user wants to submit a feature request
	IntentSubmitFeature IntentCategory = "submit_feature"
	// IntentGetStatus means the user is asking about service or request status
	IntentGetStatus IntentCategory = "get_status"
	// IntentGetHelp means the user needs help or capability information
	IntentGetHelp IntentCategory = "get_help"
	// IntentGeneralConversation is casual conversation
	IntentGeneralConversation IntentCategory = "general_conversation"
	// IntentActionQuery means the user is asking about previous actions/results
	IntentActionQuery IntentCategory = "action_query"
	// IntentUnclear means the intent could not be determined
	IntentUnclear IntentCategory = "unclear"
)

// KnownIntents lists every category the classifier may emit
var KnownIntents = []IntentCategory{
	IntentGenerateImage,
	IntentSubmitFeature,
	IntentGetStatus,
	IntentGetHelp,
	IntentGeneralConversation,
	IntentActionQuery,
	IntentUnclear,
}

// IsKnownIntent reports whether the category is one the system understands
func IsKnownIntent(c IntentCategory) bool {
	for _, k := range KnownIntents {
		if k == c {
			return true
		}
	}
	return false
}

// IntentLog is an append-only audit record of one classification attempt.
// There is no update or delete path; rows are read for analytics only.
type IntentLog struct {
	ID               uuid.UUID      `json:"id"`
	UserID           string         `json:"user_id"`
	Content          string         `json:"content"`
	DetectedIntent   IntentCategory `json:"detected_intent"`
	Confidence       float64        `json:"confidence"`
	Entities         map[string]any `json:"entities,omitempty"`
	ExecutionSuccess bool           `json:"execution_success"`
	LatencyMS        int64          `json:"latency_ms"`
	Error            *string        `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}
