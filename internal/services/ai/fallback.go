package ai

import "github.com/parleybot/parley/internal/models"

// fallbackReplies are the canned responses used when the model cannot be
// reached. Each category gets a reply that keeps the conversation moving.
var fallbackReplies = map[models.IntentCategory]string{
	models.IntentGenerateImage:       "I couldn't start that image right now. Give it another try in a moment.",
	models.IntentSubmitFeature:       "I couldn't submit your request just now. Please try again shortly.",
	models.IntentGetStatus:           "I'm having trouble checking status at the moment. Try again in a bit.",
	models.IntentGetHelp:             "I can chat, generate images, and submit feature requests. Ask me about any of those!",
	models.IntentGeneralConversation: "Sorry, I lost my train of thought. Could you say that again?",
	models.IntentActionQuery:         "I can't look up your recent actions right now. Try again in a moment.",
	models.IntentUnclear:             "I'm not sure what you're after. Could you rephrase that?",
}

// FallbackReply returns the canned response for a category
func FallbackReply(category models.IntentCategory) string {
	if reply, ok := fallbackReplies[category]; ok {
		return reply
	}
	return fallbackReplies[models.IntentUnclear]
}

// clarifyPrompts ask the user to fill in what a low-confidence classification
// left ambiguous
var clarifyPrompts = map[models.IntentCategory]string{
	models.IntentGenerateImage: "It sounds like you might want an image, but I'm not sure of what. Could you describe it?",
	models.IntentSubmitFeature: "Are you suggesting a new feature? Tell me a bit more about what you'd like.",
	models.IntentGetStatus:     "I can check on things for you. What would you like the status of?",
	models.IntentGetHelp:       "Happy to help. What would you like to know more about?",
	models.IntentActionQuery:   "Do you mean something I did earlier? Which action are you asking about?",
}

// ClarifyPrompt returns the clarifying question for a category
func ClarifyPrompt(category models.IntentCategory) string {
	if prompt, ok := clarifyPrompts[category]; ok {
		return prompt
	}
	return fallbackReplies[models.IntentUnclear]
}
