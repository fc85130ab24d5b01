package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/models"
)

const (
	// DefaultOpenAIModel is the default model to use
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultOpenAIBaseURL is the default OpenAI API base URL
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout is the default timeout for API calls
	DefaultTimeout = 30 * time.Second

	// ErrNoChoicesInResponse is returned when the API response has no choices
	ErrNoChoicesInResponse = "no choices in response"
)

// OpenAIProvider implements Provider using OpenAI's API
type OpenAIProvider struct {
	client    openai.Client
	model     string
	logger    *zap.Logger
	debugMode bool
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey, baseURL, model string, logger *zap.Logger, debugMode bool) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	httpClient := &http.Client{
		Timeout: DefaultTimeout,
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
	)

	return &OpenAIProvider{
		client:    client,
		model:     model,
		logger:    logger,
		debugMode: debugMode,
	}
}

const classifySystemPrompt = `You are an intent classifier for a conversational assistant. Classify the user's latest message into exactly one of these categories:
- generate_image: the user wants an image created
- submit_feature: the user wants to submit a feature request or report an idea
- get_status: the user asks about service status or the progress of a request
- get_help: the user asks what the assistant can do or how to use it
- general_conversation: casual conversation, questions, or chat
- action_query: the user asks about actions already performed or their results
- unclear: the intent cannot be determined

Respond with a JSON object only:
{"intent": "<category>", "confidence": <0.0-1.0>, "entities": {<extracted parameters>}}

Confidence reflects how certain you are. Extract useful parameters into entities, e.g. the image subject for generate_image or the feature description for submit_feature.`

// Classify determines the intent of a user message. Recent history is
// included so follow-ups like "yes, do that" classify correctly.
func (p *OpenAIProvider) Classify(ctx context.Context, content string, history []*models.Message) (*IntentResult, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(classifySystemPrompt))
	for _, msg := range tail(history, 4) {
		messages = append(messages, toOpenAIMessage(msg))
	}
	messages = append(messages, openai.UserMessage(content))

	req := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	raw, err := p.complete(ctx, "classify", req)
	if err != nil {
		return nil, err
	}

	result, err := parseIntentResult(raw)
	if err != nil {
		return nil, err
	}

	return result, nil
}

func parseIntentResult(raw string) (*IntentResult, error) {
	result := &IntentResult{}
	if err := json.Unmarshal([]byte(raw), result); err != nil {
		// Some models wrap the JSON in prose; extract the outermost object
		extracted := extractJSONObject(raw)
		if extracted == "" {
			return nil, fmt.Errorf("failed to parse classification response: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), result); err != nil {
			return nil, fmt.Errorf("failed to parse classification response: %w", err)
		}
	}

	if !models.IsKnownIntent(result.Category) {
		result.Category = models.IntentUnclear
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return result, nil
}

// Generate produces a conversational reply shaped by the user's preferences
func (p *OpenAIProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	system := buildPersonaPrompt(req.Preference)
	if req.Summary != "" {
		system += "\n\nEarlier in this conversation: " + req.Summary
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, msg := range req.History {
		messages = append(messages, toOpenAIMessage(msg))
	}
	messages = append(messages, openai.UserMessage(req.Content))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	raw, err := p.complete(ctx, "generate", params)
	if err != nil {
		return nil, err
	}

	return parseGenerateResult(raw)
}

func parseGenerateResult(raw string) (*GenerateResult, error) {
	var payload struct {
		Reply      string          `json:"reply"`
		Directives json.RawMessage `json:"directives,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		extracted := extractJSONObject(raw)
		if extracted == "" || json.Unmarshal([]byte(extracted), &payload) != nil {
			// Treat non-JSON output as a plain reply rather than failing
			return &GenerateResult{Reply: strings.TrimSpace(raw)}, nil
		}
	}
	if payload.Reply == "" {
		return &GenerateResult{Reply: strings.TrimSpace(raw)}, nil
	}

	result := &GenerateResult{Reply: payload.Reply}
	directives, err := models.DecodeDirectives(payload.Directives)
	if err != nil {
		// A malformed directive list never fails the reply
		return result, nil
	}
	result.Directives = directives

	return result, nil
}

// Summarize condenses conversation history into a short recap
func (p *OpenAIProvider) Summarize(ctx context.Context, msgs []*models.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation in two or three sentences. Keep names, requests, and outcomes; drop pleasantries.\n\nConversation:\n")
	for _, msg := range msgs {
		sb.WriteString(fmt.Sprintf("%s: %s\n", msg.Role, msg.Content))
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("You summarize conversations concisely."),
		openai.UserMessage(sb.String()),
	}

	req := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(p.model),
		Messages:  messages,
		MaxTokens: openai.Int(200),
	}

	return p.complete(ctx, "summarize", req)
}

// complete sends one chat completion request and returns the first choice
func (p *OpenAIProvider) complete(ctx context.Context, operation string, req openai.ChatCompletionNewParams) (string, error) {
	if p.logger != nil && p.debugMode {
		p.logger.Debug("llm_api_request",
			zap.String("operation", operation),
			zap.String("model", p.model),
			zap.Int("message_count", len(req.Messages)),
			zap.String("request_id", ExtractRequestID(ctx)),
		)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, req)
	latency := time.Since(start)

	if err != nil {
		if p.logger != nil && p.debugMode {
			p.logger.Debug("llm_api_error",
				zap.String("operation", operation),
				zap.String("model", p.model),
				zap.Error(err),
				zap.String("request_id", ExtractRequestID(ctx)),
				zap.Int64("latency_ms", latency.Milliseconds()),
			)
		}
		if apiErr := ExtractAPIError(err); apiErr != nil {
			return "", fmt.Errorf("failed to %s: %w", operation, apiErr)
		}
		return "", fmt.Errorf("failed to %s: %w", operation, err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New(ErrNoChoicesInResponse)
	}

	content := resp.Choices[0].Message.Content
	if p.logger != nil && p.debugMode {
		p.logger.Debug("llm_api_response",
			zap.String("operation", operation),
			zap.String("model", p.model),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", SanitizeResponse(content, true)),
			zap.String("request_id", ExtractRequestID(ctx)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)
	}

	return content, nil
}

// buildPersonaPrompt renders the user's preferences into system instructions
func buildPersonaPrompt(pref *models.UserPreference) string {
	tone := models.DefaultTone
	emoji := models.DefaultEmojiDensity
	language := models.DefaultLanguage
	if pref != nil {
		tone = pref.Tone
		emoji = pref.EmojiDensity
		language = pref.Language
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful conversational assistant. Keep replies concise.")

	switch tone {
	case "professional":
		sb.WriteString(" Use a professional, polished tone.")
	case "casual":
		sb.WriteString(" Use a relaxed, casual tone.")
	case "playful":
		sb.WriteString(" Use a playful, lighthearted tone.")
	default:
		sb.WriteString(" Use a warm, friendly tone.")
	}

	switch emoji {
	case "none":
		sb.WriteString(" Do not use emoji.")
	case "heavy":
		sb.WriteString(" Use emoji generously.")
	default:
		sb.WriteString(" Use emoji sparingly.")
	}

	if language != "" && language != models.DefaultLanguage {
		sb.WriteString(fmt.Sprintf(" Respond in the language with code %q.", language))
	}

	sb.WriteString(`

Respond with a JSON object only:
{"reply": "<your reply>", "directives": [{"type": "<action>", "parameters": {}}]}
Include directives only when the user asked for an action you can perform; otherwise use an empty array.`)

	return sb.String()
}

func toOpenAIMessage(msg *models.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case models.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

// tail returns the last n elements of msgs
func tail(msgs []*models.Message, n int) []*models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// extractJSONObject pulls the outermost JSON object out of prose
func extractJSONObject(raw string) string {
	start := bytes.Index([]byte(raw), []byte("{"))
	end := bytes.LastIndex([]byte(raw), []byte("}"))
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
