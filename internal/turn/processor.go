package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/cache"
	"github.com/parleybot/parley/internal/contextmgr"
	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/models"
	"github.com/parleybot/parley/internal/ratelimit"
	"github.com/parleybot/parley/internal/router"
	"github.com/parleybot/parley/internal/services/ai"
	"github.com/parleybot/parley/internal/services/image"
	"github.com/parleybot/parley/internal/services/scm"
	"github.com/parleybot/parley/internal/session"
	"github.com/parleybot/parley/internal/transport"
)

// Request is one inbound user message
type Request struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	ChannelID string `json:"channel_id" validate:"required,max=128"`
	Content   string `json:"content" validate:"required"`
}

// Result is the outcome of processing one turn
type Result struct {
	SessionID      string  `json:"session_id"`
	NewSession     bool    `json:"new_session"`
	Reply          string  `json:"reply"`
	Intent         string  `json:"intent"`
	Confidence     float64 `json:"confidence"`
	Decision       string  `json:"decision"`
	Denied         bool    `json:"denied,omitempty"`
	RetryAfterSecs int64   `json:"retry_after_seconds,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	PullRequestURL string  `json:"pull_request_url,omitempty"`
	Cached         bool    `json:"cached,omitempty"`
}

// timeoutApology is pushed over the transport when a turn is abandoned
const timeoutApology = "Sorry, that took longer than I expected and I had to stop. Please try again."

// affirmations complete a pending confirmation
var affirmations = map[string]bool{
	"yes": true, "y": true, "yeah": true, "yep": true,
	"sure": true, "ok": true, "okay": true, "confirm": true, "do it": true,
}

// Processor runs the full turn pipeline: session resolution, classification,
// routing, rate limiting, execution, and persistence.
type Processor struct {
	store     *session.Store
	prefs     database.PreferenceRepositoryInterface
	router    *router.Router
	limiter   *ratelimit.Limiter
	responses *cache.ResponseCache
	pending   *cache.PendingStore
	context   *contextmgr.Manager
	provider  ai.Provider
	images    image.Generator
	scm       scm.Client
	auditor   *router.Auditor
	messenger transport.Messenger
	logger    *zap.Logger
	timeout   time.Duration
}

// Config wires the processor's collaborators
type Config struct {
	Store       *session.Store
	Preferences database.PreferenceRepositoryInterface
	Router      *router.Router
	Limiter     *ratelimit.Limiter
	Responses   *cache.ResponseCache
	Pending     *cache.PendingStore
	Context     *contextmgr.Manager
	Provider    ai.Provider
	Images      image.Generator
	SCM         scm.Client
	Auditor     *router.Auditor
	Messenger   transport.Messenger
	Logger      *zap.Logger
	Timeout     time.Duration
}

// NewProcessor creates a turn processor
func NewProcessor(cfg Config) *Processor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Processor{
		store:     cfg.Store,
		prefs:     cfg.Preferences,
		router:    cfg.Router,
		limiter:   cfg.Limiter,
		responses: cfg.Responses,
		pending:   cfg.Pending,
		context:   cfg.Context,
		provider:  cfg.Provider,
		images:    cfg.Images,
		scm:       cfg.SCM,
		auditor:   cfg.Auditor,
		messenger: cfg.Messenger,
		logger:    cfg.Logger,
		timeout:   timeout,
	}
}

// ProcessTurn handles one user message end to end
func (p *Processor) ProcessTurn(ctx context.Context, req *Request) (*Result, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > session.MaxMessageLength {
		return nil, session.ErrMessageTooLong
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := p.process(ctx, req.UserID, req.ChannelID, content)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		if p.messenger != nil {
			// The request context is already dead; the apology gets a fresh one
			if sendErr := p.messenger.Send(context.Background(), req.ChannelID, timeoutApology); sendErr != nil {
				p.logger.Warn("failed to send timeout apology",
					zap.String("channel_id", req.ChannelID),
					zap.Error(sendErr))
			}
		}
		return nil, ErrTurnTimeout
	}
	return result, err
}

func (p *Processor) process(ctx context.Context, userID, channelID, content string) (*Result, error) {
	start := time.Now()

	sess, created, err := p.store.ResolveOrCreate(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}

	if p.messenger != nil {
		if err := p.messenger.Indicate(ctx, channelID); err != nil {
			p.logger.Debug("typing indicator failed", zap.Error(err))
		}
	}

	pref, err := p.prefs.GetOrCreate(ctx, userID)
	if err != nil {
		// Preferences are cosmetic; proceed with defaults
		p.logger.Warn("failed to load preferences, using defaults",
			zap.String("user_id", userID),
			zap.Error(err))
		pref = models.DefaultPreference(userID)
	}

	history, err := p.store.RecentMessages(ctx, sess, pref.ContextWindowSize)
	if err != nil {
		p.logger.Warn("failed to load history, proceeding without",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err))
		history = nil
	}

	// A short affirmation completes a waiting confirmation instead of going
	// through classification
	if affirmations[strings.ToLower(content)] {
		if pendingAction, err := p.pending.Take(ctx, sess.ID); err == nil {
			return p.executePending(ctx, sess, pref, content, pendingAction, created, start)
		} else if !errors.Is(err, cache.ErrMiss) {
			p.logger.Warn("failed to check pending action", zap.Error(err))
		}
	}

	intent, confidence, entities, err := p.classify(ctx, content, history)
	if err != nil {
		return nil, err
	}
	decision := p.router.Route(intent, confidence)
	policy := p.router.Policy(intent)

	result := &Result{
		SessionID:  sess.ID.String(),
		NewSession: created,
		Intent:     string(intent),
		Confidence: confidence,
		Decision:   decision.String(),
	}

	// A clarifying question performs no action and consumes no rate budget
	if decision == router.DecisionClarify {
		result.Reply = ai.ClarifyPrompt(intent)
		p.record(ctx, sess, content, intent, confidence, result.Reply)
		p.auditor.LogOutcome(ctx, userID, content, intent, confidence, entities, true, time.Since(start), nil)
		return result, nil
	}

	if decision == router.DecisionTreatAsConversation {
		intent = models.IntentGeneralConversation
		policy = p.router.Policy(intent)
	}

	limit := p.limiter.Check(ctx, userID, intent)
	if !limit.Allowed {
		result.Denied = true
		result.RetryAfterSecs = int64(limit.RetryAfter.Seconds())
		result.Reply = fmt.Sprintf("You've hit the limit for that for now. Try again in about %s.", limit.RetryAfter.Round(time.Second))
		p.record(ctx, sess, content, intent, confidence, result.Reply)
		p.auditor.LogOutcome(ctx, userID, content, intent, confidence, entities, false, time.Since(start), errors.New("rate limited"))
		return result, nil
	}

	switch decision {
	case router.DecisionConfirm:
		reply := p.stashPending(ctx, sess, intent, content, entities)
		result.Reply = reply
		p.record(ctx, sess, content, intent, confidence, reply)
		p.auditor.LogOutcome(ctx, userID, content, intent, confidence, entities, true, time.Since(start), nil)
		return result, nil

	case router.DecisionExecute:
		if intent == models.IntentGenerateImage || intent == models.IntentSubmitFeature {
			execErr := p.executeAction(ctx, sess, pref, intent, content, entities, result)
			p.record(ctx, sess, content, intent, confidence, result.Reply)
			p.auditor.LogOutcome(ctx, userID, content, intent, confidence, entities, execErr == nil, time.Since(start), execErr)
			return result, nil
		}
	}

	// Conversational path, shared by direct execution of non-action intents
	// and the treat-as-conversation fallback
	execErr := p.converse(ctx, sess, pref, intent, policy, content, history, result)
	p.record(ctx, sess, content, intent, confidence, result.Reply)
	p.auditor.LogOutcome(ctx, userID, content, intent, confidence, entities, execErr == nil, time.Since(start), execErr)

	return result, nil
}

// classify runs the intent classifier. Model failures degrade the turn to
// conversation with zero confidence; an exhausted turn budget aborts it.
func (p *Processor) classify(ctx context.Context, content string, history []*models.Message) (models.IntentCategory, float64, map[string]any, error) {
	intentResult, err := p.provider.Classify(ctx, content, history)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.IntentUnclear, 0, nil, err
		}
		p.logger.Warn("classification failed, treating as conversation", zap.Error(err))
		return models.IntentUnclear, 0, nil, nil
	}
	return intentResult.Category, intentResult.Confidence, intentResult.Entities, nil
}

// entityString returns the first non-empty string entity under the given keys
func entityString(entities map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := entities[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// converse produces a reply through the response cache and the generator
func (p *Processor) converse(ctx context.Context, sess *models.Session, pref *models.UserPreference, intent models.IntentCategory, policy router.CategoryPolicy, content string, history []*models.Message, result *Result) error {
	var fingerprint string
	if policy.Cacheable {
		fingerprint = cache.Fingerprint(content, intent, pref)
		if reply, err := p.responses.Get(ctx, fingerprint); err == nil {
			result.Reply = reply
			result.Cached = true
			return nil
		} else if !errors.Is(err, cache.ErrMiss) {
			p.logger.Warn("response cache lookup failed", zap.Error(err))
		}
	}

	if intent == models.IntentActionQuery {
		if reply, ok := p.describeRecentActions(ctx, sess.UserID); ok {
			result.Reply = reply
			return nil
		}
	}

	promptCtx := p.context.Build(ctx, history, pref)
	generated, err := p.provider.Generate(ctx, &ai.GenerateRequest{
		Content:    content,
		Summary:    promptCtx.Summary,
		History:    promptCtx.Messages,
		Preference: pref,
		Intent:     intent,
	})
	if err != nil {
		p.logger.Error("generation failed, using fallback reply",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err))
		result.Reply = ai.FallbackReply(intent)
		return err
	}

	result.Reply = generated.Reply
	p.runDirectives(ctx, sess, generated.Directives, result)

	if policy.Cacheable && !result.Denied && result.ImageURL == "" {
		if err := p.responses.Put(ctx, fingerprint, generated.Reply); err != nil {
			p.logger.Warn("failed to cache reply", zap.Error(err))
		}
	}

	return nil
}

// executeAction performs a side-effecting intent directly. Extracted entities
// take priority over raw message text when shaping the action.
func (p *Processor) executeAction(ctx context.Context, sess *models.Session, pref *models.UserPreference, intent models.IntentCategory, content string, entities map[string]any, result *Result) error {
	switch intent {
	case models.IntentGenerateImage:
		prompt := content
		if subject := entityString(entities, "subject", "prompt", "description"); subject != "" {
			prompt = subject
		}
		img, err := p.images.Generate(ctx, prompt)
		if err != nil {
			p.logger.Error("image generation failed",
				zap.String("session_id", sess.ID.String()),
				zap.Error(err))
			result.Reply = ai.FallbackReply(intent)
			return err
		}
		result.ImageURL = img.URL
		result.Reply = "Here's your image!"
		if img.RevisedPrompt != "" {
			result.Reply = fmt.Sprintf("Here's your image! I rendered it as: %s", img.RevisedPrompt)
		}
		return nil

	case models.IntentSubmitFeature:
		title := entityString(entities, "title", "feature")
		if title == "" {
			title = content
			if idx := strings.IndexAny(title, ".\n"); idx > 0 {
				title = title[:idx]
			}
		}
		description := entityString(entities, "description")
		if description == "" {
			description = content
		}
		pull, err := p.scm.SubmitFeatureRequest(ctx, &scm.FeatureRequest{
			Title:       title,
			Description: description,
			RequestedBy: sess.UserID,
		})
		if err != nil {
			p.logger.Error("feature submission failed",
				zap.String("session_id", sess.ID.String()),
				zap.Error(err))
			result.Reply = ai.FallbackReply(intent)
			return err
		}
		result.PullRequestURL = pull.URL
		result.Reply = fmt.Sprintf("Thanks! I've filed your request as pull request #%d.", pull.Number)
		return nil
	}

	return fmt.Errorf("intent %s is not executable", intent)
}

// executePending resumes a confirmed action
func (p *Processor) executePending(ctx context.Context, sess *models.Session, pref *models.UserPreference, content string, action *cache.PendingAction, created bool, start time.Time) (*Result, error) {
	result := &Result{
		SessionID:  sess.ID.String(),
		NewSession: created,
		Intent:     string(action.Intent),
		Confidence: 1,
		Decision:   router.DecisionExecute.String(),
	}

	limit := p.limiter.Check(ctx, sess.UserID, action.Intent)
	if !limit.Allowed {
		result.Denied = true
		result.RetryAfterSecs = int64(limit.RetryAfter.Seconds())
		result.Reply = fmt.Sprintf("You've hit the limit for that for now. Try again in about %s.", limit.RetryAfter.Round(time.Second))
		p.record(ctx, sess, content, action.Intent, 1, result.Reply)
		p.auditor.LogOutcome(ctx, sess.UserID, action.Content, action.Intent, 1, action.Entities, false, time.Since(start), errors.New("rate limited"))
		return result, nil
	}

	execErr := p.executeAction(ctx, sess, pref, action.Intent, action.Content, action.Entities, result)
	p.record(ctx, sess, content, action.Intent, 1, result.Reply)
	p.auditor.LogOutcome(ctx, sess.UserID, action.Content, action.Intent, 1, action.Entities, execErr == nil, time.Since(start), execErr)

	return result, nil
}

// stashPending stores a confirmation request and returns the prompt
func (p *Processor) stashPending(ctx context.Context, sess *models.Session, intent models.IntentCategory, content string, entities map[string]any) string {
	action := &cache.PendingAction{
		SessionID: sess.ID,
		Intent:    intent,
		Content:   content,
		Entities:  entities,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.pending.Put(ctx, action); err != nil {
		p.logger.Warn("failed to store pending action", zap.Error(err))
		// Without the stash, a confirmation cannot be honored; ask again
		return "I think I know what you want, but I couldn't set it up. Could you rephrase your request?"
	}

	switch intent {
	case models.IntentGenerateImage:
		return "It sounds like you want an image generated. Should I go ahead? (yes/no)"
	case models.IntentSubmitFeature:
		return "It sounds like you want to submit a feature request. Should I file it? (yes/no)"
	default:
		return fmt.Sprintf("Just to confirm: you want me to %s? (yes/no)", strings.ReplaceAll(string(intent), "_", " "))
	}
}

// describeRecentActions answers an action query from the audit log
func (p *Processor) describeRecentActions(ctx context.Context, userID string) (string, bool) {
	logs, err := p.auditor.Recent(ctx, userID, 5)
	if err != nil || len(logs) == 0 {
		return "", false
	}

	var sb strings.Builder
	sb.WriteString("Here's what I've handled for you recently:\n")
	for _, log := range logs {
		status := "done"
		if !log.ExecutionSuccess {
			status = "failed"
		}
		sb.WriteString(fmt.Sprintf("- %s (%s, %s)\n",
			strings.ReplaceAll(string(log.DetectedIntent), "_", " "),
			status,
			log.CreatedAt.Format("Jan 2 15:04")))
	}
	return strings.TrimRight(sb.String(), "\n"), true
}

// runDirectives executes known directives embedded in a generated reply.
// Unknown directives are skipped with a warning, never failed.
func (p *Processor) runDirectives(ctx context.Context, sess *models.Session, directives []models.ActionDirective, result *Result) {
	for _, directive := range directives {
		if !directive.Known() {
			p.logger.Warn("skipping unknown directive",
				zap.String("type", string(directive.Type)))
			continue
		}
		switch directive.Type {
		case models.DirectiveGenerateImage:
			prompt := directive.Parameters["prompt"]
			if prompt == "" {
				continue
			}
			img, err := p.images.Generate(ctx, prompt)
			if err != nil {
				p.logger.Error("directive image generation failed", zap.Error(err))
				continue
			}
			result.ImageURL = img.URL
		case models.DirectiveCreatePR:
			title := directive.Parameters["title"]
			description := directive.Parameters["description"]
			if title == "" {
				continue
			}
			pull, err := p.scm.SubmitFeatureRequest(ctx, &scm.FeatureRequest{
				Title:       title,
				Description: description,
				RequestedBy: sess.UserID,
			})
			if err != nil {
				p.logger.Error("directive pull request failed", zap.Error(err))
				continue
			}
			result.PullRequestURL = pull.URL
		}
	}
}

// record appends the user and assistant messages of a completed turn
func (p *Processor) record(ctx context.Context, sess *models.Session, content string, intent models.IntentCategory, confidence float64, reply string) {
	userMsg := models.NewUserMessage(sess.ID, content, intent, confidence)
	if err := p.store.AppendMessage(ctx, sess, userMsg); err != nil {
		p.logger.Error("failed to record user message",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err))
		return
	}

	if reply == "" {
		return
	}
	assistantMsg := models.NewAssistantMessage(sess.ID, reply)
	if err := p.store.AppendMessage(ctx, sess, assistantMsg); err != nil {
		p.logger.Error("failed to record assistant message",
			zap.String("session_id", sess.ID.String()),
			zap.Error(err))
	}
}
