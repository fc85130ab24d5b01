package turn

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3/drivers/store/memory"
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
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uuid.UUID]*models.Session)}
}

func (r *memSessionRepo) Upsert(_ context.Context, s *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *s
	r.sessions[s.ID] = &copied
	return nil
}

func (r *memSessionRepo) GetActive(_ context.Context, userID, channelID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.ChannelID == channelID && s.Status == models.SessionStatusActive {
			copied := *s
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

func (r *memSessionRepo) Touch(_ context.Context, id uuid.UUID, lastActiveAt time.Time, messageCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.LastActiveAt = lastActiveAt
		s.MessageCount = messageCount
	}
	return nil
}

func (r *memSessionRepo) End(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.Status = models.SessionStatusEnded
	}
	return nil
}

func (r *memSessionRepo) ListIdleActive(context.Context, time.Time, int) ([]*models.Session, error) {
	return nil, nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages []*models.Message
}

func (r *memMessageRepo) Create(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

func (r *memMessageRepo) GetRecentBySession(_ context.Context, sessionID uuid.UUID, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Message
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			result = append(result, m)
		}
	}
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func (r *memMessageRepo) CountBySession(_ context.Context, sessionID uuid.UUID) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userCount, assistantCount := 0, 0
	for _, m := range r.messages {
		if m.SessionID != sessionID {
			continue
		}
		if m.Role == models.RoleUser {
			userCount++
		} else {
			assistantCount++
		}
	}
	return userCount, assistantCount, nil
}

func (r *memMessageRepo) bySession(sessionID uuid.UUID) []*models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.Message
	for _, m := range r.messages {
		if m.SessionID == sessionID {
			result = append(result, m)
		}
	}
	return result
}

type memPrefRepo struct{}

func (memPrefRepo) GetOrCreate(_ context.Context, userID string) (*models.UserPreference, error) {
	return models.DefaultPreference(userID), nil
}

func (memPrefRepo) Update(context.Context, *models.UserPreference) error { return nil }

type memIntentLogRepo struct {
	mu   sync.Mutex
	logs []*models.IntentLog
}

func (r *memIntentLogRepo) Create(_ context.Context, log *models.IntentLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *memIntentLogRepo) last() *models.IntentLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.logs) == 0 {
		return nil
	}
	return r.logs[len(r.logs)-1]
}

func (r *memIntentLogRepo) RecentByUser(_ context.Context, userID string, limit int) ([]*models.IntentLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*models.IntentLog
	for i := len(r.logs) - 1; i >= 0 && len(result) < limit; i-- {
		if r.logs[i].UserID == userID {
			result = append(result, r.logs[i])
		}
	}
	return result, nil
}

type fakeProvider struct {
	mu             sync.Mutex
	intent         models.IntentCategory
	confidence     float64
	entities       map[string]any
	classifyErr    error
	block          bool
	reply          string
	directives     []models.ActionDirective
	generateErr    error
	generateCalls  int
	classifyCalls  int
	summarizeCalls int
}

func (f *fakeProvider) Classify(ctx context.Context, _ string, _ []*models.Message) (*ai.IntentResult, error) {
	f.mu.Lock()
	f.classifyCalls++
	block := f.block
	classifyErr := f.classifyErr
	result := &ai.IntentResult{Category: f.intent, Confidence: f.confidence, Entities: f.entities}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if classifyErr != nil {
		return nil, classifyErr
	}
	return result, nil
}

func (f *fakeProvider) Generate(context.Context, *ai.GenerateRequest) (*ai.GenerateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &ai.GenerateResult{Reply: f.reply, Directives: f.directives}, nil
}

func (f *fakeProvider) Summarize(context.Context, []*models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarizeCalls++
	return "", nil
}

type fakeImageGenerator struct {
	mu      sync.Mutex
	url     string
	err     error
	calls   int
	prompts []string
}

func (f *fakeImageGenerator) Generate(_ context.Context, prompt string) (*image.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &image.Result{URL: f.url}, nil
}

type fakeSCM struct {
	mu    sync.Mutex
	pull  *scm.PullRequest
	err   error
	calls int
}

func (f *fakeSCM) SubmitFeatureRequest(context.Context, *scm.FeatureRequest) (*scm.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pull, nil
}

type recordingMessenger struct {
	mu        sync.Mutex
	indicates int
	sent      []string
}

func (m *recordingMessenger) Indicate(context.Context, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicates++
	return nil
}

func (m *recordingMessenger) Send(_ context.Context, channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, channelID+": "+content)
	return nil
}

type fixture struct {
	processor *Processor
	provider  *fakeProvider
	images    *fakeImageGenerator
	scm       *fakeSCM
	messages  *memMessageRepo
	intents   *memIntentLogRepo
	redis     *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zap.NewNop()
	policies := router.DefaultPolicyTable()

	limiter, err := ratelimit.New(memory.NewStore(), policies, logger)
	if err != nil {
		t.Fatalf("Failed to create limiter: %v", err)
	}

	provider := &fakeProvider{
		intent:     models.IntentGeneralConversation,
		confidence: 0.9,
		reply:      "hello there!",
	}
	images := &fakeImageGenerator{url: "https://images.example/1.png"}
	scmClient := &fakeSCM{pull: &scm.PullRequest{Number: 7, URL: "https://github.example/pull/7"}}
	messages := &memMessageRepo{}
	intents := &memIntentLogRepo{}

	store := session.NewStore(
		newMemSessionRepo(),
		messages,
		cache.NewSessionCache(client, models.DefaultSessionTimeout),
		nil,
		logger,
	)

	processor := NewProcessor(Config{
		Store:       store,
		Preferences: memPrefRepo{},
		Router:      router.New(policies, logger),
		Limiter:     limiter,
		Responses:   cache.NewResponseCache(client, 5*time.Minute),
		Pending:     cache.NewPendingStore(client),
		Context:     contextmgr.New(contextmgr.DefaultTokenBudget, provider, logger),
		Provider:    provider,
		Images:      images,
		SCM:         scmClient,
		Auditor:     router.NewAuditor(intents, logger),
		Logger:      logger,
		Timeout:     10 * time.Second,
	})

	return &fixture{
		processor: processor,
		provider:  provider,
		images:    images,
		scm:       scmClient,
		messages:  messages,
		intents:   intents,
		redis:     mr,
	}
}

func TestProcessTurnConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "hello",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}

	if !result.NewSession {
		t.Error("Expected a new session on the first turn")
	}
	if result.Reply != "hello there!" {
		t.Errorf("Expected generated reply, got %q", result.Reply)
	}
	if result.Decision != "execute" {
		t.Errorf("Expected execute decision, got %s", result.Decision)
	}
	if result.Cached {
		t.Error("Expected a cache miss on the first turn")
	}

	sessionID, err := uuid.Parse(result.SessionID)
	if err != nil {
		t.Fatalf("Result session id is not a UUID: %v", err)
	}
	recorded := f.messages.bySession(sessionID)
	if len(recorded) != 2 {
		t.Fatalf("Expected 2 recorded messages, got %d", len(recorded))
	}
	if recorded[0].Role != models.RoleUser || recorded[1].Role != models.RoleAssistant {
		t.Error("Expected user message then assistant message")
	}
}

func TestProcessTurnServesCachedReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	req := &Request{UserID: "user-1", ChannelID: "channel-1", Content: "hello"}

	if _, err := f.processor.ProcessTurn(ctx, req); err != nil {
		t.Fatalf("Failed to process first turn: %v", err)
	}

	// Same request, differently spaced; the fingerprint normalizes it
	result, err := f.processor.ProcessTurn(ctx, &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "  HELLO ",
	})
	if err != nil {
		t.Fatalf("Failed to process second turn: %v", err)
	}
	if !result.Cached {
		t.Error("Expected the second reply to come from the cache")
	}
	if f.provider.generateCalls != 1 {
		t.Errorf("Expected one generator call, got %d", f.provider.generateCalls)
	}
}

func TestProcessTurnEmptyMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "   ",
	})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Expected ErrEmptyMessage, got %v", err)
	}
}

func TestProcessTurnMessageTooLong(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: strings.Repeat("x", session.MaxMessageLength+1),
	})
	if !errors.Is(err, session.ErrMessageTooLong) {
		t.Errorf("Expected ErrMessageTooLong, got %v", err)
	}
}

func TestProcessTurnExecutesImageGeneration(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.intent = models.IntentGenerateImage
	f.provider.confidence = 0.9

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "draw a lighthouse at dusk",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}

	if result.ImageURL != "https://images.example/1.png" {
		t.Errorf("Expected image URL in result, got %q", result.ImageURL)
	}
	if f.images.calls != 1 {
		t.Errorf("Expected one image generation call, got %d", f.images.calls)
	}
	if f.provider.generateCalls != 0 {
		t.Error("Expected no conversational generation for a direct action")
	}
}

func TestProcessTurnUsesExtractedEntities(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.intent = models.IntentGenerateImage
	f.provider.confidence = 0.9
	f.provider.entities = map[string]any{"subject": "a sunset over the sea"}

	_, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "hey, could you maybe draw me something pretty?",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}

	if len(f.images.prompts) != 1 || f.images.prompts[0] != "a sunset over the sea" {
		t.Errorf("Expected the extracted subject as the image prompt, got %v", f.images.prompts)
	}

	logged := f.intents.last()
	if logged == nil {
		t.Fatal("Expected an intent log entry")
	}
	if len(logged.Entities) == 0 {
		t.Fatal("Expected the classifier's entities in the intent log")
	}
	if logged.Entities["subject"] != "a sunset over the sea" {
		t.Errorf("Expected subject entity in the intent log, got %v", logged.Entities)
	}
}

func TestProcessTurnExecutesFeatureRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.intent = models.IntentSubmitFeature
	f.provider.confidence = 0.9

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "please add dark mode. It helps at night.",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}

	if result.PullRequestURL != "https://github.example/pull/7" {
		t.Errorf("Expected pull request URL, got %q", result.PullRequestURL)
	}
	if !strings.Contains(result.Reply, "#7") {
		t.Errorf("Expected the reply to name the pull request, got %q", result.Reply)
	}
	if f.scm.calls != 1 {
		t.Errorf("Expected one feature submission, got %d", f.scm.calls)
	}
}

func TestProcessTurnConfirmFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Confidence in the confirm band for images (0.60..0.75)
	f.provider.intent = models.IntentGenerateImage
	f.provider.confidence = 0.65
	f.provider.entities = map[string]any{"subject": "a lighthouse"}

	ctx := context.Background()

	first, err := f.processor.ProcessTurn(ctx, &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "maybe draw something like a lighthouse?",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}
	if first.Decision != "confirm" {
		t.Fatalf("Expected confirm decision, got %s", first.Decision)
	}
	if f.images.calls != 0 {
		t.Error("Expected no image generation before confirmation")
	}

	second, err := f.processor.ProcessTurn(ctx, &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "yes",
	})
	if err != nil {
		t.Fatalf("Failed to process confirmation: %v", err)
	}
	if second.Decision != "execute" {
		t.Errorf("Expected execute decision after confirmation, got %s", second.Decision)
	}
	if second.ImageURL == "" {
		t.Error("Expected the confirmed action to produce an image")
	}
	if f.images.calls != 1 {
		t.Errorf("Expected one image generation call, got %d", f.images.calls)
	}
	if len(f.images.prompts) != 1 || f.images.prompts[0] != "a lighthouse" {
		t.Errorf("Expected the stashed entity as the image prompt, got %v", f.images.prompts)
	}
	if f.provider.classifyCalls != 1 {
		t.Errorf("Expected the affirmation to skip classification, got %d calls", f.provider.classifyCalls)
	}
}

func TestProcessTurnTimeoutSendsApology(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.block = true
	messenger := &recordingMessenger{}
	f.processor.messenger = messenger
	f.processor.timeout = 50 * time.Millisecond

	_, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "hello",
	})
	if !errors.Is(err, ErrTurnTimeout) {
		t.Fatalf("Expected ErrTurnTimeout, got %v", err)
	}

	messenger.mu.Lock()
	defer messenger.mu.Unlock()
	if len(messenger.sent) != 1 {
		t.Fatalf("Expected one apology message, got %d", len(messenger.sent))
	}
	if !strings.HasPrefix(messenger.sent[0], "channel-1: ") {
		t.Errorf("Expected the apology on the turn's channel, got %q", messenger.sent[0])
	}
}

func TestProcessTurnClarifiesLowConfidence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// Below the image low threshold (0.40)
	f.provider.intent = models.IntentGenerateImage
	f.provider.confidence = 0.30

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "picture?",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}
	if result.Decision != "clarify" {
		t.Fatalf("Expected clarify decision, got %s", result.Decision)
	}
	if result.Reply != ai.ClarifyPrompt(models.IntentGenerateImage) {
		t.Errorf("Expected a clarifying question, got %q", result.Reply)
	}
	if f.images.calls != 0 {
		t.Error("Expected no image generation on a clarify decision")
	}
	if f.provider.generateCalls != 0 {
		t.Error("Expected no reply generation on a clarify decision")
	}
}

func TestProcessTurnAffirmationWithoutPendingIsConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "yes",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}
	if result.Reply != "hello there!" {
		t.Errorf("Expected a generated reply, got %q", result.Reply)
	}
	if f.images.calls != 0 || f.scm.calls != 0 {
		t.Error("Expected no actions without a pending confirmation")
	}
}

func TestProcessTurnRateLimitDenial(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.intent = models.IntentGenerateImage
	f.provider.confidence = 0.9

	ctx := context.Background()

	// Default image budget is 5 per hour
	for i := 0; i < 5; i++ {
		if _, err := f.processor.ProcessTurn(ctx, &Request{
			UserID: "user-1", ChannelID: "channel-1", Content: "draw a lighthouse",
		}); err != nil {
			t.Fatalf("Failed to process turn %d: %v", i+1, err)
		}
	}

	result, err := f.processor.ProcessTurn(ctx, &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "draw a lighthouse",
	})
	if err != nil {
		t.Fatalf("Failed to process denied turn: %v", err)
	}
	if !result.Denied {
		t.Error("Expected the sixth image request to be denied")
	}
	if result.RetryAfterSecs <= 0 {
		t.Errorf("Expected positive retry-after, got %d", result.RetryAfterSecs)
	}
	if f.images.calls != 5 {
		t.Errorf("Expected 5 image generation calls, got %d", f.images.calls)
	}
}

func TestProcessTurnClassificationFailureDegradesToConversation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.classifyErr = errors.New("model unavailable")

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "do the thing",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}
	if result.Decision != "treat_as_conversation" {
		t.Errorf("Expected treat_as_conversation, got %s", result.Decision)
	}
	if result.Reply != "hello there!" {
		t.Errorf("Expected a generated reply, got %q", result.Reply)
	}
}

func TestProcessTurnGenerationFailureUsesFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.generateErr = errors.New("model unavailable")

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "hello",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}
	if result.Reply == "" {
		t.Error("Expected a fallback reply")
	}
	if result.Reply != ai.FallbackReply(models.IntentGeneralConversation) {
		t.Errorf("Expected the conversation fallback, got %q", result.Reply)
	}
}

func TestProcessTurnRunsDirectives(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.reply = "here you go!"
	f.provider.directives = []models.ActionDirective{
		{Type: models.DirectiveGenerateImage, Parameters: map[string]string{"prompt": "a lighthouse"}},
		{Type: "unknown_directive"},
	}

	result, err := f.processor.ProcessTurn(context.Background(), &Request{
		UserID: "user-1", ChannelID: "channel-1", Content: "show me a lighthouse",
	})
	if err != nil {
		t.Fatalf("Failed to process turn: %v", err)
	}
	if result.ImageURL == "" {
		t.Error("Expected the directive to attach an image")
	}
	if f.images.calls != 1 {
		t.Errorf("Expected one image generation call, got %d", f.images.calls)
	}
}

func TestProcessTurnImageReplyNotCached(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.provider.directives = []models.ActionDirective{
		{Type: models.DirectiveGenerateImage, Parameters: map[string]string{"prompt": "a lighthouse"}},
	}

	ctx := context.Background()
	req := &Request{UserID: "user-1", ChannelID: "channel-1", Content: "show me a lighthouse"}

	if _, err := f.processor.ProcessTurn(ctx, req); err != nil {
		t.Fatalf("Failed to process first turn: %v", err)
	}
	result, err := f.processor.ProcessTurn(ctx, req)
	if err != nil {
		t.Fatalf("Failed to process second turn: %v", err)
	}
	if result.Cached {
		t.Error("Expected replies with images to bypass the cache")
	}
}
