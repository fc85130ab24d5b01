package router

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/models"
)

// Decision is the routing outcome for a classified message
type Decision int

const (
	// DecisionExecute runs the intent directly
	DecisionExecute Decision = iota
	// DecisionConfirm asks the user to confirm before executing
	DecisionConfirm
	// DecisionTreatAsConversation falls back to conversational handling
	DecisionTreatAsConversation
	// DecisionClarify asks a clarifying question instead of acting
	DecisionClarify
)

// String returns the decision name for logging
func (d Decision) String() string {
	switch d {
	case DecisionExecute:
		return "execute"
	case DecisionConfirm:
		return "confirm"
	case DecisionTreatAsConversation:
		return "treat_as_conversation"
	case DecisionClarify:
		return "clarify"
	}
	return "unknown"
}

// Router maps a (category, confidence) pair to a decision using the policy
// table. Routing is pure; rate limiting and execution happen downstream.
type Router struct {
	policies PolicyTable
	logger   *zap.Logger
}

// New creates a router over a policy table
func New(policies PolicyTable, logger *zap.Logger) *Router {
	return &Router{policies: policies, logger: logger}
}

// Route decides how to handle a classified message. Confidence is clamped to
// [0, 1] before comparison; unknown categories are treated as conversation.
// Raising confidence never produces a more conservative decision.
func (r *Router) Route(category models.IntentCategory, confidence float64) Decision {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	if !models.IsKnownIntent(category) || category == models.IntentUnclear {
		return DecisionTreatAsConversation
	}

	policy := r.policies.Get(category)
	switch {
	case confidence >= policy.High:
		return DecisionExecute
	case policy.SideEffecting && confidence >= policy.Confirm:
		return DecisionConfirm
	case confidence < policy.Low:
		return DecisionClarify
	default:
		return DecisionTreatAsConversation
	}
}

// Policy exposes the effective policy for a category
func (r *Router) Policy(category models.IntentCategory) CategoryPolicy {
	return r.policies.Get(category)
}

// Auditor records routing outcomes as append-only intent logs. Audit writes
// are best effort; a failure is logged and never surfaces to the turn.
type Auditor struct {
	repo   database.IntentLogRepositoryInterface
	logger *zap.Logger
}

// NewAuditor creates an auditor over the intent log repository
func NewAuditor(repo database.IntentLogRepositoryInterface, logger *zap.Logger) *Auditor {
	return &Auditor{repo: repo, logger: logger}
}

// LogOutcome records one classification and its execution result, including
// the entities the classifier extracted
func (a *Auditor) LogOutcome(ctx context.Context, userID, content string, category models.IntentCategory, confidence float64, entities map[string]any, success bool, latency time.Duration, execErr error) {
	log := &models.IntentLog{
		ID:               uuid.New(),
		UserID:           userID,
		Content:          content,
		DetectedIntent:   category,
		Confidence:       confidence,
		Entities:         entities,
		ExecutionSuccess: success,
		LatencyMS:        latency.Milliseconds(),
		CreatedAt:        time.Now().UTC(),
	}
	if execErr != nil {
		msg := execErr.Error()
		log.Error = &msg
	}

	if err := a.repo.Create(ctx, log); err != nil {
		a.logger.Error("failed to write intent audit log",
			zap.String("user_id", userID),
			zap.String("intent", string(category)),
			zap.Error(err))
	}
}

// Recent returns the newest audit records for a user
func (a *Auditor) Recent(ctx context.Context, userID string, limit int) ([]*models.IntentLog, error) {
	return a.repo.RecentByUser(ctx, userID, limit)
}
