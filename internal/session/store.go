package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/cache"
	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/models"
	"github.com/parleybot/parley/internal/queue"
)

// MaxMessageLength is the longest message content accepted into a session
const MaxMessageLength = 2000

var (
	// ErrMessageTooLong is returned for content over MaxMessageLength
	ErrMessageTooLong = errors.New("message content exceeds maximum length")
	// ErrDurableStoreUnavailable is returned when a write could reach neither
	// the queue nor the database. The turn must fail rather than silently
	// lose conversation history.
	ErrDurableStoreUnavailable = errors.New("durable store unavailable")
)

// Store manages session lifecycle across the Redis fast tier and the
// Postgres durable tier. Reads are cache-aside; writes go to the cache
// immediately and reach the database through the persistence queue, falling
// back to a direct write when the queue is down.
type Store struct {
	sessions database.SessionRepositoryInterface
	messages database.MessageRepositoryInterface
	cache    *cache.SessionCache
	jobs     queue.JobQueue
	logger   *zap.Logger
	timeout  time.Duration
	locks    *keyMutex

	// now is replaceable in tests
	now func() time.Time
}

// NewStore creates a session store with the default idle timeout
func NewStore(
	sessions database.SessionRepositoryInterface,
	messages database.MessageRepositoryInterface,
	sessionCache *cache.SessionCache,
	jobs queue.JobQueue,
	logger *zap.Logger,
) *Store {
	return &Store{
		sessions: sessions,
		messages: messages,
		cache:    sessionCache,
		jobs:     jobs,
		logger:   logger,
		timeout:  models.DefaultSessionTimeout,
		locks:    newKeyMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func pairKey(userID, channelID string) string {
	return userID + ":" + channelID
}

// ResolveOrCreate returns the active session for a (user, channel) pair,
// creating one when none exists or the previous one sat idle past the
// timeout. The bool reports whether a new session was started.
func (s *Store) ResolveOrCreate(ctx context.Context, userID, channelID string) (*models.Session, bool, error) {
	unlock := s.locks.Lock(pairKey(userID, channelID))
	defer unlock()

	existing, err := s.lookupActive(ctx, userID, channelID)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	if existing != nil {
		if !existing.IdleExpired(now, s.timeout) {
			return existing, false, nil
		}
		// Idle timeout: close the stale session before starting a new one
		if _, err := s.endLocked(ctx, existing); err != nil {
			return nil, false, fmt.Errorf("failed to end idle session: %w", err)
		}
	}

	session := models.NewSession(userID, channelID)
	session.StartedAt = now
	session.LastActiveAt = now

	if err := s.persistSession(ctx, session); err != nil {
		return nil, false, err
	}
	if err := s.cache.PutActive(ctx, session); err != nil {
		// Cache is reconstructable; a failed write only costs the next read
		s.logger.Warn("failed to cache new session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}

	return session, true, nil
}

// lookupActive resolves the active session cache-aside: Redis first, then
// the durable store with a cache backfill.
func (s *Store) lookupActive(ctx context.Context, userID, channelID string) (*models.Session, error) {
	cached, err := s.cache.GetActive(ctx, userID, channelID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) && !errors.Is(err, cache.ErrUnavailable) {
		return nil, err
	}
	if errors.Is(err, cache.ErrUnavailable) {
		s.logger.Warn("session cache unavailable, falling back to database",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	session, err := s.sessions.GetActive(ctx, userID, channelID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	if cacheErr := s.cache.PutActive(ctx, session); cacheErr != nil {
		s.logger.Warn("failed to backfill session cache",
			zap.String("session_id", session.ID.String()),
			zap.Error(cacheErr))
	}

	return session, nil
}

// AppendMessage records a message on its session, advancing the session's
// activity clock and message count.
func (s *Store) AppendMessage(ctx context.Context, session *models.Session, message *models.Message) error {
	if len(message.Content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	if err := message.Validate(); err != nil {
		return err
	}

	unlock := s.locks.Lock(pairKey(session.UserID, session.ChannelID))
	defer unlock()

	session.LastActiveAt = s.now()
	session.MessageCount++

	if err := s.persistMessage(ctx, message); err != nil {
		session.MessageCount--
		return err
	}
	if err := s.touchSession(ctx, session); err != nil {
		return err
	}

	if err := s.cache.PutActive(ctx, session); err != nil {
		s.logger.Warn("failed to refresh cached session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
	if err := s.cache.AppendMessage(ctx, message); err != nil {
		s.logger.Warn("failed to cache message",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}

	return nil
}

// RecentMessages returns the newest limit messages of a session in
// chronological order, preferring the fast tier.
func (s *Store) RecentMessages(ctx context.Context, session *models.Session, limit int) ([]*models.Message, error) {
	messages, err := s.cache.RecentMessages(ctx, session.ID, limit)
	if err == nil {
		return messages, nil
	}
	if !errors.Is(err, cache.ErrMiss) && !errors.Is(err, cache.ErrUnavailable) {
		return nil, err
	}

	messages, err = s.messages.GetRecentBySession(ctx, session.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}

	return messages, nil
}

// EndSession closes a session and returns its summary. Ending an already
// ended session is a no-op that still returns a summary.
func (s *Store) EndSession(ctx context.Context, session *models.Session) (*models.SessionSummary, error) {
	unlock := s.locks.Lock(pairKey(session.UserID, session.ChannelID))
	defer unlock()

	return s.endLocked(ctx, session)
}

func (s *Store) endLocked(ctx context.Context, session *models.Session) (*models.SessionSummary, error) {
	session.Status = models.SessionStatusEnded

	job, err := queue.NewEndSessionJob(session.ID)
	if err != nil {
		return nil, err
	}
	if err := s.enqueueOrFallback(ctx, job, func(ctx context.Context) error {
		return s.sessions.End(ctx, session.ID)
	}); err != nil {
		return nil, err
	}

	if err := s.cache.DropActive(ctx, session.UserID, session.ChannelID); err != nil {
		s.logger.Warn("failed to drop cached session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
	if err := s.cache.DropMessages(ctx, session.ID); err != nil {
		s.logger.Warn("failed to drop cached messages",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}

	summary := &models.SessionSummary{
		SessionID:     session.ID,
		UserID:        session.UserID,
		ChannelID:     session.ChannelID,
		TotalMessages: session.MessageCount,
		Duration:      session.LastActiveAt.Sub(session.StartedAt),
	}

	// Per-role counts come from the durable store and are best effort: the
	// summary is informational, the close already happened
	userCount, assistantCount, err := s.messages.CountBySession(ctx, session.ID)
	if err != nil {
		s.logger.Warn("failed to count session messages for summary",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	} else {
		summary.UserMessages = userCount
		summary.AssistantMessages = assistantCount
	}

	return summary, nil
}

// SweepIdle ends active sessions in the durable store that sat idle past the
// timeout. Returns the number of sessions closed.
func (s *Store) SweepIdle(ctx context.Context, batchSize int) (int, error) {
	cutoff := s.now().Add(-s.timeout)
	idle, err := s.sessions.ListIdleActive(ctx, cutoff, batchSize)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, session := range idle {
		if _, err := s.EndSession(ctx, session); err != nil {
			s.logger.Error("failed to end idle session",
				zap.String("session_id", session.ID.String()),
				zap.Error(err))
			continue
		}
		closed++
	}

	return closed, nil
}

// persistSession writes a session snapshot through the queue, falling back
// to a direct database write when the queue is down.
func (s *Store) persistSession(ctx context.Context, session *models.Session) error {
	job, err := queue.NewPersistSessionJob(session)
	if err != nil {
		return err
	}
	return s.enqueueOrFallback(ctx, job, func(ctx context.Context) error {
		return s.sessions.Upsert(ctx, session)
	})
}

// touchSession advances the session's activity columns. The queue path
// carries the full snapshot for idempotent replay; the direct fallback only
// needs the two columns that changed.
func (s *Store) touchSession(ctx context.Context, session *models.Session) error {
	job, err := queue.NewPersistSessionJob(session)
	if err != nil {
		return err
	}
	return s.enqueueOrFallback(ctx, job, func(ctx context.Context) error {
		return s.sessions.Touch(ctx, session.ID, session.LastActiveAt, session.MessageCount)
	})
}

func (s *Store) persistMessage(ctx context.Context, message *models.Message) error {
	job, err := queue.NewPersistMessageJob(message)
	if err != nil {
		return err
	}
	return s.enqueueOrFallback(ctx, job, func(ctx context.Context) error {
		return s.messages.Create(ctx, message)
	})
}

func (s *Store) enqueueOrFallback(ctx context.Context, job *queue.Job, direct func(context.Context) error) error {
	if s.jobs != nil {
		if err := s.jobs.Enqueue(ctx, job); err == nil {
			return nil
		} else {
			s.logger.Warn("failed to enqueue persistence job, writing directly",
				zap.String("job_type", string(job.Type)),
				zap.Error(err))
		}
	}

	if err := direct(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDurableStoreUnavailable, err)
	}
	return nil
}
