package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/database"
	"github.com/parleybot/parley/internal/queue"
)

// Persister applies queued persistence jobs to the durable store. It is the
// write-behind half of the two-tier session store: the API server answers
// from Redis while this worker settles rows into Postgres.
type Persister struct {
	sessions database.SessionRepositoryInterface
	messages database.MessageRepositoryInterface
	jobQueue queue.JobQueue // for re-enqueueing retries with a delay
	logger   *zap.Logger
}

// NewPersister creates a persistence worker
func NewPersister(
	sessions database.SessionRepositoryInterface,
	messages database.MessageRepositoryInterface,
	jobQueue queue.JobQueue,
	logger *zap.Logger,
) *Persister {
	return &Persister{
		sessions: sessions,
		messages: messages,
		jobQueue: jobQueue,
		logger:   logger,
	}
}

// ProcessJob applies one persistence job. All writes are idempotent (upsert
// or insert-if-absent), so redelivery after a crash is harmless.
func (p *Persister) ProcessJob(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypePersistSession:
		session, err := job.SessionPayload()
		if err != nil {
			return err
		}
		if err := p.sessions.Upsert(ctx, session); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		return nil

	case queue.JobTypePersistMessage:
		message, err := job.MessagePayload()
		if err != nil {
			return err
		}
		if err := p.messages.Create(ctx, message); err != nil {
			return fmt.Errorf("failed to persist message: %w", err)
		}
		return nil

	case queue.JobTypeEndSession:
		payload, err := job.EndSessionPayload()
		if err != nil {
			return err
		}
		if err := p.sessions.End(ctx, payload.SessionID); err != nil {
			return fmt.Errorf("failed to end session: %w", err)
		}
		return nil
	}

	return fmt.Errorf("unknown job type: %s", job.Type)
}

// HandleMessage processes a delivery and settles its acknowledgement.
// Failures are retried with a delay while the job has budget, then dead
// lettered.
func (p *Persister) HandleMessage(ctx context.Context, msg *queue.Message) {
	job := msg.GetJob()

	err := p.ProcessJob(ctx, job)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			p.logger.Error("failed to ack job",
				zap.String("job_id", job.ID.String()),
				zap.Error(ackErr))
		}
		return
	}

	p.logger.Error("persistence job failed",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(err))

	if job.CanRetry() && p.jobQueue != nil {
		// Ack the current delivery and re-enqueue a delayed copy so the
		// retry doesn't spin hot
		job.IncrementRetry()
		notBefore := time.Now().Add(retryDelay(job.RetryCount))
		job.NotBefore = &notBefore

		if ackErr := msg.Ack(); ackErr != nil {
			p.logger.Error("failed to ack job before retry",
				zap.String("job_id", job.ID.String()),
				zap.Error(ackErr))
			return
		}
		if enqueueErr := p.jobQueue.Enqueue(ctx, job); enqueueErr != nil {
			p.logger.Error("failed to re-enqueue job, it is lost",
				zap.String("job_id", job.ID.String()),
				zap.Error(enqueueErr))
		}
		return
	}

	// Out of retries: dead letter
	if nackErr := msg.Nack(false); nackErr != nil {
		p.logger.Error("failed to nack job",
			zap.String("job_id", job.ID.String()),
			zap.Error(nackErr))
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt)) * time.Second
}
