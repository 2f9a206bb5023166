package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"trendaware-backend/internal/models"
	"trendaware-backend/internal/services"
)

const (
	popTimeout  = 5 * time.Second
	lockTTL     = 2 * time.Minute
	jobDeadline = time.Minute
)

// Processor performs one queued research job.
type Processor interface {
	Process(ctx context.Context, job models.ResearchJob) (models.ResearchStatus, error)
}

// Notifier relays job outcomes to the user's live connections.
type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, f models.Frame) error
}

type Pool struct {
	redis       *redis.Client
	processor   Processor
	notifier    Notifier
	workerCount int
	logger      *slog.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewPool(redisClient *redis.Client, processor Processor, notifier Notifier, workerCount int, logger *slog.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		redis:       redisClient,
		processor:   processor,
		notifier:    notifier,
		workerCount: workerCount,
		logger:      logger.With("component", "worker"),
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < p.workerCount; i++ {
		id := i
		p.group.Go(func() error {
			p.worker(ctx, id)
			return nil
		})
	}

	p.logger.Info("worker pool started", "workers", p.workerCount, "queue", services.ResearchQueue)
}

// Stop cancels every worker and waits for in-flight jobs to return.
func (p *Pool) Stop() error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return p.group.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	log := p.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			log.Debug("worker shutting down")
			return
		}

		result, err := p.redis.BLPop(ctx, popTimeout, services.ResearchQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn("queue pop failed", "error", err)
				sleep(ctx, time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job models.ResearchJob
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Error("failed to parse job", "error", err)
			continue
		}

		p.handle(ctx, log, job)
	}
}

func (p *Pool) handle(ctx context.Context, log *slog.Logger, job models.ResearchJob) {
	lockKey := fmt.Sprintf("research_lock:%s:%s", job.UserID, job.RequestID)
	locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
	if err != nil || !locked {
		return
	}
	defer p.redis.Del(context.WithoutCancel(ctx), lockKey)

	p.run(ctx, log.With("request_id", job.RequestID), job)
}

// run processes job under its deadline and relays the outcome.
func (p *Pool) run(ctx context.Context, log *slog.Logger, job models.ResearchJob) {
	log.Info("processing research job", "queued_for", time.Since(job.QueuedAt).Round(time.Millisecond))

	jobCtx, cancel := context.WithTimeout(ctx, jobDeadline)
	defer cancel()

	st, err := p.processor.Process(jobCtx, job)
	if err != nil {
		log.Error("research job failed", "error", err)
		return
	}

	if p.notifier != nil && job.UserID != uuid.Nil {
		frame := models.Frame{
			RequestID:       job.RequestID,
			Status:          models.StatusResearched,
			Message:         "Web research " + st.Status,
			WebResearchUsed: models.Bool(st.Status == models.ResearchCompleted),
		}
		if err := p.notifier.Publish(jobCtx, job.UserID, frame); err != nil {
			log.Warn("failed to publish research update", "error", err)
		}
	}
	log.Info("research job finished", "status", st.Status)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
