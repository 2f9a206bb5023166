package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/models"
)

// ResearchQueue is the Redis list the worker pool consumes.
const ResearchQueue = "queue:web-research"

// Searcher answers a topic with free-text recent context.
type Searcher interface {
	Search(ctx context.Context, title string) (string, error)
}

// ResearchCache holds research request state keyed by owner and request id.
type ResearchCache interface {
	Put(ctx context.Context, userID uuid.UUID, requestID string, st models.ResearchStatus) error
	// Get returns nil, nil when the id is unknown or expired.
	Get(ctx context.Context, userID uuid.UUID, requestID string) (*models.ResearchStatus, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, job models.ResearchJob) error
}

// PerplexitySearcher runs research prompts against an OpenAI-compatible
// search model.
type PerplexitySearcher struct {
	provider  Provider
	maxTokens int
}

func NewPerplexitySearcher(provider Provider, maxTokens int) *PerplexitySearcher {
	return &PerplexitySearcher{provider: provider, maxTokens: maxTokens}
}

func (p *PerplexitySearcher) Search(ctx context.Context, title string) (string, error) {
	text, err := p.provider.Generate(ctx, BuildResearchPrompt(title, p.maxTokens))
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s returned empty research", p.provider.Name())
	}
	return text, nil
}

// RedisResearchCache stores research state as JSON with a TTL.
type RedisResearchCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisResearchCache(client *redis.Client, ttl time.Duration) *RedisResearchCache {
	return &RedisResearchCache{redis: client, ttl: ttl}
}

// researchKey scopes request ids to their owner; ids are chosen by clients.
func researchKey(userID uuid.UUID, requestID string) string {
	return fmt.Sprintf("research:%s:%s", userID, requestID)
}

func (c *RedisResearchCache) Put(ctx context.Context, userID uuid.UUID, requestID string, st models.ResearchStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, researchKey(userID, requestID), data, c.ttl).Err()
}

func (c *RedisResearchCache) Get(ctx context.Context, userID uuid.UUID, requestID string) (*models.ResearchStatus, error) {
	data, err := c.redis.Get(ctx, researchKey(userID, requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var st models.ResearchStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode research status: %w", err)
	}
	return &st, nil
}

type RedisJobQueue struct {
	redis *redis.Client
}

func NewRedisJobQueue(client *redis.Client) *RedisJobQueue {
	return &RedisJobQueue{redis: client}
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, job models.ResearchJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.redis.RPush(ctx, ResearchQueue, data).Err()
}

// ResearchService runs the optional web-research stage. A nil searcher means
// no credentials were configured and the stage is skipped.
type ResearchService struct {
	searcher Searcher
	cache    ResearchCache
	queue    JobQueue
	timeout  time.Duration
	logger   *slog.Logger
}

func NewResearchService(searcher Searcher, cache ResearchCache, queue JobQueue, timeout time.Duration, logger *slog.Logger) *ResearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResearchService{searcher: searcher, cache: cache, queue: queue, timeout: timeout, logger: logger}
}

func (s *ResearchService) Enabled() bool { return s.searcher != nil }

// Perform looks title up within the research budget. Any failure degrades to
// nil.
func (s *ResearchService) Perform(ctx context.Context, title string) *string {
	if !s.Enabled() {
		return nil
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.searcher.Search(ctx, title)
	if err != nil {
		s.logger.Warn("web research unavailable, continuing without it", "title", title, "error", err)
		return nil
	}
	return &text
}

// Initiate records the request as processing and queues it for a worker.
func (s *ResearchService) Initiate(ctx context.Context, userID uuid.UUID, requestID, title string) error {
	fields := map[string]string{}
	if strings.TrimSpace(title) == "" {
		fields["title"] = "Title is required"
	}
	if strings.TrimSpace(requestID) == "" {
		fields["requestId"] = "requestId is required"
	}
	if len(fields) > 0 {
		return apperrors.Validation(fields)
	}
	if !s.Enabled() {
		return apperrors.ProviderUnavailable("web research")
	}

	if err := s.cache.Put(ctx, userID, requestID, models.ResearchStatus{
		Status:    models.ResearchProcessing,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		return apperrors.Unexpected("record research request", err)
	}

	job := models.ResearchJob{RequestID: requestID, UserID: userID, Title: title, QueuedAt: time.Now().UTC()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return apperrors.Unexpected("queue research request", err)
	}
	return nil
}

// Status reports the state of the caller's requestID, or not_found once it has
// expired or when it belongs to another user.
func (s *ResearchService) Status(ctx context.Context, userID uuid.UUID, requestID string) (models.ResearchStatus, error) {
	st, err := s.cache.Get(ctx, userID, requestID)
	if err != nil {
		return models.ResearchStatus{}, apperrors.Unexpected("load research status", err)
	}
	if st == nil {
		return models.ResearchStatus{Status: models.ResearchNotFound}, nil
	}
	return *st, nil
}

// Process executes a queued job and records the outcome.
func (s *ResearchService) Process(ctx context.Context, job models.ResearchJob) (models.ResearchStatus, error) {
	var st models.ResearchStatus
	if research := s.Perform(ctx, job.Title); research != nil {
		st.Status = models.ResearchCompleted
		st.Research = research
	} else {
		st.Status = models.ResearchFailed
		st.Error = "web research unavailable"
	}
	st.UpdatedAt = time.Now().UTC()
	return st, s.cache.Put(ctx, job.UserID, job.RequestID, st)
}
