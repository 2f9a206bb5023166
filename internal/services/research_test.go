package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/models"
)

type stubSearcher struct {
	result string
	err    error
	delay  time.Duration
}

func (s *stubSearcher) Search(ctx context.Context, title string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.result, s.err
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]models.ResearchStatus
}

func newMemoryCache() *memoryCache {
	return &memoryCache{items: make(map[string]models.ResearchStatus)}
}

func (m *memoryCache) Put(_ context.Context, userID uuid.UUID, id string, st models.ResearchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[researchKey(userID, id)] = st
	return nil
}

func (m *memoryCache) Get(_ context.Context, userID uuid.UUID, id string) (*models.ResearchStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.items[researchKey(userID, id)]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

type memoryQueue struct {
	jobs []models.ResearchJob
}

func (q *memoryQueue) Enqueue(_ context.Context, job models.ResearchJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func TestPerform_DegradesToNil(t *testing.T) {
	tests := []struct {
		name     string
		searcher Searcher
	}{
		{"provider error", &stubSearcher{err: errors.New("502 bad gateway")}},
		{"budget exhausted", &stubSearcher{result: "late", delay: time.Second}},
		{"disabled", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewResearchService(tc.searcher, newMemoryCache(), &memoryQueue{}, 50*time.Millisecond, nil)
			if got := svc.Perform(context.Background(), "Stablecoins"); got != nil {
				t.Fatalf("expected nil research, got %q", *got)
			}
		})
	}
}

func TestPerform_EmptyResultIsNotNil(t *testing.T) {
	svc := NewResearchService(&stubSearcher{result: ""}, newMemoryCache(), &memoryQueue{}, time.Second, nil)
	got := svc.Perform(context.Background(), "Stablecoins")
	if got == nil || *got != "" {
		t.Fatalf("expected an empty successful result to be distinguishable from nil")
	}
}

func TestInitiateAndProcess(t *testing.T) {
	cache := newMemoryCache()
	queue := &memoryQueue{}
	svc := NewResearchService(&stubSearcher{result: "recent news"}, cache, queue, time.Second, nil)
	ctx := context.Background()
	userID := uuid.New()

	if err := svc.Initiate(ctx, userID, "req-1", "Stablecoins"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := svc.Status(ctx, userID, "req-1")
	if st.Status != models.ResearchProcessing {
		t.Fatalf("expected processing, got %s", st.Status)
	}
	if len(queue.jobs) != 1 || queue.jobs[0].UserID != userID {
		t.Fatalf("expected one queued job for the user, got %+v", queue.jobs)
	}

	if _, err := svc.Process(ctx, queue.jobs[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ = svc.Status(ctx, userID, "req-1")
	if st.Status != models.ResearchCompleted || st.Research == nil || *st.Research != "recent news" {
		t.Fatalf("expected completed research, got %+v", st)
	}
}

func TestProcess_FailureIsRecorded(t *testing.T) {
	cache := newMemoryCache()
	svc := NewResearchService(&stubSearcher{err: errors.New("down")}, cache, &memoryQueue{}, time.Second, nil)

	job := models.ResearchJob{RequestID: "req-2", UserID: uuid.New(), Title: "Stablecoins"}
	if _, err := svc.Process(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ := svc.Status(context.Background(), job.UserID, "req-2")
	if st.Status != models.ResearchFailed || st.Research != nil {
		t.Fatalf("expected failed status without research, got %+v", st)
	}
}

func TestInitiate_Validation(t *testing.T) {
	svc := NewResearchService(&stubSearcher{}, newMemoryCache(), &memoryQueue{}, time.Second, nil)

	err := svc.Initiate(context.Background(), uuid.New(), "", "  ")
	if !apperrors.Is(err, apperrors.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInitiate_Disabled(t *testing.T) {
	svc := NewResearchService(nil, newMemoryCache(), &memoryQueue{}, time.Second, nil)

	err := svc.Initiate(context.Background(), uuid.New(), "req-3", "Stablecoins")
	if !apperrors.Is(err, apperrors.KindProviderUnavailable) {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
}

func TestStatus_UnknownIsNotFound(t *testing.T) {
	svc := NewResearchService(nil, newMemoryCache(), &memoryQueue{}, time.Second, nil)
	st, err := svc.Status(context.Background(), uuid.New(), "missing")
	if err != nil || st.Status != models.ResearchNotFound {
		t.Fatalf("expected not_found, got %+v (%v)", st, err)
	}
}

func TestResearchState_IsScopedToOwner(t *testing.T) {
	cache := newMemoryCache()
	queue := &memoryQueue{}
	svc := NewResearchService(&stubSearcher{result: "owner's research"}, cache, queue, time.Second, nil)
	ctx := context.Background()
	owner, other := uuid.New(), uuid.New()

	if err := svc.Initiate(ctx, owner, "shared-id", "Stablecoins"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Process(ctx, queue.jobs[0]); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st, _ := svc.Status(ctx, other, "shared-id")
	if st.Status != models.ResearchNotFound || st.Research != nil {
		t.Fatalf("another user must not see the owner's research, got %+v", st)
	}

	// Reusing the id under another user leaves the owner's entry alone.
	if err := svc.Initiate(ctx, other, "shared-id", "Rates"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, _ = svc.Status(ctx, owner, "shared-id")
	if st.Status != models.ResearchCompleted || st.Research == nil || *st.Research != "owner's research" {
		t.Fatalf("owner's research was disturbed: %+v", st)
	}
}

func TestResearchKey_IncludesOwner(t *testing.T) {
	userID := uuid.MustParse("7b0c2a52-2f1e-4a55-9a8e-1f7a1c3d9e01")
	if got := researchKey(userID, "r-1"); got != "research:7b0c2a52-2f1e-4a55-9a8e-1f7a1c3d9e01:r-1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestClassifyProviderError(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")

	throttled := []struct {
		name  string
		err   error
		after time.Duration
	}{
		{"googleapi typed", &googleapi.Error{Code: http.StatusTooManyRequests, Header: header}, 7 * time.Second},
		{"grpc resource exhausted", status.Error(codes.ResourceExhausted, "quota"), 0},
		{"langchaingo typed", llms.NewError(llms.ErrCodeRateLimit, "openai", "slow down"), 0},
		{"googleapi text", errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED"), 0},
		{"openai status text", errors.New("openai stream: API returned unexpected status code: 429: Rate limit reached"), 0},
		{"plain http text", errors.New("429 Too Many Requests"), 0},
	}
	for _, tc := range throttled {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyProviderError("gemini", tc.err)
			if !apperrors.Is(err, apperrors.KindRateLimited) {
				t.Fatalf("expected rate_limited, got %v", err)
			}
			if got := apperrors.RetryAfterOf(err); got != tc.after {
				t.Fatalf("expected retry after %v, got %v", tc.after, got)
			}
		})
	}

	for _, msg := range []string{
		"connection refused",
		"upload of 4290 bytes failed",
		"request 8f429ab1 failed: connection reset",
		"processed 429 items before EOF",
	} {
		plain := errors.New(msg)
		if got := classifyProviderError("gemini", plain); got != plain {
			t.Fatalf("%q: non-throttling errors must pass through unchanged, got %v", msg, got)
		}
	}

	if parseRetryAfter("30") != 30*time.Second {
		t.Fatalf("expected seconds retry-after to parse")
	}
}
