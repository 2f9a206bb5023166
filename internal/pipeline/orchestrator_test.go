package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/models"
	"trendaware-backend/internal/services"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu     sync.Mutex
	frames []models.Frame
}

func (r *recordingSink) Emit(f models.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSink) statuses() []string {
	var out []string
	for _, f := range r.frames {
		if f.Status != "" {
			out = append(out, f.Status)
		}
	}
	return out
}

func (r *recordingSink) last() models.Frame { return r.frames[len(r.frames)-1] }

type scriptedProvider struct {
	chunks      []string
	streamErr   error
	generate    string
	generateErr error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(context.Context, services.Prompt) (string, error) {
	return p.generate, p.generateErr
}

func (p *scriptedProvider) Stream(_ context.Context, _ services.Prompt, onChunk func(string) error) error {
	for _, c := range p.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return p.streamErr
}

type memoryStore struct {
	records []*models.StoredResearch
	err     error
}

func (m *memoryStore) CreateWithSummary(_ context.Context, rec *models.StoredResearch) error {
	if m.err != nil {
		return m.err
	}
	rec.ID = uuid.NewString()
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return nil
}

type scriptedResearcher struct {
	enabled   bool
	statuses  []models.ResearchStatus
	polls     int
	initErr   error
	initiated []string
}

func (s *scriptedResearcher) Enabled() bool { return s.enabled }

func (s *scriptedResearcher) Initiate(_ context.Context, _ uuid.UUID, requestID, _ string) error {
	s.initiated = append(s.initiated, requestID)
	return s.initErr
}

func (s *scriptedResearcher) Status(context.Context, uuid.UUID, string) (models.ResearchStatus, error) {
	i := min(s.polls, len(s.statuses)-1)
	s.polls++
	return s.statuses[i], nil
}

func testOptions() Options {
	return Options{
		SettleDelay:  time.Millisecond,
		PollInterval: 5 * time.Millisecond,
		PollAttempts: 3,
		RunTimeout:   5 * time.Second,
	}
}

func summaryService(p services.Provider) *services.SummaryService {
	return services.NewSummaryService(p, services.SummaryOptions{
		MaxBodyChars:         4000,
		MaxTokens:            1000,
		Timeout:              time.Second,
		StreamAttemptTimeout: time.Second,
		FallbackEnabled:      true,
	}, nil)
}

func stablecoinsRequest(persist bool) Request {
	return Request{
		UserID: uuid.New(),
		Submission: models.Submission{
			Title: "Stablecoins",
			Body:  strings.Repeat("Reserve attestations and redemption flows. ", 3)[:120],
		},
		Mode:    models.ModeStream,
		Persist: persist,
	}
}

func TestExecute_EndToEndWithoutResearch(t *testing.T) {
	store := &memoryStore{}
	orch := NewOrchestrator(&scriptedResearcher{enabled: false}, summaryService(&scriptedProvider{chunks: []string{"Stable", "coins ", "summary"}}), store, nil, testOptions(), nil)
	sink := &recordingSink{}

	res, err := orch.Execute(context.Background(), stablecoinsRequest(true), sink)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageSubmitting, StageResearching, StageGenerating, StageSaving, StageComplete}, res.Run.History())
	assert.False(t, res.WebResearchUsed)
	assert.False(t, res.Fallback)
	assert.Equal(t, "Stablecoins summary", res.Summary)

	require.Len(t, store.records, 1)
	assert.Equal(t, res.Summary, store.records[0].Summary.Content)
	assert.False(t, store.records[0].Summary.WebResearchUsed)

	final := sink.last()
	assert.Equal(t, models.StatusComplete, final.Status)
	assert.Equal(t, res.Summary, final.Summary)
	assert.Equal(t, store.records[0].ID, final.ResearchID)
	assert.Equal(t, 100.0, *final.Progress)

	var partials strings.Builder
	for _, f := range sink.frames {
		partials.WriteString(f.PartialSummary)
		assert.Equal(t, res.Run.ID, f.RequestID)
		assert.Nil(t, f.WebResearchUsed)
	}
	assert.Equal(t, res.Summary, partials.String())
}

func TestExecute_ProgressIsMonotonic(t *testing.T) {
	orch := NewOrchestrator(nil, summaryService(&scriptedProvider{chunks: []string{"a", "b", "c"}}), &memoryStore{}, nil, testOptions(), nil)
	sink := &recordingSink{}

	_, err := orch.Execute(context.Background(), stablecoinsRequest(true), sink)
	require.NoError(t, err)

	prev := -1.0
	for _, f := range sink.frames {
		require.NotNil(t, f.Progress)
		assert.GreaterOrEqual(t, *f.Progress, prev)
		prev = *f.Progress
	}
}

func TestExecute_ResearchDegradesGracefully(t *testing.T) {
	tests := []struct {
		name       string
		researcher *scriptedResearcher
	}{
		{"provider failure", &scriptedResearcher{enabled: true, statuses: []models.ResearchStatus{{Status: models.ResearchFailed}}}},
		{"initiate error", &scriptedResearcher{enabled: true, initErr: errors.New("redis down"), statuses: []models.ResearchStatus{{Status: models.ResearchProcessing}}}},
		{"poll budget exhausted", &scriptedResearcher{enabled: true, statuses: []models.ResearchStatus{{Status: models.ResearchProcessing}}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orch := NewOrchestrator(tc.researcher, summaryService(&scriptedProvider{chunks: []string{"ok"}}), &memoryStore{}, nil, testOptions(), nil)
			sink := &recordingSink{}

			res, err := orch.Execute(context.Background(), stablecoinsRequest(true), sink)
			require.NoError(t, err)
			assert.False(t, res.WebResearchUsed)
			assert.Contains(t, res.Run.History(), StageGenerating)
			assert.LessOrEqual(t, tc.researcher.polls, 3)
		})
	}
}

func TestExecute_ResearchUsedIsSticky(t *testing.T) {
	research := "USDC supply grew last month."
	researcher := &scriptedResearcher{enabled: true, statuses: []models.ResearchStatus{
		{Status: models.ResearchProcessing},
		{Status: models.ResearchCompleted, Research: &research},
	}}
	store := &memoryStore{}
	orch := NewOrchestrator(researcher, summaryService(&scriptedProvider{chunks: []string{"ok"}}), store, nil, testOptions(), nil)
	sink := &recordingSink{}

	res, err := orch.Execute(context.Background(), stablecoinsRequest(true), sink)
	require.NoError(t, err)
	assert.True(t, res.WebResearchUsed)
	assert.True(t, store.records[0].Summary.WebResearchUsed)
	require.Len(t, researcher.initiated, 1)
	assert.True(t, strings.HasPrefix(researcher.initiated[0], res.Run.ID))

	seenResearched := false
	for _, f := range sink.frames {
		if f.Status == models.StatusResearched {
			seenResearched = true
		}
		if seenResearched {
			require.NotNil(t, f.WebResearchUsed)
			assert.True(t, *f.WebResearchUsed)
		}
	}
	assert.True(t, seenResearched)
}

func TestExecute_FallbackIsFlaggedAndPersisted(t *testing.T) {
	store := &memoryStore{}
	provider := &scriptedProvider{streamErr: errors.New("reset"), generateErr: errors.New("down")}
	orch := NewOrchestrator(nil, summaryService(provider), store, nil, testOptions(), nil)
	sink := &recordingSink{}

	res, err := orch.Execute(context.Background(), stablecoinsRequest(true), sink)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	require.Len(t, store.records, 1)
	assert.True(t, store.records[0].Summary.Fallback)
	assert.True(t, sink.last().Fallback)
}

func TestExecute_GenuineSummaryIsNeverFallback(t *testing.T) {
	store := &memoryStore{}
	provider := &scriptedProvider{streamErr: errors.New("reset"), generate: "batch text"}
	orch := NewOrchestrator(nil, summaryService(provider), store, nil, testOptions(), nil)

	res, err := orch.Execute(context.Background(), stablecoinsRequest(true), &recordingSink{})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.False(t, store.records[0].Summary.Fallback)
	assert.Equal(t, "batch text", res.Summary)
}

func TestExecute_PersistenceFailureNeverCompletes(t *testing.T) {
	store := &memoryStore{err: errors.New("write timeout")}
	orch := NewOrchestrator(nil, summaryService(&scriptedProvider{chunks: []string{"ok"}}), store, nil, testOptions(), nil)
	sink := &recordingSink{}

	res, err := orch.Execute(context.Background(), stablecoinsRequest(true), sink)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
	assert.Equal(t, StageFailed, res.Run.Stage())
	assert.NotContains(t, res.Run.History(), StageComplete)
	assert.NotContains(t, sink.statuses(), models.StatusComplete)

	final := sink.last()
	assert.Equal(t, models.StatusError, final.Status)
	assert.Equal(t, string(apperrors.KindPersistence), final.ErrorKind)
	assert.Equal(t, string(StageSaving), final.Stage)
}

func TestExecute_RateLimitedFails(t *testing.T) {
	provider := &scriptedProvider{streamErr: apperrors.RateLimited("scripted", 10*time.Second, nil)}
	orch := NewOrchestrator(nil, summaryService(provider), &memoryStore{}, nil, testOptions(), nil)
	sink := &recordingSink{}

	_, err := orch.Execute(context.Background(), stablecoinsRequest(true), sink)
	assert.True(t, apperrors.Is(err, apperrors.KindRateLimited))
	assert.Equal(t, string(apperrors.KindRateLimited), sink.last().ErrorKind)
}

func TestExecute_ValidationBeforeStart(t *testing.T) {
	orch := NewOrchestrator(nil, summaryService(&scriptedProvider{}), &memoryStore{}, nil, testOptions(), nil)
	sink := &recordingSink{}

	req := stablecoinsRequest(true)
	req.Submission.Body = "   "
	res, err := orch.Execute(context.Background(), req, sink)

	assert.Nil(t, res)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.Empty(t, sink.frames)
}

func TestExecute_CancellationStopsTheRun(t *testing.T) {
	opts := testOptions()
	opts.SettleDelay = time.Second
	orch := NewOrchestrator(nil, summaryService(&scriptedProvider{chunks: []string{"ok"}}), &memoryStore{}, nil, opts, nil)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	res, err := orch.Execute(ctx, stablecoinsRequest(true), sink)
	assert.True(t, apperrors.Is(err, apperrors.KindCancelled))
	assert.Equal(t, []Stage{StageSubmitting, StageFailed}, res.Run.History())
	assert.Equal(t, 0.0, *sink.last().Progress)
}

func TestExecute_EphemeralRunSkipsSaving(t *testing.T) {
	store := &memoryStore{}
	orch := NewOrchestrator(nil, summaryService(&scriptedProvider{generate: "batch"}), store, nil, testOptions(), nil)

	req := stablecoinsRequest(false)
	req.Mode = models.ModeBatch
	res, err := orch.Execute(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, store.records)
	assert.NotContains(t, res.Run.History(), StageSaving)
	assert.Equal(t, StageComplete, res.Run.Stage())
}

func TestMultiSink_ReturnsFirstError(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	failing := sinkFunc(func(models.Frame) error { return errors.New("closed") })

	err := MultiSink{a, failing, b}.Emit(models.Frame{PartialSummary: "x"})
	assert.Error(t, err)
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 1)
}

type sinkFunc func(models.Frame) error

func (f sinkFunc) Emit(fr models.Frame) error { return f(fr) }
