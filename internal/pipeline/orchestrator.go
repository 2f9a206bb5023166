package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/models"
	"trendaware-backend/internal/services"
)

// Researcher is the fire-and-forget research backend polled by the run.
type Researcher interface {
	Enabled() bool
	Initiate(ctx context.Context, userID uuid.UUID, requestID, title string) error
	Status(ctx context.Context, userID uuid.UUID, requestID string) (models.ResearchStatus, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, in services.SummaryInput, mode models.SummaryMode, onChunk func(string) error) (services.SummaryResult, error)
}

type Store interface {
	CreateWithSummary(ctx context.Context, rec *models.StoredResearch) error
}

type ProfileSource interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
}

// Sink receives the run's frames in order.
type Sink interface {
	Emit(f models.Frame) error
}

type Options struct {
	SettleDelay  time.Duration
	PollInterval time.Duration
	PollAttempts int
	RunTimeout   time.Duration
}

type Request struct {
	RunID      string
	UserID     uuid.UUID
	Submission models.Submission
	Mode       models.SummaryMode
	// WebResearch, when set, is used as-is and the research stage does not
	// call out.
	WebResearch *string
	Persist     bool
}

type Result struct {
	Run             *Run
	Summary         string
	Fallback        bool
	WebResearchUsed bool
	Record          *models.StoredResearch
}

type Orchestrator struct {
	research   Researcher
	summarizer Summarizer
	store      Store
	profiles   ProfileSource
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func NewOrchestrator(research Researcher, summarizer Summarizer, store Store, profiles ProfileSource, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = 15
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Orchestrator{
		research:   research,
		summarizer: summarizer,
		store:      store,
		profiles:   profiles,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute runs one submission to a terminal stage. Validation errors are
// returned before the run leaves idle. On any later failure the run ends in
// failed, an error frame is emitted and the error is returned.
func (o *Orchestrator) Execute(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = Discard
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	sub := req.Submission
	if fields := sub.Validate(); fields != nil {
		return nil, apperrors.Validation(fields)
	}
	if req.Persist && o.store == nil {
		return nil, apperrors.Unexpected("no research store configured", nil)
	}

	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	run := NewRun(req.RunID, req.UserID)
	res := &Result{Run: run}
	log := o.logger.With("run_id", run.ID, "user_id", req.UserID.String(), "mode", string(req.Mode))

	e := &emitter{run: run, sink: sink, now: o.now}

	if err := run.Start(o.now(), len([]rune(sub.Body))); err != nil {
		return res, apperrors.Unexpected("start run", err)
	}
	e.status(models.StatusProcessing, "Starting research...")
	log.Info("run started", "title", sub.Title, "body_chars", len(sub.Body))

	profile := o.resolveProfile(ctx, req.UserID, sub.Profile, log)

	if err := sleep(ctx, o.opts.SettleDelay); err != nil {
		return res, o.fail(run, e, log, contextError(string(StageSubmitting), err))
	}

	_ = run.Transition(StageResearching)
	e.status(models.StatusResearching, "Researching your topic...")

	research := req.WebResearch
	if research == nil {
		research = o.awaitResearch(ctx, run, sub.Title, e, log)
	}
	if err := ctx.Err(); err != nil {
		return res, o.fail(run, e, log, contextError(string(StageResearching), err))
	}
	if research != nil && strings.TrimSpace(*research) != "" {
		res.WebResearchUsed = true
	} else {
		research = nil
	}
	e.webResearchUsed = res.WebResearchUsed
	if res.WebResearchUsed {
		e.status(models.StatusResearched, "Web research complete")
	} else {
		e.status(models.StatusResearched, "Continuing without web research")
	}

	_ = run.Transition(StageGenerating)
	e.status(models.StatusGenerating, "Generating summary...")

	summary, err := o.summarizer.Summarize(ctx, services.SummaryInput{
		Title:       sub.Title,
		Body:        sub.Body,
		Profile:     profile,
		WebResearch: research,
	}, req.Mode, func(chunk string) error {
		return e.emit(models.Frame{PartialSummary: chunk})
	})
	if err != nil {
		return res, o.fail(run, e, log, err)
	}
	if strings.TrimSpace(summary.Text) == "" {
		return res, o.fail(run, e, log, apperrors.Unexpected("summarizer returned no text", nil))
	}
	res.Summary = summary.Text
	res.Fallback = summary.Fallback

	if req.Persist {
		_ = run.Transition(StageSaving)
		e.status(models.StatusProcessing, "Saving your research...")

		rec := &models.StoredResearch{
			UserID: req.UserID,
			Title:  sub.Title,
			Body:   sub.Body,
			Summary: models.SummaryRecord{
				Content:         summary.Text,
				WebResearchUsed: res.WebResearchUsed,
				Fallback:        summary.Fallback,
				Provider:        summary.Provider,
			},
		}
		if err := o.store.CreateWithSummary(ctx, rec); err != nil {
			return res, o.fail(run, e, log, apperrors.Persistence(err))
		}
		res.Record = rec
	}

	_ = run.Transition(StageComplete)
	final := models.Frame{
		Status:   models.StatusComplete,
		Message:  "Summary generation complete",
		Summary:  summary.Text,
		Fallback: summary.Fallback,
	}
	if res.Record != nil {
		final.ResearchID = res.Record.ID
	}
	_ = e.emit(final)

	log.Info("run complete", "fallback", summary.Fallback, "web_research_used", res.WebResearchUsed, "persisted", req.Persist)
	return res, nil
}

func (o *Orchestrator) resolveProfile(ctx context.Context, userID uuid.UUID, inline *models.Profile, log *slog.Logger) *models.Profile {
	if inline != nil {
		p := *inline
		p.Normalize()
		return &p
	}
	if o.profiles == nil || userID == uuid.Nil {
		return nil
	}
	p, err := o.profiles.Get(ctx, userID)
	if err != nil {
		log.Warn("profile lookup failed, using generic prompt", "error", err)
		return nil
	}
	return p
}

// awaitResearch initiates background research and polls for it within the
// attempt budget. Anything short of a completed result yields nil; the
// request id is private to this run so a late result cannot reach another.
func (o *Orchestrator) awaitResearch(ctx context.Context, run *Run, title string, e *emitter, log *slog.Logger) *string {
	if o.research == nil || !o.research.Enabled() {
		log.Debug("web research not configured, skipping")
		return nil
	}

	requestID := run.ID + ":research"
	if err := o.research.Initiate(ctx, run.UserID, requestID, title); err != nil {
		log.Warn("could not initiate web research", "error", err)
		return nil
	}

	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= o.opts.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		st, err := o.research.Status(ctx, run.UserID, requestID)
		if err != nil {
			log.Warn("research status check failed", "attempt", attempt, "error", err)
			continue
		}
		switch st.Status {
		case models.ResearchCompleted:
			return st.Research
		case models.ResearchFailed, models.ResearchNotFound:
			log.Info("web research unavailable", "status", st.Status, "error", st.Error)
			return nil
		}
		_ = e.emit(models.Frame{})
	}

	log.Info("web research poll budget exhausted", "attempts", o.opts.PollAttempts)
	return nil
}

func (o *Orchestrator) fail(run *Run, e *emitter, log *slog.Logger, err error) error {
	stage := run.Stage()
	_ = run.Transition(StageFailed)

	kind := apperrors.KindOf(err)
	log.Error("run failed", "stage", string(stage), "kind", string(kind), "error", err)

	_ = e.emit(models.Frame{
		Status:    models.StatusError,
		Message:   apperrors.UserMessage(err),
		Stage:     string(stage),
		ErrorKind: string(kind),
	})
	return err
}

func contextError(stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Timeout(stage, err)
	}
	return apperrors.Cancelled(stage, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// emitter stamps stage, progress and provenance onto outgoing frames.
type emitter struct {
	run             *Run
	sink            Sink
	now             func() time.Time
	webResearchUsed bool
}

func (e *emitter) status(status, message string) {
	_ = e.emit(models.Frame{Status: status, Message: message})
}

func (e *emitter) emit(f models.Frame) error {
	f.RequestID = e.run.ID
	if f.Stage == "" {
		f.Stage = string(e.run.Stage())
	}
	if f.Progress == nil {
		f.Progress = models.Float(math.Round(e.run.Progress(e.now())*10) / 10)
	}
	if e.webResearchUsed {
		f.WebResearchUsed = models.Bool(true)
	}
	return e.sink.Emit(f)
}

type discard struct{}

func (discard) Emit(models.Frame) error { return nil }

// Discard drops every frame.
var Discard Sink = discard{}

// MultiSink delivers each frame to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Emit(f models.Frame) error {
	var first error
	for _, s := range m {
		if err := s.Emit(f); err != nil && first == nil {
			first = err
		}
	}
	return first
}
