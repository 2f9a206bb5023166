package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/models"
)

type SummaryOptions struct {
	MaxBodyChars         int
	MaxTokens            int
	Timeout              time.Duration
	StreamAttemptTimeout time.Duration
	FallbackEnabled      bool
}

type SummaryInput struct {
	Title       string
	Body        string
	Profile     *models.Profile
	WebResearch *string
}

type SummaryResult struct {
	Text     string
	Fallback bool
	Provider string
}

// SummaryService runs the summarization stage: a streaming attempt, one batch
// retry, then the templated fallback.
type SummaryService struct {
	provider Provider
	opts     SummaryOptions
	logger   *slog.Logger
}

func NewSummaryService(provider Provider, opts SummaryOptions, logger *slog.Logger) *SummaryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryService{provider: provider, opts: opts, logger: logger}
}

func (s *SummaryService) Provider() string { return s.provider.Name() }

// Summarize produces a summary for in. In stream mode onChunk sees each
// fragment as it arrives; if the stream fails and the batch retry succeeds the
// returned text replaces whatever was streamed.
func (s *SummaryService) Summarize(ctx context.Context, in SummaryInput, mode models.SummaryMode, onChunk func(string) error) (SummaryResult, error) {
	parent := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	body := TruncateBody(in.Body, s.opts.MaxBodyChars)
	prompt := BuildSummaryPrompt(in.Title, body, in.Profile, in.WebResearch, s.opts.MaxTokens)
	log := s.logger.With("provider", s.provider.Name(), "mode", string(mode))

	if mode == models.ModeStream && onChunk != nil {
		text, err := s.streamOnce(ctx, prompt, onChunk)
		if err == nil {
			return SummaryResult{Text: text, Provider: s.provider.Name()}, nil
		}
		if stop := s.terminal(parent, err); stop != nil {
			return SummaryResult{}, stop
		}
		log.Warn("streaming attempt failed, retrying without streaming", "error", err)
	}

	text, err := s.provider.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = apperrors.Unexpected("provider returned an empty summary", nil)
	}
	if err == nil {
		return SummaryResult{Text: text, Provider: s.provider.Name()}, nil
	}
	if stop := s.terminal(parent, err); stop != nil {
		return SummaryResult{}, stop
	}

	if s.opts.FallbackEnabled {
		log.Error("summary provider failed, using templated fallback", "error", err)
		return SummaryResult{
			Text:     FallbackSummary(in.Title, len([]rune(in.Body)), in.Profile),
			Fallback: true,
			Provider: "fallback",
		}, nil
	}

	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return SummaryResult{}, apperrors.Timeout("generating", err)
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return SummaryResult{}, err
	}
	return SummaryResult{}, apperrors.Unexpected("summary provider failed", err)
}

// terminal returns the error to surface immediately, skipping any further
// attempt, or nil when the next attempt should run.
func (s *SummaryService) terminal(parent context.Context, err error) error {
	if parent.Err() != nil {
		if errors.Is(parent.Err(), context.DeadlineExceeded) {
			return apperrors.Timeout("generating", parent.Err())
		}
		return apperrors.Cancelled("generating", parent.Err())
	}
	if apperrors.Is(err, apperrors.KindRateLimited) {
		return err
	}
	var sinkErr *sinkError
	if errors.As(err, &sinkErr) {
		return sinkErr.err
	}
	return nil
}

// sinkError marks a failure of the caller's chunk callback so it is not
// mistaken for a provider failure.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return "chunk sink: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

func (s *SummaryService) streamOnce(ctx context.Context, prompt Prompt, onChunk func(string) error) (string, error) {
	if s.opts.StreamAttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StreamAttemptTimeout)
		defer cancel()
	}

	var text strings.Builder
	err := s.provider.Stream(ctx, prompt, func(chunk string) error {
		text.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return &sinkError{err: err}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", apperrors.StreamProtocol("provider stream produced no text", nil)
	}
	return text.String(), nil
}
