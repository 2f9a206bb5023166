package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/models"
)

// Splitter turns arbitrary read chunks into frames. A frame may span several
// chunks and a chunk may hold several frames.
type Splitter struct {
	buf     bytes.Buffer
	logger  *slog.Logger
	skipped int
}

func NewSplitter(logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Splitter{logger: logger}
}

// Feed appends chunk and returns every complete frame it now holds.
func (s *Splitter) Feed(chunk []byte) []models.Frame {
	s.buf.Write(chunk)

	var frames []models.Frame
	for {
		data := s.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		s.buf.Next(idx + 1)

		if f, ok := s.parse(line); ok {
			frames = append(frames, f)
		}
	}
	return frames
}

// Flush parses whatever is left once the transport reports end of stream.
func (s *Splitter) Flush() []models.Frame {
	rest := s.buf.Bytes()
	s.buf.Reset()
	if f, ok := s.parse(rest); ok {
		return []models.Frame{f}
	}
	return nil
}

// Skipped is the number of malformed frames dropped so far.
func (s *Splitter) Skipped() int { return s.skipped }

func (s *Splitter) parse(line []byte) (models.Frame, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return models.Frame{}, false
	}
	var f models.Frame
	if err := json.Unmarshal(line, &f); err != nil {
		s.skipped++
		s.logger.Warn("skipping malformed frame", "error", err, "bytes", len(line))
		return models.Frame{}, false
	}
	if err := f.Validate(); err != nil {
		s.skipped++
		s.logger.Warn("skipping invalid frame", "error", err)
		return models.Frame{}, false
	}
	return f, true
}

// Outcome is what a consumer knows once the stream is over.
type Outcome struct {
	Summary         string
	WebResearchUsed bool
	Fallback        bool
	Progress        float64
	Status          string
	Message         string
	ResearchID      string
	// Interrupted is set when the stream ended right after a heartbeat with
	// no terminal frame. The run is neither complete nor a protocol failure.
	Interrupted bool
}

// Accumulator folds frames of a single run into an Outcome.
type Accumulator struct {
	requestID string

	summary  strings.Builder
	outcome  Outcome
	terminal *models.Frame

	lastHeartbeat bool
	lastFrameAt   time.Time
}

// NewAccumulator scopes the accumulator to requestID. Frames tagged with any
// other id are ignored; an empty id accepts every frame.
func NewAccumulator(requestID string) *Accumulator {
	return &Accumulator{requestID: requestID}
}

// Apply folds f in and reports whether it was accepted.
func (a *Accumulator) Apply(f models.Frame, at time.Time) bool {
	if a.terminal != nil {
		return false
	}
	if a.requestID != "" && f.RequestID != "" && f.RequestID != a.requestID {
		return false
	}

	a.lastFrameAt = at
	a.lastHeartbeat = f.Heartbeat
	if f.Heartbeat {
		return true
	}

	if f.WebResearchUsed != nil && *f.WebResearchUsed {
		a.outcome.WebResearchUsed = true
	}
	if f.Progress != nil && *f.Progress > a.outcome.Progress {
		a.outcome.Progress = *f.Progress
	}
	if f.PartialSummary != "" {
		a.summary.WriteString(f.PartialSummary)
	}
	if f.Status != "" {
		a.outcome.Status = f.Status
		a.outcome.Message = f.Message
	}
	if f.Terminal() {
		term := f
		a.terminal = &term
	}
	return true
}

// Partial is the summary accumulated so far.
func (a *Accumulator) Partial() string { return a.summary.String() }

// Done reports whether a terminal frame was seen.
func (a *Accumulator) Done() bool { return a.terminal != nil }

// Finish classifies the end of the stream at time now.
func (a *Accumulator) Finish(now time.Time, heartbeatInterval time.Duration) (Outcome, error) {
	out := a.outcome
	out.Summary = a.summary.String()

	if a.terminal == nil {
		if a.lastHeartbeat && now.Sub(a.lastFrameAt) <= heartbeatInterval {
			out.Interrupted = true
			return out, nil
		}
		return out, apperrors.StreamProtocol("stream ended without a terminal frame", nil)
	}

	term := a.terminal
	if term.Status == models.StatusError {
		kind := apperrors.Kind(term.ErrorKind)
		if kind == "" {
			kind = apperrors.KindUnexpected
		}
		return out, &apperrors.Error{Kind: kind, Stage: term.Stage, Message: term.Message}
	}

	if term.Summary != "" {
		out.Summary = term.Summary
	}
	out.Fallback = term.Fallback
	out.ResearchID = term.ResearchID
	out.Progress = 100
	return out, nil
}

type ConsumeOptions struct {
	RequestID string
	// StallTimeout aborts the read when no bytes arrive for this long.
	StallTimeout      time.Duration
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
	// OnFrame observes every accepted frame in arrival order.
	OnFrame func(f models.Frame, partial string)
}

// Consume reads body to the end and returns the run's outcome. body is closed
// on return, and also early if ctx ends or the stream stalls.
func Consume(ctx context.Context, body io.ReadCloser, opts ConsumeOptions) (Outcome, error) {
	defer body.Close()

	splitter := NewSplitter(opts.Logger)
	acc := NewAccumulator(opts.RequestID)

	var stalled atomic.Bool
	stall := opts.StallTimeout
	if stall <= 0 {
		stall = 30 * time.Second
	}
	timer := time.AfterFunc(stall, func() {
		stalled.Store(true)
		body.Close()
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	apply := func(frames []models.Frame) {
		now := time.Now()
		for _, f := range frames {
			if acc.Apply(f, now) && opts.OnFrame != nil {
				opts.OnFrame(f, acc.Partial())
			}
		}
	}

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			timer.Reset(stall)
			apply(splitter.Feed(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			apply(splitter.Flush())
			break
		}
		if err != nil {
			out, _ := acc.Finish(time.Now(), opts.HeartbeatInterval)
			switch {
			case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
				return out, apperrors.Timeout("streaming", ctx.Err())
			case ctx.Err() != nil:
				return out, apperrors.Cancelled("streaming", ctx.Err())
			case stalled.Load():
				return out, apperrors.StreamProtocol("stream stalled", err)
			default:
				return out, apperrors.StreamProtocol("stream read failed", err)
			}
		}
		if acc.Done() {
			break
		}
	}

	return acc.Finish(time.Now(), opts.HeartbeatInterval)
}
