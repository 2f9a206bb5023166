package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/middleware"
	"trendaware-backend/internal/models"
	"trendaware-backend/internal/pipeline"
	"trendaware-backend/internal/services"
	"trendaware-backend/internal/stream"
)

const maxRequestBody = 1 << 20

type pipelineRunner interface {
	Execute(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error)
}

type SummaryHandler struct {
	runner    pipelineRunner
	events    *services.EventPublisher
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewSummaryHandler serves the summary and run endpoints. events may be nil,
// in which case frames are not relayed to websocket clients.
func NewSummaryHandler(runner pipelineRunner, events *services.EventPublisher, heartbeat time.Duration, logger *slog.Logger) *SummaryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryHandler{
		runner:    runner,
		events:    events,
		heartbeat: heartbeat,
		logger:    logger.With("component", "summary_handler"),
	}
}

// Stream handles POST /summary/stream.
func (h *SummaryHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateSummaryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.streamRun(w, r, pipeline.Request{
		RunID:       uuid.NewString(),
		UserID:      middleware.GetUserID(r.Context()),
		Submission:  models.Submission{Title: req.Title, Body: req.Body, Profile: req.Profile},
		Mode:        models.ModeStream,
		WebResearch: req.WebResearch,
	})
}

// Generate handles POST /summary and answers with a single JSON document.
func (h *SummaryHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateSummaryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// The run is bounded by the orchestrator's own timeout, not the
	// server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	res, err := h.runner.Execute(r.Context(), pipeline.Request{
		RunID:       uuid.NewString(),
		UserID:      middleware.GetUserID(r.Context()),
		Submission:  models.Submission{Title: req.Title, Body: req.Body, Profile: req.Profile},
		Mode:        models.ModeBatch,
		WebResearch: req.WebResearch,
	}, pipeline.Discard)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.GenerateSummaryResponse{
		Summary:         res.Summary,
		WebResearchUsed: res.WebResearchUsed,
		Fallback:        res.Fallback,
	})
}

// CreateRun handles POST /runs: the full pipeline including persistence,
// streamed as NDJSON. ?mode=batch skips token streaming.
func (h *SummaryHandler) CreateRun(w http.ResponseWriter, r *http.Request) {
	mode, ok := models.ParseSummaryMode(r.URL.Query().Get("mode"))
	if !ok {
		handleServiceError(w, r, apperrors.Validation(map[string]string{"mode": "Mode must be stream or batch"}))
		return
	}

	var sub models.Submission
	if !decodeBody(w, r, &sub) {
		return
	}

	h.streamRun(w, r, pipeline.Request{
		RunID:      uuid.NewString(),
		UserID:     middleware.GetUserID(r.Context()),
		Submission: sub,
		Mode:       mode,
		Persist:    true,
	})
}

func (h *SummaryHandler) streamRun(w http.ResponseWriter, r *http.Request, req pipeline.Request) {
	// Validation errors are answered with the JSON envelope before the
	// stream is opened.
	if fields := req.Submission.Validate(); fields != nil {
		handleServiceError(w, r, apperrors.Validation(fields))
		return
	}

	stream.SetHeaders(w.Header())
	w.Header().Set("X-Run-ID", req.RunID)
	w.WriteHeader(http.StatusOK)

	sw := stream.NewWriter(w, req.RunID)
	sw.StartHeartbeat(h.heartbeat)
	defer sw.Close()

	var sink pipeline.Sink = sw
	if h.events != nil {
		sink = pipeline.MultiSink{sw, h.events.For(r.Context(), req.UserID)}
	}

	log := h.logger.With("run_id", req.RunID, "request_id", middleware.GetRequestID(r.Context()))

	res, err := h.runner.Execute(r.Context(), req, sink)
	if err == nil {
		return
	}
	if res == nil || res.Run == nil || res.Run.Stage() == pipeline.StageIdle {
		// The run never started, so nothing has told the client yet.
		_ = sw.Emit(models.Frame{
			Status:    models.StatusError,
			Message:   apperrors.UserMessage(err),
			ErrorKind: string(apperrors.KindOf(err)),
		})
	}
	log.Warn("run ended with error", "kind", apperrors.KindOf(err), "error", err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	return true
}
