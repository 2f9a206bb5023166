package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"trendaware-backend/internal/apperrors"
	"trendaware-backend/internal/middleware"
	"trendaware-backend/internal/models"
	"trendaware-backend/internal/repository"
)

type researchService interface {
	Initiate(ctx context.Context, userID uuid.UUID, requestID, title string) error
	Status(ctx context.Context, userID uuid.UUID, requestID string) (models.ResearchStatus, error)
}

type ResearchHandler struct {
	research researchService
}

func NewResearchHandler(research researchService) *ResearchHandler {
	return &ResearchHandler{research: research}
}

// Initiate queues background web research for a caller-chosen request id.
func (h *ResearchHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req models.InitiateResearchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r.Context())
	if err := h.research.Initiate(r.Context(), userID, req.RequestID, req.Title); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "initiated",
		"requestId": req.RequestID,
	})
}

func (h *ResearchHandler) Status(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if requestID == "" {
		handleServiceError(w, r, apperrors.Validation(map[string]string{"requestId": "requestId is required"}))
		return
	}

	st, err := h.research.Status(r.Context(), middleware.GetUserID(r.Context()), requestID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if st.Status == models.ResearchNotFound {
		writeJSON(w, http.StatusNotFound, st)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type researchReader interface {
	ListByUser(ctx context.Context, userID uuid.UUID, search string, limit, offset int) ([]*models.StoredResearch, error)
	GetByID(ctx context.Context, userID uuid.UUID, id string) (*models.StoredResearch, error)
}

// LibraryHandler exposes the caller's stored research requests read-only.
type LibraryHandler struct {
	store researchReader
}

func NewLibraryHandler(store researchReader) *LibraryHandler {
	return &LibraryHandler{store: store}
}

func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	search := strings.TrimSpace(r.URL.Query().Get("search"))
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, err := h.store.ListByUser(r.Context(), userID, search, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch research requests", r))
		return
	}
	if items == nil {
		items = []*models.StoredResearch{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *LibraryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	item, err := h.store.GetByID(r.Context(), userID, chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Research request not found", r))
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to fetch research request", r))
		return
	}
	writeJSON(w, http.StatusOK, item)
}
