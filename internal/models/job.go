package models

import (
	"time"

	"github.com/google/uuid"
)

// ResearchJob is queued on Redis for the worker pool.
type ResearchJob struct {
	RequestID string    `json:"request_id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	QueuedAt  time.Time `json:"queued_at"`
}

const (
	ResearchProcessing = "processing"
	ResearchCompleted  = "completed"
	ResearchFailed     = "failed"
	ResearchNotFound   = "not_found"
)

// ResearchStatus is the cached state of a background research request.
type ResearchStatus struct {
	Status    string    `json:"status"`
	Research  *string   `json:"research,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type InitiateResearchRequest struct {
	Title     string `json:"title"`
	RequestID string `json:"requestId"`
}

// API Error response
type APIError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   string            `json:"details,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
