package models

import (
	"time"
)

// SummaryRecord is the summary sub-record stored under a research request.
type SummaryRecord struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	WebResearchUsed bool      `json:"webResearchUsed"`
	Fallback        bool      `json:"fallback"`
	Provider        string    `json:"provider"`
	CreatedAt       time.Time `json:"createdAt"`
}

type SummaryMode string

const (
	ModeStream SummaryMode = "stream"
	ModeBatch  SummaryMode = "batch"
)

// ParseSummaryMode maps a query value to a mode. An empty value selects
// streaming; anything else that is not a known mode reports false.
func ParseSummaryMode(s string) (SummaryMode, bool) {
	switch SummaryMode(s) {
	case "", ModeStream:
		return ModeStream, true
	case ModeBatch:
		return ModeBatch, true
	}
	return "", false
}

// GenerateSummaryRequest is the body of POST /summary and POST /summary/stream.
type GenerateSummaryRequest struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Profile     *Profile `json:"profile,omitempty"`
	WebResearch *string  `json:"webResearch,omitempty"`
}

type GenerateSummaryResponse struct {
	Summary         string `json:"summary"`
	WebResearchUsed bool   `json:"webResearchUsed"`
	Fallback        bool   `json:"fallback"`
}
