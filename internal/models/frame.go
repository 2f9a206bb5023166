package models

import (
	"fmt"
)

const (
	StatusProcessing  = "processing"
	StatusResearching = "researching"
	StatusResearched  = "researched"
	StatusGenerating  = "generating"
	StatusComplete    = "complete"
	StatusError       = "error"
)

var knownStatuses = map[string]bool{
	StatusProcessing:  true,
	StatusResearching: true,
	StatusResearched:  true,
	StatusGenerating:  true,
	StatusComplete:    true,
	StatusError:       true,
}

// Frame is one newline-delimited JSON unit of the summary stream.
type Frame struct {
	RequestID       string   `json:"requestId,omitempty"`
	Status          string   `json:"status,omitempty"`
	Message         string   `json:"message,omitempty"`
	Stage           string   `json:"stage,omitempty"`
	Progress        *float64 `json:"progress,omitempty"`
	PartialSummary  string   `json:"partialSummary,omitempty"`
	WebResearchUsed *bool    `json:"webResearchUsed,omitempty"`
	Heartbeat       bool     `json:"heartbeat,omitempty"`
	Timestamp       int64    `json:"timestamp,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Fallback        bool     `json:"fallback,omitempty"`
	ResearchID      string   `json:"researchId,omitempty"`
	ErrorKind       string   `json:"errorKind,omitempty"`
}

// Validate rejects frames that parse as JSON but break the schema.
func (f *Frame) Validate() error {
	if f.Status != "" && !knownStatuses[f.Status] {
		return fmt.Errorf("unknown status %q", f.Status)
	}
	if f.Progress != nil && (*f.Progress < 0 || *f.Progress > 100) {
		return fmt.Errorf("progress %v out of range", *f.Progress)
	}
	if f.Heartbeat && (f.PartialSummary != "" || f.Summary != "") {
		return fmt.Errorf("heartbeat frame carries payload")
	}
	if f.Status == "" && f.PartialSummary == "" && f.Progress == nil && f.WebResearchUsed == nil &&
		!f.Heartbeat && f.Summary == "" {
		return fmt.Errorf("frame has no recognized fields")
	}
	return nil
}

// Terminal reports whether the frame ends the stream.
func (f *Frame) Terminal() bool {
	return f.Status == StatusComplete || f.Status == StatusError
}

func Float(v float64) *float64 { return &v }

func Bool(v bool) *bool { return &v }
