package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Submission is the pipeline input. Body is stored as given; truncation is
// applied only when the prompt is built.
type Submission struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	Profile *Profile `json:"profile,omitempty"`
}

// Validate returns field errors for a missing title or body.
func (s Submission) Validate() map[string]string {
	fields := make(map[string]string)
	if strings.TrimSpace(s.Title) == "" {
		fields["title"] = "Title is required"
	}
	if strings.TrimSpace(s.Body) == "" {
		fields["body"] = "Body is required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

type Profile struct {
	DisplayName string             `json:"displayName"`
	JobTitle    string             `json:"jobTitle"`
	Industry    string             `json:"industry"`
	Interests   []string           `json:"interests"`
	Expertise   []string           `json:"expertise"`
	Preferences ProfilePreferences `json:"preferences"`
	UpdatedAt   *time.Time         `json:"updatedAt,omitempty"`
}

type ProfilePreferences struct {
	Depth string   `json:"depth"` // "basic" | "intermediate" | "advanced"
	Focus []string `json:"focus"`
}

var validDepths = map[string]bool{"basic": true, "intermediate": true, "advanced": true}

// DefaultProfile mirrors the profile created on first sign-in.
func DefaultProfile() *Profile {
	return &Profile{
		Interests: []string{},
		Expertise: []string{},
		Preferences: ProfilePreferences{
			Depth: "intermediate",
			Focus: []string{},
		},
	}
}

// Normalize trims list entries and fills defaults in place.
func (p *Profile) Normalize() {
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.JobTitle = strings.TrimSpace(p.JobTitle)
	p.Industry = strings.TrimSpace(p.Industry)
	p.Interests = cleanList(p.Interests)
	p.Expertise = cleanList(p.Expertise)
	p.Preferences.Focus = cleanList(p.Preferences.Focus)
	if !validDepths[p.Preferences.Depth] {
		p.Preferences.Depth = "intermediate"
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// StoredResearch is one persisted submission with its summary.
type StoredResearch struct {
	ID        string        `json:"id"`
	UserID    uuid.UUID     `json:"userId"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	Summary   SummaryRecord `json:"summary"`
	CreatedAt time.Time     `json:"createdAt"`
}
