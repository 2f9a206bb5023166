package services

import (
	"fmt"
	"strings"

	"trendaware-backend/internal/models"
)

const truncationMarker = "..."

// Prompt is a provider-agnostic system/user message pair.
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// TruncateBody returns the first limit runes of body plus a marker, or body
// unchanged when it already fits.
func TruncateBody(body string, limit int) string {
	if limit <= 0 {
		return body
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit]) + truncationMarker
}

func buildSystemPrompt(profile *models.Profile) string {
	if profile == nil {
		return "You are a financial research assistant, skilled at summarizing complex information " +
			"into concise insights, implications and recommendations."
	}

	name := orDefault(profile.DisplayName, "a user")
	role := orDefault(profile.JobTitle, "a professional")
	industry := orDefault(profile.Industry, "financial")

	var b strings.Builder
	fmt.Fprintf(&b, "You are a financial research assistant helping %s, who works as %s in the %s industry.", name, withArticle(role), industry)
	if len(profile.Expertise) > 0 {
		fmt.Fprintf(&b, " Their areas of expertise are: %s.", strings.Join(profile.Expertise, ", "))
	}
	if len(profile.Interests) > 0 {
		fmt.Fprintf(&b, " They are especially interested in: %s.", strings.Join(profile.Interests, ", "))
	}
	switch profile.Preferences.Depth {
	case "basic":
		b.WriteString(" Keep the language accessible and avoid jargon.")
	case "advanced":
		b.WriteString(" Assume deep domain knowledge and go into technical detail.")
	default:
		b.WriteString(" Pitch the detail at an informed practitioner.")
	}
	b.WriteString(" Tailor the summary to what matters for their role.")
	return b.String()
}

// BuildSummaryPrompt is deterministic in its inputs. body must already be
// truncated.
func BuildSummaryPrompt(title, body string, profile *models.Profile, research *string, maxTokens int) Prompt {
	var b strings.Builder
	fmt.Fprintf(&b, "Research Topic: %s\n\n", title)
	fmt.Fprintf(&b, "Original Research Notes:\n%s\n\n", body)

	if research != nil && strings.TrimSpace(*research) != "" {
		b.WriteString("Recent Web Research (current and authoritative, prefer it over older assumptions in the notes):\n")
		b.WriteString(*research)
		b.WriteString("\n\n")
	}

	b.WriteString("Please:\n")
	b.WriteString("1. Summarize the key points from the notes\n")
	if research != nil && strings.TrimSpace(*research) != "" {
		b.WriteString("2. Incorporate the relevant recent developments from the web research\n")
	} else {
		b.WriteString("2. Highlight what is likely to have changed recently\n")
	}
	b.WriteString("3. Identify implications for the banking and financial services industry\n")
	b.WriteString("4. Suggest areas for further research\n")

	return Prompt{
		System:      buildSystemPrompt(profile),
		User:        b.String(),
		MaxTokens:   maxTokens,
		Temperature: 0.5,
	}
}

// BuildResearchPrompt asks the search provider for recent context on title.
func BuildResearchPrompt(title string, maxTokens int) Prompt {
	return Prompt{
		System: "You are a financial research assistant. Search the web for the most recent and relevant " +
			"information. Focus on facts, data, and recent developments. Provide comprehensive but concise results.",
		User: fmt.Sprintf("Research the following topic thoroughly: %s. Focus on financial implications, "+
			"market trends, and recent news. Include specific data points and insights when available.", title),
		MaxTokens:   maxTokens,
		Temperature: 0.2,
	}
}

// FallbackSummary is the templated text used when every provider attempt
// failed. It must always be stored with fallback=true.
func FallbackSummary(title string, bodyLen int, profile *models.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summary of \"%s\"\n\n", title)
	if profile != nil && profile.DisplayName != "" {
		fmt.Fprintf(&b, "Prepared for %s. ", profile.DisplayName)
	}
	fmt.Fprintf(&b, "Your research notes (%d characters) were received, ", bodyLen)
	b.WriteString("but the AI summary service could not be reached. ")
	b.WriteString("Regenerate the summary later to get key insights, implications and recommendations.")
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func withArticle(role string) string {
	lower := strings.ToLower(role)
	if strings.HasPrefix(lower, "a ") || strings.HasPrefix(lower, "an ") || strings.HasPrefix(lower, "the ") {
		return role
	}
	if strings.ContainsRune("aeiou", rune(lower[0])) {
		return "an " + role
	}
	return "a " + role
}
