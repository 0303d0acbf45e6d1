package transcript

import (
	"fmt"
	"strings"

	"medintake/internal/domain"
)

// DefaultMinChars is the smallest total transcript length worth sending
// to the backend for summarization.
const DefaultMinChars = 30

// Stats describes a formatted transcript.
type Stats struct {
	TotalUtterances int `json:"totalUtterances"`
	UserUtterances  int `json:"userUtterances"`
	AgentUtterances int `json:"agentUtterances"`
	TotalChars      int `json:"totalChars"`
	AverageChars    int `json:"averageChars"`
}

// Formatted is the submission-ready transcript plus validity verdict.
type Formatted struct {
	Text     string
	Stats    Stats
	Warnings []string
	Valid    bool
	// InvalidReason is set when Valid is false.
	InvalidReason string
}

// Format converts an ordered utterance sequence into a submission
// payload. It drops empty or malformed turns, collapses immediately
// repeated (speaker, text) pairs, and refuses transcripts too thin to be
// worth backend processing: fewer than two utterances, no user turn, or
// total text below minChars (pass 0 for the default).
func Format(utterances []domain.Utterance, minChars int) Formatted {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}

	var result Formatted
	kept := make([]domain.Utterance, 0, len(utterances))

	for i, u := range utterances {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("dropped utterance %d: empty text", i))
			continue
		}
		if u.Speaker != domain.SpeakerUser && u.Speaker != domain.SpeakerAgent {
			result.Warnings = append(result.Warnings, fmt.Sprintf("dropped utterance %d: unknown speaker %q", i, u.Speaker))
			continue
		}
		if n := len(kept); n > 0 && kept[n-1].Speaker == u.Speaker && kept[n-1].Text == text {
			result.Warnings = append(result.Warnings, fmt.Sprintf("dropped utterance %d: duplicate delivery", i))
			continue
		}
		kept = append(kept, domain.Utterance{Speaker: u.Speaker, Text: text, Timestamp: u.Timestamp})
	}

	lines := make([]string, 0, len(kept))
	for _, u := range kept {
		result.Stats.TotalUtterances++
		result.Stats.TotalChars += len(u.Text)
		if u.Speaker == domain.SpeakerUser {
			result.Stats.UserUtterances++
			lines = append(lines, "User: "+u.Text)
		} else {
			result.Stats.AgentUtterances++
			lines = append(lines, "Agent: "+u.Text)
		}
	}
	if result.Stats.TotalUtterances > 0 {
		result.Stats.AverageChars = result.Stats.TotalChars / result.Stats.TotalUtterances
	}

	result.Text = strings.Join(lines, "\n")

	switch {
	case result.Stats.TotalUtterances < 2:
		result.InvalidReason = "transcript has fewer than two utterances"
	case result.Stats.UserUtterances == 0:
		result.InvalidReason = "transcript has no user utterances"
	case result.Stats.TotalChars < minChars:
		result.InvalidReason = fmt.Sprintf("transcript too short (%d chars, need %d)", result.Stats.TotalChars, minChars)
	default:
		result.Valid = true
	}

	return result
}
