package usecase

import "strings"

// completionPhrases are natural-language markers the intake agent tends
// to close with. Phrase matching is inherently fragile (false positives
// on patients quoting the agent, false negatives on rephrased closings);
// it lives here as one isolated predicate so a structured end-of-call
// signal can replace it without touching the state machine.
var completionPhrases = []string{
	"that concludes",
	"this concludes",
	"thank you for completing",
	"interview is now complete",
	"have a great day and feel better",
}

// hangUpMarkers are tool-call identifiers forwarded over experimental
// messages when the agent invokes its hang-up tool.
var hangUpMarkers = []string{
	"hangup",
	"hang_up",
	"endcall",
	"end_call",
}

// detectsCompletion reports whether an agent utterance or experimental
// message signals the end of the interview.
func detectsCompletion(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range hangUpMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
