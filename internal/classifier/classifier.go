// Package classifier implements the pure, local complexity classifier
// spec.md §4.7 describes: no network call, no LLM, scored from message
// count, total token length, tool presence, and keyword cues found only
// in the last user message.
package classifier

import "strings"

type Tier string

const (
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
)

// complexKeywords are cues that a request calls for multi-step reasoning
// rather than a lookup or transform. Checked against the last user
// message only — never the system prompt, which may itself contain any
// of these words as instructions rather than a signal about this turn.
var complexKeywords = []string{
	"analyze", "analyse", "compare", "evaluate", "design", "architect",
	"debug", "optimize", "optimise", "refactor", "prove", "derive",
	"synthesize", "synthesise", "critique", "reconcile",
}

// Input is everything the classifier is allowed to look at.
type Input struct {
	MessageCount    int
	TotalTokenLen   int // approximate length of all message content, in characters or tokens
	HasTools        bool
	LastUserMessage string
}

// Thresholds tune the boundary between tiers. With the defaults any single
// signal moves a request to moderate; complex needs a score of 4, which no
// single signal reaches on its own.
type Thresholds struct {
	ModerateMessageCount int
	ComplexMessageCount  int
	ModerateTokenLen     int
	ComplexTokenLen      int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ModerateMessageCount: 4,
		ComplexMessageCount:  12,
		ModerateTokenLen:     1500,
		ComplexTokenLen:      6000,
	}
}

// Classify scores in to a Tier. It is a pure function of its arguments:
// the same Input and Thresholds always yield the same Tier.
func Classify(in Input, th Thresholds) Tier {
	score := 0

	if in.MessageCount >= th.ComplexMessageCount {
		score += 2
	} else if in.MessageCount >= th.ModerateMessageCount {
		score++
	}

	if in.TotalTokenLen >= th.ComplexTokenLen {
		score += 2
	} else if in.TotalTokenLen >= th.ModerateTokenLen {
		score++
	}

	if in.HasTools {
		score++
	}

	if hasComplexKeyword(in.LastUserMessage) {
		score += 2
	}

	switch {
	case score >= 4:
		return TierComplex
	case score >= 1:
		return TierModerate
	default:
		return TierSimple
	}
}

func hasComplexKeyword(lastUserMessage string) bool {
	lower := strings.ToLower(lastUserMessage)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
