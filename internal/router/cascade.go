package router

import (
	"regexp"
)

// CascadeState is one of Initial, Forwarding(idx), Escalating(idx),
// Done, or Exhausted, exactly as spec.md §9 describes.
type CascadeState struct {
	Kind string // "initial", "forwarding", "escalating", "done", "exhausted"
	Idx  int
}

func InitialState() CascadeState { return CascadeState{Kind: "initial"} }

// uncertaintyPhrases and refusalPhrases are the response-body signals
// that trip a cascade escalation. Matched case-insensitively against the
// full response text.
var uncertaintyPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi'?m not (entirely |fully |completely )?sure\b`),
	regexp.MustCompile(`(?i)\bi (do not|don't) (have enough|know) (information|context)\b`),
	regexp.MustCompile(`(?i)\bit'?s (hard|difficult) to (say|tell) (for certain|with certainty)\b`),
	regexp.MustCompile(`(?i)\bi (might|may) be (wrong|mistaken)\b`),
}

var refusalPhrases = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi can'?t (help|assist) with\b`),
	regexp.MustCompile(`(?i)\bi'?m not able to\b`),
	regexp.MustCompile(`(?i)\bi must decline\b`),
	regexp.MustCompile(`(?i)\bas an ai\b.*\bcannot\b`),
}

// EscalationTrigger reports why a cascade should escalate, if at all.
type EscalationTrigger string

const (
	TriggerNone        EscalationTrigger = ""
	TriggerUncertainty EscalationTrigger = "uncertainty"
	TriggerRefusal     EscalationTrigger = "refusal"
	TriggerTransport   EscalationTrigger = "transport_error"
)

// DetectTrigger is a pure function of the response body and transport
// error: it never inspects state or the clock.
func DetectTrigger(responseText string, transportErr error) EscalationTrigger {
	if transportErr != nil {
		return TriggerTransport
	}
	for _, re := range refusalPhrases {
		if re.MatchString(responseText) {
			return TriggerRefusal
		}
	}
	for _, re := range uncertaintyPhrases {
		if re.MatchString(responseText) {
			return TriggerUncertainty
		}
	}
	return TriggerNone
}

// Advance applies one cascade transition. numModels is the length of the
// configured model ladder; maxEscalations bounds how many times the
// cascade may move to the next model. escalationsSoFar is the count of
// escalations already granted before this call — not including whichever
// one this call is about to decide — so a caller deciding the Nth
// escalation passes N-1, never N.
func Advance(state CascadeState, trigger EscalationTrigger, escalationsSoFar, numModels, maxEscalations int) CascadeState {
	switch state.Kind {
	case "initial":
		return CascadeState{Kind: "forwarding", Idx: 0}

	case "forwarding":
		if trigger == TriggerNone {
			return CascadeState{Kind: "done", Idx: state.Idx}
		}
		return CascadeState{Kind: "escalating", Idx: state.Idx}

	case "escalating":
		next := state.Idx + 1
		if next < numModels && escalationsSoFar < maxEscalations {
			return CascadeState{Kind: "forwarding", Idx: next}
		}
		return CascadeState{Kind: "exhausted", Idx: state.Idx}

	default:
		return state
	}
}
