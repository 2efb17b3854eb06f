// Package envelope holds the normalized in-memory representation of an
// inbound chat-completion request, shared by every pipeline stage
// regardless of whether the request arrived in Anthropic or OpenAI shape.
package envelope

import "encoding/json"

// ProviderFamily tags which wire shape a request arrived in (and, after
// routing, which shape it will be forwarded in).
type ProviderFamily string

const (
	FamilyAnthropic ProviderFamily = "anthropic"
	FamilyOpenAI    ProviderFamily = "openai"
)

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool is a provider-agnostic function-tool declaration. Only the fields
// the cache key and classifier care about are kept typed; everything else
// rides along in the raw blob.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Envelope is the normalized request. Fields the proxy never interprets
// (provider-specific extras, unknown keys) are preserved verbatim in Raw
// so the egress adapter can reconstruct a faithful wire request even
// though only a typed subset was used for routing decisions.
type Envelope struct {
	RequestID   string
	Family      ProviderFamily
	Model       string
	Messages    []Message
	System      string
	Tools       []Tool
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	TopK        *int
	StopSeqs    []string
	ToolChoice  json.RawMessage
	Stream      bool

	// Raw is the original request body, used for provider passthrough
	// fields this proxy does not interpret.
	Raw json.RawMessage

	// Headers carries the subset of inbound headers the pipeline needs
	// downstream (auth credential, bypass flag, explicit account).
	Headers map[string]string
}

// LastUserMessage returns the content of the last message with role
// "user", or "" if there is none. Used by the aggressive cache key and by
// the classifier (which must only look at the last user message, never
// the system prompt).
func (e *Envelope) LastUserMessage() string {
	for i := len(e.Messages) - 1; i >= 0; i-- {
		if e.Messages[i].Role == "user" {
			return e.Messages[i].Content
		}
	}
	return ""
}

// IsDeterministic reports whether the request's sampling parameters make
// its output a pure function of its input, i.e. temperature is unset or
// exactly zero.
func (e *Envelope) IsDeterministic() bool {
	return e.Temperature == nil || *e.Temperature == 0
}

// TotalMessageLength sums the byte length of every message's content plus
// the system prompt, used by the classifier as a length signal.
func (e *Envelope) TotalMessageLength() int {
	total := len(e.System)
	for _, m := range e.Messages {
		total += len(m.Content)
	}
	return total
}
