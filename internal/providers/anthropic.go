// Package providers holds the Anthropic- and OpenAI-shaped wire structs
// this proxy ingests and emits, and the conversions between those shapes
// and the normalized envelope.
package providers

import (
	"encoding/json"
	"strings"

	"github.com/RelayPlane/proxy/internal/envelope"
)

// AnthropicRequest is the /v1/messages request body.
type AnthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []AnthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
	Tools       []AnthropicTool    `json:"tools,omitempty"`
	ToolChoice  json.RawMessage    `json:"tool_choice,omitempty"`
}

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON accepts both a plain string content and Anthropic's
// content-block array shape, concatenating any text blocks. This mirrors
// the union-content handling the teacher's OpenAIMessage.UnmarshalJSON
// does for the OpenAI shape.
func (m *AnthropicMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role

	var str string
	if err := json.Unmarshal(a.Content, &str); err == nil {
		m.Content = str
		return nil
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(a.Content, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		m.Content = strings.Join(parts, "\n")
		return nil
	}
	return nil
}

type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// AnthropicResponse is the /v1/messages response body.
type AnthropicResponse struct {
	ID           string                  `json:"id"`
	Type         string                  `json:"type"`
	Role         string                  `json:"role"`
	Model        string                  `json:"model"`
	Content      []AnthropicContentBlock `json:"content"`
	StopReason   string                  `json:"stop_reason,omitempty"`
	StopSequence *string                 `json:"stop_sequence,omitempty"`
	Usage        AnthropicUsage          `json:"usage"`
}

type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ParseAnthropicRequest decodes a raw /v1/messages body into an Envelope.
func ParseAnthropicRequest(body []byte) (*envelope.Envelope, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	env := &envelope.Envelope{
		Family:      envelope.FamilyAnthropic,
		Model:       req.Model,
		System:      req.System,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		StopSeqs:    req.StopSeqs,
		ToolChoice:  req.ToolChoice,
		Stream:      req.Stream,
		Raw:         json.RawMessage(body),
	}
	if req.MaxTokens != 0 {
		mt := req.MaxTokens
		env.MaxTokens = &mt
	}
	for _, m := range req.Messages {
		env.Messages = append(env.Messages, envelope.Message{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		env.Tools = append(env.Tools, envelope.Tool{Name: t.Name, Description: t.Description})
	}
	return env, nil
}

// AnthropicUsageOf extracts token usage from a raw Anthropic response body.
// Returns zero usage if the body doesn't parse.
func AnthropicUsageOf(body []byte) (inputTokens, outputTokens int) {
	var resp AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0
	}
	return resp.Usage.InputTokens, resp.Usage.OutputTokens
}

// AnthropicResponseText concatenates the text content blocks of a raw
// Anthropic response, used by escalation-trigger detection (§4.7 cascade).
func AnthropicResponseText(body []byte) string {
	var resp AnthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	var parts []string
	for _, b := range resp.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolCall reports whether a raw Anthropic response contains a
// tool_use content block.
func HasToolCall(body []byte) bool {
	var raw struct {
		Content []struct {
			Type string `json:"type"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return false
	}
	for _, b := range raw.Content {
		if b.Type == "tool_use" {
			return true
		}
	}
	return false
}
