package providers

import (
	"encoding/json"
	"strings"

	"github.com/RelayPlane/proxy/internal/envelope"
)

// OpenAIChatRequest is the /v1/chat/completions request body.
type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
}

type OpenAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnmarshalJSON handles both string and content-part-array message bodies,
// same idiom as the teacher's OpenAIMessage.UnmarshalJSON.
func (m *OpenAIMessage) UnmarshalJSON(data []byte) error {
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

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(a.Content, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Type == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		m.Content = strings.Join(texts, "\n")
		return nil
	}
	return nil
}

type OpenAITool struct {
	Type     string              `json:"type"`
	Function *OpenAIFunctionSpec `json:"function,omitempty"`
}

type OpenAIFunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAIChatResponse is the /v1/chat/completions response body.
type OpenAIChatResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Model   string                 `json:"model"`
	Choices []OpenAIChoice         `json:"choices"`
	Usage   OpenAIUsage            `json:"usage"`
	Extra   map[string]interface{} `json:"-"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ParseOpenAIRequest decodes a raw /v1/chat/completions body into an Envelope.
func ParseOpenAIRequest(body []byte) (*envelope.Envelope, error) {
	var req OpenAIChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	env := &envelope.Envelope{
		Family:      envelope.FamilyOpenAI,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
		ToolChoice:  req.ToolChoice,
		Stream:      req.Stream,
		Raw:         json.RawMessage(body),
	}
	for _, m := range req.Messages {
		if m.Role == "system" && env.System == "" {
			env.System = m.Content
			continue
		}
		env.Messages = append(env.Messages, envelope.Message{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		if t.Function != nil {
			env.Tools = append(env.Tools, envelope.Tool{Name: t.Function.Name, Description: t.Function.Description})
		}
	}
	return env, nil
}

// OpenAIUsageOf extracts token usage from a raw OpenAI-shaped response body.
func OpenAIUsageOf(body []byte) (inputTokens, outputTokens int) {
	var resp OpenAIChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0
	}
	return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
}

// OpenAIResponseText concatenates the assistant message content of a raw
// OpenAI-shaped response.
func OpenAIResponseText(body []byte) string {
	var resp OpenAIChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	var parts []string
	for _, c := range resp.Choices {
		if c.Message.Content != "" {
			parts = append(parts, c.Message.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// HasToolCallOpenAI reports whether a raw OpenAI-shaped response requested
// a tool/function call.
func HasToolCallOpenAI(body []byte) bool {
	var raw struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				ToolCalls []json.RawMessage `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return false
	}
	for _, c := range raw.Choices {
		if c.FinishReason == "tool_calls" || len(c.Message.ToolCalls) > 0 {
			return true
		}
	}
	return false
}

// WriteErrorOpenAI writes an OpenAI-shaped structured error body.
func WriteErrorOpenAI(message, errType string, status int) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
			"code":    status,
		},
	})
	return b
}

// WriteErrorAnthropic writes an Anthropic-shaped structured error body.
func WriteErrorAnthropic(message, errType string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    errType,
			"message": message,
		},
	})
	return b
}
