package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/RelayPlane/proxy/internal/envelope"
)

// Mode selects which subset of the envelope keys the cache.
type Mode string

const (
	ModeExact      Mode = "exact"
	ModeAggressive Mode = "aggressive"
)

// canonicalMessage is the ordered, minimal shape used inside the exact-mode
// key so field renames elsewhere never perturb the hash.
type canonicalMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ComputeKey returns the 64-hex SHA-256 digest for env under mode. Object
// keys are emitted in sorted top-level order and messages preserve their
// original ordering (message order is semantically significant; only the
// top-level field ordering needs canonicalizing).
func ComputeKey(env *envelope.Envelope, mode Mode) string {
	var canonical map[string]interface{}

	switch mode {
	case ModeAggressive:
		canonical = map[string]interface{}{
			"model":             env.Model,
			"system":            env.System,
			"tools":             canonicalTools(env.Tools),
			"last_user_message": env.LastUserMessage(),
		}
	default: // ModeExact
		canonical = map[string]interface{}{
			"max_tokens":     env.MaxTokens,
			"messages":       canonicalMessages(env.Messages),
			"model":          env.Model,
			"stop_sequences": env.StopSeqs,
			"system":         env.System,
			"temperature":    env.Temperature,
			"tool_choice":    rawOrNil(env.ToolChoice),
			"tools":          canonicalTools(env.Tools),
			"top_k":          env.TopK,
			"top_p":          env.TopP,
		}
	}

	keys := make([]string, 0, len(canonical))
	for k := range canonical {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, canonical[k])
	}

	// A slice of alternating key/value marshals as a JSON array, which
	// keeps top-level key ordering stable regardless of Go map iteration
	// order (encoding/json would otherwise re-sort map keys anyway, but
	// this makes the "sorted top-level order" contract explicit and
	// independent of that implementation detail).
	buf, err := json.Marshal(ordered)
	if err != nil {
		buf = []byte(err.Error())
	}

	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

func canonicalMessages(msgs []envelope.Message) []canonicalMessage {
	out := make([]canonicalMessage, len(msgs))
	for i, m := range msgs {
		out[i] = canonicalMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func canonicalTools(tools []envelope.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// Bypass reports whether a request should skip the cache entirely for the
// given mode, per spec.md §4.2 bypass rules.
func Bypass(env *envelope.Envelope, mode Mode, enabled, onlyWhenDeterministic bool) bool {
	if !enabled {
		return true
	}
	if mode == ModeExact && onlyWhenDeterministic && !env.IsDeterministic() {
		return true
	}
	return false
}
