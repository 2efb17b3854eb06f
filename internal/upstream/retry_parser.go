package upstream

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// googleRetryInfo matches the structured details[].retryDelay shape Google
// APIs (and Gemini-compatible proxies) use to report 429s. OpenAI and
// Anthropic don't emit a machine-readable retry delay in their error
// bodies, so this is consulted only as a second-tier signal behind the
// standard header.
type googleRetryInfo struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string            `json:"@type"`
			Reason     string            `json:"reason"`
			Domain     string            `json:"domain"`
			Metadata   map[string]string `json:"metadata"`
			RetryDelay string            `json:"retryDelay"` // e.g. "3.5s"
		} `json:"details"`
	} `json:"error"`
}

// ParseRetryDelay extracts a retry duration from a 429 response, checking
// the standard Retry-After header first and falling back to the
// Google-style structured body any provider in the catalog might still
// return (several OpenAI-compatible aggregators proxy Gemini models
// verbatim). Returns 0 if no retry information is found, which tells the
// caller to fall back to its own backoff schedule.
//
// The response body is read and restored, so callers may still forward
// or re-parse it afterward.
func ParseRetryDelay(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			return time.Until(t)
		}
	}

	if resp.Body == nil {
		return 0
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0
	}
	resp.Body = io.NopCloser(strings.NewReader(string(bodyBytes)))

	var errInfo googleRetryInfo
	if err := json.Unmarshal(bodyBytes, &errInfo); err != nil {
		return 0
	}

	for _, detail := range errInfo.Error.Details {
		if detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
		if delay, ok := detail.Metadata["retryDelay"]; ok {
			if d, err := time.ParseDuration(delay); err == nil {
				return d
			}
		}
	}

	return 0
}
