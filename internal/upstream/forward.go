// Package upstream forwards an already-translated provider request to a
// concrete base URL and returns the raw response, with the
// endpoint-fallback idiom the teacher used for its Cloud Code relay
// generalized to the small ordered base-URL lists this proxy's provider
// catalog can supply (e.g. an OpenAI-compatible aggregator backed by more
// than one regional endpoint).
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/RelayPlane/proxy/internal/util"
)

const DefaultTimeout = 60 * time.Second

// Client performs outbound HTTP calls to provider APIs.
type Client struct {
	httpClient *http.Client
	verbose    bool
}

func NewClient(timeout time.Duration, verbose bool) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		verbose:    verbose,
	}
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// Do issues req and returns the raw response. Callers that need SSE
// streaming read resp.Body directly; Do never buffers a streaming body.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.verbose {
		log.Printf("🔄 [VERBOSE] upstream request: %s %s body=%s", req.Method, req.URL, util.TruncateBytes(req.Body))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	return resp, nil
}

// DoWithFallback tries each URL in baseURLs in order, advancing to the
// next on a 429/5xx response or a transport error — the same retriable
// set and ordered-endpoint idiom the teacher's doRequestWithFallback
// used, generalized from a fixed 3-endpoint Cloud Code list to an
// arbitrary ordered slice the provider catalog or cascade router
// supplies.
func (c *Client) DoWithFallback(ctx context.Context, baseURLs []string, buildRequest func(baseURL string) Request) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for i, base := range baseURLs {
		req := buildRequest(base)
		resp, err := c.Do(ctx, req)
		if err != nil {
			lastErr = err
			log.Printf("⚠️ upstream: endpoint %d (%s) failed: %v", i+1, base, err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if i > 0 {
				log.Printf("✅ upstream: fallback to endpoint %d succeeded", i+1)
			}
			return resp, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			log.Printf("⚠️ upstream: endpoint %d returned %d, trying next", i+1, resp.StatusCode)
			lastResp = resp
			lastErr = fmt.Errorf("endpoint %d returned %d", i+1, resp.StatusCode)
			continue
		}

		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}
