// Package llamacpp implements llm.Provider for the llama.cpp HTTP server's
// native /completion endpoint.
package llamacpp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/efebarandurmaz/eos/internal/llm"
)

const (
	// DefaultEndpoint is where a locally started llama.cpp server listens.
	DefaultEndpoint = "http://localhost:8080/completion"
	// DefaultTimeout bounds a whole completion call, including the body read.
	DefaultTimeout = 120 * time.Second
)

// Client implements llm.Provider for llama.cpp.
type Client struct {
	endpoint string
	http     *http.Client
}

// New creates a llama.cpp provider. Empty endpoint and non-positive timeout
// fall back to the defaults.
func New(endpoint string, timeout time.Duration) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "llamacpp" }

// Endpoint returns the completion URL requests are posted to.
func (c *Client) Endpoint() string { return c.endpoint }

// Complete posts the request and extracts the generated text. The status code
// is not inspected: whatever JSON the server returns is searched for a string
// "content" field, and its absence yields an empty reply.
func (c *Client) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, llm.TransportError(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, llm.TransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.TransportError(err)
	}

	var tree any
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, llm.DecodeError(err)
	}

	out := parseResponse(tree)
	out.StatusCode = resp.StatusCode
	return out, nil
}

// parseResponse reads fields off a generic JSON tree, ignoring any whose type
// does not match.
func parseResponse(tree any) *llm.Response {
	out := &llm.Response{}
	obj, ok := tree.(map[string]any)
	if !ok {
		return out
	}
	out.Content = stringField(obj, "content")
	out.Model = stringField(obj, "model")
	out.StoppingWord = stringField(obj, "stopping_word")
	out.TokensPredicted = intField(obj, "tokens_predicted")
	out.TokensEvaluated = intField(obj, "tokens_evaluated")
	return out
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func intField(obj map[string]any, key string) int {
	f, _ := obj[key].(float64)
	return int(f)
}

// Ping checks the server's /health endpoint next to the completion path.
func (c *Client) Ping(ctx context.Context) error {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("llamacpp: parse endpoint: %w", err)
	}
	u.Path = "/health"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llamacpp: health: %s", resp.Status)
	}
	return nil
}
