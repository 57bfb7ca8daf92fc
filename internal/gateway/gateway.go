// Package gateway turns a conversation into a single completion call against
// the local model server. A Gateway holds no conversation state; every call
// carries its own history and concurrent calls are independent.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/efebarandurmaz/eos/internal/llm"
	"github.com/efebarandurmaz/eos/internal/observability"
)

// DefaultTimeout bounds a whole Complete call.
const DefaultTimeout = 120 * time.Second

// Config holds the generation parameters and time budget for each call.
type Config struct {
	Sampling llm.Sampling
	Timeout  time.Duration
}

// DefaultConfig returns the stock sampling parameters and a 120s budget.
func DefaultConfig() Config {
	return Config{
		Sampling: llm.DefaultSampling(),
		Timeout:  DefaultTimeout,
	}
}

// Gateway renders prompts and submits them to a provider.
type Gateway struct {
	provider llm.Provider
	cfg      Config
}

// New creates a gateway. A non-positive timeout falls back to DefaultTimeout.
func New(provider llm.Provider, cfg Config) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Gateway{provider: provider, cfg: cfg}
}

// Reply is the outcome of a completion together with how it was produced.
type Reply struct {
	Text         string
	Prompt       string
	TurnsKept    int
	TurnsSkipped int
	Duration     time.Duration
	Response     *llm.Response
}

// Complete sends prompt with history and returns the trimmed reply text.
// Failures are *llm.Error values of kind transport or decode.
func (g *Gateway) Complete(ctx context.Context, prompt string, history llm.History) (string, error) {
	reply, err := g.Ask(ctx, prompt, history)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// Ask is Complete with the rendering and timing details kept.
func (g *Gateway) Ask(ctx context.Context, prompt string, history llm.History) (*Reply, error) {
	ctx, span := observability.StartCompletionSpan(ctx, g.provider.Name(), len(history))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	kept, skipped := history.Split()
	rendered := llm.RenderPrompt(kept, prompt)
	observability.RecordRender(span, len(kept), skipped, len(rendered))

	reply := &Reply{
		Prompt:       rendered,
		TurnsKept:    len(kept),
		TurnsSkipped: skipped,
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, llm.NewCompletionRequest(rendered, g.cfg.Sampling))
	reply.Duration = time.Since(start)
	if err != nil {
		if llm.KindOf(err) == "" {
			// The request never produced a response to decode.
			err = llm.TransportError(err)
		}
		observability.RecordError(span, err)
		return reply, err
	}

	observability.RecordCompletion(span, resp.StatusCode, resp.TokensEvaluated, resp.TokensPredicted, reply.Duration)
	reply.Response = resp
	reply.Text = strings.TrimSpace(resp.Content)
	return reply, nil
}

// Render returns the exact prompt text a call with these inputs would send.
func Render(prompt string, history llm.History) string {
	return llm.RenderPrompt(history, prompt)
}
