package llm

import "context"

// Provider is the interface completion backends must implement.
type Provider interface {
	// Complete submits a rendered prompt and returns the generated reply.
	Complete(ctx context.Context, req *CompletionRequest) (*Response, error)
	// Name returns the provider identifier (e.g. "llamacpp").
	Name() string
}

// Sampling holds the generation parameters sent with every request.
type Sampling struct {
	NPredict    int      `json:"n_predict" mapstructure:"n_predict"`
	Temperature float64  `json:"temperature" mapstructure:"temperature"`
	TopP        float64  `json:"top_p" mapstructure:"top_p"`
	Stop        []string `json:"stop" mapstructure:"stop"`
}

// DefaultSampling returns the parameters the overlay has always used: 512
// tokens, temperature 0.7, top-p 0.9, halting before a new "User:" turn or a
// blank line.
func DefaultSampling() Sampling {
	return Sampling{
		NPredict:    512,
		Temperature: 0.7,
		TopP:        0.9,
		Stop:        []string{"User:", "\n\n"},
	}
}

// CompletionRequest is the wire payload for a completion call.
type CompletionRequest struct {
	Prompt string `json:"prompt"`
	Sampling
}

// NewCompletionRequest copies sampling so callers cannot alias the stop list.
func NewCompletionRequest(prompt string, s Sampling) *CompletionRequest {
	stop := make([]string, len(s.Stop))
	copy(stop, s.Stop)
	s.Stop = stop
	return &CompletionRequest{Prompt: prompt, Sampling: s}
}
