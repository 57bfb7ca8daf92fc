package llm

// Response wraps a completion result. Only Content is part of the gateway
// contract; the remaining fields are read best-effort for telemetry.
type Response struct {
	Content         string `json:"content"`
	Model           string `json:"model,omitempty"`
	TokensPredicted int    `json:"tokens_predicted,omitempty"`
	TokensEvaluated int    `json:"tokens_evaluated,omitempty"`
	StoppingWord    string `json:"stopping_word,omitempty"`
	StatusCode      int    `json:"-"`
}
