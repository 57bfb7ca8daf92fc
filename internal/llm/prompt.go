package llm

import (
	"encoding/json"
	"strings"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AssistantCue terminates every rendered prompt so the completion server
// generates the assistant's next turn.
const AssistantCue = "Assistant:"

// Label returns the speaker label used in the rendered prompt, or "" for
// roles that are not rendered.
func (r Role) Label() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	default:
		return ""
	}
}

// Turn is a single message in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Valid reports whether the turn contributes a line to a rendered prompt.
func (t Turn) Valid() bool {
	return t.Role.Label() != ""
}

// UnmarshalJSON accepts any JSON value. Entries that are not objects, or that
// lack a string role or a string content, decode to a zero Turn, which is
// never rendered.
func (t *Turn) UnmarshalJSON(data []byte) error {
	*t = Turn{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil
	}

	var role, content string
	rawRole, ok := fields["role"]
	if !ok || json.Unmarshal(rawRole, &role) != nil {
		return nil
	}
	rawContent, ok := fields["content"]
	if !ok || json.Unmarshal(rawContent, &content) != nil {
		return nil
	}
	// json.Unmarshal of null into a string is a no-op, not an error.
	if string(rawRole) == "null" || string(rawContent) == "null" {
		return nil
	}

	t.Role = Role(role)
	t.Content = content
	return nil
}

// History is the ordered list of prior turns supplied with each call.
type History []Turn

// Split separates renderable turns from the ones that will be skipped.
func (h History) Split() (kept History, skipped int) {
	kept = make(History, 0, len(h))
	for _, t := range h {
		if t.Valid() {
			kept = append(kept, t)
		} else {
			skipped++
		}
	}
	return kept, skipped
}

// Last returns at most n trailing turns. n <= 0 returns the history unchanged.
func (h History) Last(n int) History {
	if n <= 0 || len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// RenderPrompt flattens history and the new user utterance into the single
// text blob sent to the completion server:
//
//	User: A
//	Assistant: B
//	User: <prompt>
//	Assistant:
//
// Invalid turns are skipped without error. The result always ends with
// AssistantCue and no trailing newline.
func RenderPrompt(history History, prompt string) string {
	var b strings.Builder
	for _, t := range history {
		label := t.Role.Label()
		if label == "" {
			continue
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteByte('\n')
	}
	b.WriteString("User: ")
	b.WriteString(prompt)
	b.WriteByte('\n')
	b.WriteString(AssistantCue)
	return b.String()
}
