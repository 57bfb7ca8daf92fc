package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRenderPrompt_EmptyHistory(t *testing.T) {
	got := RenderPrompt(nil, "Hi")
	if got != "User: Hi\nAssistant:" {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestRenderPrompt_Conversation(t *testing.T) {
	history := History{
		{Role: RoleUser, Content: "A"},
		{Role: RoleAssistant, Content: "B"},
	}
	got := RenderPrompt(history, "C")
	want := "User: A\nAssistant: B\nUser: C\nAssistant:"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestRenderPrompt_SkipsUnknownRoles(t *testing.T) {
	history := History{
		{Role: "system", Content: "be terse"},
		{Role: RoleUser, Content: "A"},
		{Role: "", Content: "orphan"},
		{Role: "tool", Content: "{}"},
	}
	got := RenderPrompt(history, "B")
	if got != "User: A\nUser: B\nAssistant:" {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestRenderPrompt_EmptyPromptKeepsCue(t *testing.T) {
	got := RenderPrompt(History{{Role: RoleAssistant, Content: ""}}, "")
	if got != "Assistant: \nUser: \nAssistant:" {
		t.Errorf("unexpected prompt %q", got)
	}
	if !strings.HasSuffix(got, AssistantCue) {
		t.Error("expected prompt to end with the assistant cue")
	}
}

func TestRenderPrompt_OneLinePerTurn(t *testing.T) {
	var history History
	for i := 0; i < 25; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, Turn{Role: role, Content: "x"})
	}
	got := RenderPrompt(history, "y")
	if n := strings.Count(got, "\n"); n != len(history)+1 {
		t.Errorf("expected %d newlines, got %d", len(history)+1, n)
	}
	if strings.HasSuffix(got, "\n") {
		t.Error("expected no trailing newline")
	}
}

func TestHistory_UnmarshalLenient(t *testing.T) {
	raw := `[
		{"role": "user", "content": "A"},
		{"role": "assistant"},
		{"content": "no role"},
		{"role": 7, "content": "numeric role"},
		{"role": "user", "content": null},
		{"role": "user", "content": ["not", "text"]},
		"just a string",
		null,
		{"role": "assistant", "content": "B", "extra": true}
	]`

	var h History
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(h) != 9 {
		t.Fatalf("expected 9 entries, got %d", len(h))
	}

	kept, skipped := h.Split()
	if len(kept) != 2 || skipped != 7 {
		t.Fatalf("expected 2 kept / 7 skipped, got %d / %d", len(kept), skipped)
	}
	if got := RenderPrompt(h, "C"); got != "User: A\nAssistant: B\nUser: C\nAssistant:" {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestHistory_Last(t *testing.T) {
	h := History{{Content: "1"}, {Content: "2"}, {Content: "3"}}

	if got := h.Last(2); len(got) != 2 || got[0].Content != "2" {
		t.Errorf("expected last two turns, got %+v", got)
	}
	if got := h.Last(0); len(got) != 3 {
		t.Errorf("expected unlimited window to keep all turns, got %d", len(got))
	}
	if got := h.Last(10); len(got) != 3 {
		t.Errorf("expected short history unchanged, got %d", len(got))
	}
}

func TestCompletionRequest_Wire(t *testing.T) {
	req := NewCompletionRequest("User: Hi\nAssistant:", DefaultSampling())
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body) != 5 {
		t.Errorf("expected exactly 5 fields, got %v", body)
	}
	if body["n_predict"] != float64(512) || body["temperature"] != 0.7 || body["top_p"] != 0.9 {
		t.Errorf("unexpected sampling values: %v", body)
	}
	stop, _ := body["stop"].([]any)
	if len(stop) != 2 || stop[0] != "User:" || stop[1] != "\n\n" {
		t.Errorf("unexpected stop sequences: %v", body["stop"])
	}
}

func TestNewCompletionRequest_CopiesStop(t *testing.T) {
	s := DefaultSampling()
	req := NewCompletionRequest("p", s)
	s.Stop[0] = "mutated"
	if req.Stop[0] != "User:" {
		t.Error("expected request to own its stop list")
	}
}
