package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/eos/internal/config"
	"github.com/efebarandurmaz/eos/internal/gateway"
	"github.com/efebarandurmaz/eos/internal/llm"
	"github.com/efebarandurmaz/eos/internal/llm/llamacpp"
)

func TestPromptFrom(t *testing.T) {
	got, err := promptFrom([]string{"hola", "mundo"}, strings.NewReader("ignored"))
	if err != nil || got != "hola mundo" {
		t.Fatalf("args: got %q, %v", got, err)
	}

	got, err = promptFrom(nil, strings.NewReader("from stdin\n"))
	if err != nil || got != "from stdin" {
		t.Fatalf("stdin: got %q, %v", got, err)
	}

	if _, err := promptFrom(nil, strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestLoadHistory(t *testing.T) {
	if h, err := loadHistory(""); err != nil || h != nil {
		t.Fatalf("empty path: got %v, %v", h, err)
	}

	path := filepath.Join(t.TempDir(), "history.json")
	data := `[{"role":"user","content":"A"},{"role":"assistant","content":"B"},{"role":"tool","content":"x"}]`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	h, err := loadHistory(path)
	if err != nil {
		t.Fatalf("loadHistory: %v", err)
	}
	kept, skipped := h.Split()
	if len(kept) != 2 || skipped != 1 {
		t.Fatalf("expected 2 kept and 1 skipped, got %d/%d", len(kept), skipped)
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(bad, []byte(`{"not":"an array"}`), 0o644)
	if _, err := loadHistory(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("expected JSON output, got %s", out)
	}

	buf.Reset()
	newLogger(config.LogConfig{Level: "bogus"}, &buf).Info("fallback")
	if !strings.Contains(buf.String(), "msg=fallback") {
		t.Fatalf("expected text output at info, got %s", buf.String())
	}
}

func TestRunRender(t *testing.T) {
	history := llm.History{
		{Role: llm.RoleUser, Content: "A"},
		{Role: llm.RoleAssistant, Content: "B"},
	}

	var buf bytes.Buffer
	if err := runRender("C", history, &buf); err != nil {
		t.Fatalf("runRender: %v", err)
	}
	want := "User: A\nAssistant: B\nUser: C\nAssistant:"
	if buf.String() != want {
		t.Fatalf("render output = %q, want %q", buf.String(), want)
	}
}

func testApp(t *testing.T, body string) *app {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	client := llamacpp.New(srv.URL+"/completion", time.Second)
	return &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		client: client,
		gw:     gateway.New(client, gateway.Config{Sampling: cfg.Sampling, Timeout: time.Second}),
	}
}

func TestRunAsk(t *testing.T) {
	a := testApp(t, `{"content":"  hola  "}`)

	var stdout, stderr bytes.Buffer
	if err := runAsk(context.Background(), a, "Hi", nil, &stdout, &stderr); err != nil {
		t.Fatalf("runAsk: %v", err)
	}
	if stdout.String() != "hola\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestRunAsk_EmptyReply(t *testing.T) {
	a := testApp(t, `{"content":"   "}`)

	var stdout, stderr bytes.Buffer
	if err := runAsk(context.Background(), a, "Hi", nil, &stdout, &stderr); err != nil {
		t.Fatalf("runAsk: %v", err)
	}
	if stdout.Len() != 0 {
		t.Fatalf("expected empty stdout, got %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "llama.cpp") {
		t.Fatalf("expected fallback message, got %q", stderr.String())
	}
}

func TestRunAsk_DecodeError(t *testing.T) {
	a := testApp(t, `not json`)

	err := runAsk(context.Background(), a, "Hi", nil, io.Discard, io.Discard)
	if err == nil || !strings.HasPrefix(err.Error(), "JSON parse error: ") {
		t.Fatalf("expected decode error, got %v", err)
	}
}
