package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDefaultShutdownConfig(t *testing.T) {
	cfg := DefaultShutdownConfig()
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %v", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(cfg.Signals))
	}
}

func TestShutdownHandler_HookPriority(t *testing.T) {
	h := NewShutdownHandler(nil)

	h.RegisterHook("low", 100, func(ctx context.Context) error { return nil })
	h.RegisterHook("high", 10, func(ctx context.Context) error { return nil })
	h.RegisterHook("mid", 50, func(ctx context.Context) error { return nil })

	var names []string
	for _, hook := range h.hooks {
		names = append(names, hook.Name)
	}
	if strings.Join(names, ",") != "high,mid,low" {
		t.Fatalf("unexpected order: %v", names)
	}
}

func TestShutdownHandler_BridgeTracingArchiveOrder(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})

	var order []string
	h.Register(ArchiveShutdownHook(func() error {
		order = append(order, "archive")
		return nil
	}))
	h.Register(TracingShutdownHook(func(ctx context.Context) error {
		order = append(order, "tracing")
		return nil
	}))
	h.Register(HTTPServerShutdownHook("bridge", func(ctx context.Context) error {
		order = append(order, "bridge")
		return nil
	}))

	h.Start()
	h.Shutdown()
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown timed out")
	}

	if strings.Join(order, ",") != "bridge,tracing,archive" {
		t.Fatalf("unexpected order: %v", order)
	}
}

func TestShutdownHandler_HookWithError(t *testing.T) {
	var buf bytes.Buffer
	h := NewShutdownHandler(&ShutdownConfig{
		Timeout: 5 * time.Second,
		Logger:  slog.New(slog.NewTextHandler(&buf, nil)),
	})

	var called bool
	h.RegisterHook("failing", 10, func(ctx context.Context) error {
		return errors.New("hook failed")
	})
	h.RegisterHook("after", 20, func(ctx context.Context) error {
		called = true
		return nil
	})

	h.Start()
	h.Shutdown()
	h.Wait()

	if !called {
		t.Fatal("expected second hook to be called despite first failing")
	}
	if !strings.Contains(buf.String(), "hook=failing") {
		t.Fatalf("expected failure to be logged, got %q", buf.String())
	}
}

func TestShutdownHandler_HooksShareDeadline(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})

	var deadline time.Time
	var ok bool
	h.RegisterHook("deadline-check", 10, func(ctx context.Context) error {
		deadline, ok = ctx.Deadline()
		return nil
	})

	h.Start()
	h.Shutdown()
	h.Wait()

	if !ok || time.Until(deadline) > time.Second {
		t.Fatalf("expected a deadline within 1s, got %v (set=%v)", deadline, ok)
	}
}

func TestShutdownHandler_WaitWithTimeout_Timeout(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 10 * time.Second})

	release := make(chan struct{})
	defer close(release)
	h.RegisterHook("slow", 10, func(ctx context.Context) error {
		<-release
		return nil
	})

	h.Start()
	h.Shutdown()

	if h.WaitWithTimeout(100 * time.Millisecond) {
		t.Fatal("expected timeout")
	}
}

func TestShutdownHandler_DoubleStartAndShutdown(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})

	h.Start()
	h.Start()
	h.Shutdown()
	h.Shutdown()

	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown timed out")
	}
}

func TestShutdownHandler_ShutdownBeforeStart(t *testing.T) {
	h := NewShutdownHandler(nil)
	h.Shutdown()

	select {
	case <-h.Done():
		t.Fatal("shutdown before Start should be a no-op")
	default:
	}
}

func TestArchiveShutdownHook(t *testing.T) {
	want := errors.New("close failed")
	hook := ArchiveShutdownHook(func() error { return want })

	if hook.Name != "archive" || hook.Priority != 90 {
		t.Fatalf("unexpected hook: %+v", hook)
	}
	if err := hook.Fn(context.Background()); !errors.Is(err, want) {
		t.Fatalf("expected close error, got %v", err)
	}
}
