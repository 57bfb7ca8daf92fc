// Package bridge exposes the overlay commands (ask_llm, minimize_window,
// close_window) over HTTP for the webview UI.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/eos/internal/archive"
	"github.com/efebarandurmaz/eos/internal/gateway"
	"github.com/efebarandurmaz/eos/internal/llm"
	"github.com/efebarandurmaz/eos/internal/observability"
	"github.com/efebarandurmaz/eos/internal/window"
)

// Command names as invoked by the UI.
const (
	CommandAskLLM         = "ask_llm"
	CommandMinimizeWindow = "minimize_window"
	CommandCloseWindow    = "close_window"
)

// DefaultHistoryWindow is how many trailing turns ask_llm forwards.
const DefaultHistoryWindow = 10

// Asker is the completion capability the commands need.
type Asker interface {
	Ask(ctx context.Context, prompt string, history llm.History) (*gateway.Reply, error)
}

// Archive is the exchange log the commands write to and the API reads from.
type Archive interface {
	Record(ctx context.Context, e archive.Exchange) (archive.Exchange, error)
	Recent(ctx context.Context, limit int) ([]archive.Exchange, error)
}

// Options configures Commands. Only Asker is required.
type Options struct {
	Asker   Asker
	Window  window.Controller
	Archive Archive
	Metrics *observability.Metrics
	Hub     *Hub
	Logger  *slog.Logger

	// HistoryWindow limits forwarded turns; 0 forwards all of them.
	HistoryWindow int
	// EmptyReply is offered to the UI when the model returns nothing.
	EmptyReply string
}

// Commands implements the overlay commands. It holds no conversation state.
type Commands struct {
	asker         Asker
	window        window.Controller
	archive       Archive
	metrics       *observability.Metrics
	hub           *Hub
	logger        *slog.Logger
	historyWindow int
	emptyReply    string
}

// NewCommands builds the command set.
func NewCommands(opts Options) *Commands {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{
		asker:         opts.Asker,
		window:        opts.Window,
		archive:       opts.Archive,
		metrics:       opts.Metrics,
		hub:           opts.Hub,
		logger:        logger,
		historyWindow: opts.HistoryWindow,
		emptyReply:    opts.EmptyReply,
	}
}

// AskResult is what ask_llm returns to the UI.
type AskResult struct {
	Text string
	// Fallback is set when Text is empty.
	Fallback string
}

// AskLLM forwards prompt and the trailing history window to the gateway.
func (c *Commands) AskLLM(ctx context.Context, requestID, prompt string, history llm.History) (AskResult, error) {
	ctx, span := observability.StartCommandSpan(ctx, CommandAskLLM)
	defer span.End()

	history = history.Last(c.historyWindow)
	c.publish(&Event{Type: EventCompletionStarted, RequestID: requestID})

	reply, err := c.asker.Ask(ctx, prompt, history)
	c.observe(ctx, requestID, prompt, len(history), reply, err)
	if err != nil {
		observability.RecordError(span, err)
		return AskResult{}, err
	}

	res := AskResult{Text: reply.Text}
	if res.Text == "" {
		res.Fallback = c.emptyReply
	}
	return res, nil
}

// observe logs, counts, archives and announces a finished completion.
func (c *Commands) observe(ctx context.Context, requestID, prompt string, turns int, reply *gateway.Reply, err error) {
	var (
		text     string
		skipped  int
		duration time.Duration
	)
	if reply != nil {
		text = reply.Text
		skipped = reply.TurnsSkipped
		duration = reply.Duration
	}

	if skipped > 0 {
		c.logger.Debug("history turns skipped", "request_id", requestID, "skipped", skipped)
	}

	if c.metrics != nil {
		c.metrics.RecordCompletion(duration, string(llm.KindOf(err)))
		c.metrics.TurnsSkippedTotal.Add(float64(skipped))
	}

	exchange := archive.Exchange{
		RequestID:    requestID,
		Prompt:       prompt,
		Reply:        text,
		HistoryTurns: turns,
		LatencyMS:    duration.Milliseconds(),
	}
	if err != nil {
		exchange.Error = err.Error()
		c.logger.Warn("completion failed", "request_id", requestID, "error", err)
	}

	if c.archive != nil {
		if _, aerr := c.archive.Record(ctx, exchange); aerr != nil {
			c.logger.Warn("archive write failed", "request_id", requestID, "error", aerr)
		}
	}

	c.publish(&Event{
		Type:      EventCompletionFinished,
		RequestID: requestID,
		Data: map[string]any{
			"ok":         err == nil,
			"latency_ms": duration.Milliseconds(),
		},
	})
}

// MinimizeWindow asks the host to minimize the overlay.
func (c *Commands) MinimizeWindow(ctx context.Context) error {
	return c.windowCommand(ctx, CommandMinimizeWindow, window.Minimize)
}

// CloseWindow asks the host to close the overlay.
func (c *Commands) CloseWindow(ctx context.Context) error {
	return c.windowCommand(ctx, CommandCloseWindow, window.Close)
}

func (c *Commands) windowCommand(ctx context.Context, name string, fn func(window.Controller) error) error {
	_, span := observability.StartCommandSpan(ctx, name)
	defer span.End()

	err := fn(c.window)
	observability.RecordError(span, err)
	if c.metrics != nil {
		c.metrics.RecordWindowCommand(name, err)
	}
	if err != nil {
		c.logger.Info("window command failed", "command", name, "error", err)
	}
	return err
}

// ArchiveEnabled reports whether exchanges are being recorded.
func (c *Commands) ArchiveEnabled() bool { return c.archive != nil }

// Recent lists archived exchanges, or nil when the archive is disabled.
func (c *Commands) Recent(ctx context.Context, limit int) ([]archive.Exchange, error) {
	if c.archive == nil {
		return nil, nil
	}
	return c.archive.Recent(ctx, limit)
}

func (c *Commands) publish(ev *Event) {
	if c.hub != nil {
		c.hub.Broadcast(ev)
	}
}
