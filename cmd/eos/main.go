package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/eos/internal/config"
	"github.com/efebarandurmaz/eos/internal/gateway"
	"github.com/efebarandurmaz/eos/internal/llm"
	"github.com/efebarandurmaz/eos/internal/llm/llamacpp"
	"github.com/efebarandurmaz/eos/internal/observability"
	"github.com/efebarandurmaz/eos/internal/speech"
)

var version = "0.1.0"

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "eos",
		Short:         "Desktop overlay gateway for a local llama.cpp server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	var historyPath string

	askCmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send one prompt to the model and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), configPath, logLevel)
			if err != nil {
				return err
			}
			defer a.close()

			prompt, err := promptFrom(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			history, err := loadHistory(historyPath)
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), a, prompt, history, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	askCmd.Flags().StringVar(&historyPath, "history", "", "JSON file with prior turns ([{\"role\":...,\"content\":...}])")

	renderCmd := &cobra.Command{
		Use:   "render [prompt]",
		Short: "Print the prompt exactly as it would be sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := promptFrom(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			history, err := loadHistory(historyPath)
			if err != nil {
				return err
			}
			return runRender(prompt, history, cmd.OutOrStdout())
		},
	}
	renderCmd.Flags().StringVar(&historyPath, "history", "", "JSON file with prior turns")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP command bridge for the overlay UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), configPath, logLevel)
			if err != nil {
				return err
			}
			return runServe(a)
		},
	}

	var (
		audioPath   string
		audioFormat string
		andAsk      bool
	)
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Transcribe raw 16kHz mono audio through the speech server",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := speech.ParseFormat(audioFormat)
			if err != nil {
				return err
			}
			a, err := setup(cmd.Context(), configPath, logLevel)
			if err != nil {
				return err
			}
			defer a.close()
			return runListen(cmd.Context(), a, audioPath, format, andAsk, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	listenCmd.Flags().StringVar(&audioPath, "file", "", "Raw audio file, or - for stdin")
	listenCmd.Flags().StringVar(&audioFormat, "format", "s16le", "Sample encoding of the file (s16le or f32le)")
	listenCmd.Flags().BoolVar(&andAsk, "ask", false, "Send the transcription to the model")
	_ = listenCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(askCmd, renderCmd, serveCmd, listenCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app is the wiring shared by every command that talks to a server.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	tracer *observability.TracerProvider
	client *llamacpp.Client
	gw     *gateway.Gateway
}

func setup(ctx context.Context, configPath, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	for _, w := range cfg.Validate() {
		logger.Warn("config", "warning", w)
	}

	tracer, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "eos",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	client := llamacpp.New(cfg.Completion.Endpoint, cfg.Completion.Timeout)
	provider := llm.WrapWithRetry(client, &llm.RetryConfig{
		MaxRetries: cfg.Completion.MaxRetries,
		RetryDelay: cfg.Completion.RetryDelay,
		MaxDelay:   10 * cfg.Completion.RetryDelay,
		Timeout:    cfg.Completion.Timeout,
	})
	gw := gateway.New(provider, gateway.Config{
		Sampling: cfg.Sampling,
		Timeout:  cfg.Completion.Timeout,
	})

	return &app{cfg: cfg, logger: logger, tracer: tracer, client: client, gw: gw}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("tracing shutdown", "error", err)
	}
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// promptFrom joins args, or reads stdin when there are none.
func promptFrom(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimRight(string(data), "\r\n")
	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}

func loadHistory(path string) (llm.History, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	var history llm.History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}
	return history, nil
}

// runRender writes the prompt byte for byte as Complete would send it.
func runRender(prompt string, history llm.History, w io.Writer) error {
	kept, _ := history.Split()
	_, err := io.WriteString(w, gateway.Render(prompt, kept))
	return err
}

func runAsk(ctx context.Context, a *app, prompt string, history llm.History, stdout, stderr io.Writer) error {
	reply, err := a.gw.Ask(ctx, prompt, history)
	if err != nil {
		return err
	}
	if reply.TurnsSkipped > 0 {
		a.logger.Debug("history turns skipped", "skipped", reply.TurnsSkipped)
	}
	a.logger.Debug("completion finished",
		"duration", reply.Duration,
		"turns", reply.TurnsKept,
		"tokens_predicted", reply.Response.TokensPredicted,
	)

	if reply.Text == "" {
		fmt.Fprintln(stderr, a.cfg.UI.EmptyReply)
		return nil
	}
	fmt.Fprintln(stdout, reply.Text)
	return nil
}

func runListen(ctx context.Context, a *app, path string, format speech.Format, andAsk bool, stdout, stderr io.Writer) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open audio: %w", err)
		}
		defer f.Close()
		r = f
	}

	text, err := speech.Transcribe(ctx, a.cfg.Speech.URL, r, speech.Options{
		ConnectTimeout: a.cfg.Speech.ConnectTimeout,
		FinalGrace:     a.cfg.Speech.FinalGrace,
		Format:         format,
		OnPartial: func(s string) {
			a.logger.Debug("partial transcription", "text", s)
		},
	})
	if err != nil {
		return err
	}
	if text == "" {
		return errors.New("no speech recognised")
	}

	fmt.Fprintln(stdout, text)
	if !andAsk {
		return nil
	}
	return runAsk(ctx, a, text, nil, stdout, stderr)
}
