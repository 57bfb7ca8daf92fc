package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/efebarandurmaz/eos/internal/observability"
)

// DefaultFinalGrace is how long Transcribe waits for the final result after
// the last frame it saw from the server.
const DefaultFinalGrace = time.Second

// Format is the sample encoding of the audio handed to Transcribe.
type Format string

const (
	FormatS16LE Format = "s16le"
	FormatF32LE Format = "f32le"
)

// ParseFormat accepts "s16le", "f32le" or "" (s16le).
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatS16LE:
		return FormatS16LE, nil
	case FormatF32LE:
		return FormatF32LE, nil
	}
	return "", fmt.Errorf("unknown audio format %q (want s16le or f32le)", s)
}

// Options tune a Transcribe call. The zero value uses the defaults.
type Options struct {
	ConnectTimeout time.Duration
	FinalGrace     time.Duration
	// Format of r. f32le input is converted to s16le frames before sending.
	Format    Format
	OnPartial func(text string)
}

// Transcribe streams raw 16kHz mono audio from r to the speech server,
// flushes, and returns the final transcription. If no final result arrives
// within the grace period the latest partial text is returned instead.
func Transcribe(ctx context.Context, addr string, r io.Reader, opts Options) (string, error) {
	if addr == "" {
		addr = DefaultURL
	}
	grace := opts.FinalGrace
	if grace <= 0 {
		grace = DefaultFinalGrace
	}

	ctx, span := observability.StartSpeechSpan(ctx, addr)
	defer span.End()

	stream := streamAudio
	if opts.Format == FormatF32LE {
		stream = streamFloat
	}

	text, err := transcribe(ctx, addr, r, stream, opts.ConnectTimeout, grace, opts.OnPartial)
	observability.RecordError(span, err)
	return text, err
}

func transcribe(ctx context.Context, addr string, r io.Reader, stream func(context.Context, *Client, io.Reader) error, connectTimeout, grace time.Duration, onPartial func(string)) (string, error) {
	client, err := Dial(ctx, addr, connectTimeout)
	if err != nil {
		return "", err
	}
	defer client.Close()

	var (
		mu      sync.Mutex
		partial string
	)
	final := make(chan string, 1)
	activity := make(chan struct{}, 1)

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- client.Listen(listenCtx, func(res Result) {
			if res.Final {
				select {
				case final <- res.Text:
				default:
				}
				return
			}
			mu.Lock()
			partial = res.Text
			mu.Unlock()
			select {
			case activity <- struct{}{}:
			default:
			}
			if onPartial != nil {
				onPartial(res.Text)
			}
		})
	}()

	if err := stream(ctx, client, r); err != nil {
		return "", err
	}
	if err := client.Flush(); err != nil {
		return "", err
	}

	latest := func() string {
		mu.Lock()
		defer mu.Unlock()
		return partial
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case text := <-final:
			return text, nil
		case <-activity:
			timer.Reset(grace)
		case err := <-listenErr:
			select {
			case text := <-final:
				return text, nil
			default:
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return latest(), err
			}
			return latest(), nil
		case <-timer.C:
			return latest(), nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// streamAudio sends r in FrameBytes chunks. A trailing odd byte is dropped.
func streamAudio(ctx context.Context, client *Client, r io.Reader) error {
	buf := make([]byte, FrameBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n -= n % 2; n > 0 {
			if sendErr := client.SendAudio(buf[:n]); sendErr != nil {
				return sendErr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read audio: %w", err)
		}
	}
}

// streamFloat converts f32le samples to s16le and sends them in FrameSamples
// frames, the last one possibly short. A trailing partial sample is dropped.
func streamFloat(ctx context.Context, client *Client, r io.Reader) error {
	chunker := NewChunker(FrameSamples)
	buf := make([]byte, FrameSamples*4)
	samples := make([]float32, 0, FrameSamples)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		n -= n % 4
		samples = samples[:0]
		for i := 0; i < n; i += 4 {
			samples = append(samples, math.Float32frombits(binary.LittleEndian.Uint32(buf[i:])))
		}
		for _, frame := range chunker.Write(samples) {
			if sendErr := client.SendAudio(EncodePCM16LE(frame)); sendErr != nil {
				return sendErr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			if frame := chunker.Flush(); frame != nil {
				return client.SendAudio(EncodePCM16LE(frame))
			}
			return nil
		default:
			return fmt.Errorf("read audio: %w", err)
		}
	}
}
