package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer mimics the speech server: it buffers audio, answers audio with a
// partial, and answers flush with a final containing the byte count.
type fakeServer struct {
	mu       sync.Mutex
	frames   []Frame
	received int

	// partialText, when set, is sent after every audio frame.
	partialText string
	// noFinal suppresses the final frame on flush.
	noFinal bool
	// garbage is sent before the final frame.
	garbage bool
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			f.mu.Lock()
			f.frames = append(f.frames, frame)
			f.mu.Unlock()

			switch frame.Type {
			case TypeAudio:
				data, _ := base64.StdEncoding.DecodeString(frame.Data)
				f.mu.Lock()
				f.received += len(data)
				f.mu.Unlock()
				if f.partialText != "" {
					conn.WriteJSON(Frame{Type: TypePartial, Text: f.partialText})
				}
			case TypeFlush:
				if f.garbage {
					conn.WriteMessage(websocket.TextMessage, []byte("not json"))
					conn.WriteJSON(Frame{Type: "mystery", Text: "ignored"})
				}
				if !f.noFinal {
					conn.WriteJSON(Frame{Type: TypeFinal, Text: "hola mundo"})
				}
			case TypeReset:
				f.mu.Lock()
				f.received = 0
				f.mu.Unlock()
			}
		}
	}
}

func (f *fakeServer) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Type
	}
	return out
}

func startFake(t *testing.T, f *fakeServer) string {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestClientFrames(t *testing.T) {
	fake := &fakeServer{}
	addr := startFake(t, fake)

	client, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)

	results := make(chan Result, 4)
	go client.Listen(context.Background(), func(r Result) { results <- r })

	require.NoError(t, client.SendAudio(EncodePCM16LE([]int16{1, 2, 3})))
	require.NoError(t, client.Reset())
	require.NoError(t, client.Flush())

	select {
	case r := <-results:
		assert.True(t, r.Final)
		assert.Equal(t, "hola mundo", r.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("no final result")
	}
	require.NoError(t, client.Close())

	assert.Equal(t, []string{TypeAudio, TypeReset, TypeFlush}, fake.types())
}

func TestListenSkipsMalformedFrames(t *testing.T) {
	fake := &fakeServer{garbage: true}
	addr := startFake(t, fake)

	client, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	defer client.Close()

	results := make(chan Result, 4)
	go client.Listen(context.Background(), func(r Result) { results <- r })
	require.NoError(t, client.Flush())

	select {
	case r := <-results:
		assert.Equal(t, Result{Text: "hola mundo", Final: true}, r)
	case <-time.After(2 * time.Second):
		t.Fatal("no final result")
	}
}

func TestListenStopsOnContextCancel(t *testing.T) {
	addr := startFake(t, &fakeServer{})

	client, err := Dial(context.Background(), addr, time.Second)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Listen(ctx, func(Result) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/ws", 500*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial speech server")
}

func TestTranscribe(t *testing.T) {
	fake := &fakeServer{}
	addr := startFake(t, fake)

	audio := bytes.Repeat([]byte{0x01, 0x00}, FrameSamples*2+10)
	text, err := Transcribe(context.Background(), addr, bytes.NewReader(audio), Options{})
	require.NoError(t, err)
	assert.Equal(t, "hola mundo", text)

	assert.Equal(t, []string{TypeAudio, TypeAudio, TypeAudio, TypeFlush}, fake.types())
	fake.mu.Lock()
	assert.Equal(t, len(audio), fake.received)
	fake.mu.Unlock()
}

func TestTranscribeDropsOddByte(t *testing.T) {
	fake := &fakeServer{}
	addr := startFake(t, fake)

	_, err := Transcribe(context.Background(), addr, bytes.NewReader([]byte{1, 0, 2}), Options{})
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.received)
}

func TestTranscribeFallsBackToPartial(t *testing.T) {
	fake := &fakeServer{partialText: "hola", noFinal: true}
	addr := startFake(t, fake)

	var partials []string
	var mu sync.Mutex
	text, err := Transcribe(context.Background(), addr, bytes.NewReader(make([]byte, 64)), Options{
		FinalGrace: 100 * time.Millisecond,
		OnPartial: func(s string) {
			mu.Lock()
			partials = append(partials, s)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hola", text)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"hola"}, partials)
}

func TestTranscribeEmptyAudio(t *testing.T) {
	fake := &fakeServer{noFinal: true}
	addr := startFake(t, fake)

	text, err := Transcribe(context.Background(), addr, bytes.NewReader(nil), Options{FinalGrace: 50 * time.Millisecond})
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Equal(t, []string{TypeFlush}, fake.types())
}

func TestTranscribeFloatAudio(t *testing.T) {
	fake := &fakeServer{}
	addr := startFake(t, fake)

	samples := FrameSamples + 3
	audio := make([]byte, samples*4+2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint32(audio[i*4:], math.Float32bits(0.5))
	}

	text, err := Transcribe(context.Background(), addr, bytes.NewReader(audio), Options{Format: FormatF32LE})
	require.NoError(t, err)
	assert.Equal(t, "hola mundo", text)
	assert.Equal(t, []string{TypeAudio, TypeAudio, TypeFlush}, fake.types())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, samples*2, fake.received)
	first, err := base64.StdEncoding.DecodeString(fake.frames[0].Data)
	require.NoError(t, err)
	assert.Len(t, first, FrameBytes)
	assert.Equal(t, []byte{0xff, 0x3f}, first[:2], "0.5 should encode as 16383")
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatS16LE, "s16le": FormatS16LE, "f32le": FormatF32LE} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("mp3")
	assert.Error(t, err)
}

func TestHealthURL(t *testing.T) {
	tests := map[string]string{
		"":                          "http://127.0.0.1:8765/health",
		"ws://127.0.0.1:8765/ws":    "http://127.0.0.1:8765/health",
		"wss://stt.local/ws?x=1":    "https://stt.local/health",
		"ws://10.0.0.2:9000/stream": "http://10.0.0.2:9000/health",
	}
	for in, want := range tests {
		got, err := HealthURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", in)
	}
}
