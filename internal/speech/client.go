// Package speech streams microphone audio to the local speech-to-text server
// and collects its transcriptions.
package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultURL            = "ws://127.0.0.1:8765/ws"
	DefaultConnectTimeout = 5 * time.Second
)

// Frame types exchanged with the speech server.
const (
	TypeAudio   = "audio"
	TypeFlush   = "flush"
	TypeReset   = "reset"
	TypePartial = "partial"
	TypeFinal   = "final"
)

// Frame is the JSON envelope for every websocket message.
type Frame struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Text string `json:"text,omitempty"`
}

// Result is a transcription received from the server.
type Result struct {
	Text  string
	Final bool
}

// Client is a connection to the speech server. Sends are safe for
// concurrent use; Listen must run in a single goroutine.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Dial connects to the speech server. An empty address uses DefaultURL and a
// non-positive timeout uses DefaultConnectTimeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if addr == "" {
		addr = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial speech server: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("write %s: %w", f.Type, err)
	}
	return nil
}

// SendAudio sends one frame of s16le audio.
func (c *Client) SendAudio(pcm []byte) error {
	return c.send(Frame{Type: TypeAudio, Data: base64.StdEncoding.EncodeToString(pcm)})
}

// Flush asks the server for a final transcription of the buffered audio.
func (c *Client) Flush() error {
	return c.send(Frame{Type: TypeFlush})
}

// Reset discards the server's buffered audio without transcribing it.
func (c *Client) Reset() error {
	return c.send(Frame{Type: TypeReset})
}

// Listen delivers partial and final results to handler until the connection
// closes or ctx is done. Frames that are not valid JSON or carry an unknown
// type are skipped. A normal close returns nil.
func (c *Client) Listen(ctx context.Context, handler func(Result)) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case TypePartial:
			handler(Result{Text: f.Text})
		case TypeFinal:
			handler(Result{Text: f.Text, Final: true})
		}
	}
}

// Close sends a close frame and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.conn.Close()
}

// HealthURL derives the HTTP health endpoint served next to a websocket URL.
func HealthURL(wsURL string) (string, error) {
	if wsURL == "" {
		wsURL = DefaultURL
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse speech url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}
