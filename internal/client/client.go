// Package client is the WebSocket client side of the coop session protocol:
// it dials a coop's /ws, runs the client half of the replay gate, and
// reconnects with backoff. The mux session tap and the attach CLI are both
// built on it.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/groblegark/coop/internal/gate"
	"github.com/groblegark/coop/internal/logger"
	"github.com/groblegark/coop/internal/wire"
)

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// Client maintains one logical connection to a coop's /ws.
type Client struct {
	// URL is the base ws endpoint, e.g. "ws://127.0.0.1:8080/ws".
	URL       string
	Token     string
	Subscribe []string // pty/state/screen; empty means all

	// OnBytes receives deduplicated terminal bytes. isFirst marks the first
	// replay of a connection: reset the terminal before writing.
	OnBytes func(data []byte, isFirst bool)
	// OnState receives state transitions.
	OnState func(sc wire.StateChange)
	// OnScreen receives screen snapshots.
	OnScreen func(sm wire.ScreenMsg)
	// OnExit receives the child exit notification.
	OnExit func(e wire.Exit)
	// OnConnState observes connection lifecycle ("connecting", "connected",
	// "disconnected").
	OnConnState func(state string, err error)

	gate gate.ReplayGate

	mu   sync.Mutex
	conn *websocket.Conn
}

// Run dials and serves until ctx is cancelled, reconnecting with jittered
// exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := NewBackoff(time.Second, 30*time.Second)
	c.notify("connecting", nil)
	for {
		connected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notify("disconnected", ctx.Err())
			return ctx.Err()
		}
		if connected {
			backoff.Reset()
		}
		c.notify("disconnected", err)
		delay := backoff.Next()
		logger.Debug("ws client disconnected", "url", c.URL, "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			c.notify("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
		c.notify("connecting", nil)
	}
}

func (c *Client) notify(state string, err error) {
	if c.OnConnState != nil {
		c.OnConnState(state, err)
	}
}

func (c *Client) dialURL() string {
	url := c.URL
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	if len(c.Subscribe) > 0 {
		url += sep + "subscribe=" + strings.Join(c.Subscribe, ",")
		sep = "&"
	}
	if c.Token != "" {
		url += sep + "token=" + c.Token
	}
	return url
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, err error) {
	conn, _, dialErr := websocket.Dial(ctx, c.dialURL(), nil)
	if dialErr != nil {
		return false, fmt.Errorf("dial: %w", dialErr)
	}
	conn.SetReadLimit(4 * 1024 * 1024)
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer conn.CloseNow()

	// Fresh connection, fresh gate: the server sends a new replay prefix and
	// stale in-flight output must not leak past it.
	c.gate.Reset()
	c.notify("connected", nil)

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case wire.TypeReplay:
			var msg wire.Replay
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				continue
			}
			act, ok := c.gate.OnReplay(len(raw), msg.NextOffset)
			if !ok {
				continue
			}
			if c.OnBytes != nil {
				c.OnBytes(raw[act.Skip:], act.IsFirst)
			}

		case wire.TypeOutput:
			var msg wire.Output
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				continue
			}
			skip, ok := c.gate.OnPTY(len(raw), msg.Offset)
			if !ok {
				continue
			}
			if c.OnBytes != nil {
				c.OnBytes(raw[skip:], false)
			}

		case wire.TypeStateChange:
			var msg wire.StateChange
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			// A completed credential switch restarts the byte stream at
			// offset zero; request a fresh replay through a pending gate.
			if msg.Switched != nil {
				c.gate.Reset()
				c.RequestReplay(ctx, 0)
			}
			if c.OnState != nil {
				c.OnState(msg)
			}

		case wire.TypeScreen:
			var msg wire.ScreenMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if c.OnScreen != nil {
				c.OnScreen(msg)
			}

		case wire.TypeExit:
			var msg wire.Exit
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if c.OnExit != nil {
				c.OnExit(msg)
			}

		case wire.TypeError:
			var msg wire.ErrorMsg
			json.Unmarshal(data, &msg)
			logger.Warn("ws server error", "code", msg.Code, "message", msg.Message)

		case wire.TypePong:
			// keepalive answered
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(ctx, wire.Envelope{Type: wire.TypePing}); err != nil {
				return
			}
		}
	}
}

// Send marshals and writes one message on the current connection.
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// SendAuth upgrades the connection for write operations.
func (c *Client) SendAuth(ctx context.Context) error {
	return c.Send(ctx, wire.Auth{Type: wire.TypeAuth, Token: c.Token})
}

// SendInput types text into the remote agent.
func (c *Client) SendInput(ctx context.Context, text string, enter bool) error {
	return c.Send(ctx, wire.Input{Type: wire.TypeInput, Text: text, Enter: enter})
}

// SendRaw writes bytes verbatim into the remote PTY.
func (c *Client) SendRaw(ctx context.Context, data []byte) error {
	return c.Send(ctx, wire.InputRaw{
		Type: wire.TypeInputRaw,
		Data: base64.StdEncoding.EncodeToString(data),
	})
}

// SendResize propagates local terminal dimensions.
func (c *Client) SendResize(ctx context.Context, cols, rows int) error {
	return c.Send(ctx, wire.ResizeMsg{Type: wire.TypeResize, Cols: cols, Rows: rows})
}

// RequestReplay asks for retransmission from an absolute offset.
func (c *Client) RequestReplay(ctx context.Context, offset int64) error {
	return c.Send(ctx, wire.ReplayReq{Type: wire.TypeReplayRequest, Offset: offset})
}
