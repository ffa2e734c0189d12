package runner

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// ScreenshotClient is the request/reply channel a TUI test harness exposes
// for capture requests. Every call is bounded by the channel timeout so a
// stuck harness never blocks the scenario.
type ScreenshotClient struct {
	conn    *websocket.Conn
	timeout time.Duration
}

type screenshotRequest struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

type screenshotReply struct {
	OK    bool   `json:"ok"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// DialScreenshot connects to the test-IPC endpoint. The caller treats a
// dial failure as fatal; the URI was explicitly requested.
func DialScreenshot(uri string, timeout time.Duration) (*ScreenshotClient, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.Dial(uri, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", uri, err)
	}
	return &ScreenshotClient{conn: conn, timeout: timeout}, nil
}

// Capture requests one screenshot and waits for the reply.
func (c *ScreenshotClient) Capture(label string) error {
	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(screenshotRequest{Type: "screenshot", Label: label}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	var reply screenshotReply
	if err := c.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("reply: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("capture rejected: %s", reply.Error)
	}
	return nil
}

// Close shuts the channel down.
func (c *ScreenshotClient) Close() error {
	return c.conn.Close()
}
