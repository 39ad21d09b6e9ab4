package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/star/driftcast/internal/metrics"
)

const writeDeadline = 30 * time.Second

// client writes SSE frames to one connection and keeps per-stream counters.
type client struct {
	w       io.Writer
	flusher http.Flusher
	rc      *http.ResponseController
	ip      string
	logger  *slog.Logger

	messagesSent int64
	bytesSent    int64
}

// writeFrame writes one complete SSE frame and flushes it. The write
// deadline is pushed forward first because the handler clears the
// server-wide WriteTimeout.
func (c *client) writeFrame(frame string) error {
	if c.rc != nil {
		if err := c.rc.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			c.logger.Debug("could not set write deadline", "component", "stream", "remote_ip", c.ip, "error", err)
		}
	}
	n, err := io.WriteString(c.w, frame)
	c.bytesSent += int64(n)
	metrics.AddStreamBytes(int64(n))
	if err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// sendJSON sends v as a "data:" message.
func (c *client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := c.writeFrame("data: " + string(data) + "\n\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.messagesSent++
	metrics.IncStreamMessages()
	return nil
}

// sendRetry sets the browser's reconnect delay.
func (c *client) sendRetry(ms int) error {
	if err := c.writeFrame(fmt.Sprintf("retry: %d\n\n", ms)); err != nil {
		return fmt.Errorf("retry write: %w", err)
	}
	return nil
}

// sendKeepalive sends an empty comment frame.
func (c *client) sendKeepalive() error {
	if err := c.writeFrame(":\n\n"); err != nil {
		return fmt.Errorf("keepalive write: %w", err)
	}
	return nil
}
