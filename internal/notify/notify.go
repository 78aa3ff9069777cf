// Package notify surfaces user-visible alerts.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// MsgTryAgain is shown when a workflow fails before anything was created.
	MsgTryAgain = "Something didnt work quite right. Please try again!"
	// MsgOpenDevtools is shown when a tab has no devtools channel.
	MsgOpenDevtools = "Please open devtools and try again"
)

// Notifier shows a message to the user. Implementations never fail the caller.
type Notifier interface {
	Alert(ctx context.Context, message string)
}

// Log writes alerts to the default logger.
type Log struct{}

func (Log) Alert(_ context.Context, message string) {
	slog.Warn("user alert", "message", message)
}

// HTTP posts alerts as plain text to an ntfy-style endpoint.
type HTTP struct {
	Endpoint string
	Client   *http.Client
}

func (h HTTP) Alert(ctx context.Context, message string) {
	if err := Send(ctx, h.Client, h.Endpoint, message); err != nil {
		slog.Error("user alert delivery failed", "endpoint", h.Endpoint, "error", err)
	}
}

// Multi fans an alert out to several notifiers.
type Multi []Notifier

func (m Multi) Alert(ctx context.Context, message string) {
	for _, n := range m {
		n.Alert(ctx, message)
	}
}

// New returns a log notifier, plus an HTTP notifier when endpoint is set.
func New(endpoint string, client *http.Client) Notifier {
	if endpoint == "" {
		return Log{}
	}
	return Multi{Log{}, HTTP{Endpoint: endpoint, Client: client}}
}

// Send posts message to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "StyleURL")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: alert delivery failed: status=%d", resp.StatusCode)
	}
	return nil
}
