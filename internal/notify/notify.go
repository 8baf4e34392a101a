package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/comfforts/logger"
)

// DefaultTimeout bounds a single alert delivery.
const DefaultTimeout = 5 * time.Second

// Webhook posts {"content": message} to a chat webhook (Discord style).
// Delivery is best effort: failures are logged, never returned.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a notifier for url. An empty url makes every Notify a logged no-op.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) Notify(ctx context.Context, message string) {
	l, err := logger.LoggerFromContext(ctx)
	if err != nil {
		l = logger.GetSlogLogger()
	}

	if w.url == "" {
		l.Info("notify: webhook url not configured, skipping alert", "message", message)
		return
	}

	if err := w.post(ctx, message); err != nil {
		l.Warn("notify: alert not delivered", "message", message, "error", err.Error())
	}
}

func (w *Webhook) post(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return err
	}

	// alerts go out even when the run context is already cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Nop discards alerts.
type Nop struct{}

func (Nop) Notify(ctx context.Context, message string) {}
