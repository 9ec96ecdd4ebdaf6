package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"manutenzioni/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookSink posts each alert as JSON, for instance to a chat bot endpoint.
type WebhookSink struct {
	URL    string
	Secret string
	Client *http.Client
}

func NewWebhookSink(url, secret string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSink{URL: url, Secret: secret, Client: &http.Client{Timeout: timeout}}
}

func (w *WebhookSink) Name() string { return "webhook:" + w.URL }

func (w *WebhookSink) Deliver(ctx context.Context, evt domain.AlertEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Manutenzioni-Alert", string(evt.Kind))
	req.Header.Set("X-Manutenzioni-Severity", evt.Severity)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Manutenzioni-Secret", w.Secret)
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
