// Package alert notifies operators when a reconciliation run degrades. The
// single channel is an outbound HTTP webhook whose payload is compatible with
// Slack/Discord/Teams incoming webhooks via the "text" field, while carrying
// structured run data in "payload" for custom integrations. Delivery is
// best-effort: the scheduler logs failures and moves on, and the SyncRun row
// remains the durable record either way.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rosterhq/roster/internal/db"
)

// Config holds the webhook settings. An empty URL disables delivery; every
// notification is then skipped silently.
type Config struct {
	URL string
	// Secret, when set, signs each request body with HMAC-SHA256. The
	// signature is sent as "sha256=<hex>" in the X-Roster-Signature header,
	// following the convention used by GitHub and Stripe webhooks.
	Secret string
}

// Notifier is what the scheduler calls when a run needs operator attention.
type Notifier interface {
	// RunDegraded delivers an alert for a run that finished failed or
	// partial. The run's Errors column (a JSON array) supplies the error
	// detail.
	RunDegraded(ctx context.Context, providerName string, run *db.SyncRun) error
}

// webhookPayload is the JSON body sent to the webhook endpoint.
type webhookPayload struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"text"` // "text" for Slack/Discord compatibility
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Webhook delivers alerts via an outbound HTTP POST. It implements Notifier.
type Webhook struct {
	cfg    Config
	client *http.Client
}

// New creates a Webhook from the given config.
func New(cfg Config) *Webhook {
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook URL is configured.
func (w *Webhook) Enabled() bool {
	return w.cfg.URL != ""
}

// RunDegraded posts one alert describing the degraded run. Failed runs
// aborted before touching the directory; partial runs applied changes but
// hit per-user errors.
func (w *Webhook) RunDegraded(ctx context.Context, providerName string, run *db.SyncRun) error {
	errs := []string{}
	if run.Errors != "" {
		_ = json.Unmarshal([]byte(run.Errors), &errs)
	}

	var typ, title, body string
	if run.Status == db.SyncRunFailed {
		typ = "sync.run.failed"
		title = "Directory sync failed"
		body = fmt.Sprintf("Reconciliation of provider %q aborted before any changes were applied.", providerName)
		if len(errs) > 0 {
			body += " " + errs[0]
		}
	} else {
		typ = "sync.run.partial"
		title = "Directory sync completed with errors"
		body = fmt.Sprintf("Reconciliation of provider %q finished with %d error(s).", providerName, len(errs))
	}

	payload := map[string]any{
		"run_id":      run.ID.String(),
		"provider_id": run.AuthenticationProviderID.String(),
		"team_id":     run.TeamID.String(),
		"status":      run.Status,
		"created":     run.Created,
		"updated":     run.Updated,
		"suspended":   run.Suspended,
		"reactivated": run.Reactivated,
		"unchanged":   run.Unchanged,
		"errors":      errs,
	}

	return w.send(ctx, typ, title, body, payload)
}

// send serializes the alert as JSON and POSTs it to the configured URL.
// Non-2xx responses are delivery failures, returned wrapped in ErrSendFailed.
func (w *Webhook) send(ctx context.Context, typ, title, body string, payload map[string]any) error {
	if !w.Enabled() {
		return nil
	}

	data, err := json.Marshal(webhookPayload{
		Type:      typ,
		Title:     title,
		Body:      body,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal payload: %s", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %s", ErrSendFailed, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Roster-Webhook/1.0")
	if w.cfg.Secret != "" {
		req.Header.Set("X-Roster-Signature", "sha256="+hmacSHA256(data, w.cfg.Secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned non-2xx status %d", ErrSendFailed, resp.StatusCode)
	}

	return nil
}

// hmacSHA256 computes an HMAC-SHA256 signature of data using secret,
// returned as a lowercase hex string.
func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
