package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rcrt-io/rcrt/pkg/models"
	"github.com/rcrt-io/rcrt/pkg/version"
)

// deliveryBody is the webhook wire format: the envelope plus a fetch
// hint. The record context itself never travels on the fabric.
type deliveryBody struct {
	models.EventEnvelope
	RecordURL string `json:"record_url,omitempty"`
}

// signBody computes the X-RCRT-Signature value for a payload.
func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received X-RCRT-Signature header against
// the body. Exported for receivers built on this module.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(signBody(secret, body)), []byte(signature))
}

// deliver runs one job to completion: attempts with exponential
// backoff and full jitter, then dead-letters on exhaustion.
func (d *Dispatcher) deliver(ctx context.Context, j *job) {
	body, err := d.encodeBody(j)
	if err != nil {
		d.logger.Error("failed to encode delivery body",
			"url", j.endpoint.URL, "error", err)
		return
	}

	maxAttempts := j.endpoint.RetryMax
	if maxAttempts <= 0 {
		maxAttempts = d.cfg.MaxAttempts
	}

	var (
		lastStatus int
		lastErr    string
	)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.backoff(attempt)):
			}
			d.metrics.WebhookDeliveries.WithLabelValues("retried").Inc()
		}

		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		status, err := d.post(ctx, j, body)
		d.sem.Release(1)

		if err != nil {
			lastErr = err.Error()
			lastStatus = 0
			continue
		}
		lastStatus = status
		lastErr = ""
		if status >= 200 && status < 300 {
			d.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		// 4xx other than 408/429 will not improve with retries.
		if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
			break
		}
	}

	d.metrics.WebhookDeliveries.WithLabelValues("dead_lettered").Inc()
	d.logger.Warn("webhook delivery exhausted, dead-lettering",
		"url", j.endpoint.URL, "record_id", j.envelope.RecordID,
		"last_status", lastStatus, "last_error", lastErr)

	var envelopeMap map[string]any
	if err := json.Unmarshal(body, &envelopeMap); err != nil {
		envelopeMap = map[string]any{"record_id": j.envelope.RecordID}
	}
	if err := d.store.InsertDLQ(ctx, &models.DLQEntry{
		OwnerID:    j.endpoint.OwnerID,
		AgentID:    j.endpoint.AgentID,
		TargetURL:  j.endpoint.URL,
		Envelope:   envelopeMap,
		Attempts:   maxAttempts,
		LastStatus: lastStatus,
		LastError:  lastErr,
	}); err != nil {
		d.logger.Error("failed to write DLQ entry", "url", j.endpoint.URL, "error", err)
	}
}

func (d *Dispatcher) encodeBody(j *job) ([]byte, error) {
	body := deliveryBody{EventEnvelope: j.envelope}
	if d.cfg.PublicBaseURL != "" {
		body.RecordURL = d.cfg.PublicBaseURL + "/api/v1/records/" + j.envelope.RecordID
	}
	return json.Marshal(body)
}

// backoff computes base*2^attempt with full jitter, capped.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	base := d.cfg.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base << uint(attempt-1)
	if d.cfg.BackoffCap > 0 && delay > d.cfg.BackoffCap {
		delay = d.cfg.BackoffCap
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

func (d *Dispatcher) post(ctx context.Context, j *job, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	req.Header.Set("X-RCRT-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if j.secret != "" {
		req.Header.Set("X-RCRT-Signature", signBody(j.secret, body))
	}
	for k, v := range j.endpoint.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// Redeliver replays a dead-lettered delivery once and removes the row
// on success.
func (d *Dispatcher) Redeliver(ctx context.Context, id models.Identity, entryID string) error {
	entry, err := d.store.GetDLQ(ctx, id, entryID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(entry.Envelope)
	if err != nil {
		return fmt.Errorf("failed to encode DLQ envelope: %w", err)
	}

	secret := ""
	if reg, err := d.store.GetAgentBypass(ctx, entry.OwnerID, entry.AgentID); err == nil {
		secret = reg.HMACSecret
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, entry.TargetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	req.Header.Set("X-RCRT-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if secret != "" {
		req.Header.Set("X-RCRT-Signature", signBody(secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("redelivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("redelivery failed with status %d", resp.StatusCode)
	}

	d.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	return d.store.DeleteDLQ(ctx, id, entryID)
}
