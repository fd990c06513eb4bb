package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelbatch/internal/domain"
	"github.com/dunamismax/pixelbatch/internal/id"
)

const (
	HeaderSignature = "X-Pixelbatch-Signature"
	HeaderTimestamp = "X-Pixelbatch-Timestamp"
	HeaderEvent     = "X-Pixelbatch-Event"
	HeaderDelivery  = "X-Pixelbatch-Delivery"

	EventBatchCompleted = "batch.completed"
)

// BatchCompleted is the body of a batch.completed event.
type BatchCompleted struct {
	BatchID     string              `json:"batch_id"`
	Status      string              `json:"status"`
	Total       int                 `json:"total"`
	Succeeded   int                 `json:"succeeded"`
	Failed      int                 `json:"failed"`
	Items       []domain.ItemResult `json:"items,omitempty"`
	CompletedAt time.Time           `json:"completed_at"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 1 * time.Second
	}

	maxBackoff := cfg.MaxBackoff
	if maxBackoff < initialBackoff {
		maxBackoff = initialBackoff
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    maxAttempts,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
	}
}

func (c *Client) Send(ctx context.Context, endpoint, event string, payload any) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := c.sign(timestamp, body)
	// One id for every attempt so receivers can drop duplicates.
	delivery := id.New()

	backoff := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build webhook request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event)
		req.Header.Set(HeaderDelivery, delivery)

		resp, err := c.httpClient.Do(req)
		if err == nil && resp != nil {
			resp.Body.Close()
		}

		if err == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}

		lastErr = classifyWebhookError(err, resp)
		if errors.Is(lastErr, ErrRejected) {
			return lastErr
		}
		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = minDuration(backoff*2, c.maxBackoff)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) sign(timestamp string, body []byte) string {
	return Sign(c.signingSecret, timestamp, body)
}

// Sign returns the signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}

// ErrRejected marks a 4xx answer other than 408 and 429. The receiver will
// not change its mind, so the delivery is not retried.
var ErrRejected = errors.New("webhook rejected by receiver")

func classifyWebhookError(err error, resp *http.Response) error {
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("webhook request failed: no response")
	}
	switch code := resp.StatusCode; {
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: status=%d", ErrRejected, code)
	}
	return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
