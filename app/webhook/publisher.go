package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetryAfter = time.Second
	maxRetryAfter     = 10 * time.Second
	maxBodyExcerpt    = 200
)

type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %q", e.StatusCode, e.Body)
}

type Options struct {
	URL       string
	UserAgent string
	Timeout   time.Duration
	PostDelay time.Duration
}

// Publisher posts messages to a single webhook, one at a time.
type Publisher struct {
	httpClient *http.Client
	url        string
	userAgent  string
	timeout    time.Duration
	postDelay  time.Duration
	timer      backoff.Timer
}

func NewPublisher(httpClient *http.Client, opts Options) *Publisher {
	return &Publisher{
		httpClient: httpClient,
		url:        opts.URL,
		userAgent:  opts.UserAgent,
		timeout:    opts.Timeout,
		postDelay:  opts.PostDelay,
	}
}

// Post delivers content. A 429 response is retried once after the server's
// Retry-After hint; any other failure is returned immediately.
func (p *Publisher) Post(ctx context.Context, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	hint := &retryAfterBackOff{}
	operation := func() error {
		status, header, body, err := p.send(ctx, payload)
		if err != nil {
			return backoff.Permanent(err)
		}

		switch status {
		case http.StatusOK, http.StatusNoContent:
			return nil
		case http.StatusTooManyRequests:
			hint.wait = retryAfter(header)
			return &StatusError{StatusCode: status, Body: body}
		default:
			return backoff.Permanent(&StatusError{StatusCode: status, Body: body})
		}
	}

	notify := func(err error, wait time.Duration) {
		slog.InfoContext(ctx, "Webhook rate limited, retrying", "wait", wait, "error", err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(hint, 1), ctx)
	return backoff.RetryNotifyWithTimer(operation, b, notify, p.timer)
}

// Pause waits the configured delay between posts.
func (p *Publisher) Pause(ctx context.Context) {
	if p.postDelay <= 0 {
		return
	}

	t := time.NewTimer(p.postDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *Publisher) send(ctx context.Context, payload []byte) (int, http.Header, string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyExcerpt))
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, resp.Header, string(excerpt), nil
}

// retryAfter reads the Retry-After header as seconds, clamped to [0, 10s].
func retryAfter(h http.Header) time.Duration {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return defaultRetryAfter
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if (err != nil && !errors.Is(err, strconv.ErrRange)) || math.IsNaN(seconds) {
		return defaultRetryAfter
	}

	seconds = min(max(seconds, 0), maxRetryAfter.Seconds())
	return time.Duration(seconds * float64(time.Second))
}

// retryAfterBackOff waits whatever the last 429 response asked for.
type retryAfterBackOff struct {
	wait time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	return b.wait
}

func (b *retryAfterBackOff) Reset() {}
