package tasks

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/state"
)

const maxBodySize = 16 << 20

type Outcome string

const (
	OutcomeFetched     Outcome = "fetched"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeFetchFailed Outcome = "fetch_failed"
	OutcomeParseFailed Outcome = "parse_failed"
)

// FetchResult is what a completed fetch contributes to a run. Validators
// holds the values returned by the server, not the merged cache entry.
type FetchResult struct {
	Index      int
	URL        string
	Outcome    Outcome
	Items      []feed.Item
	Validators state.Validators
	Err        error
	Duration   time.Duration
}

// Failed reports whether the fetch contributed nothing because of an error.
func (r FetchResult) Failed() bool {
	return r.Outcome == OutcomeFetchFailed || r.Outcome == OutcomeParseFailed
}

type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

var _ TaskInterface = (*FetchFeedTask)(nil)

type FetchFeedTask struct {
	Task
	Index      int
	cached     state.Validators
	httpClient *http.Client
	parser     *feed.Parser
	userAgent  string
	timeout    time.Duration
	Result     FetchResult
}

func NewFetchFeedTask(index int, feedURL string, cached state.Validators, httpClient *http.Client, parser *feed.Parser, userAgent string, timeout time.Duration) *FetchFeedTask {
	return &FetchFeedTask{
		Task:       NewTask(TaskTypeFetchFeed, feedURL),
		Index:      index,
		cached:     cached,
		httpClient: httpClient,
		parser:     parser,
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Execute always fills Result. The returned error mirrors Result.Err.
func (t *FetchFeedTask) GetResult() FetchResult {
	return t.Result
}

func (t *FetchFeedTask) Execute(ctx context.Context) error {
	t.Result = FetchResult{Index: t.Index, URL: t.FeedURL}
	defer func() { t.Result.Duration = t.GetDuration() }()

	status, header, data, err := t.fetchFeed(ctx)
	if err != nil {
		t.Result.Outcome = OutcomeFetchFailed
		t.Result.Err = err
		return err
	}

	if status == http.StatusNotModified {
		t.Result.Outcome = OutcomeNotModified
		slog.DebugContext(ctx, "Feed not modified", "url", t.FeedURL)
		return nil
	}

	t.Result.Validators = state.ValidatorsFromHeader(header)

	items, err := t.parser.Run(t.FeedURL, data)
	if err != nil {
		t.Result.Outcome = OutcomeParseFailed
		t.Result.Err = fmt.Errorf("failed to parse feed: %w", err)
		return t.Result.Err
	}

	t.Result.Outcome = OutcomeFetched
	t.Result.Items = items
	slog.DebugContext(ctx, "Feed fetched", "url", t.FeedURL, "items", len(items), "duration", t.GetDuration())
	return nil
}

func (t *FetchFeedTask) fetchFeed(ctx context.Context) (int, http.Header, []byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, t.FeedURL, nil)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if t.cached.ETag != "" {
		req.Header.Set("If-None-Match", t.cached.ETag)
	}
	if t.cached.LastModified != "" {
		req.Header.Set("If-Modified-Since", t.cached.LastModified)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return resp.StatusCode, resp.Header, nil, nil
	case http.StatusOK:
	default:
		return resp.StatusCode, resp.Header, nil, &StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, resp.Header, decodeBody(data, resp.Header.Get("Content-Encoding")), nil
}

// decodeBody undoes gzip or deflate content coding. Bodies that fail to
// decode are returned unchanged.
func decodeBody(data []byte, encoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return data
		}
		return readAllOr(r, data)
	case "deflate":
		if r, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			if out, err := readLimited(r); err == nil {
				return out
			}
		}
		return readAllOr(flate.NewReader(bytes.NewReader(data)), data)
	default:
		return data
	}
}

func readAllOr(r io.ReadCloser, fallback []byte) []byte {
	out, err := readLimited(r)
	if err != nil {
		return fallback
	}
	return out
}

func readLimited(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxBodySize))
}
