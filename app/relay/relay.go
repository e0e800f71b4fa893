package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/logger"
	"github.com/lysyi3m/rss-relay/app/metrics"
	"github.com/lysyi3m/rss-relay/app/state"
	"github.com/lysyi3m/rss-relay/app/tasks"
)

// ErrConfiguration marks errors that stop a run before any fetch happens.
var ErrConfiguration = errors.New("configuration error")

type Publisher interface {
	Post(ctx context.Context, content string) error
	Pause(ctx context.Context)
}

type Options struct {
	WebhookURL string
	MaxPerRun  int
	Icon       string
}

// Summary describes the outcome of one run.
type Summary struct {
	RunID         string        `json:"run_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Feeds         int           `json:"feeds"`
	Fetched       int           `json:"fetched"`
	NotModified   int           `json:"not_modified"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	TotalItems    int           `json:"total_items"`
	Filtered      int           `json:"filtered"`
	Selected      int           `json:"selected"`
	Posted        int           `json:"posted"`
	PublishFailed int           `json:"publish_failed"`
}

// Relay runs the fetch, select, publish and persist cycle. Runs are
// serialized; the seen and meta stores are only touched by the goroutine
// calling Run.
type Relay struct {
	registry  *feed.Registry
	scheduler tasks.FetchScheduler
	publisher Publisher
	seenStore state.SeenStore
	metaStore state.MetaStore
	filterer  *feed.Filterer
	metrics   *metrics.Metrics
	opts      Options
	mu        sync.Mutex
}

func New(registry *feed.Registry, scheduler tasks.FetchScheduler, publisher Publisher,
	seenStore state.SeenStore, metaStore state.MetaStore, m *metrics.Metrics, opts Options) *Relay {
	return &Relay{
		registry:  registry,
		scheduler: scheduler,
		publisher: publisher,
		seenStore: seenStore,
		metaStore: metaStore,
		filterer:  feed.NewFilterer(),
		metrics:   m,
		opts:      opts,
	}
}

// Validate reports configuration problems as ErrConfiguration.
func Validate(opts Options, registry *feed.Registry) error {
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return fmt.Errorf("%w: webhook URL is not set", ErrConfiguration)
	}
	if registry == nil || registry.Len() == 0 {
		return fmt.Errorf("%w: no feeds configured", ErrConfiguration)
	}
	return nil
}

// Run performs one relay cycle. Only configuration problems and an
// unreadable seen store are returned as errors; per-feed and per-item
// failures are logged and counted in the Summary.
func (r *Relay) Run(ctx context.Context) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := Summary{RunID: uuid.NewString(), StartedAt: time.Now()}
	ctx = logger.WithRunID(ctx, summary.RunID)

	if err := Validate(r.opts, r.registry); err != nil {
		return summary, err
	}

	urls := r.registry.URLs()
	summary.Feeds = len(urls)
	slog.InfoContext(ctx, "Run started", "feeds", len(urls), "max_per_run", r.opts.MaxPerRun)

	seen, err := r.seenStore.LoadSeen(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load seen store: %w", err)
	}
	initialSeen := seen.Len()

	meta, err := r.metaStore.LoadMeta(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Failed to load feed validators, fetching unconditionally", "error", err)
		meta = state.Metadata{}
	}

	batch := r.scheduler.Run(ctx, urls, meta)
	summary.Skipped = len(batch.Skipped)
	r.metrics.ObserveSkipped(len(batch.Skipped))

	items, fresh := r.collect(ctx, batch.Results, &summary)

	candidates := feed.Select(items, seen.Has, r.opts.MaxPerRun)
	summary.Selected = len(candidates)

	for i, c := range candidates {
		if ctx.Err() != nil {
			slog.WarnContext(ctx, "Run cancelled, remaining items left for the next run", "remaining", len(candidates)-i)
			break
		}

		content := feed.FormatMessage(r.opts.Icon, r.feedName(c.FeedURL), c.Item)
		if err := r.publisher.Post(ctx, content); err != nil {
			summary.PublishFailed++
			r.metrics.ObservePost(false)
			slog.WarnContext(ctx, "Webhook post failed", "url", c.FeedURL, "title", c.Title, "error", err)
			continue
		}

		seen.Add(c.Key)
		summary.Posted++
		r.metrics.ObservePost(true)
		slog.InfoContext(ctx, "Item posted", "url", c.FeedURL, "title", c.Title, "link", c.Link)

		if i < len(candidates)-1 {
			r.publisher.Pause(ctx)
		}
	}

	if seen.Len() > initialSeen {
		if err := r.seenStore.SaveSeen(ctx, seen); err != nil {
			slog.ErrorContext(ctx, "Failed to save seen store", "error", err)
		}
	}

	for feedURL, v := range fresh {
		meta[feedURL] = state.MergeValidators(meta[feedURL], v)
	}
	if err := r.metaStore.SaveMeta(ctx, meta); err != nil {
		slog.ErrorContext(ctx, "Failed to save feed validators", "error", err)
	}

	summary.Duration = time.Since(summary.StartedAt)
	r.metrics.ObserveRun(summary.Duration, seen.Len())

	slog.InfoContext(ctx, "Run complete",
		"posted", summary.Posted,
		"total_items", summary.TotalItems,
		"fetched", summary.Fetched,
		"not_modified", summary.NotModified,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"publish_failed", summary.PublishFailed,
		"duration", summary.Duration)

	return summary, nil
}

// collect merges the items of completed fetches after per-feed filters and
// gathers the validators returned by feeds that were fetched and parsed.
func (r *Relay) collect(ctx context.Context, results []tasks.FetchResult, summary *Summary) ([]feed.Item, state.Metadata) {
	var items []feed.Item
	fresh := state.Metadata{}

	for _, result := range results {
		r.metrics.ObserveFetch(string(result.Outcome), result.Duration, len(result.Items))

		switch result.Outcome {
		case tasks.OutcomeNotModified:
			summary.NotModified++
			continue
		case tasks.OutcomeFetched:
			summary.Fetched++
		default:
			summary.Failed++
			continue
		}

		if !result.Validators.Empty() {
			fresh[result.URL] = result.Validators
		}

		summary.TotalItems += len(result.Items)
		src, _ := r.registry.Lookup(result.URL)
		kept := r.filterer.Run(result.Items, src.Filters, func(item feed.Item, reason string) {
			summary.Filtered++
			slog.DebugContext(ctx, "Item filtered", "url", result.URL, "title", item.Title, "reason", reason)
		})
		items = append(items, kept...)
	}

	return items, fresh
}

func (r *Relay) feedName(feedURL string) string {
	if src, ok := r.registry.Lookup(feedURL); ok && src.Name != "" {
		return src.Name
	}
	return feed.DisplayName(feedURL)
}
