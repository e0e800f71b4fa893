package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/metrics"
	"github.com/lysyi3m/rss-relay/app/state"
	"github.com/lysyi3m/rss-relay/app/tasks"
)

type fakePublisher struct {
	posts  []string
	pauses int
	fail   func(content string) bool
}

func (p *fakePublisher) Post(_ context.Context, content string) error {
	if p.fail != nil && p.fail(content) {
		return errors.New("HTTP 500")
	}
	p.posts = append(p.posts, content)
	return nil
}

func (p *fakePublisher) Pause(context.Context) {
	p.pauses++
}

type fixture struct {
	relay     *Relay
	publisher *fakePublisher
	seenStore *state.FileSeenStore
	metaStore *state.FileMetaStore
}

func newFixture(t *testing.T, sources []feed.Source, opts Options) *fixture {
	t.Helper()

	dir := t.TempDir()
	f := &fixture{
		publisher: &fakePublisher{},
		seenStore: state.NewFileSeenStore(filepath.Join(dir, "relay.seen")),
		metaStore: state.NewFileMetaStore(filepath.Join(dir, "relay.meta.json")),
	}
	scheduler := tasks.NewScheduler(http.DefaultClient, feed.NewParser(), tasks.Options{
		UserAgent:   "rss-relay-test/1.0",
		Timeout:     5 * time.Second,
		WorkerCount: 4,
		Budget:      5 * time.Second,
	})
	f.relay = New(feed.NewRegistry(sources), scheduler, f.publisher, f.seenStore, f.metaStore, metrics.New(), opts)
	return f
}

func (f *fixture) seen(t *testing.T) state.KeySet {
	t.Helper()
	keys, err := f.seenStore.LoadSeen(context.Background())
	require.NoError(t, err)
	return keys
}

func rssWithItems(n int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>`)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "<item><title>Item %02d</title><link>https://example.com/%d</link><guid>%d</guid><pubDate>%s</pubDate></item>",
			i, i, i, base.Add(time.Duration(i)*time.Hour).Format(time.RFC1123Z))
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func feedServer(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunPostsNewestItemsUpToQuota(t *testing.T) {
	server := feedServer(t, rssWithItems(10), nil)
	f := newFixture(t, []feed.Source{{URL: server.URL + "/feed.xml"}}, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 5})

	summary, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Posted)
	assert.Equal(t, 10, summary.TotalItems)
	require.Len(t, f.publisher.posts, 5)
	for i, post := range f.publisher.posts {
		assert.Contains(t, post, fmt.Sprintf("Item %02d", 10-i))
	}
	assert.Equal(t, 4, f.publisher.pauses)
	assert.Equal(t, 5, f.seen(t).Len())
}

func TestRunIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rssWithItems(3)))
	}))
	defer server.Close()
	f := newFixture(t, []feed.Source{{URL: server.URL + "/feed.xml"}}, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 10})

	first, err := f.relay.Run(context.Background())
	require.NoError(t, err)
	second, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, first.Posted)
	assert.Equal(t, 0, second.Posted)
	assert.Len(t, f.publisher.posts, 3)
	assert.Equal(t, 3, f.seen(t).Len())
}

func TestRunFailedPostStaysUnseen(t *testing.T) {
	server := feedServer(t, rssWithItems(3), nil)
	f := newFixture(t, []feed.Source{{URL: server.URL + "/feed.xml"}}, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 10})
	f.publisher.fail = func(content string) bool { return strings.Contains(content, "Item 02") }

	summary, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Posted)
	assert.Equal(t, 1, summary.PublishFailed)
	assert.Equal(t, 2, f.seen(t).Len())

	f.publisher.fail = nil
	f.publisher.posts = nil
	require.NoError(t, f.metaStore.SaveMeta(context.Background(), state.Metadata{}))

	summary, err = f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Posted)
	require.Len(t, f.publisher.posts, 1)
	assert.Contains(t, f.publisher.posts[0], "Item 02")
}

func TestRunKeepsValidatorsOnNotModified(t *testing.T) {
	var hits int32
	server := feedServer(t, rssWithItems(2), &hits)
	feedURL := server.URL + "/feed.xml"
	f := newFixture(t, []feed.Source{{URL: feedURL}}, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 1})

	_, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	meta, err := f.metaStore.LoadMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, meta[feedURL].ETag)

	summary, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.NotModified)
	assert.Equal(t, 0, summary.Posted)
	meta, err = f.metaStore.LoadMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, meta[feedURL].ETag)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRunIsolatesFailingFeeds(t *testing.T) {
	good := feedServer(t, rssWithItems(2), nil)
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"broken"`)
		w.Write([]byte("<rss><channel><item><title>unterminated"))
	}))
	defer broken.Close()

	brokenURL := broken.URL + "/broken.xml"
	f := newFixture(t, []feed.Source{{URL: brokenURL}, {URL: good.URL + "/good.xml"}}, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 10})

	summary, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Fetched)
	assert.Equal(t, 2, summary.Posted)

	meta, err := f.metaStore.LoadMeta(context.Background())
	require.NoError(t, err)
	_, ok := meta[brokenURL]
	assert.False(t, ok, "validators of an unparsable feed must not be cached")
}

func TestRunConfigurationErrors(t *testing.T) {
	var hits int32
	server := feedServer(t, rssWithItems(1), &hits)

	tests := map[string]*fixture{
		"no webhook": newFixture(t, []feed.Source{{URL: server.URL}}, Options{MaxPerRun: 5}),
		"no feeds":   newFixture(t, nil, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 5}),
	}

	for name, f := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.relay.Run(context.Background())
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestRunUsesSourceNameAndFilters(t *testing.T) {
	server := feedServer(t, rssWithItems(3), nil)
	sources := []feed.Source{{
		URL:     server.URL + "/feed.xml",
		Name:    "Example",
		Filters: []feed.Filter{{Field: "title", Excludes: []string{"Item 03"}}},
	}}
	f := newFixture(t, sources, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 10, Icon: "🔔"})

	summary, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Filtered)
	require.Len(t, f.publisher.posts, 2)
	assert.Equal(t, "🔔 Example: Item 02\nhttps://example.com/2", f.publisher.posts[0])
}

func TestRunSavesMetadataWithoutPosts(t *testing.T) {
	server := feedServer(t, `<?xml version="1.0"?><rss version="2.0"><channel><title>empty</title></channel></rss>`, nil)
	feedURL := server.URL + "/feed.xml"
	f := newFixture(t, []feed.Source{{URL: feedURL}}, Options{WebhookURL: "https://hooks.example.com/x", MaxPerRun: 5})

	summary, err := f.relay.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Posted)
	meta, err := f.metaStore.LoadMeta(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, meta[feedURL].ETag)
}
