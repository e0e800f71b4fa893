package api

import (
	"github.com/lysyi3m/rss-relay/app/feed"
	"github.com/lysyi3m/rss-relay/app/metrics"
	"github.com/lysyi3m/rss-relay/app/relay"
)

type RunnerInterface interface {
	Trigger() bool
	LastRun() (relay.Summary, bool)
	LastError() error
	Runs() int
}

var _ RunnerInterface = (*relay.Daemon)(nil)

type Handler struct {
	runner   RunnerInterface
	registry *feed.Registry
	metrics  *metrics.Metrics
	version  string
}
