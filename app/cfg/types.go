package cfg

import "time"

type Cfg struct {
	ConfigPath string

	// Relay configuration
	WebhookURL string
	Feeds      string
	FeedsFile  string
	FeedsDir   string
	MaxPerRun  int
	Icon       string
	PostDelay  time.Duration
	UserAgent  string
	Timeout    time.Duration
	Verbose    bool

	// Fetch phase
	MaxConcurrency int
	FetchBudget    time.Duration

	// Persistence
	LogPath      string
	StatePath    string
	MetaPath     string
	StateBackend string
	StateDB      string

	// Daemon mode
	Interval     time.Duration
	Listen       string
	APIAccessKey string

	Version string
}

// Daemon reports whether the relay should loop instead of running once.
func (c *Cfg) Daemon() bool {
	return c.Interval > 0
}
