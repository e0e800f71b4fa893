package cfg

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

const DefaultConfigPath = "/etc/rss-relay/relay.conf"

// rawCfg maps every setting to a flag, an environment variable and a key in the
// key=value config file. Flags win over the environment, which wins over the file.
type rawCfg struct {
	ConfigPath string `long:"config" env:"RELAY_CONFIG" default:"/etc/rss-relay/relay.conf" no-ini:"true" description:"Path to key=value configuration file"`

	// Relay configuration
	WebhookURL string  `long:"webhook-url" env:"WEBHOOK_URL" ini-name:"WEBHOOK_URL" description:"Webhook endpoint receiving relayed items"`
	Feeds      string  `long:"feeds" env:"FEEDS" ini-name:"FEEDS" description:"Feed URLs or r/<name> shorthands, comma or space separated"`
	FeedsFile  string  `long:"feeds-file" env:"FEEDS_FILE" ini-name:"FEEDS_FILE" description:"File with one feed per line"`
	FeedsDir   string  `long:"feeds-dir" env:"FEEDS_DIR" ini-name:"FEEDS_DIR" description:"Directory of feed lists and .yml/.toml feed definitions"`
	MaxPerRun  int     `long:"max-per-run" env:"MAX_PER_RUN" ini-name:"MAX_PER_RUN" default:"5" description:"Maximum number of items posted per run"`
	Icon       string  `long:"icon" env:"ICON" ini-name:"ICON" default:"📰" description:"Glyph prefixed to every message"`
	PostDelay  int     `long:"post-delay-ms" env:"POST_DELAY_MS" ini-name:"POST_DELAY_MS" default:"500" description:"Pause after each successful post in milliseconds"`
	UserAgent  string  `long:"user-agent" env:"USER_AGENT" ini-name:"USER_AGENT" default:"rss-relay/1.0" description:"User agent string for HTTP requests"`
	Timeout    float64 `long:"timeout" env:"TIMEOUT_SECONDS" ini-name:"TIMEOUT_SECONDS" default:"5" description:"Per-request timeout in seconds"`
	Verbose    string  `long:"verbose" env:"VERBOSE" ini-name:"VERBOSE" default:"0" description:"Enable per-feed debug logging (1/0)"`

	// Fetch phase
	MaxConcurrency int     `long:"max-concurrency" env:"MAX_CONCURRENCY" ini-name:"MAX_CONCURRENCY" default:"8" description:"Concurrent feed fetches (1-32)"`
	FetchBudget    float64 `long:"fetch-budget" env:"FETCH_BUDGET_SECONDS" ini-name:"FETCH_BUDGET_SECONDS" default:"10" description:"Wall-clock budget for the whole fetch phase in seconds (1-60)"`

	// Persistence
	LogPath      string `long:"log-path" env:"LOG_PATH" ini-name:"LOG_PATH" default:"/var/log/rss-relay/relay.log" description:"Log file"`
	StatePath    string `long:"state-path" env:"STATE_PATH" ini-name:"STATE_PATH" default:"/var/lib/rss-relay/relay.seen" description:"Seen-item state file"`
	MetaPath     string `long:"meta-path" env:"META_PATH" ini-name:"META_PATH" default:"/var/lib/rss-relay/relay.meta.json" description:"Feed validator cache file"`
	StateBackend string `long:"state-backend" env:"STATE_BACKEND" ini-name:"STATE_BACKEND" default:"file" choice:"file" choice:"sqlite" description:"Where seen keys and validators are stored"`
	StateDB      string `long:"state-db" env:"STATE_DB" ini-name:"STATE_DB" default:"/var/lib/rss-relay/relay.db" description:"SQLite database used by the sqlite state backend"`

	// Daemon mode
	Interval     int    `long:"interval" env:"INTERVAL_SECONDS" ini-name:"INTERVAL_SECONDS" default:"0" description:"Run every N seconds instead of once"`
	Listen       string `long:"listen" env:"LISTEN" ini-name:"LISTEN" description:"Status API address in daemon mode (e.g. :8080)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" ini-name:"API_KEY" description:"API access key protecting POST /api/run (optional)"`
}

// Load reads configuration from args, the environment and the config file.
// It returns nil, nil when help was requested.
func Load(args []string) (*Cfg, error) {
	configPath := locateConfigFile(args)

	var raw rawCfg
	parser := flags.NewParser(&raw, flags.Default)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			settings, err := readConfigFile(configPath, parser)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			ini := flags.NewIniParser(parser)
			ini.ParseAsDefaults = true
			if err := ini.Parse(strings.NewReader(settings)); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return &Cfg{
		ConfigPath:     raw.ConfigPath,
		WebhookURL:     raw.WebhookURL,
		Feeds:          raw.Feeds,
		FeedsFile:      raw.FeedsFile,
		FeedsDir:       raw.FeedsDir,
		MaxPerRun:      clampInt(raw.MaxPerRun, 1, 0),
		Icon:           raw.Icon,
		PostDelay:      time.Duration(clampInt(raw.PostDelay, 0, 0)) * time.Millisecond,
		UserAgent:      cmp.Or(raw.UserAgent, "rss-relay/1.0"),
		Timeout:        clampSeconds(raw.Timeout, 1, 0),
		Verbose:        parseBool(raw.Verbose, false),
		MaxConcurrency: clampInt(raw.MaxConcurrency, 1, 32),
		FetchBudget:    clampSeconds(raw.FetchBudget, 1, 60),
		LogPath:        raw.LogPath,
		StatePath:      raw.StatePath,
		MetaPath:       raw.MetaPath,
		StateBackend:   raw.StateBackend,
		StateDB:        raw.StateDB,
		Interval:       time.Duration(clampInt(raw.Interval, 0, 0)) * time.Second,
		Listen:         raw.Listen,
		APIAccessKey:   raw.APIAccessKey,
		Version:        GetVersion(),
	}, nil
}

// locateConfigFile resolves --config before the main parse so that the file
// can be loaded as defaults underneath flags and environment variables.
func locateConfigFile(args []string) string {
	var pre struct {
		ConfigPath string `long:"config" env:"RELAY_CONFIG" default:"/etc/rss-relay/relay.conf"`
	}
	parser := flags.NewParser(&pre, flags.IgnoreUnknown)
	if _, err := parser.ParseArgs(args); err != nil {
		return DefaultConfigPath
	}
	return pre.ConfigPath
}

// readConfigFile returns the file's settings in ini form. Unknown keys, lines
// without '=' and keys whose environment variable is set are left out, and
// surrounding quotes are stripped from values.
func readConfigFile(path string, parser *flags.Parser) (string, error) {
	envKeys := make(map[string]string)
	for _, opt := range parser.Command.Options() {
		if name := opt.Field().Tag.Get("ini-name"); name != "" {
			envKeys[name] = opt.EnvDefaultKey
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var out strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		envKey, known := envKeys[key]
		if !known {
			continue
		}
		if _, set := os.LookupEnv(envKey); set {
			continue
		}
		value = strings.Trim(strings.Trim(strings.TrimSpace(value), `"`), "'")
		fmt.Fprintf(&out, "%s = %s\n", key, strconv.Quote(value))
	}
	return out.String(), scanner.Err()
}
