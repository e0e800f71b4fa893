package feed

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const redditFeedURL = "https://www.reddit.com/r/%s/.rss"

// definitionFile is the shape of .yml/.yaml/.toml files in the feeds directory.
type definitionFile struct {
	Feeds []Source `yaml:"feeds" toml:"feeds"`
}

// Registry turns the configured feed entries into an ordered, duplicate-free
// list of sources.
type Registry struct {
	sources []Source
}

// LoadRegistry collects entries from the inline list, the list file and the
// feeds directory, in that order. Unreadable files are logged and skipped.
func LoadRegistry(inline, listFile, dir string) *Registry {
	var raw []Source
	for _, entry := range SplitList(inline) {
		raw = append(raw, Source{URL: entry})
	}
	if listFile != "" {
		raw = append(raw, readListFile(listFile)...)
	}
	if dir != "" {
		raw = append(raw, readDir(dir)...)
	}
	return NewRegistry(raw)
}

func NewRegistry(raw []Source) *Registry {
	normalized := make([]Source, 0, len(raw))
	for _, src := range raw {
		src.URL = NormalizeEntry(src.URL)
		if src.URL == "" {
			continue
		}
		normalized = append(normalized, src)
	}

	return &Registry{
		sources: lo.UniqBy(normalized, func(s Source) string { return s.URL }),
	}
}

func (r *Registry) Sources() []Source {
	return r.sources
}

func (r *Registry) URLs() []string {
	return lo.Map(r.sources, func(s Source, _ int) string { return s.URL })
}

// Lookup returns the source registered for a normalized URL.
func (r *Registry) Lookup(feedURL string) (Source, bool) {
	return lo.Find(r.sources, func(s Source) bool { return s.URL == feedURL })
}

func (r *Registry) Len() int {
	return len(r.sources)
}

// NormalizeEntry expands r/<name> shorthands and appends .rss to are.na
// channel URLs. Anything else is returned trimmed but otherwise unchanged.
func NormalizeEntry(entry string) string {
	entry = strings.TrimSpace(entry)

	if strings.HasPrefix(entry, "r/") && !strings.Contains(entry, "://") {
		if sub := strings.Trim(strings.TrimSpace(entry[2:]), "/"); sub != "" {
			return fmt.Sprintf(redditFeedURL, sub)
		}
	}

	u, err := url.Parse(entry)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return entry
	}
	if strings.Contains(u.Hostname(), "are.na") &&
		!strings.HasSuffix(u.Path, ".rss") && !strings.HasSuffix(u.Path, "/rss") {
		u.Path += ".rss"
		u.RawPath = ""
		return u.String()
	}
	return entry
}

// SplitList accepts comma, space or newline separated values.
func SplitList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
}

func readListFile(path string) []Source {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read feed list", "path", path, "error", err)
		}
		return nil
	}
	defer f.Close()

	var sources []Source
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.Index(line, "#"); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			sources = append(sources, Source{URL: line})
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Failed to read feed list", "path", path, "error", err)
	}
	return sources
}

func readDir(dir string) []Source {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read feeds directory", "dir", dir, "error", err)
		}
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var sources []Source
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yml", ".yaml", ".toml":
			defs, err := readDefinitionFile(path)
			if err != nil {
				slog.Warn("Skipping invalid feed definition file", "path", path, "error", err)
				continue
			}
			sources = append(sources, defs...)
		default:
			sources = append(sources, readListFile(path)...)
		}
	}
	return sources
}

func readDefinitionFile(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var def definitionFile
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	for i, src := range def.Feeds {
		if strings.TrimSpace(src.URL) == "" {
			return nil, fmt.Errorf("feed at index %d: url is required", i)
		}
		if err := validateFilters(src.Filters); err != nil {
			return nil, fmt.Errorf("feed at index %d: %w", i, err)
		}
	}
	return def.Feeds, nil
}
