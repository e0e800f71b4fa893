package feed

import (
	"time"
)

// Source is one normalized feed URL plus the optional settings a structured
// definition file can attach to it.
type Source struct {
	URL     string   `yaml:"url" toml:"url"`
	Name    string   `yaml:"name" toml:"name"`
	Filters []Filter `yaml:"filters" toml:"filters"`
}

// Item is a feed entry as produced by Parser. It lives only until the relay
// has decided whether to post it.
type Item struct {
	FeedURL     string
	ID          string
	Title       string
	Link        string
	PublishedAt *time.Time
}

// Timestamp returns the publication time in Unix seconds, 0 when unknown.
func (i Item) Timestamp() int64 {
	if i.PublishedAt == nil {
		return 0
	}
	return i.PublishedAt.Unix()
}

type Filter struct {
	Field    string   `yaml:"field" toml:"field"`
	Includes []string `yaml:"includes" toml:"includes"`
	Excludes []string `yaml:"excludes" toml:"excludes"`
}
