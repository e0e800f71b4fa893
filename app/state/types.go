package state

import (
	"context"
	"net/http"
	"sort"
)

// KeySet is the set of seen keys. It only grows during a run.
type KeySet map[string]struct{}

func NewKeySet(keys ...string) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s KeySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s KeySet) Add(key string) {
	s[key] = struct{}{}
}

func (s KeySet) Len() int {
	return len(s)
}

func (s KeySet) Sorted() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validators are the HTTP cache validators remembered for one feed URL.
type Validators struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

func (v Validators) Empty() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Metadata maps feed URLs to their validators.
type Metadata map[string]Validators

// ValidatorsFromHeader reads ETag and Last-Modified from a response header.
func ValidatorsFromHeader(h http.Header) Validators {
	if h == nil {
		return Validators{}
	}
	return Validators{
		ETag:         h.Get("ETag"),
		LastModified: h.Get("Last-Modified"),
	}
}

// MergeValidators takes each field from fresh when present and keeps the
// previous value otherwise.
func MergeValidators(prev, fresh Validators) Validators {
	merged := prev
	if fresh.ETag != "" {
		merged.ETag = fresh.ETag
	}
	if fresh.LastModified != "" {
		merged.LastModified = fresh.LastModified
	}
	return merged
}

type SeenStore interface {
	LoadSeen(ctx context.Context) (KeySet, error)
	SaveSeen(ctx context.Context, keys KeySet) error
}

type MetaStore interface {
	LoadMeta(ctx context.Context) (Metadata, error)
	SaveMeta(ctx context.Context, meta Metadata) error
}
