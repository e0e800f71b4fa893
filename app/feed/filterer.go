package feed

import (
	"fmt"
	"strings"
)

// Filterer drops items that fail a source's include/exclude rules.
type Filterer struct{}

func NewFilterer() *Filterer {
	return &Filterer{}
}

// Run returns the items allowed by filters. Each dropped item is reported to
// onDrop, which may be nil.
func (f *Filterer) Run(items []Item, filters []Filter, onDrop func(Item, string)) []Item {
	if len(filters) == 0 {
		return items
	}

	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if dropped, reason := f.applyFilters(item, filters); dropped {
			if onDrop != nil {
				onDrop(item, reason)
			}
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func (f *Filterer) applyFilters(item Item, filters []Filter) (bool, string) {
	for _, filter := range filters {
		value := f.getFieldValue(item, filter.Field)

		for _, exclude := range filter.Excludes {
			if f.matchesFilter(value, exclude) {
				return true, fmt.Sprintf("Excluded by %s filter: contains '%s'", filter.Field, exclude)
			}
		}

		if len(filter.Includes) > 0 {
			matched := false
			for _, include := range filter.Includes {
				if f.matchesFilter(value, include) {
					matched = true
					break
				}
			}
			if !matched {
				return true, fmt.Sprintf("Excluded by %s filter: does not contain any of %v", filter.Field, filter.Includes)
			}
		}
	}

	return false, ""
}

func (f *Filterer) matchesFilter(value, pattern string) bool {
	return strings.Contains(strings.ToLower(value), strings.ToLower(pattern))
}

func (f *Filterer) getFieldValue(item Item, field string) string {
	switch field {
	case "title":
		return item.Title
	case "link":
		return item.Link
	case "id":
		return item.ID
	default:
		return ""
	}
}

func validateFilters(filters []Filter) error {
	for i, filter := range filters {
		switch filter.Field {
		case "title", "link", "id":
		default:
			return fmt.Errorf("filter at index %d: field must be one of: title, link, id", i)
		}
		if len(filter.Includes) == 0 && len(filter.Excludes) == 0 {
			return fmt.Errorf("filter at index %d: must have at least one include or exclude", i)
		}
	}
	return nil
}
