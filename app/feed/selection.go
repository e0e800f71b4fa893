package feed

import (
	"sort"
)

type Candidate struct {
	Item
	Key string
}

// Order returns items as candidates sorted newest first. Items without a
// timestamp count as 0, and the seen key breaks ties so repeated runs agree.
func Order(items []Item) []Candidate {
	candidates := make([]Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, Candidate{Item: item, Key: SeenKey(item)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ti, tj := candidates[i].Timestamp(), candidates[j].Timestamp()
		if ti != tj {
			return ti > tj
		}
		return candidates[i].Key > candidates[j].Key
	})
	return candidates
}

// Select walks the ordered items and keeps up to quota unseen ones.
// Duplicate keys within one batch are only selected once.
func Select(items []Item, seen func(key string) bool, quota int) []Candidate {
	if quota <= 0 {
		return nil
	}

	selected := make([]Candidate, 0, quota)
	picked := make(map[string]struct{}, quota)
	for _, c := range Order(items) {
		if seen(c.Key) {
			continue
		}
		if _, ok := picked[c.Key]; ok {
			continue
		}
		picked[c.Key] = struct{}{}
		selected = append(selected, c)
		if len(selected) == quota {
			break
		}
	}
	return selected
}
