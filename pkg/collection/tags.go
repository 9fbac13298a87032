package collection

import (
	"sort"
	"strings"

	"github.com/menta2k/cardscan/pkg/types"
)

const (
	// RecentWindow is how many of the newest cards feed tag suggestions.
	RecentWindow = 5
	// FoldThreshold is how many "other" tags are shown before folding.
	FoldThreshold = 8
	// AutocompleteLimit caps autocomplete results.
	AutocompleteLimit = 5
)

// NormalizeTags trims tags, drops empty ones and removes duplicates, keeping
// the first occurrence. Matching is exact and case-sensitive.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// AddTag appends tag unless it is already present. It reports whether tags changed.
func AddTag(tags []string, tag string) ([]string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" || contains(tags, tag) {
		return tags, false
	}
	return append(tags, tag), true
}

// RemoveTag removes tag if present. Removing an absent tag is a no-op.
func RemoveTag(tags []string, tag string) ([]string, bool) {
	tag = strings.TrimSpace(tag)
	for i, t := range tags {
		if t == tag {
			out := make([]string, 0, len(tags)-1)
			out = append(out, tags[:i]...)
			return append(out, tags[i+1:]...), true
		}
	}
	return tags, false
}

// AllTags returns the union of every card's tags, sorted.
func AllTags(cards []types.Card) []string {
	seen := make(map[string]struct{})
	for _, c := range cards {
		for _, t := range c.Tags {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RecentTags ranks the tags of the k most recently captured cards by how
// many of those cards carry them, most frequent first. Ties keep the order in
// which tags are first met, scanning from the newest card. Tags in exclude
// are left out.
func RecentTags(cards []types.Card, k int, exclude []string) []string {
	if k <= 0 {
		return nil
	}
	window := newestFirst(cards)
	if len(window) > k {
		window = window[:k]
	}

	counts := make(map[string]int)
	var order []string
	for _, c := range window {
		for _, t := range c.Tags {
			if contains(exclude, t) {
				continue
			}
			if _, ok := counts[t]; !ok {
				order = append(order, t)
			}
			counts[t]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	return order
}

// OtherTags returns all minus recent minus applied, in the order of all.
func OtherTags(all, recent, applied []string) []string {
	var out []string
	for _, t := range all {
		if contains(recent, t) || contains(applied, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Fold splits tags into the first limit shown and the number hidden.
func Fold(tags []string, limit int) ([]string, int) {
	if limit < 0 || len(tags) <= limit {
		return tags, 0
	}
	return tags[:limit], len(tags) - limit
}

// Autocomplete returns up to limit tags from all that contain input,
// ignoring case, skipping tags already applied. Empty input matches nothing.
func Autocomplete(all []string, input string, applied []string, limit int) []string {
	needle := strings.ToLower(strings.TrimSpace(input))
	if needle == "" || limit <= 0 {
		return nil
	}
	var out []string
	for _, t := range all {
		if contains(applied, t) || !strings.Contains(strings.ToLower(t), needle) {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}

// newestFirst returns the cards sorted by capture time, newest first. Cards
// captured at the same instant keep their relative order.
func newestFirst(cards []types.Card) []types.Card {
	out := append([]types.Card(nil), cards...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.After(out[j].CapturedAt)
	})
	return out
}

func contains(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
