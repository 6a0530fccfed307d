// Package similarity scores free-text overlap as token-set Jaccard
// similarity. Duplicate detection and roadmap gap detection both build on
// Score; each caller supplies its own threshold.
package similarity

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Default thresholds for the two callers.
const (
	DuplicateThreshold = 60
	GapThreshold       = 50
)

// minTokenLen drops short words ("a", "of", "to") that carry no signal.
const minTokenLen = 3

// TokenSet is a deduplicated set of normalized tokens.
type TokenSet map[string]struct{}

// Normalize lowercases text, turns every character outside [a-z0-9] into a
// separator, splits, and keeps unique tokens of at least three characters.
// Text is NFKC-normalized first so compatibility forms (fullwidth letters,
// ligatures) tokenize like their ASCII equivalents.
func Normalize(text string) TokenSet {
	folded := strings.ToLower(norm.NFKC.String(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
	set := make(TokenSet, len(fields))
	for _, f := range fields {
		if len(f) < minTokenLen {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// Score returns floor(100 * |A ∩ B| / |A ∪ B|) over the normalized token
// sets of a and b. Two texts with no tokens at all score 0.
func Score(a, b string) int {
	return scoreSets(Normalize(a), Normalize(b))
}

func scoreSets(sa, sb TokenSet) int {
	if len(sa) > len(sb) {
		sa, sb = sb, sa
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return 100 * inter / union
}

// Item is a titled work item compared by the matcher.
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Match is an item whose score met the caller's threshold.
type Match struct {
	Item  Item `json:"item"`
	Score int  `json:"score"`
}

// FindDuplicates returns the items scoring at least threshold against
// candidate, highest score first (ties by ID).
func FindDuplicates(candidate string, items []Item, threshold int) []Match {
	cs := Normalize(candidate)
	var out []Match
	for _, it := range items {
		s := scoreSets(cs, Normalize(it.Title))
		if s >= threshold {
			out = append(out, Match{Item: it, Score: s})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Item.ID < out[j].Item.ID
	})
	return out
}

// Gap is a roadmap entry with no sufficiently similar work item.
type Gap struct {
	Entry     string `json:"entry"`
	BestScore int    `json:"best_score"`
	BestMatch string `json:"best_match,omitempty"`
}

// Gaps returns the roadmap entries that no item covers at threshold or
// above, in roadmap order.
func Gaps(roadmap []string, items []Item, threshold int) []Gap {
	itemSets := make([]TokenSet, len(items))
	for i, it := range items {
		itemSets[i] = Normalize(it.Title)
	}

	var gaps []Gap
	for _, entry := range roadmap {
		es := Normalize(entry)
		best, bestID := 0, ""
		for i, is := range itemSets {
			if s := scoreSets(es, is); s > best {
				best, bestID = s, items[i].ID
			}
		}
		if best < threshold {
			gaps = append(gaps, Gap{Entry: entry, BestScore: best, BestMatch: bestID})
		}
	}
	return gaps
}
