// Package catalog ranks products and sales items against free text typed into
// a line picker.
package catalog

import (
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchStatus represents the status of a match operation
type MatchStatus int

const (
	Matched MatchStatus = iota
	Ambiguous
	Unmatched
)

func (s MatchStatus) String() string {
	switch s {
	case Matched:
		return "MATCHED"
	case Ambiguous:
		return "AMBIGUOUS"
	case Unmatched:
		return "UNMATCHED"
	default:
		return "UNKNOWN"
	}
}

// Entry is one pickable catalog line. Kind is PRODUCT or SALES_ITEM.
type Entry struct {
	ID        uuid.UUID
	Kind      string
	Code      string
	Name      string
	Uom       string
	UnitPrice decimal.Decimal
}

// Result contains the outcome of a search. Candidates is ordered best first
// and also holds the single entry when Status is Matched.
type Result struct {
	Status     MatchStatus
	Entry      *Entry
	Candidates []Entry
}

const (
	exactWeight  = 3
	prefixWeight = 1
	minPrefix    = 3
)

// Matcher scores entries by token overlap with the query.
type Matcher struct {
	entries []Entry
	tokens  [][]string
	codes   []string
}

// New creates a Matcher with pre-tokenized names.
func New(entries []Entry) *Matcher {
	m := &Matcher{
		entries: entries,
		tokens:  make([][]string, len(entries)),
		codes:   make([]string, len(entries)),
	}
	for i, e := range entries {
		m.tokens[i] = strings.Fields(normalize(e.Name))
		m.codes[i] = strings.ToLower(strings.TrimSpace(e.Code))
	}
	return m
}

// Search ranks entries for query and returns at most limit candidates. An
// exact code wins outright.
func (m *Matcher) Search(query string, limit int) Result {
	q := normalize(query)
	if q == "" {
		return Result{Status: Unmatched}
	}
	if limit <= 0 {
		limit = 10
	}

	code := strings.ToLower(strings.TrimSpace(query))
	for i, c := range m.codes {
		if c != "" && c == code {
			e := m.entries[i]
			return Result{Status: Matched, Entry: &e, Candidates: []Entry{e}}
		}
	}

	type scored struct {
		entry Entry
		score int
	}
	var hits []scored
	queryTokens := strings.Fields(q)
	for i, e := range m.entries {
		if s := score(queryTokens, m.tokens[i], m.codes[i]); s > 0 {
			hits = append(hits, scored{entry: e, score: s})
		}
	}
	if len(hits) == 0 {
		return Result{Status: Unmatched}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return hits[a].entry.Name < hits[b].entry.Name
	})

	candidates := make([]Entry, 0, limit)
	for i := 0; i < len(hits) && i < limit; i++ {
		candidates = append(candidates, hits[i].entry)
	}

	if len(hits) == 1 || hits[0].score > hits[1].score {
		e := hits[0].entry
		return Result{Status: Matched, Entry: &e, Candidates: candidates}
	}
	return Result{Status: Ambiguous, Candidates: candidates}
}

// score counts query tokens found in the entry. Every query token must hit,
// otherwise the entry scores zero.
func score(query, name []string, code string) int {
	total := 0
	for _, q := range query {
		best := 0
		if q == code {
			best = exactWeight
		}
		for _, n := range name {
			switch {
			case n == q:
				best = max(best, exactWeight)
			case len(q) >= minPrefix && strings.HasPrefix(n, q):
				best = max(best, prefixWeight)
			}
		}
		if best == 0 {
			return 0
		}
		total += best
	}
	return total
}

// normalize lowercases s and replaces non-alphanumeric runs with one space.
func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(unicode.ToLower(r))
		} else {
			sb.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(sb.String()), " ")
}
