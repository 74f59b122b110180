package resolver

import (
	"sort"
	"strings"
)

// discardThreshold is the score at or below which search results are dropped.
const discardThreshold = 0.3

// Lexicon is an immutable collection of source-terminology entries kept in load order.
type Lexicon struct {
	entries []Entry
	byCode  map[string]int
}

// NewLexicon validates and copies entries. Codes must be unique and every
// entry needs a code and a display name.
func NewLexicon(entries []Entry) (*Lexicon, error) {
	return buildLexicon("entries", entries, nil)
}

func buildLexicon(source string, entries []Entry, rows []int) (*Lexicon, error) {
	lex := &Lexicon{
		entries: make([]Entry, 0, len(entries)),
		byCode:  make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		record := i + 1
		if rows != nil {
			record = rows[i]
		}
		if strings.TrimSpace(e.Code) == "" {
			return nil, loadErrorf(source, record, ErrMissingField, "code")
		}
		if strings.TrimSpace(e.Display) == "" {
			return nil, loadErrorf(source, record, ErrMissingField, "display for %s", e.Code)
		}
		if _, ok := lex.byCode[e.Code]; ok {
			return nil, loadErrorf(source, record, ErrDuplicateCode, "%s", e.Code)
		}
		lex.byCode[e.Code] = len(lex.entries)
		lex.entries = append(lex.entries, e.clone())
	}
	return lex, nil
}

// Len returns the number of entries.
func (l *Lexicon) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Get returns the entry with exactly the given code.
func (l *Lexicon) Get(code string) (Entry, bool) {
	if l == nil {
		return Entry{}, false
	}
	idx, ok := l.byCode[code]
	if !ok {
		return Entry{}, false
	}
	return l.entries[idx].clone(), true
}

// Entries returns a copy of every entry in load order.
func (l *Lexicon) Entries() []Entry {
	if l == nil {
		return nil
	}
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.clone()
	}
	return out
}

// Search scores every entry against query with the default lexical matcher.
// See SearchWith.
func (l *Lexicon) Search(query string, limit int) ([]LexiconMatch, error) {
	return l.SearchWith(LexicalMatcher, query, limit)
}

// SearchWith scores every entry as the best of its display name, synonyms and
// alternate term. Entries scoring at or below 0.3 are dropped, the rest are
// ordered by score with ties kept in load order, and at most limit are returned.
func (l *Lexicon) SearchWith(m Matcher, query string, limit int) ([]LexiconMatch, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if l == nil || strings.TrimSpace(query) == "" {
		return []LexiconMatch{}, nil
	}
	out := make([]LexiconMatch, 0)
	for _, e := range l.entries {
		score := entryScore(m, query, e)
		if score <= discardThreshold {
			continue
		}
		out = append(out, LexiconMatch{Entry: e.clone(), Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func entryScore(m Matcher, query string, e Entry) float64 {
	best := m.Similarity(query, e.Display)
	for _, syn := range e.Synonyms {
		if syn == "" {
			continue
		}
		if s := m.Similarity(query, syn); s > best {
			best = s
		}
	}
	if e.AlternateTerm != "" {
		if s := m.Similarity(query, e.AlternateTerm); s > best {
			best = s
		}
	}
	return best
}
