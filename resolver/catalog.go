package resolver

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CandidateSource is the approximate-match collaborator: given free text it
// returns target-terminology candidates in its own order.
type CandidateSource interface {
	Search(ctx context.Context, text string) ([]TargetCandidate, error)
}

// CandidateSourceFunc adapts a function to CandidateSource.
type CandidateSourceFunc func(ctx context.Context, text string) ([]TargetCandidate, error)

// Search calls f(ctx, text).
func (f CandidateSourceFunc) Search(ctx context.Context, text string) ([]TargetCandidate, error) {
	return f(ctx, text)
}

// Catalog is an offline target terminology searched lexically.
type Catalog struct {
	items   []TargetCandidate
	matcher Matcher
}

// NewCatalog validates items. Codes must be present and unique.
func NewCatalog(items []TargetCandidate) (*Catalog, error) {
	return buildCatalog("catalog", items, nil)
}

func buildCatalog(source string, items []TargetCandidate, rows []int) (*Catalog, error) {
	seen := make(map[string]struct{}, len(items))
	out := make([]TargetCandidate, 0, len(items))
	for i, it := range items {
		record := i + 1
		if rows != nil {
			record = rows[i]
		}
		if it.Code == "" {
			return nil, loadErrorf(source, record, ErrMissingField, "code")
		}
		if it.Title == "" {
			return nil, loadErrorf(source, record, ErrMissingField, "title for %s", it.Code)
		}
		if _, ok := seen[it.Code]; ok {
			return nil, loadErrorf(source, record, ErrDuplicateCode, "%s", it.Code)
		}
		seen[it.Code] = struct{}{}
		out = append(out, it)
	}
	return &Catalog{items: out, matcher: LexicalMatcher}, nil
}

// Len returns the number of catalog items.
func (c *Catalog) Len() int {
	return len(c.items)
}

// Search returns the items whose title scores above 0.3 against text, best first.
func (c *Catalog) Search(ctx context.Context, text string) ([]TargetCandidate, error) {
	type scored struct {
		item  TargetCandidate
		score float64
	}
	hits := make([]scored, 0)
	for _, it := range c.items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := c.matcher.Similarity(text, it.Title)
		if score <= discardThreshold {
			continue
		}
		hits = append(hits, scored{item: it, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]TargetCandidate, len(hits))
	for i, h := range hits {
		out[i] = h.item
	}
	return out, nil
}

// LoadCatalogCSV reads a catalog from a CSV file with code and title columns
// and an optional uri column.
func LoadCatalogCSV(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: filepath.Base(path), Err: err}
	}
	defer f.Close()
	return ReadCatalogCSV(f, filepath.Base(path))
}

// ReadCatalogCSV reads a catalog from CSV data. name labels load errors.
func ReadCatalogCSV(r io.Reader, name string) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &LoadError{Source: name, Err: fmt.Errorf("read csv: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &LoadError{Source: name, Err: errors.New("empty catalog file")}
	}
	codeCol, titleCol, uriCol := -1, -1, -1
	for i, h := range rows[0] {
		switch strings.ToLower(cleanCell(h)) {
		case "code", "thecode":
			codeCol = i
		case "title", "display", "name":
			titleCol = i
		case "uri", "id", "@id":
			uriCol = i
		}
	}
	if codeCol < 0 || titleCol < 0 {
		return nil, &LoadError{Source: name, Record: 1, Err: fmt.Errorf("%w: code and title columns", ErrMissingField)}
	}
	items := make([]TargetCandidate, 0, len(rows)-1)
	lines := make([]int, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		items = append(items, TargetCandidate{
			Code:  cellAt(row, codeCol),
			Title: cellAt(row, titleCol),
			URI:   cellAt(row, uriCol),
		})
		lines = append(lines, i+2)
	}
	return buildCatalog(name, items, lines)
}
