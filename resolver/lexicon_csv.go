package resolver

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LexiconColumns lists accepted header names for each lexicon field.
type LexiconColumns struct {
	Code          []string
	Display       []string
	System        []string
	Category      []string
	Synonyms      []string
	Description   []string
	AlternateTerm []string
}

// DefaultLexiconColumns returns the built-in header candidates.
func DefaultLexiconColumns() LexiconColumns {
	return LexiconColumns{
		Code:          []string{"code", "namaste_code", "id"},
		Display:       []string{"disease_name", "display", "name", "term"},
		System:        []string{"system"},
		Category:      []string{"category"},
		Synonyms:      []string{"synonyms", "synonym"},
		Description:   []string{"description", "definition"},
		AlternateTerm: []string{"sanskrit_term", "alternate_term", "sanskrit"},
	}
}

const synonymSeparator = "|"

// LoadLexiconCSV reads a lexicon from a CSV (or .tsv) file.
func LoadLexiconCSV(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: filepath.Base(path), Err: err}
	}
	defer f.Close()
	comma := ','
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		comma = '\t'
	}
	return readLexicon(f, filepath.Base(path), comma)
}

// ReadLexiconCSV reads a comma separated lexicon. name labels load errors.
func ReadLexiconCSV(r io.Reader, name string) (*Lexicon, error) {
	return readLexicon(r, name, ',')
}

func readLexicon(r io.Reader, name string, comma rune) (*Lexicon, error) {
	reader := csv.NewReader(r)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &LoadError{Source: name, Err: fmt.Errorf("read csv: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &LoadError{Source: name, Err: errors.New("empty lexicon file")}
	}
	cols, err := resolveLexiconColumns(rows[0], DefaultLexiconColumns())
	if err != nil {
		return nil, &LoadError{Source: name, Record: 1, Err: err}
	}
	entries := make([]Entry, 0, len(rows)-1)
	lines := make([]int, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		entries = append(entries, Entry{
			Code:          cellAt(row, cols.code),
			Display:       cellAt(row, cols.display),
			System:        cellAt(row, cols.system),
			Category:      cellAt(row, cols.category),
			Synonyms:      splitSynonyms(cellAt(row, cols.synonyms)),
			Description:   cellAt(row, cols.description),
			AlternateTerm: cellAt(row, cols.alternate),
		})
		lines = append(lines, i+2)
	}
	return buildLexicon(name, entries, lines)
}

type lexiconColumnIndex struct {
	code, display, system, category, synonyms, description, alternate int
}

func resolveLexiconColumns(header []string, candidates LexiconColumns) (lexiconColumnIndex, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(cleanCell(h))
	}
	find := func(names []string) int {
		for _, name := range names {
			for idx, h := range normalized {
				if h == name {
					return idx
				}
			}
		}
		return -1
	}
	idx := lexiconColumnIndex{
		code:        find(candidates.Code),
		display:     find(candidates.Display),
		system:      find(candidates.System),
		category:    find(candidates.Category),
		synonyms:    find(candidates.Synonyms),
		description: find(candidates.Description),
		alternate:   find(candidates.AlternateTerm),
	}
	if idx.code < 0 {
		return idx, fmt.Errorf("%w: code column", ErrMissingField)
	}
	if idx.display < 0 {
		return idx, fmt.Errorf("%w: display name column", ErrMissingField)
	}
	return idx, nil
}

func splitSynonyms(cell string) []string {
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, synonymSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = cleanCell(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return cleanCell(row[idx])
}

func cleanCell(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.TrimSpace(s)
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if cleanCell(cell) != "" {
			return false
		}
	}
	return true
}
