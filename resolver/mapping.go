package resolver

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// MappingStore is an immutable table of curated source→target correspondences.
// A nil store behaves as an empty one.
type MappingStore struct {
	records map[string]MappingRecord
}

// NewMappingStore validates and indexes records by exact source code.
func NewMappingStore(records []MappingRecord) (*MappingStore, error) {
	return buildMappingStore("records", records)
}

func buildMappingStore(source string, records []MappingRecord) (*MappingStore, error) {
	store := &MappingStore{records: make(map[string]MappingRecord, len(records))}
	for i, rec := range records {
		record := i + 1
		if strings.TrimSpace(rec.SourceCode) == "" {
			return nil, loadErrorf(source, record, ErrMissingField, "source code")
		}
		if _, ok := store.records[rec.SourceCode]; ok {
			return nil, loadErrorf(source, record, ErrDuplicateCode, "%s", rec.SourceCode)
		}
		if len(rec.Targets) == 0 {
			return nil, loadErrorf(source, record, ErrMissingField, "targets for %s", rec.SourceCode)
		}
		rec = rec.clone()
		for j := range rec.Targets {
			t := &rec.Targets[j]
			if strings.TrimSpace(t.Code) == "" {
				return nil, loadErrorf(source, record, ErrMissingField, "target code for %s", rec.SourceCode)
			}
			if t.Equivalence == "" {
				t.Equivalence = Equivalent
			}
			if !t.Equivalence.Valid() {
				return nil, loadErrorf(source, record, ErrInvalidRecord, "equivalence %q for %s→%s", t.Equivalence, rec.SourceCode, t.Code)
			}
			if math.IsNaN(t.Confidence) || t.Confidence < 0 || t.Confidence > 1 {
				return nil, loadErrorf(source, record, ErrInvalidRecord, "confidence %v for %s→%s", t.Confidence, rec.SourceCode, t.Code)
			}
		}
		store.records[rec.SourceCode] = rec
	}
	return store, nil
}

// Lookup returns the record for exactly sourceCode. No case or whitespace folding is applied.
func (s *MappingStore) Lookup(sourceCode string) (MappingRecord, bool) {
	if s == nil {
		return MappingRecord{}, false
	}
	rec, ok := s.records[sourceCode]
	if !ok {
		return MappingRecord{}, false
	}
	return rec.clone(), true
}

// Len returns the number of records.
func (s *MappingStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

type mappingDocument struct {
	Mappings []mappingJSON `json:"mappings"`
}

type mappingJSON struct {
	NamasteCode string       `json:"namaste_code"`
	SourceCode  string       `json:"source_code"`
	TM2         []targetJSON `json:"icd11_tm2"`
	Biomedicine []targetJSON `json:"icd11_biomedicine"`
	Targets     []targetJSON `json:"targets"`
}

type targetJSON struct {
	Code        string   `json:"code"`
	Display     string   `json:"display"`
	Equivalence string   `json:"equivalence"`
	Confidence  *float64 `json:"confidence"`
}

// LoadMappingsJSON reads a mapping store from a JSON file.
func LoadMappingsJSON(path string) (*MappingStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Source: filepath.Base(path), Err: err}
	}
	defer f.Close()
	return ReadMappingsJSON(f, filepath.Base(path))
}

// ReadMappingsJSON decodes a document of the form
// {"mappings":[{"namaste_code":"...","icd11_tm2":[...],"icd11_biomedicine":[...]}]}.
// A document without a mappings key yields an empty store.
func ReadMappingsJSON(r io.Reader, name string) (*MappingStore, error) {
	var doc mappingDocument
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &LoadError{Source: name, Err: fmt.Errorf("%w: decode json: %v", ErrInvalidRecord, err)}
	}
	records := make([]MappingRecord, 0, len(doc.Mappings))
	for i, m := range doc.Mappings {
		code := m.NamasteCode
		if code == "" {
			code = m.SourceCode
		}
		rec := MappingRecord{SourceCode: strings.TrimSpace(code)}
		for _, group := range [][]targetJSON{m.TM2, m.Biomedicine, m.Targets} {
			for _, t := range group {
				if t.Confidence == nil {
					return nil, loadErrorf(name, i+1, ErrMissingField, "confidence for %s→%s", rec.SourceCode, t.Code)
				}
				rec.Targets = append(rec.Targets, TargetEntry{
					Code:        strings.TrimSpace(t.Code),
					Display:     strings.TrimSpace(t.Display),
					Equivalence: Equivalence(strings.ToLower(strings.TrimSpace(t.Equivalence))),
					Confidence:  *t.Confidence,
				})
			}
		}
		records = append(records, rec)
	}
	return buildMappingStore(name, records)
}
