package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"yashubustudio/termmap/resolver"
)

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type batchJSON struct {
	Code       string               `json:"code"`
	Resolution *resolver.Resolution `json:"resolution,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func toBatchJSON(items []resolver.BatchItem) []batchJSON {
	out := make([]batchJSON, len(items))
	for i, item := range items {
		out[i].Code = item.Code
		if item.Err != nil {
			out[i].Error = item.Err.Error()
			continue
		}
		res := item.Resolution
		out[i].Resolution = &res
	}
	return out
}

func printSearch(w io.Writer, result resolver.SearchResult) error {
	if len(result.Hits) == 0 {
		fmt.Fprintf(w, "no matches for %q\n", result.Query)
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tDISPLAY\tMATCH\tSEMANTIC\tSCORE")
	for _, hit := range result.Hits {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\t%.3f\n",
			hit.Entry.Code, entryLabel(hit.Entry), hit.MatchScore,
			formatScore(hit.SemanticScore), hit.CombinedScore)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if result.Degraded {
		fmt.Fprintln(w, "(semantic ranking unavailable; lexical scores shown)")
	}
	return nil
}

func printTranslations(w io.Writer, items []resolver.BatchItem) error {
	for i, item := range items {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if item.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", item.Code, item.Err)
			continue
		}
		printResolution(w, item.Resolution)
	}
	return nil
}

func printResolution(w io.Writer, res resolver.Resolution) {
	flags := []string{string(res.Mapping)}
	if res.Enhanced {
		flags = append(flags, "enhanced")
	}
	if res.Degraded {
		flags = append(flags, "degraded")
	}
	fmt.Fprintf(w, "%s %s [%s]\n", res.Entry.Code, entryLabel(res.Entry), strings.Join(flags, ", "))
	if res.Status == resolver.StatusEmpty {
		fmt.Fprintf(w, "    %s\n", res.Message)
		return
	}
	if len(res.Traditional) > 0 {
		fmt.Fprintln(w, "    ICD-11 TM2:")
		printCandidates(w, res.Traditional)
	}
	if len(res.Biomedical) > 0 {
		fmt.Fprintln(w, "    ICD-11 biomedicine:")
		printCandidates(w, res.Biomedical)
	}
	if res.Primary != nil {
		fmt.Fprintf(w, "    primary: %s %s\n", res.Primary.Code, res.Primary.Display)
	}
}

func printCandidates(w io.Writer, cands []resolver.MatchCandidate) {
	for _, c := range cands {
		detail := string(c.Source)
		if c.Equivalence != "" {
			detail += ", " + string(c.Equivalence)
		}
		fmt.Fprintf(w, "      - %s %s (score=%.3f, %s)\n", c.Code, c.Display, c.CombinedScore, detail)
	}
}

func printEntry(w io.Writer, e resolver.Entry) {
	fmt.Fprintf(w, "%s %s\n", e.Code, e.Display)
	field := func(name, value string) {
		if strings.TrimSpace(value) != "" {
			fmt.Fprintf(w, "    %-14s %s\n", name+":", value)
		}
	}
	field("alternate", e.AlternateTerm)
	field("synonyms", strings.Join(e.Synonyms, " | "))
	field("system", e.System)
	field("category", e.Category)
	field("description", e.Description)
}

func printCacheStats(w io.Writer, stats cacheStats) {
	fmt.Fprintf(w, "model:   %s\n", stats.Model)
	fmt.Fprintf(w, "backend: %s (%s)\n", stats.Backend, stats.Path)
	fmt.Fprintf(w, "vectors: %d\n", stats.Vectors)
	for model, n := range stats.Models {
		if model == stats.Model {
			continue
		}
		fmt.Fprintf(w, "  other model %s: %d\n", model, n)
	}
}

func entryLabel(e resolver.Entry) string {
	if e.AlternateTerm == "" || e.AlternateTerm == e.Display {
		return e.Display
	}
	return fmt.Sprintf("%s [%s]", e.Display, e.AlternateTerm)
}

func formatScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func resolveOutputPath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return absPath, nil
}

var resultHeader = []string{"code", "display", "status", "mapping", "primary_code", "primary_display", "score", "tm2", "biomedicine", "error"}

func writeResultCSV(path string, items []resolver.BatchItem) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer f.Close()
	if err := writeResults(f, items); err != nil {
		return err
	}
	return f.Close()
}

func writeResults(w io.Writer, items []resolver.BatchItem) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(resultHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, item := range items {
		row := make([]string, len(resultHeader))
		row[0] = item.Code
		if item.Err != nil {
			row[9] = item.Err.Error()
		} else {
			res := item.Resolution
			row[1] = res.Entry.Display
			row[2] = string(res.Status)
			row[3] = string(res.Mapping)
			if res.Primary != nil {
				row[4] = res.Primary.Code
				row[5] = res.Primary.Display
				row[6] = fmt.Sprintf("%.3f", res.Primary.CombinedScore)
			}
			row[7] = joinCodes(res.Traditional)
			row[8] = joinCodes(res.Biomedical)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush result: %w", err)
	}
	return nil
}

func joinCodes(cands []resolver.MatchCandidate) string {
	codes := make([]string, len(cands))
	for i, c := range cands {
		codes[i] = c.Code
	}
	return strings.Join(codes, "|")
}
