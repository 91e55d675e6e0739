// Package extract derives embeddable text from validated change-event rows.
//
// Extraction is a pure, deterministic function of the row: identical input
// always yields identical output. A row whose configured free-text columns
// are all empty produces no text, which the pipeline treats as an implicit
// delete for the corresponding document.
package extract

import (
	"regexp"
	"strings"

	"github.com/biolink/semindex/internal/cdc"
)

// Identifiers and email addresses are masked before text leaves the
// extractor, so raw PHI never reaches the embedding model or the store.
var (
	idPattern    = regexp.MustCompile(`\b\d{7,}\b`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
)

// Extractor turns rows into normalized embeddable text using the configured
// free-text columns per source table.
type Extractor struct {
	fields map[string][]string
}

// New creates an Extractor. fields maps source table name to the ordered
// list of columns whose text is concatenated.
func New(fields map[string][]string) *Extractor {
	return &Extractor{fields: fields}
}

// Text returns the normalized embeddable text for a row, or "" if no
// configured column has content.
func (x *Extractor) Text(row cdc.Row) string {
	cols, ok := x.fields[row.Table()]
	if !ok {
		return ""
	}

	parts := make([]string, 0, len(cols))
	for _, col := range cols {
		v, ok := row.Field(col)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	return Normalize(Redact(strings.Join(parts, " ")))
}

// Normalize collapses all runs of whitespace to single spaces and trims the
// result. Pure function: the document content hash is computed over its output.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Redact masks long digit runs and email addresses.
func Redact(s string) string {
	s = idPattern.ReplaceAllString(s, "[REDACTED_ID]")
	s = emailPattern.ReplaceAllString(s, "[REDACTED_EMAIL]")
	return s
}
