package extract

import (
	"testing"

	"github.com/biolink/semindex/internal/cdc"
)

func testFields() map[string][]string {
	return map[string][]string{
		"patients":  {"notes", "history"},
		"diagnoses": {"description", "notes"},
	}
}

func TestText_ConcatenatesConfiguredColumns(t *testing.T) {
	x := New(testFields())

	row := cdc.PatientRow{
		ID:      "7",
		Notes:   "shortness of breath on exertion",
		History: "prior MI in 2019",
	}

	got := x.Text(row)
	want := "shortness of breath on exertion prior MI in 2019"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestText_EmptyColumnsYieldNoText(t *testing.T) {
	x := New(testFields())

	tests := []struct {
		name string
		row  cdc.Row
	}{
		{"all empty", cdc.PatientRow{ID: "1"}},
		{"whitespace only", cdc.PatientRow{ID: "2", Notes: "   \t\n  "}},
		{"unconfigured table", fakeRow{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := x.Text(tt.row); got != "" {
				t.Errorf("Text() = %q, want empty", got)
			}
		})
	}
}

func TestText_Deterministic(t *testing.T) {
	x := New(testFields())
	row := cdc.DiagnosisRow{ID: "3", Description: "chronic  heart   failure", Notes: "NYHA class II"}

	first := x.Text(row)
	for range 5 {
		if got := x.Text(row); got != first {
			t.Fatalf("Text() not deterministic: %q vs %q", got, first)
		}
	}
	if first != "chronic heart failure NYHA class II" {
		t.Errorf("Text() = %q", first)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses runs", "a  b\t\tc", "a b c"},
		{"trims edges", "  hello world  ", "hello world"},
		{"newlines", "line one\nline two", "line one line two"},
		{"empty", "", ""},
		{"only whitespace", " \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"long digit run",
			"patient 12345678 admitted",
			"patient [REDACTED_ID] admitted",
		},
		{
			"short digits kept",
			"EF 45 percent, age 71",
			"EF 45 percent, age 71",
		},
		{
			"email",
			"contact nurse.station@clinic.example.org for followup",
			"contact [REDACTED_EMAIL] for followup",
		},
		{
			"both",
			"MRN 99887766 reachable at a.b@c.io",
			"MRN [REDACTED_ID] reachable at [REDACTED_EMAIL]",
		},
		{
			"clean text untouched",
			"stable on current medication",
			"stable on current medication",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestText_RedactsBeforeReturning(t *testing.T) {
	x := New(testFields())
	row := cdc.PatientRow{ID: "9", Notes: "MRN 12345678, contact x@y.example.com"}

	got := x.Text(row)
	want := "MRN [REDACTED_ID], contact [REDACTED_EMAIL]"
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

// fakeRow belongs to a table with no configured text columns.
type fakeRow struct{}

func (fakeRow) Table() string                { return "lab_results" }
func (fakeRow) Field(string) (string, bool)  { return "ignored", true }
func (fakeRow) Metadata() map[string]string  { return nil }
