package cdc

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Row is a validated after-image for a known source table.
// Loosely-typed payloads from the stream are decoded into one of these
// variants at the ingestion boundary; anything that fails validation is
// dead-lettered rather than propagated as untyped data.
type Row interface {
	// Table returns the source table this row belongs to.
	Table() string

	// Field returns the named free-text column, if the schema has it.
	Field(name string) (string, bool)

	// Metadata returns the indexable scalar columns attached to the
	// embedding document for equality filtering at query time.
	Metadata() map[string]string
}

// PatientRow is the after-image of the patients table.
type PatientRow struct {
	ID      string  `json:"id"`
	Gender  string  `json:"gender"`
	Age     int     `json:"age"`
	City    string  `json:"city"`
	EF      float64 `json:"ef"`
	Notes   string  `json:"notes"`
	History string  `json:"history"`
}

func (PatientRow) Table() string { return "patients" }

func (r PatientRow) Field(name string) (string, bool) {
	switch name {
	case "notes":
		return r.Notes, true
	case "history":
		return r.History, true
	}
	return "", false
}

func (r PatientRow) Metadata() map[string]string {
	m := map[string]string{"table": "patients"}
	if r.Gender != "" {
		m["gender"] = r.Gender
	}
	if r.City != "" {
		m["city"] = r.City
	}
	if r.Age > 0 {
		m["age"] = strconv.Itoa(r.Age)
	}
	return m
}

// DiagnosisRow is the after-image of the diagnoses table.
type DiagnosisRow struct {
	ID          string `json:"id"`
	PatientID   string `json:"patient_id"`
	Code        string `json:"code"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
}

func (DiagnosisRow) Table() string { return "diagnoses" }

func (r DiagnosisRow) Field(name string) (string, bool) {
	switch name {
	case "description":
		return r.Description, true
	case "notes":
		return r.Notes, true
	}
	return "", false
}

func (r DiagnosisRow) Metadata() map[string]string {
	m := map[string]string{"table": "diagnoses"}
	if r.PatientID != "" {
		m["patient_id"] = r.PatientID
	}
	if r.Code != "" {
		m["code"] = r.Code
	}
	return m
}

// DecodeRow validates an after-image against the schema of a known source
// table. Unknown tables and unparseable payloads are malformed; extra fields
// in the payload are tolerated since upstream schemas evolve independently.
func DecodeRow(table string, after json.RawMessage) (Row, error) {
	switch table {
	case "patients":
		var r PatientRow
		if err := json.Unmarshal(after, &r); err != nil {
			return nil, fmt.Errorf("%w: decoding patients row: %v", ErrMalformed, err)
		}
		return r, nil
	case "diagnoses":
		var r DiagnosisRow
		if err := json.Unmarshal(after, &r); err != nil {
			return nil, fmt.Errorf("%w: decoding diagnoses row: %v", ErrMalformed, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown source table %q", ErrMalformed, table)
	}
}
