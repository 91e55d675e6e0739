package cdc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeRow_Patients(t *testing.T) {
	after := json.RawMessage(`{
		"id": "42", "gender": "F", "age": 71, "city": "Austin",
		"ef": 38.5, "notes": "chest pain", "history": "prior MI",
		"unknown_future_column": true
	}`)

	row, err := DecodeRow("patients", after)
	if err != nil {
		t.Fatalf("DecodeRow() error = %v", err)
	}
	if row.Table() != "patients" {
		t.Errorf("Table() = %q", row.Table())
	}

	notes, ok := row.Field("notes")
	if !ok || notes != "chest pain" {
		t.Errorf("Field(notes) = %q, %v", notes, ok)
	}
	if _, ok := row.Field("ef"); ok {
		t.Error("Field(ef) should not be a text column")
	}

	meta := row.Metadata()
	want := map[string]string{"table": "patients", "gender": "F", "city": "Austin", "age": "71"}
	for k, v := range want {
		if meta[k] != v {
			t.Errorf("Metadata()[%q] = %q, want %q", k, meta[k], v)
		}
	}
}

func TestDecodeRow_Diagnoses(t *testing.T) {
	after := json.RawMessage(`{"id":"9","patient_id":"42","code":"I50.9","description":"heart failure","notes":""}`)

	row, err := DecodeRow("diagnoses", after)
	if err != nil {
		t.Fatalf("DecodeRow() error = %v", err)
	}

	desc, ok := row.Field("description")
	if !ok || desc != "heart failure" {
		t.Errorf("Field(description) = %q, %v", desc, ok)
	}

	meta := row.Metadata()
	if meta["patient_id"] != "42" || meta["code"] != "I50.9" || meta["table"] != "diagnoses" {
		t.Errorf("Metadata() = %v", meta)
	}
}

func TestDecodeRow_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		table string
		after string
	}{
		{"unknown table", "appointments", `{"id":"1"}`},
		{"invalid json", "patients", `{"id":`},
		{"wrong type", "patients", `{"age":"seventy"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeRow(tt.table, json.RawMessage(tt.after))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeRow() = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestMetadata_OmitsEmptyColumns(t *testing.T) {
	meta := PatientRow{ID: "1"}.Metadata()
	if len(meta) != 1 || meta["table"] != "patients" {
		t.Errorf("Metadata() = %v, want only table key", meta)
	}
}
