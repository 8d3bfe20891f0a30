// Package models defines the data carried between Interlink components:
// debatched records, staged messages, adapter instances and subscriptions.
package models

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Record is one debatched logical record: an ordered map of column name to
// string value. Column order follows the source batch.
type Record struct {
	Columns []string          `json:"columns"`
	Values  map[string]string `json:"values"`
}

// NewRecord creates an empty record with the given column order.
func NewRecord(columns []string) Record {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return Record{Columns: cols, Values: make(map[string]string, len(columns))}
}

// RecordFromValues builds a record from parallel column and value slices.
// Missing values become empty strings.
func RecordFromValues(columns, values []string) Record {
	r := NewRecord(columns)
	for i, c := range columns {
		if i < len(values) {
			r.Values[c] = values[i]
		} else {
			r.Values[c] = ""
		}
	}
	return r
}

// Get returns the value of column and whether it is present.
func (r Record) Get(column string) (string, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// Set assigns value to column, appending the column if it is new.
func (r *Record) Set(column, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	if _, ok := r.Values[column]; !ok {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = value
}

// Ordered returns the values in column order.
func (r Record) Ordered() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = r.Values[c]
	}
	return out
}

// Marshal serializes the record for storage as a staged message payload.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a staged message payload.
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("failed to decode record payload: %w", err)
	}
	if r.Values == nil {
		r.Values = map[string]string{}
	}
	return r, nil
}
