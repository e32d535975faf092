// Package model holds the typed records that flow between pipeline stages.
package model

import "time"

// Field is a pass-through metadata column from the input table.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is one input row describing a company and its website.
type Record struct {
	Index   int     `json:"index"` // zero-based position in the input
	Company string  `json:"company"`
	URL     string  `json:"url"`
	Extra   []Field `json:"extra,omitempty"`
}

// Get returns the value of a pass-through column, or "" when absent.
func (r Record) Get(name string) string {
	for _, f := range r.Extra {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Label is a human readable identifier for logs and headers.
func (r Record) Label() string {
	if r.Company != "" {
		return r.Company
	}
	return r.URL
}

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusCanceled RunStatus = "canceled"
	RunStatusFailed   RunStatus = "failed"
)

// Run is a persisted batch run together with its result table.
type Run struct {
	ID        string       `json:"id"`
	Input     string       `json:"input"`
	Status    RunStatus    `json:"status"`
	Rows      int          `json:"rows"`
	Table     *ResultTable `json:"table,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
