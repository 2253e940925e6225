// Package results holds the structured payloads that can accompany a final
// answer: a tabular query result and a chart specification.
//
// Both are validated declaratively: a JSON schema is reflected from the Go
// types below and every decoded payload is checked against it before it is
// converted. A payload that fails validation is reported with a
// *ValidationError and is expected to be dropped by the caller rather than
// failing the whole answer.
package results

import "errors"

var (
	ErrInvalidTable = errors.New("invalid table payload")
	ErrInvalidChart = errors.New("invalid chart payload")
)

// Row maps column names to cell values as decoded from JSON.
type Row map[string]any

// Table is a tabular query result. Rows are in display order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
	// RowCount is the total number of rows the query produced; Rows may hold
	// only a preview of them.
	RowCount *int `json:"row_count,omitempty" jsonschema:"nullable"`
}

// Chart is a chart specification. X and Y name keys of the Data points; the
// chart is only renderable when they are present, which is left to the
// renderer.
type Chart struct {
	Type string           `json:"type"`
	X    string           `json:"x"`
	Y    string           `json:"y"`
	Data []map[string]any `json:"data"`
}

// ValidationError describes why a structured payload was rejected.
type ValidationError struct {
	// Kind is ErrInvalidTable or ErrInvalidChart.
	Kind error
	// Path points at the offending value, e.g. "rows[2].month".
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Kind.Error() + ": " + e.Reason
	}
	return e.Kind.Error() + ": " + e.Path + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}
