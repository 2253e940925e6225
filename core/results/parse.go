package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// ParseTable validates and decodes a table payload. A missing or null payload
// yields (nil, nil).
func ParseTable(raw json.RawMessage) (*Table, error) {
	if isAbsent(raw) {
		return nil, nil
	}

	if err := conform(ErrInvalidTable, tableValidator, raw); err != nil {
		return nil, err
	}

	var table Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, &ValidationError{Kind: ErrInvalidTable, Reason: err.Error()}
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &table, nil
}

// ParseChart validates and decodes a chart payload. A missing or null payload
// yields (nil, nil).
func ParseChart(raw json.RawMessage) (*Chart, error) {
	if isAbsent(raw) {
		return nil, nil
	}

	if err := conform(ErrInvalidChart, chartValidator, raw); err != nil {
		return nil, err
	}

	var chart Chart
	if err := json.Unmarshal(raw, &chart); err != nil {
		return nil, &ValidationError{Kind: ErrInvalidChart, Reason: err.Error()}
	}
	return &chart, nil
}

// Validate checks the invariants the schema cannot express: column names are
// unique, every row only uses declared columns and the row count is not
// negative.
func (t *Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for i, column := range t.Columns {
		if _, ok := seen[column]; ok {
			return &ValidationError{
				Kind:   ErrInvalidTable,
				Path:   fmt.Sprintf("columns[%d]", i),
				Reason: fmt.Sprintf("duplicate column %q", column),
			}
		}
		seen[column] = struct{}{}
	}

	for i, row := range t.Rows {
		for key := range row {
			if _, ok := seen[key]; !ok {
				return &ValidationError{
					Kind:   ErrInvalidTable,
					Path:   fmt.Sprintf("rows[%d]", i),
					Reason: fmt.Sprintf("key %q is not a declared column", key),
				}
			}
		}
	}

	if t.RowCount != nil && *t.RowCount < 0 {
		return &ValidationError{Kind: ErrInvalidTable, Path: "row_count", Reason: "must not be negative"}
	}
	return nil
}

// UnmarshalJSON accepts a row count written as an integral float such as 3.0.
func (t *Table) UnmarshalJSON(data []byte) error {
	type plain Table
	var decoded struct {
		plain
		RowCount *float64 `json:"row_count,omitempty"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*t = Table(decoded.plain)
	t.RowCount = nil
	if decoded.RowCount != nil {
		count := *decoded.RowCount
		if count != math.Trunc(count) || math.Abs(count) > 1<<53 {
			return fmt.Errorf("row_count %v is not an integer", count)
		}
		rowCount := int(count)
		t.RowCount = &rowCount
	}
	return nil
}

// Renderable reports whether X and Y are keys of the first data point, which
// is what a bar chart renderer needs.
func (c *Chart) Renderable() bool {
	if c == nil || len(c.Data) == 0 {
		return false
	}
	_, hasX := c.Data[0][c.X]
	_, hasY := c.Data[0][c.Y]
	return hasX && hasY
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
