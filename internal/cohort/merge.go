package cohort

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NotAvailable is rendered for any projected column a merged row lacks.
const NotAvailable = "N/A"

// Cell is one projected column of a merged row.
type Cell struct {
	Column string
	Value  any // NotAvailable when the column is missing
}

// String formats the cell for display.
func (c Cell) String() string {
	return FormatValue(c.Value)
}

// MergedRow is the fully assembled, column-projected view of one sample.
type MergedRow struct {
	Sample string
	Cells  []Cell
}

// Value returns the cell value for a column.
// Returns false if the column is not part of the projection.
func (r MergedRow) Value(column string) (any, bool) {
	for _, c := range r.Cells {
		if c.Column == column {
			return c.Value, true
		}
	}
	return nil, false
}

// Strings returns the formatted cells in projection order.
func (r MergedRow) Strings() []string {
	out := make([]string, len(r.Cells))
	for i, c := range r.Cells {
		out[i] = c.String()
	}
	return out
}

// MarshalJSON encodes the row as an object keyed by column.
func (r MergedRow) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Cells))
	for _, c := range r.Cells {
		m[c.Column] = c.Value
	}
	return json.Marshal(m)
}

// FormatValue renders a record value the way the table displays it.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return NotAvailable
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Merger accumulates table batches into one row per sample.
//
// Records sharing a sample are shallow-merged, later records overwriting
// earlier columns. Rows keep the order in which their sample was first seen,
// so feeding pages one by one yields the same rows as merging them at once.
type Merger struct {
	columns []string
	order   []string
	acc     map[string]Record
}

// NewMerger creates a merger projecting onto columns.
// An empty column list selects DefaultColumns.
func NewMerger(columns []string) *Merger {
	if len(columns) == 0 {
		columns = DefaultColumns
	}
	return &Merger{
		columns: append([]string(nil), columns...),
		acc:     make(map[string]Record),
	}
}

// Add merges a batch into the accumulator and returns the number of samples
// seen for the first time.
func (m *Merger) Add(batch TableBatch) int {
	added := 0
	batch.Each(func(_ string, records []Record) {
		for _, rec := range records {
			sample, ok := rec.Sample()
			if !ok {
				continue
			}
			row, exists := m.acc[sample]
			if !exists {
				row = Record{SampleField: sample}
				m.acc[sample] = row
				m.order = append(m.order, sample)
				added++
			}
			for k, v := range rec {
				if v == nil {
					continue
				}
				row[k] = v
			}
		}
	})
	return added
}

// Rows projects every accumulated sample onto the column list.
// The accumulator is not modified.
func (m *Merger) Rows() []MergedRow {
	rows := make([]MergedRow, 0, len(m.order))
	for _, sample := range m.order {
		rec := m.acc[sample]
		cells := make([]Cell, len(m.columns))
		for i, col := range m.columns {
			v, ok := rec[col]
			if !ok || v == nil {
				v = NotAvailable
			}
			cells[i] = Cell{Column: col, Value: v}
		}
		rows = append(rows, MergedRow{Sample: sample, Cells: cells})
	}
	return rows
}

// Samples returns the distinct samples in display order.
func (m *Merger) Samples() []string {
	return append([]string(nil), m.order...)
}

// Columns returns the projection.
func (m *Merger) Columns() []string {
	return append([]string(nil), m.columns...)
}

// Len returns the number of distinct samples.
func (m *Merger) Len() int {
	return len(m.order)
}

// Reset drops all accumulated rows, keeping the projection.
func (m *Merger) Reset() {
	m.order = nil
	m.acc = make(map[string]Record)
}

// Merge merges a single batch.
func Merge(batch TableBatch, columns []string) []MergedRow {
	return MergeAll(columns, batch)
}

// MergeAll merges batches in order, as if their tables were processed one
// after another.
func MergeAll(columns []string, batches ...TableBatch) []MergedRow {
	m := NewMerger(columns)
	for _, b := range batches {
		m.Add(b)
	}
	return m.Rows()
}
